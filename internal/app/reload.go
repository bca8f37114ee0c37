package app

import (
	"context"
	"strings"

	"pathsched/internal/config"
	"pathsched/internal/eventbus"
	logx "pathsched/pkg/logx"
)

// ConfigReloadEvent is the payload of config.reloaded.
type ConfigReloadEvent struct {
	Changed         []string `json:"changed"`
	RestartRequired []string `json:"restart_required,omitempty"`
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable sections to their components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	restart := config.RestartRequired(sections)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that require a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	if pathCfg, err := mapPathConfig(newCfg); err != nil {
		a.log.Warn("invalid path config; keeping previous", logx.Err(err))
	} else {
		a.facade.Apply(pathCfg)
	}

	eventbus.Emit(a.bus, eventbus.ConfigReloaded, ConfigReloadEvent{Changed: sections, RestartRequired: restart})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
