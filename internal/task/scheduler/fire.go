package scheduler

import (
	"context"
	"time"

	"pathsched/internal/eventbus"
	"pathsched/internal/metrics"
	"pathsched/internal/schedule"
	"pathsched/internal/storage"
	"pathsched/internal/task/engine"
	logx "pathsched/pkg/logx"
)

// onTimer runs on the timer goroutine. It only hands the fire to the executor.
func (s *Service) onTimer(key schedule.Key, slot Slot, at time.Time) {
	s.mu.Lock()
	active := s.active
	runCtx := s.runCtx
	timeout := s.cfg.TaskTimeout
	s.mu.Unlock()
	if !active || runCtx == nil {
		return
	}

	run := s.fireSetup
	if slot == SlotTeardown {
		run = s.fireTeardown
	}
	err := s.exec.Submit(runCtx, engine.Task{
		Name:    "schedule." + slot.String() + ":" + key.String(),
		Timeout: timeout,
		Run: func(ctx context.Context) error {
			return run(ctx, key, at)
		},
	})
	if err != nil && runCtx.Err() == nil {
		s.log.Warn("fire not submitted; reconcile will re-arm",
			logx.String("key", key.String()),
			logx.String("slot", slot.String()),
			logx.Err(err),
		)
	}
}

// fireSetup establishes the path for the occurrence planned at planned.
// Store errors are returned so the executor retries; collaborator failures
// are terminal for the occurrence and roll the record forward.
func (s *Service) fireSetup(ctx context.Context, key schedule.Key, planned time.Time) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	if !s.Active() {
		return nil
	}
	cur, ok, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	rec := cur.Record
	if !ok || rec.Status != schedule.StatusScheduled || !rec.NextFire.Equal(planned) {
		s.log.Debug("stale setup fire ignored", logx.String("key", key.String()), logx.Time("planned", planned))
		return nil
	}
	hooks := s.lifecycle()
	if hooks == nil {
		return engine.NoRetry(ErrNoLifecycle)
	}

	now := s.clock.Now()
	lateness := now.Sub(planned)
	tid, herr := hooks.Setup(ctx, key, rec)
	s.metrics.FireCompleted(metrics.FireSetup, lateness, herr)
	if herr != nil {
		s.log.Warn("setup failed",
			logx.String("key", key.String()),
			logx.Time("planned", planned),
			logx.Err(herr),
		)
		rec.Failures++
		rec.LastError = herr.Error()
		return s.rollForward(ctx, cur, rec, planned, now, eventbus.ScheduleSetupFailed, herr)
	}

	next := rec.Clone()
	next.Status = schedule.StatusActive
	next.TunnelID = tid
	next.TeardownAt = planned.Add(rec.Duration())
	next.LastError = ""
	next.UpdatedAt = now

	_, swapped, err := s.swap(ctx, cur, next)
	if err != nil {
		return err
	}
	if !swapped {
		s.log.Warn("schedule changed during setup; releasing tunnel",
			logx.String("key", key.String()),
			logx.String("tunnel", string(tid)),
		)
		if err := hooks.Teardown(ctx, key, next); err != nil {
			s.log.Error("release of orphan tunnel failed", logx.String("tunnel", string(tid)), logx.Err(err))
		}
		return nil
	}

	s.arm(key, SlotTeardown, next.TeardownAt)
	s.metrics.ArmedTimers(s.timers.Len())
	s.metrics.ScheduleTransition(string(schedule.StatusActive))
	s.emit(eventbus.ScheduleActivated, next, nil)
	s.log.Info("schedule activated",
		logx.String("key", key.String()),
		logx.String("tunnel", string(tid)),
		logx.Time("teardown_at", next.TeardownAt),
		logx.Duration("lateness", lateness),
	)
	return nil
}

// fireTeardown releases the path of an ACTIVE record. A failed release keeps
// the record ACTIVE and retries after TeardownRetry.
func (s *Service) fireTeardown(ctx context.Context, key schedule.Key, planned time.Time) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	if !s.Active() {
		return nil
	}
	cur, ok, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	rec := cur.Record
	if !ok || rec.Status != schedule.StatusActive || !rec.TeardownAt.Equal(planned) {
		s.log.Debug("stale teardown fire ignored", logx.String("key", key.String()), logx.Time("planned", planned))
		return nil
	}
	hooks := s.lifecycle()
	if hooks == nil {
		return engine.NoRetry(ErrNoLifecycle)
	}

	now := s.clock.Now()
	lateness := now.Sub(planned)
	herr := hooks.Teardown(ctx, key, rec)
	s.metrics.FireCompleted(metrics.FireTeardown, lateness, herr)
	if herr != nil {
		retry := s.config().TeardownRetry
		rec.TeardownAt = now.Add(retry)
		rec.LastError = herr.Error()
		rec.Failures++
		rec.UpdatedAt = now
		if _, swapped, err := s.swap(ctx, cur, rec); err != nil {
			return err
		} else if !swapped {
			s.log.Info("schedule changed during teardown; retry dropped", logx.String("key", key.String()))
			return nil
		}
		s.arm(key, SlotTeardown, rec.TeardownAt)
		s.emit(eventbus.ScheduleTeardownFailed, rec, herr)
		s.log.Warn("teardown failed; will retry",
			logx.String("key", key.String()),
			logx.String("tunnel", string(rec.TunnelID)),
			logx.Duration("retry_in", retry),
			logx.Err(herr),
		)
		return nil
	}

	s.log.Info("schedule deactivated", logx.String("key", key.String()), logx.String("tunnel", string(rec.TunnelID)))
	rec.LastError = ""
	return s.rollForward(ctx, cur, rec, rec.NextFire, now, eventbus.ScheduleDeactivated, nil)
}

// rollForward moves rec to its next occurrence after both prev and now, or
// removes it when the rule is exhausted. Nothing is written when the stored
// record is no longer cur.
func (s *Service) rollForward(ctx context.Context, cur storage.Versioned, rec schedule.Record, prev, now time.Time, event string, cause error) error {
	key := rec.Key()
	loc := s.Location()
	next := schedule.NextAfter(rec.Rule, prev.In(loc), now.In(loc))
	if next.IsZero() {
		removed, err := s.removeIf(ctx, cur)
		if err != nil {
			return err
		}
		if !removed {
			return nil
		}
		s.timers.Disarm(key)
		s.metrics.ArmedTimers(s.timers.Len())
		rec.Status = schedule.StatusTerminated
		s.metrics.ScheduleTransition(string(schedule.StatusTerminated))
		if event != eventbus.ScheduleDeactivated {
			s.emit(event, rec, cause)
		}
		s.emit(eventbus.ScheduleTerminated, rec, cause)
		s.log.Info("schedule terminated", logx.String("key", key.String()))
		return nil
	}

	rec.Status = schedule.StatusScheduled
	rec.NextFire = next
	rec.TunnelID = ""
	rec.TeardownAt = time.Time{}
	rec.UpdatedAt = now
	if _, swapped, err := s.swap(ctx, cur, rec); err != nil || !swapped {
		return err
	}
	s.arm(key, SlotSetup, next)
	s.metrics.ArmedTimers(s.timers.Len())
	s.metrics.ScheduleTransition(string(schedule.StatusScheduled))
	s.emit(event, rec, cause)
	s.log.Debug("schedule rolled forward", logx.String("key", key.String()), logx.Time("next_fire", next))
	return nil
}

func (s *Service) load(ctx context.Context, key schedule.Key) (storage.Versioned, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.LoadSchedule(sctx, key)
}

func (s *Service) swap(ctx context.Context, old storage.Versioned, rec schedule.Record) (storage.Versioned, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.SwapSchedule(sctx, old, rec)
}

func (s *Service) removeIf(ctx context.Context, old storage.Versioned) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.RemoveScheduleIf(sctx, old)
}
