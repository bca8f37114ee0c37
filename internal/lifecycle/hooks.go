package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pathsched/internal/metrics"
	"pathsched/internal/schedule"
	"pathsched/internal/task/scheduler"
	logx "pathsched/pkg/logx"
)

func newConsumerID() schedule.ConsumerID { return schedule.ConsumerID(uuid.NewString()) }

// Hooks returns the engine callbacks backed by this facade.
func (f *Facade) Hooks() scheduler.Lifecycle { return hooks{f: f} }

type hooks struct{ f *Facade }

func (h hooks) Setup(ctx context.Context, key schedule.Key, rec schedule.Record) (schedule.TunnelID, error) {
	return h.f.setupPath(ctx, key, rec.PathRequest)
}

func (h hooks) Teardown(ctx context.Context, key schedule.Key, rec schedule.Record) error {
	return h.f.releasePath(ctx, key, rec)
}

// setupPath creates the path and binds the tunnel to a fresh resource
// consumer. A path whose binding cannot be stored is released again.
func (f *Facade) setupPath(ctx context.Context, key schedule.Key, spec schedule.PathRequestSpec) (schedule.TunnelID, error) {
	log := f.log.With(logx.String("key", key.String()))

	tid, err := f.call(ctx, metrics.OpSetupPath, func(cctx context.Context) (schedule.TunnelID, error) {
		return f.paths.SetupPath(cctx, spec)
	})
	if err != nil {
		log.Warn("path setup failed", logx.String("path", spec.String()), logx.Err(err))
		f.recordFailure(ctx, spec, schedule.PhaseSetup, "", err)
		return "", err
	}

	if err := f.bind(ctx, tid); err != nil {
		log.Error("tunnel binding failed; releasing tunnel", logx.String("tunnel", string(tid)), logx.Err(err))
		if _, rerr := f.call(ctx, metrics.OpReleasePath, func(cctx context.Context) (schedule.TunnelID, error) {
			return "", f.paths.ReleasePath(cctx, tid)
		}); rerr != nil {
			log.Error("release after failed binding failed", logx.String("tunnel", string(tid)), logx.Err(rerr))
		}
		err = fmt.Errorf("bind tunnel %s: %w", tid, err)
		f.recordFailure(ctx, spec, schedule.PhaseSetup, tid, err)
		return "", err
	}

	f.clearFailure(ctx, spec, log)
	log.Info("path established", logx.String("tunnel", string(tid)))
	return tid, nil
}

// clearFailure drops an earlier failed record for spec. The path is up, so a
// store error here is only logged.
func (f *Facade) clearFailure(ctx context.Context, spec schedule.PathRequestSpec, log logx.Logger) {
	ok, err := f.store.FailedPathExists(ctx, spec)
	if err != nil {
		log.Warn("check failed path record", logx.String("path", spec.String()), logx.Err(err))
		return
	}
	if !ok {
		return
	}
	if _, err := f.store.RemoveFailedPath(ctx, spec); err != nil {
		log.Warn("clear failed path record", logx.String("path", spec.String()), logx.Err(err))
	}
}

// bind is idempotent: an existing binding for tid is kept.
func (f *Facade) bind(ctx context.Context, tid schedule.TunnelID) error {
	if _, ok, err := f.store.GetTunnelBinding(ctx, tid); err != nil {
		return err
	} else if ok {
		return nil
	}
	return f.store.PutTunnelBinding(ctx, tid, f.newID())
}

// releasePath releases the live tunnel of rec and drops its binding.
func (f *Facade) releasePath(ctx context.Context, key schedule.Key, rec schedule.Record) error {
	tid := rec.TunnelID
	if tid == "" {
		return nil
	}
	log := f.log.With(logx.String("key", key.String()), logx.String("tunnel", string(tid)))

	if _, err := f.call(ctx, metrics.OpReleasePath, func(cctx context.Context) (schedule.TunnelID, error) {
		return "", f.paths.ReleasePath(cctx, tid)
	}); err != nil {
		log.Warn("path release failed", logx.Err(err))
		f.recordFailure(ctx, rec.PathRequest, schedule.PhaseTeardown, tid, err)
		return err
	}

	ok, err := f.store.TunnelBindingExists(ctx, tid)
	if err != nil {
		return fmt.Errorf("check tunnel binding: %w", err)
	}
	if ok {
		if _, err := f.store.RemoveTunnelBinding(ctx, tid); err != nil {
			return fmt.Errorf("remove tunnel binding: %w", err)
		}
	}
	log.Info("path released")
	return nil
}

// call waits for the rate limiter and runs fn under the call timeout.
func (f *Facade) call(ctx context.Context, op string, fn func(context.Context) (schedule.TunnelID, error)) (schedule.TunnelID, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: rate limit: %w", op, err)
	}
	cctx, cancel := context.WithTimeout(ctx, f.config().CallTimeout)
	defer cancel()

	start := time.Now()
	tid, err := fn(cctx)
	f.metrics.CollaboratorCall(op, time.Since(start), err)
	return tid, err
}

func (f *Facade) recordFailure(ctx context.Context, spec schedule.PathRequestSpec, phase schedule.Phase, tid schedule.TunnelID, cause error) {
	rec := schedule.FailedPathRecord{
		PathRequest: spec.Clone(),
		Phase:       phase,
		Reason:      cause.Error(),
		TunnelID:    tid,
		FailedAt:    f.now(),
	}
	if err := f.store.AddFailedPath(ctx, rec); err != nil {
		f.log.Error("failed to record failed path", logx.String("path", spec.String()), logx.Err(err))
	}
}
