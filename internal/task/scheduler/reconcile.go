package scheduler

import (
	"context"
	"time"

	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

// ReconcileResult summarizes one recovery scan.
type ReconcileResult struct {
	Records  int
	Armed    int
	Disarmed int
	Removed  int
}

// Reconcile makes the timer registry match the store: every SCHEDULED record
// has its setup armed at NextFire, every ACTIVE record its teardown at
// TeardownAt, and nothing else is armed. Instants already in the past fire
// immediately. Reconcile is a no-op on an inactive node.
func (s *Service) Reconcile(ctx context.Context) error {
	_, err := s.reconcile(ctx)
	return err
}

func (s *Service) reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if !s.Active() {
		return res, nil
	}
	start := time.Now()

	recs, err := s.List(ctx)
	if err != nil {
		s.metrics.ReconcileCompleted(time.Since(start), 0, 0, err)
		return res, err
	}
	res.Records = len(recs)

	seen := make(map[schedule.Key]struct{}, len(recs))
	for _, r := range recs {
		key := r.Key()
		seen[key] = struct{}{}
		armed, removed, err := s.reconcileOne(ctx, key)
		if err != nil {
			s.log.Warn("reconcile: record skipped", logx.String("key", key.String()), logx.Err(err))
			continue
		}
		if armed {
			res.Armed++
		}
		if removed {
			res.Removed++
		}
	}

	for _, key := range s.timers.Keys() {
		if _, ok := seen[key]; ok {
			continue
		}
		unlock := s.locks.Lock(key)
		if _, ok, err := s.load(ctx, key); err == nil && !ok {
			if s.timers.Disarm(key) {
				res.Disarmed++
			}
		}
		unlock()
	}

	n := s.timers.Len()
	s.metrics.ArmedTimers(n)
	s.metrics.ReconcileCompleted(time.Since(start), res.Armed, res.Disarmed, nil)
	if res.Armed > 0 || res.Disarmed > 0 || res.Removed > 0 {
		s.log.Info("reconcile done",
			logx.Int("records", res.Records),
			logx.Int("armed", res.Armed),
			logx.Int("disarmed", res.Disarmed),
			logx.Int("removed", res.Removed),
			logx.Int("timers", n),
		)
	} else {
		s.log.Debug("reconcile done", logx.Int("records", res.Records), logx.Int("timers", n))
	}
	return res, nil
}

// reconcileOne re-reads key under its lock so it never races a fire.
func (s *Service) reconcileOne(ctx context.Context, key schedule.Key) (armed, removed bool, err error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	cur, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	rec := cur.Record

	switch rec.Status {
	case schedule.StatusScheduled:
		if rec.NextFire.IsZero() {
			rec.NextFire = rec.Rule.First(rec.StartDate, s.Location())
			rec.UpdatedAt = s.clock.Now()
			if _, swapped, err := s.swap(ctx, cur, rec); err != nil || !swapped {
				return false, false, err
			}
		}
		s.timers.DisarmSlot(key, SlotTeardown)
		if at, ok := s.timers.ArmedAt(key, SlotSetup); ok && at.Equal(rec.NextFire) {
			return false, false, nil
		}
		s.arm(key, SlotSetup, rec.NextFire)
		return true, false, nil

	case schedule.StatusActive:
		s.timers.DisarmSlot(key, SlotSetup)
		if rec.TeardownAt.IsZero() {
			rec.TeardownAt = rec.NextFire.Add(rec.Duration())
			rec.UpdatedAt = s.clock.Now()
			if _, swapped, err := s.swap(ctx, cur, rec); err != nil || !swapped {
				return false, false, err
			}
		}
		if at, ok := s.timers.ArmedAt(key, SlotTeardown); ok && at.Equal(rec.TeardownAt) {
			return false, false, nil
		}
		s.arm(key, SlotTeardown, rec.TeardownAt)
		return true, false, nil

	default:
		s.timers.Disarm(key)
		removed, err := s.removeIf(ctx, cur)
		if err != nil {
			return false, false, err
		}
		return false, removed, nil
	}
}
