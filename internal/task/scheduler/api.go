package scheduler

import (
	"context"
	"fmt"

	"pathsched/internal/eventbus"
	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

// Schedule persists a new SCHEDULED record and, on the active node, arms its
// first setup. A key that already has a live record is rejected with
// ErrDuplicate.
func (s *Service) Schedule(ctx context.Context, key schedule.Key, start schedule.Date, rule schedule.RepeatRule, durationMinutes int, spec schedule.PathRequestSpec) (schedule.Record, error) {
	if err := key.Validate(); err != nil {
		return schedule.Record{}, err
	}
	if spec.Key() != key {
		return schedule.Record{}, fmt.Errorf("%w: %s vs %s", ErrKeyMismatch, key, spec.Key())
	}
	if durationMinutes <= 0 {
		return schedule.Record{}, ErrInvalidDuration
	}
	if start.IsZero() {
		return schedule.Record{}, schedule.ErrInvalidDate
	}
	if rule == nil {
		return schedule.Record{}, fmt.Errorf("%w: missing rule", schedule.ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return schedule.Record{}, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	cur, ok, err := s.store.LoadSchedule(sctx, key)
	if err != nil {
		return schedule.Record{}, err
	}
	if ok {
		if !cur.Record.Status.Terminal() {
			return schedule.Record{}, fmt.Errorf("%w: %s", ErrDuplicate, key)
		}
		if _, err := s.store.RemoveScheduleIf(sctx, cur); err != nil {
			return schedule.Record{}, err
		}
	}

	rec := schedule.Record{
		StartDate:       start,
		Rule:            rule,
		DurationMinutes: durationMinutes,
		PathRequest:     spec.Clone(),
		Status:          schedule.StatusScheduled,
		NextFire:        rule.First(start, s.Location()),
		UpdatedAt:       s.clock.Now(),
	}
	created, err := s.store.CreateSchedule(sctx, rec)
	if err != nil {
		return schedule.Record{}, err
	}
	if !created {
		return schedule.Record{}, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	if s.Active() {
		s.arm(key, SlotSetup, rec.NextFire)
		s.metrics.ArmedTimers(s.timers.Len())
	}
	s.metrics.ScheduleTransition(string(schedule.StatusScheduled))
	s.emit(eventbus.ScheduleScheduled, rec, nil)

	fields := []logx.Field{
		logx.String("key", key.String()),
		logx.String("rule", string(rule.Pattern())),
		logx.Time("next_fire", rec.NextFire),
		logx.Int("duration_min", durationMinutes),
	}
	if s.log.Enabled(logx.LevelDebug) {
		fields = append(fields, logx.Any("preview", s.Preview(rule, rec.NextFire, 3)))
	}
	s.log.Info("schedule created", fields...)
	return rec, nil
}

// cancelAttempts bounds how often Cancel re-reads a record that another node
// transitioned between its read and its remove.
const cancelAttempts = 5

// Cancel removes the schedule for key. An ACTIVE schedule has its tunnel
// released first; if the release fails the record and its timers are kept and
// the error is returned. A missing key reports false with no error.
//
// The remove only succeeds against the exact record that was inspected. When
// the active node moved the record in between (say SCHEDULED to ACTIVE), the
// record is read again and the release step is not skipped.
func (s *Service) Cancel(ctx context.Context, key schedule.Key) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	for attempt := 0; attempt < cancelAttempts; attempt++ {
		cur, ok, err := s.load(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			// Gone after an earlier attempt: another node finished it.
			return attempt > 0, nil
		}
		rec := cur.Record

		if rec.Status == schedule.StatusActive {
			hooks := s.lifecycle()
			if hooks == nil {
				return false, ErrNoLifecycle
			}
			if err := hooks.Teardown(ctx, key, rec); err != nil {
				s.log.Warn("cancel: release failed; schedule kept",
					logx.String("key", key.String()),
					logx.String("tunnel", string(rec.TunnelID)),
					logx.Err(err),
				)
				return false, fmt.Errorf("release tunnel %s: %w", rec.TunnelID, err)
			}
		}

		s.timers.Disarm(key)

		removed, err := s.removeIf(ctx, cur)
		if err != nil {
			return false, err
		}
		if !removed {
			s.log.Debug("cancel: schedule changed concurrently; reading again",
				logx.String("key", key.String()),
				logx.Int("attempt", attempt+1),
			)
			continue
		}

		s.metrics.ArmedTimers(s.timers.Len())
		s.metrics.ScheduleTransition("CANCELLED")
		s.emit(eventbus.ScheduleCancelled, rec, nil)
		s.log.Info("schedule cancelled", logx.String("key", key.String()), logx.String("status", string(rec.Status)))
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", ErrConflict, key)
}

func (s *Service) Get(ctx context.Context, key schedule.Key) (schedule.Record, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetSchedule(sctx, key)
}

func (s *Service) List(ctx context.Context) ([]schedule.Record, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.Schedules(sctx)
}
