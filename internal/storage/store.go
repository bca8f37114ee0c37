package storage

import (
	"context"
	"fmt"

	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

// Store is the typed ScheduleStore over a Backend.
//
// Remove and Replace on a missing key return false and log at error level;
// they never fail hard on absence.
type Store struct {
	b   Backend
	log logx.Logger
}

func New(b Backend, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{b: b, log: log.With(logx.String("comp", "storage"))}
}

func (s *Store) Backend() Backend { return s.b }

func (s *Store) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	return s.b.Close()
}

// ---- schedule-path-info ----

func (s *Store) PutSchedule(ctx context.Context, r schedule.Record) error {
	b, err := schedule.EncodeRecord(r)
	if err != nil {
		return err
	}
	return s.b.Put(ctx, CollectionSchedules, r.Key().String(), b)
}

func (s *Store) GetSchedule(ctx context.Context, k schedule.Key) (schedule.Record, bool, error) {
	b, ok, err := s.b.Get(ctx, CollectionSchedules, k.String())
	if err != nil || !ok {
		return schedule.Record{}, false, err
	}
	r, err := schedule.DecodeRecord(b)
	if err != nil {
		return schedule.Record{}, false, fmt.Errorf("schedule %s: %w", k, err)
	}
	return r, true, nil
}

// Versioned is a schedule record together with the stored bytes it was
// decoded from. The conditional writes below apply only while the store still
// holds exactly those bytes.
type Versioned struct {
	Record schedule.Record
	raw    []byte
}

// LoadSchedule is GetSchedule for a later SwapSchedule or RemoveScheduleIf.
func (s *Store) LoadSchedule(ctx context.Context, k schedule.Key) (Versioned, bool, error) {
	b, ok, err := s.b.Get(ctx, CollectionSchedules, k.String())
	if err != nil || !ok {
		return Versioned{}, false, err
	}
	r, err := schedule.DecodeRecord(b)
	if err != nil {
		return Versioned{}, false, fmt.Errorf("schedule %s: %w", k, err)
	}
	return Versioned{Record: r, raw: b}, true, nil
}

// CreateSchedule inserts r unless its key is already taken.
func (s *Store) CreateSchedule(ctx context.Context, r schedule.Record) (bool, error) {
	b, err := schedule.EncodeRecord(r)
	if err != nil {
		return false, err
	}
	return s.b.PutIfAbsent(ctx, CollectionSchedules, r.Key().String(), b)
}

// SwapSchedule replaces old with r. It returns false, and writes nothing, if
// the record changed or vanished since old was loaded.
func (s *Store) SwapSchedule(ctx context.Context, old Versioned, r schedule.Record) (Versioned, bool, error) {
	if old.Record.Key() != r.Key() {
		return Versioned{}, false, fmt.Errorf("swap %s with %s: key mismatch", old.Record.Key(), r.Key())
	}
	b, err := schedule.EncodeRecord(r)
	if err != nil {
		return Versioned{}, false, err
	}
	ok, err := s.b.ReplaceIf(ctx, CollectionSchedules, r.Key().String(), old.raw, b)
	if err != nil {
		return Versioned{}, false, err
	}
	if !ok {
		s.log.Debug("schedule changed concurrently; swap skipped", logx.String("key", r.Key().String()))
		return Versioned{}, false, nil
	}
	return Versioned{Record: r, raw: b}, true, nil
}

// RemoveScheduleIf deletes the record only if it is unchanged since old was
// loaded.
func (s *Store) RemoveScheduleIf(ctx context.Context, old Versioned) (bool, error) {
	key := old.Record.Key().String()
	ok, err := s.b.RemoveIf(ctx, CollectionSchedules, key, old.raw)
	if err == nil && !ok {
		s.log.Debug("schedule changed concurrently; remove skipped", logx.String("key", key))
	}
	return ok, err
}

func (s *Store) ScheduleExists(ctx context.Context, k schedule.Key) (bool, error) {
	_, ok, err := s.b.Get(ctx, CollectionSchedules, k.String())
	return ok, err
}

// ReplaceSchedule overwrites an existing record. It returns false if the key
// is absent; the record is not inserted in that case.
func (s *Store) ReplaceSchedule(ctx context.Context, r schedule.Record) (bool, error) {
	b, err := schedule.EncodeRecord(r)
	if err != nil {
		return false, err
	}
	ok, err := s.b.Replace(ctx, CollectionSchedules, r.Key().String(), b)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Error("replace on missing schedule", logx.String("key", r.Key().String()))
	}
	return ok, nil
}

func (s *Store) RemoveSchedule(ctx context.Context, k schedule.Key) (bool, error) {
	return s.remove(ctx, CollectionSchedules, k.String())
}

// Schedules returns a snapshot of all records ordered by key. Entries that
// fail to decode are logged and skipped.
func (s *Store) Schedules(ctx context.Context) ([]schedule.Record, error) {
	entries, err := s.b.Entries(ctx, CollectionSchedules)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Record, 0, len(entries))
	for _, e := range entries {
		r, err := schedule.DecodeRecord(e.Value)
		if err != nil {
			s.log.Error("skip undecodable schedule", logx.String("key", e.Key), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ScheduleCount(ctx context.Context) (int, error) {
	return s.b.Len(ctx, CollectionSchedules)
}

// ---- tunnel-info ----

func (s *Store) PutTunnelBinding(ctx context.Context, id schedule.TunnelID, c schedule.ConsumerID) error {
	b, err := schedule.EncodeConsumer(c)
	if err != nil {
		return err
	}
	return s.b.Put(ctx, CollectionTunnelInfo, string(id), b)
}

func (s *Store) GetTunnelBinding(ctx context.Context, id schedule.TunnelID) (schedule.ConsumerID, bool, error) {
	b, ok, err := s.b.Get(ctx, CollectionTunnelInfo, string(id))
	if err != nil || !ok {
		return "", false, err
	}
	c, err := schedule.DecodeConsumer(b)
	if err != nil {
		return "", false, fmt.Errorf("tunnel %s: %w", id, err)
	}
	return c, true, nil
}

func (s *Store) TunnelBindingExists(ctx context.Context, id schedule.TunnelID) (bool, error) {
	_, ok, err := s.b.Get(ctx, CollectionTunnelInfo, string(id))
	return ok, err
}

func (s *Store) RemoveTunnelBinding(ctx context.Context, id schedule.TunnelID) (bool, error) {
	return s.remove(ctx, CollectionTunnelInfo, string(id))
}

func (s *Store) TunnelBindings(ctx context.Context) (map[schedule.TunnelID]schedule.ConsumerID, error) {
	entries, err := s.b.Entries(ctx, CollectionTunnelInfo)
	if err != nil {
		return nil, err
	}
	out := make(map[schedule.TunnelID]schedule.ConsumerID, len(entries))
	for _, e := range entries {
		c, err := schedule.DecodeConsumer(e.Value)
		if err != nil {
			s.log.Error("skip undecodable tunnel binding", logx.String("tunnel", e.Key), logx.Err(err))
			continue
		}
		out[schedule.TunnelID(e.Key)] = c
	}
	return out, nil
}

func (s *Store) TunnelBindingCount(ctx context.Context) (int, error) {
	return s.b.Len(ctx, CollectionTunnelInfo)
}

// ---- failed-path-info ----

// AddFailedPath adds f to the failed set; a member with the same path
// request is replaced.
func (s *Store) AddFailedPath(ctx context.Context, f schedule.FailedPathRecord) error {
	b, err := schedule.EncodeFailedPath(f)
	if err != nil {
		return err
	}
	return s.b.Put(ctx, CollectionFailed, f.ID(), b)
}

func (s *Store) FailedPathExists(ctx context.Context, p schedule.PathRequestSpec) (bool, error) {
	_, ok, err := s.b.Get(ctx, CollectionFailed, schedule.FailedPathRecord{PathRequest: p}.ID())
	return ok, err
}

func (s *Store) RemoveFailedPath(ctx context.Context, p schedule.PathRequestSpec) (bool, error) {
	return s.remove(ctx, CollectionFailed, schedule.FailedPathRecord{PathRequest: p}.ID())
}

func (s *Store) FailedPaths(ctx context.Context) ([]schedule.FailedPathRecord, error) {
	entries, err := s.b.Entries(ctx, CollectionFailed)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.FailedPathRecord, 0, len(entries))
	for _, e := range entries {
		f, err := schedule.DecodeFailedPath(e.Value)
		if err != nil {
			s.log.Error("skip undecodable failed path", logx.String("id", e.Key), logx.Err(err))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) FailedPathCount(ctx context.Context) (int, error) {
	return s.b.Len(ctx, CollectionFailed)
}

func (s *Store) remove(ctx context.Context, c Collection, key string) (bool, error) {
	ok, err := s.b.Remove(ctx, c, key)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Error("remove on missing key", logx.String("collection", string(c)), logx.String("key", key))
	}
	return ok, nil
}
