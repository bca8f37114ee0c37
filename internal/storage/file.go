package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pathsched/pkg/logx"
)

// fileBackend is a dependency-free durable backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of every collection)
//   - <prefix>.journal.jsonl (append-only journal of mutations)
//
// The journal is periodically compacted into the snapshot.
type fileBackend struct {
	log logx.Logger

	mu sync.Mutex

	mem          *memoryBackend
	snapshotPath string
	journalFile  *os.File

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op         string     `json:"op"` // "put" | "del"
	Collection Collection `json:"c"`
	Key        string     `json:"k"`
	Value      string     `json:"v,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := newMemory()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileBackend{
		log:          log,
		mem:          mem,
		snapshotPath: snapPath,
		journalFile:  jf,
		compactEvery: 1000,
	}, nil
}

func (s *fileBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	_ = s.mem.Close()
	return err
}

func (s *fileBackend) Get(ctx context.Context, c Collection, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, false, ErrClosed
	}
	return s.mem.Get(ctx, c, key)
}

func (s *fileBackend) Put(_ context.Context, c Collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", Collection: c, Key: key, Value: string(value)}); err != nil {
		return err
	}
	s.mem.putLocked(c, key, value)
	return nil
}

func (s *fileBackend) Replace(_ context.Context, c Collection, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.mem.data[c][key]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "put", Collection: c, Key: key, Value: string(value)}); err != nil {
		return false, err
	}
	s.mem.putLocked(c, key, value)
	return true, nil
}

func (s *fileBackend) PutIfAbsent(_ context.Context, c Collection, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.mem.data[c][key]; ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "put", Collection: c, Key: key, Value: string(value)}); err != nil {
		return false, err
	}
	s.mem.putLocked(c, key, value)
	return true, nil
}

func (s *fileBackend) ReplaceIf(_ context.Context, c Collection, key string, expected, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if !s.mem.matchLocked(c, key, expected) {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "put", Collection: c, Key: key, Value: string(value)}); err != nil {
		return false, err
	}
	s.mem.putLocked(c, key, value)
	return true, nil
}

func (s *fileBackend) RemoveIf(_ context.Context, c Collection, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if !s.mem.matchLocked(c, key, expected) {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Collection: c, Key: key}); err != nil {
		return false, err
	}
	return s.mem.removeLocked(c, key), nil
}

func (s *fileBackend) Remove(_ context.Context, c Collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.mem.data[c][key]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Collection: c, Key: key}); err != nil {
		return false, err
	}
	return s.mem.removeLocked(c, key), nil
}

func (s *fileBackend) Len(ctx context.Context, c Collection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, ErrClosed
	}
	return s.mem.Len(ctx, c)
}

func (s *fileBackend) Entries(ctx context.Context, c Collection) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.mem.Entries(ctx, c)
}

func (s *fileBackend) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileBackend) compactLocked() error {
	snap := map[Collection]map[string]string{}
	for c, col := range s.mem.data {
		m := make(map[string]string, len(col))
		for k, v := range col {
			m[k] = string(v)
		}
		snap[c] = m
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, mem *memoryBackend) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap map[Collection]map[string]string
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for c, col := range snap {
		for k, v := range col {
			mem.putLocked(c, k, []byte(v))
		}
	}
	return nil
}

func replayJournal(path string, mem *memoryBackend) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for s.Scan() {
		var r journalRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			// Torn tail write.
			continue
		}
		if r.Key == "" {
			continue
		}
		switch r.Op {
		case "put":
			mem.putLocked(r.Collection, r.Key, []byte(r.Value))
		case "del":
			mem.removeLocked(r.Collection, r.Key)
		}
	}
	return s.Err()
}
