package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

type memoryBackend struct {
	mu     sync.RWMutex
	closed bool
	data   map[Collection]map[string][]byte
}

// NewMemory returns a process-local Backend.
func NewMemory() Backend { return newMemory() }

func newMemory() *memoryBackend {
	return &memoryBackend{data: map[Collection]map[string][]byte{}}
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

func (m *memoryBackend) Get(_ context.Context, c Collection, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[c][key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *memoryBackend) Put(_ context.Context, c Collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.putLocked(c, key, value)
	return nil
}

func (m *memoryBackend) putLocked(c Collection, key string, value []byte) {
	col := m.data[c]
	if col == nil {
		col = map[string][]byte{}
		m.data[c] = col
	}
	col[key] = clone(value)
}

func (m *memoryBackend) PutIfAbsent(_ context.Context, c Collection, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.data[c][key]; ok {
		return false, nil
	}
	m.putLocked(c, key, value)
	return true, nil
}

func (m *memoryBackend) ReplaceIf(_ context.Context, c Collection, key string, expected, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if !m.matchLocked(c, key, expected) {
		return false, nil
	}
	m.putLocked(c, key, value)
	return true, nil
}

func (m *memoryBackend) RemoveIf(_ context.Context, c Collection, key string, expected []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if !m.matchLocked(c, key, expected) {
		return false, nil
	}
	return m.removeLocked(c, key), nil
}

func (m *memoryBackend) matchLocked(c Collection, key string, expected []byte) bool {
	v, ok := m.data[c][key]
	return ok && bytes.Equal(v, expected)
}

func (m *memoryBackend) Replace(_ context.Context, c Collection, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.data[c][key]; !ok {
		return false, nil
	}
	m.data[c][key] = clone(value)
	return true, nil
}

func (m *memoryBackend) Remove(_ context.Context, c Collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.removeLocked(c, key), nil
}

func (m *memoryBackend) removeLocked(c Collection, key string) bool {
	if _, ok := m.data[c][key]; !ok {
		return false
	}
	delete(m.data[c], key)
	return true
}

func (m *memoryBackend) Len(_ context.Context, c Collection) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.data[c]), nil
}

func (m *memoryBackend) Entries(_ context.Context, c Collection) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Entry, 0, len(m.data[c]))
	for k, v := range m.data[c] {
		out = append(out, Entry{Key: k, Value: clone(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
