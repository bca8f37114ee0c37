package scheduler

import (
	"sync"

	"pathsched/internal/schedule"
)

// keyLocks serializes work per schedule key. Entries are reference counted
// and dropped when unused.
type keyLocks struct {
	mu sync.Mutex
	m  map[schedule.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the unlock func.
func (l *keyLocks) Lock(key schedule.Key) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[schedule.Key]*keyLock{}
	}
	kl := l.m[key]
	if kl == nil {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
