package scheduler

import (
	"sort"
	"sync"
	"time"

	"pathsched/internal/schedule"
)

// Slot selects one of the two timers a key can hold.
type Slot int

const (
	SlotSetup Slot = iota
	SlotTeardown
)

func (s Slot) String() string {
	if s == SlotTeardown {
		return "teardown"
	}
	return "setup"
}

type armedTimer struct {
	t   Timer
	at  time.Time
	ver uint64
}

type timerEntry struct {
	slots [2]*armedTimer
}

// ArmedTimer describes one armed timer.
type ArmedTimer struct {
	Key  schedule.Key
	Slot Slot
	At   time.Time
}

// TimerRegistry maps a schedule key to its armed setup and teardown timers.
//
// Every arm bumps a version; a callback whose version is no longer current is
// ignored, so a stale fire racing a disarm or a re-arm never runs.
type TimerRegistry struct {
	mu      sync.Mutex
	clock   Clock
	seq     uint64
	entries map[schedule.Key]*timerEntry
}

func NewTimerRegistry(clock Clock) *TimerRegistry {
	if clock == nil {
		clock = RealClock()
	}
	return &TimerRegistry{
		clock:   clock,
		entries: map[schedule.Key]*timerEntry{},
	}
}

// Arm replaces the timer in slot with one firing at at. A past instant fires
// immediately. fire runs only if the timer is still current when it expires.
func (r *TimerRegistry) Arm(key schedule.Key, slot Slot, at time.Time, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[key]
	if e == nil {
		e = &timerEntry{}
		r.entries[key] = e
	}
	if old := e.slots[slot]; old != nil {
		old.t.Stop()
	}
	r.seq++
	ver := r.seq

	delay := at.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	h := &armedTimer{at: at, ver: ver}
	e.slots[slot] = h
	h.t = r.clock.AfterFunc(delay, func() {
		if r.consume(key, slot, ver) {
			fire()
		}
	})
}

func (r *TimerRegistry) consume(key schedule.Key, slot Slot, ver uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	if e == nil || e.slots[slot] == nil || e.slots[slot].ver != ver {
		return false
	}
	e.slots[slot] = nil
	r.cleanupLocked(key, e)
	return true
}

// Disarm stops both timers of key. It reports whether anything was armed.
func (r *TimerRegistry) Disarm(key schedule.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	if e == nil {
		return false
	}
	for i, h := range e.slots {
		if h != nil {
			h.t.Stop()
			e.slots[i] = nil
		}
	}
	delete(r.entries, key)
	return true
}

func (r *TimerRegistry) DisarmSlot(key schedule.Key, slot Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	if e == nil || e.slots[slot] == nil {
		return false
	}
	e.slots[slot].t.Stop()
	e.slots[slot] = nil
	r.cleanupLocked(key, e)
	return true
}

// DisarmAll stops every timer and returns how many were armed.
func (r *TimerRegistry) DisarmAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		for _, h := range e.slots {
			if h != nil {
				h.t.Stop()
				n++
			}
		}
	}
	r.entries = map[schedule.Key]*timerEntry{}
	return n
}

func (r *TimerRegistry) cleanupLocked(key schedule.Key, e *timerEntry) {
	if e.slots[SlotSetup] == nil && e.slots[SlotTeardown] == nil {
		delete(r.entries, key)
	}
}

// ArmedAt returns the instant of the timer in slot.
func (r *TimerRegistry) ArmedAt(key schedule.Key, slot Slot) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	if e == nil || e.slots[slot] == nil {
		return time.Time{}, false
	}
	return e.slots[slot].at, true
}

// Keys returns every key with at least one armed timer.
func (r *TimerRegistry) Keys() []schedule.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schedule.Key, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	return out
}

// Len returns the number of armed timers.
func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		for _, h := range e.slots {
			if h != nil {
				n++
			}
		}
	}
	return n
}

func (r *TimerRegistry) List() []ArmedTimer {
	r.mu.Lock()
	out := make([]ArmedTimer, 0, len(r.entries))
	for k, e := range r.entries {
		for slot, h := range e.slots {
			if h != nil {
				out = append(out, ArmedTimer{Key: k, Slot: Slot(slot), At: h.at})
			}
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}
