package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pathsched/internal/eventbus"
	"pathsched/internal/schedule"
	"pathsched/internal/storage"
	"pathsched/internal/task/engine"
	logx "pathsched/pkg/logx"
)

func TestKeyLocksSerialize(t *testing.T) {
	t.Parallel()
	var (
		locks keyLocks
		mu    sync.Mutex
		cur   int
		peak  int
		wg    sync.WaitGroup
	)
	key := schedule.NewKey("devA", "p1")
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			mu.Lock()
			cur++
			if cur > peak {
				peak = cur
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			cur--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, peak)
	require.Empty(t, locks.m, "unused entries are dropped")
}

func TestOneCallbackInFlightPerKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock(utc(2024, 3, 1, 8, 0))
	hooks := newGateHooks(10 * time.Millisecond)
	store := storage.New(storage.NewMemory(), logx.Nop())
	exec := newEngine(t, engine.Config{Workers: 4, QueueSize: 64})
	svc := New(Config{Timezone: "UTC", ReconcileEvery: time.Hour}, store, exec, logx.Nop(),
		WithClock(clock),
		WithLifecycle(hooks),
	)
	require.NoError(t, svc.Activate(ctx))
	t.Cleanup(func() { svc.Deactivate(context.Background()) })

	key := schedule.NewKey("of:0000000000000001", "p1")
	_, err := svc.Schedule(ctx, key, march1(), schedule.Daily{At: clockAt(9, 0)}, 60, pathSpec("p1"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	planned := utc(2024, 3, 1, 9, 0)
	for i := 0; i < 3; i++ {
		svc.onTimer(key, SlotSetup, planned)
	}

	var (
		wg    sync.WaitGroup
		found bool
		cerr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = svc.Reconcile(ctx)
		clock.Advance(0)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		found, cerr = svc.Cancel(ctx, key)
	}()
	wg.Wait()
	require.NoError(t, cerr)
	require.True(t, found)

	require.Eventually(t, exec.drained, 2*time.Second, 5*time.Millisecond)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Equal(t, 1, hooks.peak)
	require.Empty(t, hooks.live, "every established tunnel is released")
	require.LessOrEqual(t, hooks.created, 1)

	_, ok, err := store.GetSchedule(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetupRetryAfterStoreErrorIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock(utc(2024, 3, 1, 8, 0))
	hooks := newGateHooks(0)
	store := storage.New(storage.NewMemory(), logx.Nop())
	exec := newEngine(t, engine.Config{
		Workers:       2,
		RetryMax:      2,
		RetryBase:     5 * time.Millisecond,
		RetryMaxDelay: 20 * time.Millisecond,
	})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	svc := New(Config{Timezone: "UTC", ReconcileEvery: time.Hour}, &flakySwapStore{Store: store, n: 1}, exec, logx.Nop(),
		WithClock(clock),
		WithLifecycle(hooks),
		WithBus(bus),
	)
	require.NoError(t, svc.Activate(ctx))
	t.Cleanup(func() { svc.Deactivate(context.Background()) })

	key := schedule.NewKey("of:0000000000000001", "p1")
	_, err := svc.Schedule(ctx, key, march1(), schedule.Daily{At: clockAt(9, 0)}, 60, pathSpec("p1"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return exec.submitted.Load() == 1 && exec.drained() }, 2*time.Second, 5*time.Millisecond)

	snap := exec.Snapshot()
	require.Zero(t, snap.Failed)
	require.Equal(t, 2, snap.History[0].Attempts)

	rec, ok, err := store.GetSchedule(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, schedule.StatusActive, rec.Status)
	require.Equal(t, schedule.TunnelID("tun-1"), rec.TunnelID)

	hooks.mu.Lock()
	require.Equal(t, 2, hooks.setups)
	require.Equal(t, 1, hooks.created)
	require.Len(t, hooks.live, 1)
	hooks.mu.Unlock()

	activated := 0
	for len(events) > 0 {
		if (<-events).Type == eventbus.ScheduleActivated {
			activated++
		}
	}
	require.Equal(t, 1, activated)
}
