package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pathsched/internal/eventbus"
	logx "pathsched/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) TaskEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e.Data.(TaskEvent)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond})
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	var calls atomic.Int32
	err := s.Submit(context.Background(), Task{Name: "flaky", Run: func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("store timeout")
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := waitEvent(t, ch, eventbus.TaskFinished)
	if ev.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", ev.Attempts)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 5, RetryBase: time.Millisecond})
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	var calls atomic.Int32
	cause := errors.New("path collaborator refused")
	_ = s.Submit(context.Background(), Task{Name: "permanent", Run: func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(cause)
	}})
	ev := waitEvent(t, ch, eventbus.TaskFailed)
	if calls.Load() != 1 || ev.Attempts != 1 {
		t.Fatalf("calls = %d attempts = %d, want 1", calls.Load(), ev.Attempts)
	}
	if ev.Error != cause.Error() {
		t.Fatalf("error = %q, want unwrapped cause", ev.Error)
	}
	if !IsNoRetry(NoRetry(cause)) || IsNoRetry(cause) {
		t.Fatal("IsNoRetry mismatch")
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	_ = s.Submit(context.Background(), Task{Name: "panics", Run: func(ctx context.Context) error { panic("nil map") }})
	ev := waitEvent(t, ch, eventbus.TaskFailed)
	if ev.Error == "" {
		t.Fatal("expected panic error")
	}
	// The worker survives.
	_ = s.Submit(context.Background(), Task{Name: "after", Run: func(ctx context.Context) error { return nil }})
	waitEvent(t, ch, eventbus.TaskFinished)
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Submit(context.Background(), Task{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}})
	<-started
	noop := Task{Name: "noop", Run: func(ctx context.Context) error { return nil }}
	if err := s.Enqueue(noop); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second enqueue err = %v, want ErrQueueFull", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped = %d", s.Snapshot().Dropped)
	}
}

func TestSubmitWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Submit(context.Background(), Task{Name: "x", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestBackoffRespectsHintAndCap(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	if d := backoffDelayWithHint(opt, 10, errors.New("x"), nil); d != time.Second {
		t.Fatalf("capped delay = %v", d)
	}
	if d := backoffDelayWithHint(opt, 2, errors.New("x"), nil); d != 200*time.Millisecond {
		t.Fatalf("second retry delay = %v", d)
	}
	if d := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("x"), 300*time.Millisecond), nil); d != 300*time.Millisecond {
		t.Fatalf("hinted delay = %v", d)
	}
}
