package leader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pathsched/internal/eventbus"
	logx "pathsched/pkg/logx"
)

func TestLocalElectsUntilCancelled(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	elected := make(chan context.Context, 1)
	var demoted atomic.Int32
	l := NewLocal("n1", Callbacks{
		OnElected: func(ctx context.Context) { elected <- ctx },
		OnDemoted: func() { demoted.Add(1) },
	}, logx.Nop(), bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	var leaderCtx context.Context
	select {
	case leaderCtx = <-elected:
	case <-time.After(2 * time.Second):
		t.Fatal("not elected")
	}
	if e := <-ch; e.Type != eventbus.LeaderElected {
		t.Fatalf("first event = %s", e.Type)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if leaderCtx.Err() == nil {
		t.Fatal("leader context still live after Run returned")
	}
	if demoted.Load() != 1 {
		t.Fatalf("demoted %d times, want 1", demoted.Load())
	}
	if e := <-ch; e.Type != eventbus.LeaderDemoted {
		t.Fatalf("second event = %s", e.Type)
	}
}

func TestPostgresUnreachableNeverElects(t *testing.T) {
	t.Parallel()
	db, err := OpenPostgres("postgres://pathsched@127.0.0.1:1/pathsched?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer db.Close()

	var elected atomic.Bool
	e := NewPostgres(db, PostgresConfig{Node: "n1", RetryInterval: 20 * time.Millisecond}, Callbacks{
		OnElected: func(context.Context) { elected.Store(true) },
	}, logx.Nop(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	e.Run(ctx)
	if elected.Load() {
		t.Fatal("elected without a database")
	}
}

func TestPostgresDefaults(t *testing.T) {
	t.Parallel()
	c := PostgresConfig{}.withDefaults()
	if c.LockKey == 0 || c.RetryInterval != 5*time.Second || c.HeartbeatInterval != 2*time.Second {
		t.Fatalf("defaults = %+v", c)
	}
}
