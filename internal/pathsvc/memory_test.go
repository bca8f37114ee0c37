package pathsvc

import (
	"context"
	"errors"
	"testing"

	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

func req(name string) schedule.PathRequestSpec {
	return schedule.PathRequestSpec{Source: "devA", Destination: "devB", Name: name}
}

func TestMemorySetupIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(logx.Nop())

	id1, err := m.SetupPath(ctx, req("p1"))
	if err != nil {
		t.Fatalf("SetupPath: %v", err)
	}
	id2, err := m.SetupPath(ctx, req("p1"))
	if err != nil {
		t.Fatalf("SetupPath again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("second setup returned %s, want %s", id2, id1)
	}

	ts, _ := m.QueryTunnels(ctx)
	if len(ts) != 1 || ts[0].State != StateEstablished {
		t.Fatalf("tunnels = %+v", ts)
	}
	if _, ok := FindByName(ts, "devA", "p1"); !ok {
		t.Fatal("FindByName missed p1")
	}
}

func TestMemoryReleaseUnknownSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(logx.Nop())

	id, _ := m.SetupPath(ctx, req("p1"))
	if err := m.ReleasePath(ctx, id); err != nil {
		t.Fatalf("ReleasePath: %v", err)
	}
	if err := m.ReleasePath(ctx, id); err != nil {
		t.Fatalf("second ReleasePath: %v", err)
	}
	ts, _ := m.QueryTunnels(ctx)
	if _, ok := Find(ts, id); ok {
		t.Fatal("released tunnel still listed")
	}
}

func TestMemoryUnreachable(t *testing.T) {
	t.Parallel()
	m := NewMemory(logx.Nop())
	m.SetUnreachable("devB", true)

	_, err := m.SetupPath(context.Background(), req("p1"))
	if !errors.Is(err, ErrPathUnavailable) {
		t.Fatalf("err = %v, want ErrPathUnavailable", err)
	}
	if err := m.SetState("nope", StateFailed); !errors.Is(err, ErrTunnelNotFound) {
		t.Fatalf("SetState err = %v", err)
	}
}
