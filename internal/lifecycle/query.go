package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pathsched/internal/pathsvc"
	"pathsched/internal/schedule"
)

// PathStatus is a schedule record joined with the state of its live tunnel.
type PathStatus struct {
	Key             string            `json:"key"`
	Source          string            `json:"source"`
	Destination     string            `json:"destination"`
	Name            string            `json:"name"`
	StartDate       string            `json:"start_date"`
	Status          schedule.Status   `json:"status"`
	TunnelState     pathsvc.State     `json:"tunnel_state"`
	TunnelID        string            `json:"tunnel_id,omitempty"`
	DurationMinutes int               `json:"duration_minutes"`
	Rule            schedule.RuleSpec `json:"rule"`
	NextFire        time.Time         `json:"next_fire"`
	TeardownAt      *time.Time        `json:"teardown_at,omitempty"`
	Failures        int               `json:"failures,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

// LspStatus renders the lifecycle status joined with the tunnel state, e.g.
// ACTIVE_ESTABLISHED.
func (p PathStatus) LspStatus() string { return string(p.Status) + "_" + string(p.TunnelState) }

// Query returns every schedule when id is empty, otherwise the schedule named
// by id ("source/name" or a tunnel id). An unknown id is ErrNotFound.
func (f *Facade) Query(ctx context.Context, id string) ([]PathStatus, error) {
	tunnels, err := f.paths.QueryTunnels(ctx)
	if err != nil {
		return nil, fmt.Errorf("query tunnels: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		recs, err := f.engine.List(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]PathStatus, 0, len(recs))
		for _, r := range recs {
			out = append(out, join(r, tunnels))
		}
		return out, nil
	}

	key, err := f.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, ok, err := f.engine.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return []PathStatus{join(rec, tunnels)}, nil
}

func join(r schedule.Record, tunnels []pathsvc.Tunnel) PathStatus {
	p := PathStatus{
		Key:             r.Key().String(),
		Source:          string(r.PathRequest.Source),
		Destination:     string(r.PathRequest.Destination),
		Name:            r.PathRequest.Name,
		StartDate:       r.StartDate.String(),
		Status:          r.Status,
		TunnelState:     pathsvc.StateNone,
		TunnelID:        string(r.TunnelID),
		DurationMinutes: r.DurationMinutes,
		Rule:            schedule.SpecOf(r.Rule),
		NextFire:        r.NextFire,
		Failures:        r.Failures,
		LastError:       r.LastError,
	}
	if !r.TeardownAt.IsZero() {
		t := r.TeardownAt
		p.TeardownAt = &t
	}

	t, ok := pathsvc.Find(tunnels, r.TunnelID)
	if !ok || r.TunnelID == "" {
		t, ok = pathsvc.FindByName(tunnels, r.PathRequest.Source, r.PathRequest.Name)
	}
	if ok {
		p.TunnelState = t.State
		p.TunnelID = string(t.ID)
	}
	return p
}
