package pathsvc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

// Memory keeps tunnels in process. Tunnels come up ESTABLISHED.
type Memory struct {
	mu          sync.Mutex
	log         logx.Logger
	seq         uint64
	tunnels     map[schedule.TunnelID]Tunnel
	unreachable map[schedule.EndpointID]bool
}

func NewMemory(log logx.Logger) *Memory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Memory{
		log:         log,
		tunnels:     map[schedule.TunnelID]Tunnel{},
		unreachable: map[schedule.EndpointID]bool{},
	}
}

// SetUnreachable makes path computation towards dst fail.
func (m *Memory) SetUnreachable(dst schedule.EndpointID, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v {
		m.unreachable[dst] = true
	} else {
		delete(m.unreachable, dst)
	}
}

// SetState overrides the state of a tunnel.
func (m *Memory) SetState(id schedule.TunnelID, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tunnels[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTunnelNotFound, id)
	}
	t.State = st
	m.tunnels[id] = t
	return nil
}

func (m *Memory) SetupPath(ctx context.Context, spec schedule.PathRequestSpec) (schedule.TunnelID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tunnels {
		if t.Source == spec.Source && t.Name == spec.Name {
			return t.ID, nil
		}
	}
	if m.unreachable[spec.Destination] {
		return "", fmt.Errorf("%w: %s -> %s", ErrPathUnavailable, spec.Source, spec.Destination)
	}

	m.seq++
	id := schedule.TunnelID(strconv.FormatUint(m.seq, 10))
	m.tunnels[id] = Tunnel{
		ID:          id,
		Source:      spec.Source,
		Destination: spec.Destination,
		Name:        spec.Name,
		Mode:        spec.Mode,
		State:       StateEstablished,
	}
	m.log.Debug("tunnel established", logx.String("tunnel", string(id)), logx.String("path", spec.String()))
	return id, nil
}

func (m *Memory) ReleasePath(ctx context.Context, id schedule.TunnelID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tunnels[id]; ok {
		delete(m.tunnels, id)
		m.log.Debug("tunnel released", logx.String("tunnel", string(id)))
	}
	return nil
}

func (m *Memory) QueryTunnels(ctx context.Context) ([]Tunnel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		out = append(out, t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
