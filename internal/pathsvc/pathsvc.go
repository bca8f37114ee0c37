// Package pathsvc is the path collaborator: it turns a path request into a
// live tunnel and releases it again. The real signalling subsystem sits behind
// Service; Memory is the in-process implementation used by single-node
// deployments and tests.
package pathsvc

import (
	"context"
	"errors"

	"pathsched/internal/schedule"
)

var (
	ErrPathUnavailable = errors.New("no path satisfies the request")
	ErrTunnelNotFound  = errors.New("tunnel not found")
)

// State is the signalling state of a tunnel.
type State string

const (
	StateNone        State = "NONE"
	StateInit        State = "INIT"
	StateEstablished State = "ESTABLISHED"
	StateActive      State = "ACTIVE"
	StateFailed      State = "FAILED"
	StateInactive    State = "INACTIVE"
)

// Tunnel is a realized path.
type Tunnel struct {
	ID          schedule.TunnelID   `json:"id"`
	Source      schedule.EndpointID `json:"source"`
	Destination schedule.EndpointID `json:"destination"`
	Name        string              `json:"name"`
	Mode        schedule.LspType    `json:"mode"`
	State       State               `json:"state"`
}

// Service is the path collaborator. Both mutations are idempotent: setting up
// a path whose (source, name) already has a tunnel returns that tunnel, and
// releasing an unknown tunnel succeeds.
type Service interface {
	SetupPath(ctx context.Context, spec schedule.PathRequestSpec) (schedule.TunnelID, error)
	ReleasePath(ctx context.Context, id schedule.TunnelID) error
	QueryTunnels(ctx context.Context) ([]Tunnel, error)
}

// Find returns the tunnel with id.
func Find(tunnels []Tunnel, id schedule.TunnelID) (Tunnel, bool) {
	for _, t := range tunnels {
		if t.ID == id {
			return t, true
		}
	}
	return Tunnel{}, false
}

// FindByName returns the tunnel named name at source.
func FindByName(tunnels []Tunnel, source schedule.EndpointID, name string) (Tunnel, bool) {
	for _, t := range tunnels {
		if t.Source == source && t.Name == name {
			return t, true
		}
	}
	return Tunnel{}, false
}
