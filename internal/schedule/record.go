package schedule

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// TunnelID identifies a realized path in the tunnel subsystem.
type TunnelID string

// ConsumerID identifies the logical consumer owning the resources of a tunnel.
type ConsumerID string

// LspType is the path-setup (signalling) mode.
type LspType int

const (
	WithSignalling LspType = iota
	WithoutSignallingWithSR
	WithoutSignallingWithoutSR
)

func (t LspType) Valid() bool { return t >= WithSignalling && t <= WithoutSignallingWithoutSR }

func (t LspType) String() string {
	switch t {
	case WithSignalling:
		return "WITH_SIGNALLING"
	case WithoutSignallingWithSR:
		return "WITHOUT_SIGNALLING_AND_WITH_SR"
	case WithoutSignallingWithoutSR:
		return "WITHOUT_SIGNALLING_AND_WITHOUT_SR"
	default:
		return "LspType(" + strconv.Itoa(int(t)) + ")"
	}
}

// CostType selects the metric the path computation minimizes.
type CostType int

const (
	CostIGP CostType = 1
	CostTE  CostType = 2
)

func (c CostType) Valid() bool { return c == CostIGP || c == CostTE }

func (c CostType) String() string {
	switch c {
	case CostIGP:
		return "COST"
	case CostTE:
		return "TE_COST"
	default:
		return "CostType(" + strconv.Itoa(int(c)) + ")"
	}
}

// ConstraintKind tags a Constraint.
type ConstraintKind string

const (
	ConstraintBandwidth ConstraintKind = "bandwidth"
	ConstraintCost      ConstraintKind = "cost"
)

// Constraint is an opaque path-computation constraint. Only the field
// matching Kind is meaningful.
type Constraint struct {
	Kind      ConstraintKind `json:"kind"`
	Bandwidth float64        `json:"bandwidth,omitempty"` // bps
	Cost      CostType       `json:"cost,omitempty"`
}

func BandwidthConstraint(bps float64) Constraint {
	return Constraint{Kind: ConstraintBandwidth, Bandwidth: bps}
}

func CostConstraint(c CostType) Constraint { return Constraint{Kind: ConstraintCost, Cost: c} }

func (c Constraint) String() string {
	switch c.Kind {
	case ConstraintBandwidth:
		return "bandwidth=" + strconv.FormatFloat(c.Bandwidth, 'f', -1, 64)
	case ConstraintCost:
		return "cost=" + c.Cost.String()
	default:
		return string(c.Kind)
	}
}

// PathRequestSpec describes the path to create. It is supplied once when the
// schedule is accepted and never mutated afterwards.
type PathRequestSpec struct {
	Source      EndpointID   `json:"source"`
	Destination EndpointID   `json:"destination"`
	Name        string       `json:"name"`
	Constraints []Constraint `json:"constraints,omitempty"`
	Mode        LspType      `json:"mode"`
}

func (p PathRequestSpec) Key() Key { return Key{Source: p.Source, Name: p.Name} }

func (p PathRequestSpec) Clone() PathRequestSpec {
	cp := p
	cp.Constraints = append([]Constraint(nil), p.Constraints...)
	return cp
}

func (p PathRequestSpec) String() string {
	cs := make([]string, 0, len(p.Constraints))
	for _, c := range p.Constraints {
		cs = append(cs, c.String())
	}
	return fmt.Sprintf("%s->%s name=%s mode=%s constraints=[%s]",
		p.Source, p.Destination, p.Name, p.Mode, strings.Join(cs, ","))
}

// Status is the lifecycle status of a schedule.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusActive     Status = "ACTIVE"
	StatusTerminated Status = "TERMINATED"
)

func (s Status) Terminal() bool { return s == StatusTerminated }

// Record is the persisted schedule definition plus its current status.
//
// NextFire is the absolute instant of the next setup and is always set while
// the record is SCHEDULED. TeardownAt is set while ACTIVE.
type Record struct {
	StartDate       Date
	Rule            RepeatRule
	DurationMinutes int
	PathRequest     PathRequestSpec
	Status          Status

	NextFire   time.Time
	TeardownAt time.Time
	TunnelID   TunnelID
	LastError  string
	Failures   int
	UpdatedAt  time.Time
}

func (r Record) Key() Key { return r.PathRequest.Key() }

func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

func (r Record) Clone() Record {
	cp := r
	cp.PathRequest = r.PathRequest.Clone()
	return cp
}

// Phase is the lifecycle step that failed.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseTeardown Phase = "teardown"
)

// FailedPathRecord is a member of the failed-path set. Set identity is the
// path request; a later failure of the same request replaces the earlier one.
type FailedPathRecord struct {
	PathRequest PathRequestSpec `json:"path_request"`
	Phase       Phase           `json:"phase"`
	Reason      string          `json:"reason"`
	TunnelID    TunnelID        `json:"tunnel_id,omitempty"`
	FailedAt    time.Time       `json:"failed_at"`
}

// ID is a stable hash of the path request, used as the set member key.
func (f FailedPathRecord) ID() string {
	b, _ := json.Marshal(f.PathRequest)
	h := fnv.New64a()
	_, _ = h.Write(b)
	return strconv.FormatUint(h.Sum64(), 16)
}
