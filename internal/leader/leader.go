// Package leader decides which node arms schedule timers. Exactly one node
// at a time runs the ScheduleEngine's timers; every node serves requests.
package leader

import (
	"context"
	"time"

	"pathsched/internal/eventbus"
	"pathsched/internal/metrics"
	logx "pathsched/pkg/logx"
)

// Elector runs an election loop until ctx is cancelled.
//
// OnElected is called in a new goroutine when this node becomes leader; its
// context is cancelled when leadership is lost. OnDemoted is called
// synchronously after that and must be idempotent.
type Elector interface {
	Run(ctx context.Context)
}

// Callbacks are the leader duties.
type Callbacks struct {
	OnElected func(ctx context.Context)
	OnDemoted func()
}

func (c Callbacks) elected(ctx context.Context) {
	if c.OnElected != nil {
		c.OnElected(ctx)
	}
}

func (c Callbacks) demoted() {
	if c.OnDemoted != nil {
		c.OnDemoted()
	}
}

// LeaderEvent is the payload of leader.* events.
type LeaderEvent struct {
	Node   string `json:"node"`
	Mode   string `json:"mode"`
	Reason string `json:"reason,omitempty"`
}

// Local is the single-node elector: it is leader for as long as Run runs.
type Local struct {
	node    string
	cb      Callbacks
	log     logx.Logger
	bus     eventbus.Bus
	metrics metrics.Sink
}

func NewLocal(node string, cb Callbacks, log logx.Logger, bus eventbus.Bus, m metrics.Sink) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = metrics.NewNoopSink()
	}
	return &Local{node: node, cb: cb, log: log, bus: bus, metrics: m}
}

func (l *Local) Run(ctx context.Context) {
	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.log.Info("leader: local mode, elected", logx.String("node", l.node))
	l.metrics.LeaderStatusChanged(true)
	l.metrics.LeaderAcquired()
	eventbus.Emit(l.bus, eventbus.LeaderElected, LeaderEvent{Node: l.node, Mode: "local"})

	go l.cb.elected(leaderCtx)
	<-ctx.Done()

	cancel()
	l.cb.demoted()
	l.metrics.LeaderStatusChanged(false)
	l.metrics.LeaderLost("shutdown")
	eventbus.Emit(l.bus, eventbus.LeaderDemoted, LeaderEvent{Node: l.node, Mode: "local", Reason: "shutdown"})
	l.log.Info("leader: local mode, stepped down", logx.String("node", l.node))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
