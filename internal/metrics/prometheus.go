package metrics

import (
	"time"

	logx "pathsched/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	log logx.Logger

	transitions   *prometheus.CounterVec
	fires         *prometheus.CounterVec
	fireLateness  *prometheus.HistogramVec
	collabCalls   *prometheus.CounterVec
	collabLatency *prometheus.HistogramVec
	armedTimers   prometheus.Gauge
	reconciles    *prometheus.CounterVec
	reconcileDur  prometheus.Histogram
	reconcileArm  prometheus.Counter
	reconcileDrop prometheus.Counter

	isLeader       prometheus.Gauge
	leaderAcquired prometheus.Counter
	leaderLost     *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log}

	s.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pathsched_schedule_transitions_total",
		Help: "Schedule state transitions by target state.",
	}, []string{"to"})
	s.fires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pathsched_fires_total",
		Help: "Timer fires processed, by kind and result.",
	}, []string{"kind", "result"})
	s.fireLateness = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathsched_fire_lateness_seconds",
		Help:    "Delay between the planned fire instant and processing.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
	}, []string{"kind"})
	s.collabCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pathsched_path_calls_total",
		Help: "Calls to the path collaborator, by operation and result.",
	}, []string{"op", "result"})
	s.collabLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathsched_path_call_duration_seconds",
		Help:    "Path collaborator call latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})
	s.armedTimers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pathsched_armed_timers",
		Help: "Timers currently armed on this node.",
	})
	s.reconciles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pathsched_reconcile_runs_total",
		Help: "Recovery/reconcile scans, by result.",
	}, []string{"result"})
	s.reconcileDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pathsched_reconcile_duration_seconds",
		Help:    "Duration of a reconcile scan.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.reconcileArm = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pathsched_reconcile_armed_total",
		Help: "Timers armed by reconcile scans.",
	})
	s.reconcileDrop = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pathsched_reconcile_disarmed_total",
		Help: "Timers disarmed by reconcile scans because their record is gone.",
	})
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pathsched_leader",
		Help: "1 if this node currently arms timers.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pathsched_leader_acquired_total",
		Help: "Times this node acquired leadership.",
	})
	s.leaderLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pathsched_leader_lost_total",
		Help: "Times this node lost leadership, by reason.",
	}, []string{"reason"})

	for _, c := range []prometheus.Collector{
		s.transitions, s.fires, s.fireLateness, s.collabCalls, s.collabLatency,
		s.armedTimers, s.reconciles, s.reconcileDur, s.reconcileArm, s.reconcileDrop,
		s.isLeader, s.leaderAcquired, s.leaderLost,
	} {
		if err := reg.Register(c); err != nil {
			s.log.Warn("metrics: failed to register collector", logx.Err(err))
		}
	}
	return s
}

func (s *PrometheusSink) ScheduleTransition(to string) {
	s.transitions.WithLabelValues(to).Inc()
}

func (s *PrometheusSink) FireCompleted(kind string, lateness time.Duration, err error) {
	s.fires.WithLabelValues(kind, result(err)).Inc()
	if lateness < 0 {
		lateness = 0
	}
	s.fireLateness.WithLabelValues(kind).Observe(lateness.Seconds())
}

func (s *PrometheusSink) CollaboratorCall(op string, d time.Duration, err error) {
	s.collabCalls.WithLabelValues(op, result(err)).Inc()
	s.collabLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (s *PrometheusSink) ArmedTimers(n int) { s.armedTimers.Set(float64(n)) }

func (s *PrometheusSink) ReconcileCompleted(d time.Duration, armed, disarmed int, err error) {
	s.reconciles.WithLabelValues(result(err)).Inc()
	s.reconcileDur.Observe(d.Seconds())
	s.reconcileArm.Add(float64(armed))
	s.reconcileDrop.Add(float64(disarmed))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() { s.leaderAcquired.Inc() }

func (s *PrometheusSink) LeaderLost(reason string) { s.leaderLost.WithLabelValues(reason).Inc() }

var _ Sink = (*PrometheusSink)(nil)
