package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) ScheduleTransition(string)                           {}
func (NoopSink) FireCompleted(string, time.Duration, error)          {}
func (NoopSink) CollaboratorCall(string, time.Duration, error)       {}
func (NoopSink) ArmedTimers(int)                                     {}
func (NoopSink) ReconcileCompleted(time.Duration, int, int, error)   {}
func (NoopSink) LeaderStatusChanged(bool)                            {}
func (NoopSink) LeaderAcquired()                                     {}
func (NoopSink) LeaderLost(string)                                   {}

var _ Sink = NoopSink{}
