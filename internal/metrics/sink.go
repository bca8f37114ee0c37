package metrics

import "time"

// Sink records scheduler metrics.
// All methods are fire-and-forget: implementations must not block or
// propagate errors.
type Sink interface {
	// Schedule lifecycle
	ScheduleTransition(to string)
	FireCompleted(kind string, lateness time.Duration, err error)
	CollaboratorCall(op string, d time.Duration, err error)
	ArmedTimers(n int)
	ReconcileCompleted(d time.Duration, armed, disarmed int, err error)

	// Leader election
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // "shutdown", "conn_lost", "error"
}

// Fire kinds.
const (
	FireSetup    = "setup"
	FireTeardown = "teardown"
)

// Collaborator operations.
const (
	OpSetupPath   = "setup_path"
	OpReleasePath = "release_path"
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
