package eventbus

// Event types published by the scheduler and the task engine.
const (
	ScheduleScheduled      = "schedule.scheduled"
	ScheduleActivated      = "schedule.activated"
	ScheduleSetupFailed    = "schedule.setup_failed"
	ScheduleDeactivated    = "schedule.deactivated"
	ScheduleTeardownFailed = "schedule.teardown_failed"
	ScheduleTerminated     = "schedule.terminated"
	ScheduleCancelled      = "schedule.cancelled"

	LeaderElected = "leader.elected"
	LeaderDemoted = "leader.demoted"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"

	ConfigReloaded = "config.reloaded"
)
