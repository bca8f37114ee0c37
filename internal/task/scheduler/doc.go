// Package scheduler is the ScheduleEngine: it turns persisted schedule records
// into armed timers and drives the per-key state machine
//
//	SCHEDULED --setup ok--> ACTIVE --teardown ok--> SCHEDULED (next occurrence)
//	                                            \-> removed (Once)
//	SCHEDULED --setup failed--> SCHEDULED (next occurrence) | removed (Once)
//	ACTIVE --teardown failed--> ACTIVE (retry after teardown_retry)
//
// Timers are process-local. Only the active node (the leader) arms them; the
// absolute fire instants live in the store so a recovery scan (Reconcile) can
// re-arm everything after a restart or a leadership change.
//
// Timer callbacks never do lifecycle work inline. They submit a task to the
// executor (the task engine) which retries store failures.
package scheduler
