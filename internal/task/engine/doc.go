// Package engine runs schedule fire callbacks on a bounded worker pool.
//
// Timers never run lifecycle work inline; they submit a Task here. Failed
// tasks are retried with jittered exponential backoff unless the error is
// wrapped with NoRetry.
package engine
