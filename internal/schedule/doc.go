// Package schedule holds the data model of the path-lifecycle scheduler.
//
// A schedule is identified by a Key (source endpoint + symbolic name) and
// persisted as a Record. The calendar pattern is a RepeatRule, a closed sum
// type with one variant per pattern (Once, Daily, Weekly, Monthly). Every
// variant is also a cron.Schedule so it can be driven by robfig/cron.
//
// Persisted values are wrapped in a versioned envelope; see codec.go.
package schedule
