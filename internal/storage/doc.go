package storage

// Package storage is the ScheduleStore: a durable map of schedule records plus
// the tunnel binding map and the failed-path set.
//
// The typed Store sits on top of an untyped Backend that holds named
// collections of opaque values:
//   - "memory": process-local maps (tests, single-shot runs)
//   - "file": snapshot + append-only journal on local disk
//   - "sqlite": SQLite database file (single node)
//   - "postgres": shared PostgreSQL table (cluster)
//   - "redis": one Redis hash per collection (cluster)
//
// All operations are last-writer-wins per key.
