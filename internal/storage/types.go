package storage

import (
	"context"
	"errors"
	"time"

	"pathsched/internal/schedule"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite", "postgres", "redis".
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	Addr        string        // redis
	Password    string        // redis
	DB          int           // redis
	Prefix      string        // redis key prefix
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Collection names one of the persisted maps. Names match the encoding tags
// of the values they hold.
type Collection string

const (
	CollectionSchedules  = Collection(schedule.TagSchedule)
	CollectionFailed     = Collection(schedule.TagFailedPath)
	CollectionTunnelInfo = Collection(schedule.TagTunnelInfo)
)

type Entry struct {
	Key   string
	Value []byte
}

// Backend stores opaque values in named collections.
//
// Replace and Remove report whether the key existed; Replace never inserts.
// PutIfAbsent writes only a free key. ReplaceIf and RemoveIf apply only while
// the stored value is byte-equal to expected, atomically with respect to
// every other client of the same store. Entries returns a snapshot.
type Backend interface {
	Get(ctx context.Context, c Collection, key string) ([]byte, bool, error)
	Put(ctx context.Context, c Collection, key string, value []byte) error
	PutIfAbsent(ctx context.Context, c Collection, key string, value []byte) (bool, error)
	Replace(ctx context.Context, c Collection, key string, value []byte) (bool, error)
	ReplaceIf(ctx context.Context, c Collection, key string, expected, value []byte) (bool, error)
	Remove(ctx context.Context, c Collection, key string) (bool, error)
	RemoveIf(ctx context.Context, c Collection, key string, expected []byte) (bool, error)
	Len(ctx context.Context, c Collection) (int, error)
	Entries(ctx context.Context, c Collection) ([]Entry, error)
	Close() error
}
