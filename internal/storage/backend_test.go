package storage

import (
	"context"
	"path/filepath"
	"testing"

	logx "pathsched/pkg/logx"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type backendFactory func(t *testing.T) Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Backend { return NewMemory() },
		"file": func(t *testing.T) Backend {
			b, err := openFile(Config{Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
			require.NoError(t, err)
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
			require.NoError(t, err)
			return b
		},
		"redis": func(t *testing.T) Backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return newRedisBackend(client, "test", logx.Nop())
		},
	}
}

func TestBackendConformance(t *testing.T) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := factory(t)
			t.Cleanup(func() { _ = b.Close() })

			_, ok, err := b.Get(ctx, CollectionSchedules, "devA/p1")
			require.NoError(t, err)
			require.False(t, ok)

			ok, err = b.Replace(ctx, CollectionSchedules, "devA/p1", []byte("x"))
			require.NoError(t, err)
			require.False(t, ok, "replace must not insert")
			n, err := b.Len(ctx, CollectionSchedules)
			require.NoError(t, err)
			require.Zero(t, n)

			require.NoError(t, b.Put(ctx, CollectionSchedules, "devA/p1", []byte("v1")))
			require.NoError(t, b.Put(ctx, CollectionSchedules, "devA/p0", []byte("v0")))
			require.NoError(t, b.Put(ctx, CollectionFailed, "devA/p1", []byte("other")))

			v, ok, err := b.Get(ctx, CollectionSchedules, "devA/p1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v1", string(v))

			ok, err = b.Replace(ctx, CollectionSchedules, "devA/p1", []byte("v2"))
			require.NoError(t, err)
			require.True(t, ok)
			v, _, _ = b.Get(ctx, CollectionSchedules, "devA/p1")
			require.Equal(t, "v2", string(v))

			entries, err := b.Entries(ctx, CollectionSchedules)
			require.NoError(t, err)
			require.Equal(t, []Entry{{Key: "devA/p0", Value: []byte("v0")}, {Key: "devA/p1", Value: []byte("v2")}}, entries)

			n, err = b.Len(ctx, CollectionFailed)
			require.NoError(t, err)
			require.Equal(t, 1, n, "collections are independent")

			ok, err = b.Remove(ctx, CollectionSchedules, "devA/p1")
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = b.Remove(ctx, CollectionSchedules, "devA/p1")
			require.NoError(t, err)
			require.False(t, ok)

			_, ok, err = b.Get(ctx, CollectionSchedules, "devA/p1")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestBackendConditionalWrites(t *testing.T) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := factory(t)
			t.Cleanup(func() { _ = b.Close() })

			ok, err := b.PutIfAbsent(ctx, CollectionSchedules, "devA/p1", []byte("v1"))
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = b.PutIfAbsent(ctx, CollectionSchedules, "devA/p1", []byte("other"))
			require.NoError(t, err)
			require.False(t, ok, "taken key is kept")
			v, _, _ := b.Get(ctx, CollectionSchedules, "devA/p1")
			require.Equal(t, "v1", string(v))

			ok, err = b.ReplaceIf(ctx, CollectionSchedules, "devA/p1", []byte("stale"), []byte("v2"))
			require.NoError(t, err)
			require.False(t, ok)
			ok, err = b.ReplaceIf(ctx, CollectionSchedules, "devA/p1", []byte("v1"), []byte("v2"))
			require.NoError(t, err)
			require.True(t, ok)
			v, _, _ = b.Get(ctx, CollectionSchedules, "devA/p1")
			require.Equal(t, "v2", string(v))

			ok, err = b.ReplaceIf(ctx, CollectionSchedules, "devA/missing", []byte("v1"), []byte("v2"))
			require.NoError(t, err)
			require.False(t, ok, "replace-if never inserts")

			ok, err = b.RemoveIf(ctx, CollectionSchedules, "devA/p1", []byte("v1"))
			require.NoError(t, err)
			require.False(t, ok)
			ok, err = b.RemoveIf(ctx, CollectionSchedules, "devA/p1", []byte("v2"))
			require.NoError(t, err)
			require.True(t, ok)

			n, err := b.Len(ctx, CollectionSchedules)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}

func TestFileBackendReplaysJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	b, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, CollectionTunnelInfo, "t1", []byte("c1")))
	require.NoError(t, b.Put(ctx, CollectionTunnelInfo, "t2", []byte("c2")))
	_, err = b.Remove(ctx, CollectionTunnelInfo, "t1")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer b.Close()
	entries, err := b.Entries(ctx, CollectionTunnelInfo)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Key: "t2", Value: []byte("c2")}}, entries)
}

func TestFileBackendCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	raw, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	fb := raw.(*fileBackend)
	fb.compactEvery = 3
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, fb.Put(ctx, CollectionFailed, k, []byte(k)))
	}
	require.NoError(t, fb.Close())

	b, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer b.Close()
	n, err := b.Len(ctx, CollectionFailed)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestSQLPlaceholderRebind(t *testing.T) {
	t.Parallel()
	pg := &sqlBackend{dialect: dialectPostgres}
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.q("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &sqlBackend{dialect: dialectSQLite}
	require.Equal(t, "x = ?", lite.q("x = ?"))
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := OpenBackend(Config{Driver: "etcd"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)
}
