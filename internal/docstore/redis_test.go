package docstore

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRedis(t *testing.T, addr string) *Redis {
	t.Helper()
	r, err := OpenRedis(context.Background(), RedisConfig{Addr: addr, Prefix: "test"})
	require.NoError(t, err)
	return r
}

func TestRedisConformance(t *testing.T) {
	testBackend(t, func(t *testing.T) *Store {
		srv := miniredis.RunT(t)
		s := New(openTestRedis(t, srv.Addr()))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpenRedisFailsWithoutServer(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := OpenRedis(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)

	_, err = OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestRedisMergeRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	r := openTestRedis(t, srv.Addr())
	defer r.Close()
	other := openTestRedis(t, srv.Addr())
	defer other.Close()

	require.NoError(t, r.Set(ctx, "calls", "c1", Doc{"status": "calling"}))

	// The other client writes between our read and commit twice.
	var conflicts atomic.Int32
	r.beforeCommit = func(string) {
		if conflicts.Add(1) > 2 {
			return
		}
		require.NoError(t, other.Merge(ctx, "calls", "c1", Doc{"signalMeta": Doc{"bob": conflicts.Load()}}))
	}
	require.NoError(t, r.Merge(ctx, "calls", "c1", Doc{"signalMeta": Doc{"alice": 1}}))
	assert.EqualValues(t, 3, conflicts.Load())

	d, err := r.Get(ctx, "calls", "c1")
	require.NoError(t, err)
	assert.Equal(t, "calling", d["status"])
	assert.Equal(t, map[string]any{"alice": 1.0, "bob": 2.0}, d["signalMeta"])
}

func TestRedisMergeGivesUpUnderContention(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	r := openTestRedis(t, srv.Addr())
	defer r.Close()
	other := openTestRedis(t, srv.Addr())
	defer other.Close()

	var n atomic.Int32
	r.beforeCommit = func(string) {
		require.NoError(t, other.Merge(ctx, "calls", "c1", Doc{"n": n.Add(1)}))
	}
	err := r.Merge(ctx, "calls", "c1", Doc{"status": "active"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contention")
	assert.EqualValues(t, mergeRetries, n.Load())
}

func TestRedisChangesReachOtherStores(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	sa := New(openTestRedis(t, srv.Addr()))
	defer sa.Close()
	sb := New(openTestRedis(t, srv.Addr()))
	defer sb.Close()

	var seen atomic.Value
	cancel := sb.WatchDoc("calls", "c1", func(s Snapshot) {
		if s.Exists {
			seen.Store(s.Doc["status"])
		} else {
			seen.Store("")
		}
	})
	defer cancel()

	require.NoError(t, sa.Set(ctx, "calls", "c1", Doc{"status": "calling"}))
	require.Eventually(t, func() bool { return seen.Load() == "calling" }, waitFor, tick)

	require.NoError(t, sa.MergeExisting(ctx, "calls", "c1", Doc{"status": "active"}))
	require.Eventually(t, func() bool { return seen.Load() == "active" }, waitFor, tick)

	require.NoError(t, sa.Delete(ctx, "calls", "c1"))
	require.Eventually(t, func() bool { return seen.Load() == "" }, waitFor, tick)
}
