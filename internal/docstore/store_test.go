package docstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

type snapLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapLog) add(s Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

func (l *snapLog) last() (Snapshot, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.snaps) == 0 {
		return Snapshot{}, 0
	}
	return l.snaps[len(l.snaps)-1], len(l.snaps)
}

func TestDeepMergeDisjointKeys(t *testing.T) {
	dst := map[string]any{
		"status":     "calling",
		"signalData": map[string]any{"alice": "offer"},
	}
	DeepMerge(dst, map[string]any{"signalData": map[string]any{"bob": "answer"}})
	DeepMerge(dst, map[string]any{"status": "active"})

	assert.Equal(t, "active", dst["status"])
	assert.Equal(t, map[string]any{"alice": "offer", "bob": "answer"}, dst["signalData"])

	DeepMerge(dst, map[string]any{"signalData": map[string]any{"alice": "offer-2"}})
	assert.Equal(t, map[string]any{"alice": "offer-2", "bob": "answer"}, dst["signalData"])
}

func TestFilterMatch(t *testing.T) {
	f := Filter{"recipientId": "bob", "status": "calling"}.Normalized()
	assert.True(t, f.Match(Doc{"recipientId": "bob", "status": "calling", "x": 1.0}))
	assert.False(t, f.Match(Doc{"recipientId": "bob", "status": "ended"}))
	assert.False(t, f.Match(Doc{"status": "calling"}))
	assert.False(t, f.Match(nil))
}

func TestMemoryMergeCreatesAndMerges(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	defer s.Close()

	require.NoError(t, s.Merge(ctx, "calls", "c1", Doc{"signalData": Doc{"alice": Doc{"type": "offer"}}}))
	require.NoError(t, s.Merge(ctx, "calls", "c1", Doc{"signalData": Doc{"bob": Doc{"type": "answer"}}}))

	d, err := s.Get(ctx, "calls", "c1")
	require.NoError(t, err)
	sd := d["signalData"].(map[string]any)
	assert.Len(t, sd, 2)

	_, err = s.Get(ctx, "calls", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWatchDoc(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	defer s.Close()

	require.NoError(t, s.Set(ctx, "calls", "c1", Doc{"status": "calling"}))

	var rec snapLog
	cancel := s.WatchDoc("calls", "c1", rec.add)
	defer cancel()

	require.Eventually(t, func() bool {
		snap, n := rec.last()
		return n == 1 && snap.Exists && snap.Doc["status"] == "calling"
	}, waitFor, tick)

	require.NoError(t, s.Merge(ctx, "calls", "c1", Doc{"status": "active"}))
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Doc["status"] == "active"
	}, waitFor, tick)

	require.NoError(t, s.Delete(ctx, "calls", "c1"))
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return !snap.Exists
	}, waitFor, tick)
}

func TestWatchDocCancel(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	defer s.Close()

	var calls atomic.Int32
	cancel := s.WatchDoc("calls", "c1", func(Snapshot) { calls.Add(1) })
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	cancel()
	cancel()
	require.NoError(t, s.Set(ctx, "calls", "c1", Doc{"status": "calling"}))
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWatchQuery(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	defer s.Close()

	require.NoError(t, s.Set(ctx, "calls", "old", Doc{"recipientId": "bob", "status": "calling"}))
	require.NoError(t, s.Set(ctx, "calls", "other", Doc{"recipientId": "carol", "status": "calling"}))

	var mu sync.Mutex
	var got []Change
	cancel := s.WatchQuery("calls", Filter{"recipientId": "bob", "status": "calling"}, func(cs []Change) {
		mu.Lock()
		got = append(got, cs...)
		mu.Unlock()
	})
	defer cancel()

	snapshot := func() []Change {
		mu.Lock()
		defer mu.Unlock()
		return append([]Change(nil), got...)
	}

	require.Eventually(t, func() bool { return len(snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, Added, snapshot()[0].Type)
	assert.Equal(t, "old", snapshot()[0].ID)

	require.NoError(t, s.Set(ctx, "calls", "new", Doc{"recipientId": "bob", "status": "calling"}))
	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, waitFor, tick)
	assert.Equal(t, Change{Type: Added, ID: "new", Doc: Doc{"recipientId": "bob", "status": "calling"}}, snapshot()[1])

	require.NoError(t, s.Merge(ctx, "calls", "new", Doc{"status": "active"}))
	require.Eventually(t, func() bool { return len(snapshot()) == 3 }, waitFor, tick)
	assert.Equal(t, Removed, snapshot()[2].Type)

	require.NoError(t, s.Set(ctx, "calls", "x", Doc{"recipientId": "carol", "status": "calling"}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, snapshot(), 3)
}

func TestOnChangeHook(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	defer s.Close()

	var refs []Ref
	cancel := s.OnChange(func(r Ref) { refs = append(refs, r) })
	require.NoError(t, s.Set(ctx, "calls", "c1", Doc{}))
	require.NoError(t, s.Delete(ctx, "calls", "c1"))
	cancel()
	require.NoError(t, s.Set(ctx, "calls", "c2", Doc{}))

	assert.Equal(t, []Ref{{"calls", "c1"}, {"calls", "c1"}}, refs)
}

func TestCancelWaitsForRunningCallback(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	defer s.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	cancel := s.WatchDoc("calls", "c1", func(Snapshot) {
		if calls.Add(1) == 2 {
			close(entered)
			<-release
		}
	})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	require.NoError(t, s.Set(ctx, "calls", "c1", Doc{"status": "calling"}))
	<-entered

	returned := make(chan struct{})
	go func() {
		cancel()
		close(returned)
	}()
	select {
	case <-returned:
		t.Fatal("cancel returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("cancel did not return")
	}

	require.NoError(t, s.Set(ctx, "calls", "c1", Doc{"status": "ended"}))
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
}
