package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopcall/internal/signaling"
)

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	b, store, mock := newTestBridge(t)
	j := NewJanitor(store, "", WithClock(mock))

	require.NoError(t, b.PublishCallCreated(ctx, "abandoned", alice, bob, MediaVoice))
	require.NoError(t, b.PublishCallCreated(ctx, "finished", alice, bob, MediaVoice))
	require.NoError(t, b.PublishStatus(ctx, "finished", StatusEnded, nil))
	require.NoError(t, b.PublishCallCreated(ctx, "live", alice, bob, MediaVoice))
	require.NoError(t, b.PublishStatus(ctx, "live", StatusActive, nil))

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.Add(TerminalGrace + time.Second)
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Record(ctx, "finished")
	assert.True(t, IsNotFound(err))

	require.NoError(t, b.PublishCallCreated(ctx, "recent", alice, bob, MediaVoice))
	mock.Add(StaleAfter)
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.Record(ctx, "abandoned")
	assert.True(t, IsNotFound(err))
	_, err = b.Record(ctx, "recent")
	assert.NoError(t, err)
	_, err = b.Record(ctx, "live")
	assert.NoError(t, err)
}

func TestJanitorStartStop(t *testing.T) {
	_, store, _ := newTestBridge(t)
	j := NewJanitor(store, "@every 1h")
	require.NoError(t, j.Start())
	j.Stop()

	bad := NewJanitor(store, "not a schedule")
	assert.Error(t, bad.Start())
}

func TestJanitorSweepsFragmentsAndAbandonedCalls(t *testing.T) {
	ctx := context.Background()
	b, store, mock := newTestBridge(t)
	j := NewJanitor(store, "", WithClock(mock))

	// A signal write that raced a delete on a backend without atomic
	// updates leaves a record with no status.
	require.NoError(t, store.Merge(ctx, Collection, "fragment", map[string]any{
		"signalMeta":   map[string]any{"alice": mock.Now().UnixMilli()},
		"lastSignalAt": mock.Now().UnixMilli(),
	}))
	require.NoError(t, b.PublishCallCreated(ctx, "dead", alice, bob, MediaVoice))
	require.NoError(t, b.PublishStatus(ctx, "dead", StatusActive, nil))

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.Add(StaleAfter + time.Second)
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Record(ctx, "fragment")
	assert.True(t, IsNotFound(err))

	mock.Add(AbandonAfter - StaleAfter - time.Minute)
	require.NoError(t, b.PublishSignal(ctx, "dead", "bob", signaling.Offer(offerSDP)))
	mock.Add(AbandonAfter - time.Second)
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.Add(2 * time.Second)
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Record(ctx, "dead")
	assert.True(t, IsNotFound(err))
}
