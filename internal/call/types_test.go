package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTerminalStatusesOnlyReset(t *testing.T) {
	for from, next := range transitions {
		if from.Terminal() {
			assert.Equal(t, []Status{StatusIdle}, next, "from %s", from)
			continue
		}
		assert.False(t, from.CanTransitionTo(StatusIdle), "from %s", from)
	}
	assert.False(t, StatusIdle.CanTransitionTo(StatusActive))
	assert.True(t, StatusRingingOutbound.CanTransitionTo(StatusActive))
	assert.True(t, StatusOnHold.CanTransitionTo(StatusActive))
	assert.False(t, StatusConnecting.CanTransitionTo(StatusOnHold))
}

func TestTerminalTextsAreDistinct(t *testing.T) {
	states := []Terminal{
		{Kind: StatusEnded},
		{Kind: StatusFailed, Cause: CauseConnection},
		{Kind: StatusFailed, Cause: CauseMedia},
		{Kind: StatusBusy},
		{Kind: StatusNoAnswer},
		{Kind: StatusDeclined},
		{Kind: StatusDeclined, Cause: CauseMissed},
	}
	seen := map[string]Status{}
	for _, st := range states {
		text := StatusText(st)
		assert.NotEmpty(t, text)
		_, dup := seen[text]
		assert.False(t, dup, "%q used twice", text)
		seen[text] = st.Kind
	}
	assert.Empty(t, StatusText(Idle{}))
}

func TestElapsedFrozenOutsideCall(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(90 * time.Second)

	assert.Equal(t, 90*time.Second, elapsed(Active{ConnectedAt: t0}, now))
	assert.Equal(t, 90*time.Second, elapsed(Connected{ConnectedAt: t0}, now))
	assert.Equal(t, 20*time.Second, elapsed(OnHold{ConnectedAt: t0, Elapsed: 20 * time.Second}, now))
	assert.Equal(t, time.Duration(0), elapsed(Connecting{}, now))

	_, ok := ringDeadline(Active{})
	assert.False(t, ok)
	d, ok := ringDeadline(RingingInbound{Deadline: now})
	assert.True(t, ok)
	assert.Equal(t, now, d)
}

func TestRemainingSeconds(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := t0.Add(RingTimeout)
	assert.Equal(t, 30, remainingSeconds(deadline, t0))
	assert.Equal(t, 30, remainingSeconds(deadline, t0.Add(500*time.Millisecond)))
	assert.Equal(t, 1, remainingSeconds(deadline, t0.Add(29*time.Second)))
	assert.Equal(t, 0, remainingSeconds(deadline, deadline))
	assert.Equal(t, 0, remainingSeconds(deadline, deadline.Add(time.Second)))
}
