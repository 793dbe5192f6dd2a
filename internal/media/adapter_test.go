package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopcall/internal/signaling"
)

const testSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

type fakeTransport struct {
	mu        sync.Mutex
	initiator bool
	ev        TransportEvents
	applied   []signaling.Envelope
	closed    int
	reject    bool
}

func (f *fakeTransport) Signal(env signaling.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return &signaling.NegotiationError{Kind: env.Kind(), Reason: "rejected"}
	}
	f.applied = append(f.applied, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeTransport
}

func (ff *fakeFactory) new(initiator bool, _ *LocalStream, ev TransportEvents) (Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	t := &fakeTransport{initiator: initiator, ev: ev}
	ff.built = append(ff.built, t)
	return t, nil
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.built[len(ff.built)-1]
}

type failingCapturer struct{}

func (failingCapturer) Supported() bool { return false }
func (failingCapturer) Capture(context.Context, bool) (*LocalStream, error) {
	return nil, errors.New("permission denied")
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	return NewAdapter("test-call", SyntheticCapturer{}, ff.new), ff
}

func candidate(s string) signaling.Envelope {
	mid := "0"
	return signaling.Envelope{Type: "candidate", Candidate: &signaling.Candidate{Candidate: s, SDPMid: &mid}}
}

func TestQueuedSignalsFlushOnCreate(t *testing.T) {
	a, ff := newTestAdapter(t)
	ctx := context.Background()

	a.HandleSignalData(signaling.Offer(testSDP))
	a.HandleSignalData(candidate("candidate:1"))
	a.HandleSignalData(signaling.Offer(testSDP))
	assert.Equal(t, 3, a.Stats().Queued)

	_, err := a.InitializeMedia(ctx, false)
	require.NoError(t, err)
	require.NoError(t, a.CreatePeerConnection(false))

	tr := ff.last()
	assert.False(t, tr.initiator)
	assert.Equal(t, 2, tr.appliedCount())
	assert.Equal(t, signaling.KindOffer, tr.applied[0].Kind())
	assert.Equal(t, 1, a.Stats().Duplicates)
	assert.Zero(t, a.Stats().Queued)
}

func TestDuplicateAppliedOnce(t *testing.T) {
	a, ff := newTestAdapter(t)
	_, err := a.InitializeMedia(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, a.CreatePeerConnection(true))

	for i := 0; i < 5; i++ {
		a.HandleSignalData(signaling.Answer(testSDP))
	}
	a.HandleSignalData(candidate("candidate:2"))
	a.HandleSignalData(candidate("candidate:2"))

	assert.Equal(t, 2, ff.last().appliedCount())
	assert.Equal(t, Stats{Applied: 2, Duplicates: 5}, a.Stats())
}

func TestInvalidAndRejectedSignalsDropped(t *testing.T) {
	a, ff := newTestAdapter(t)
	_, err := a.InitializeMedia(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, a.CreatePeerConnection(true))

	a.HandleSignalData(signaling.Envelope{Type: "offer", SDP: "garbage"})
	assert.Zero(t, ff.last().appliedCount())

	ff.last().reject = true
	a.HandleSignalData(signaling.Answer(testSDP))
	assert.Equal(t, 2, a.Stats().Rejected)
}

func TestCreateRequiresMedia(t *testing.T) {
	a, _ := newTestAdapter(t)
	assert.ErrorIs(t, a.CreatePeerConnection(true), ErrNoLocalStream)
}

func TestInitializeMediaFailure(t *testing.T) {
	a := NewAdapter("c", failingCapturer{}, (&fakeFactory{}).new)
	_, err := a.InitializeMedia(context.Background(), true)
	var ae *AccessError
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Video)
	assert.False(t, a.IsSupported())
	assert.True(t, NewAdapter("c", SyntheticCapturer{}, (&fakeFactory{}).new).IsSupported())
	assert.False(t, NewAdapter("c", SyntheticCapturer{}, nil).IsSupported())
}

func TestEndCallTearsDownAndIsIdempotent(t *testing.T) {
	a, ff := newTestAdapter(t)
	var closes, signals int
	a.SetCallbacks(Callbacks{
		OnClose:  func() { closes++ },
		OnSignal: func(signaling.Envelope) { signals++ },
	})

	stream, err := a.InitializeMedia(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, a.CreatePeerConnection(true))
	a.HandleSignalData(signaling.Answer(testSDP))
	tr := ff.last()

	a.EndCall()
	a.EndCall()

	assert.Equal(t, 1, tr.closed)
	for _, lt := range stream.Tracks() {
		assert.True(t, lt.Stopped())
	}
	assert.Nil(t, a.LocalStream())

	// Events from the torn-down transport are not delivered.
	tr.ev.Signal(signaling.Offer(testSDP))
	tr.ev.Close()
	assert.Zero(t, signals)
	assert.Zero(t, closes)

	// The seen set was cleared with the call.
	_, err = a.InitializeMedia(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, a.CreatePeerConnection(true))
	a.HandleSignalData(signaling.Answer(testSDP))
	assert.Equal(t, 1, ff.last().appliedCount())
}

func TestEventsReachCallbacks(t *testing.T) {
	a, ff := newTestAdapter(t)
	var connected bool
	var remote *RemoteStream
	var gotErr error
	a.SetCallbacks(Callbacks{
		OnConnect:      func() { connected = true },
		OnRemoteStream: func(rs *RemoteStream) { remote = rs },
		OnError:        func(err error) { gotErr = err },
	})
	_, err := a.InitializeMedia(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, a.CreatePeerConnection(false))

	tr := ff.last()
	tr.ev.Connect()
	tr.ev.Stream(NewRemoteStream("remote"))
	tr.ev.Error(ErrConnectionFailed)

	assert.True(t, connected)
	require.NotNil(t, remote)
	assert.Equal(t, "remote", remote.ID)
	assert.Same(t, remote, a.RemoteStream())
	assert.ErrorIs(t, gotErr, ErrConnectionFailed)
	assert.True(t, a.Stats().Connected)
}

func TestToggles(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.ToggleAudio(false)
	stream, err := a.InitializeMedia(context.Background(), true)
	require.NoError(t, err)

	for _, lt := range stream.AudioTracks() {
		assert.False(t, lt.Enabled())
	}
	a.ToggleVideo(false)
	for _, lt := range stream.VideoTracks() {
		assert.False(t, lt.Enabled())
	}
	a.ToggleAudio(true)
	a.ToggleVideo(true)
	for _, lt := range stream.Tracks() {
		assert.True(t, lt.Enabled())
	}
	require.Len(t, stream.VideoTracks(), 1)
}
