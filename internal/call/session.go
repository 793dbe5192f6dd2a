package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/util"
)

// MediaSession is the media side of one call. *media.Adapter implements it.
type MediaSession interface {
	SetCallbacks(media.Callbacks)
	IsSupported() bool
	InitializeMedia(ctx context.Context, video bool) (*media.LocalStream, error)
	CreatePeerConnection(initiator bool) error
	HandleSignalData(env signaling.Envelope)
	ToggleAudio(enabled bool)
	ToggleVideo(enabled bool)
	EndCall()
	Stats() media.Stats
}

// MediaFactory builds the media side for a call id.
type MediaFactory func(callID string) MediaSession

// AdapterFactory returns a MediaFactory producing media.Adapters that share
// one capturer and transport factory.
func AdapterFactory(capturer media.Capturer, transport media.TransportFactory) MediaFactory {
	return func(callID string) MediaSession {
		return media.NewAdapter(callID, capturer, transport)
	}
}

// timerSet owns timers that die together.
type timerSet struct {
	clock clock.Clock

	mu      sync.Mutex
	stopped bool
	timers  []*clock.Timer
	tickers []*clock.Ticker
	done    chan struct{}
}

func newTimerSet(c clock.Clock) *timerSet {
	return &timerSet{clock: c, done: make(chan struct{})}
}

func (t *timerSet) after(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timers = append(t.timers, t.clock.AfterFunc(d, fn))
}

func (t *timerSet) every(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	tk := t.clock.Ticker(d)
	t.tickers = append(t.tickers, tk)
	go func() {
		for {
			select {
			case <-tk.C:
				fn()
			case <-t.done:
				return
			}
		}
	}()
}

func (t *timerSet) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	for _, tm := range t.timers {
		tm.Stop()
	}
	for _, tk := range t.tickers {
		tk.Stop()
	}
	close(t.done)
}

// session is everything one call owns. The machine's loop goroutine is the
// only one touching its plain fields.
type session struct {
	call      Call
	media     MediaSession
	initiator bool
	gen       atomic.Uint64

	ring    *timerSet
	timers  *timerSet
	ticking bool

	subs      []relay.Unsubscribe
	local     *media.LocalStream
	remote    *media.RemoteStream
	pcCreated bool

	out       chan signaling.Envelope
	stop      chan struct{}
	closeOnce sync.Once
}

func newSession(c clock.Clock, call Call, ms MediaSession, initiator bool, gen uint64) *session {
	s := &session{
		call:      call,
		media:     ms,
		initiator: initiator,
		ring:      newTimerSet(c),
		timers:    newTimerSet(c),
		out:       make(chan signaling.Envelope, 8),
		stop:      make(chan struct{}),
	}
	s.gen.Store(gen)
	return s
}

func (s *session) sendSignal(env signaling.Envelope) {
	select {
	case s.out <- env:
	case <-s.stop:
	}
}

// writeSignals publishes outbound envelopes one at a time so a later
// envelope never lands before an earlier one.
func (s *session) writeSignals(b *relay.Bridge, onErr func(gen uint64, err error)) {
	for {
		select {
		case env := <-s.out:
			ctx, cancel := context.WithTimeout(context.Background(), util.DefaultWriteTimeout)
			err := b.PublishSignal(ctx, s.call.ID, s.call.Local.UID, env)
			cancel()
			if err != nil {
				onErr(s.gen.Load(), err)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *session) unsubscribe() {
	for _, u := range s.subs {
		u()
	}
	s.subs = nil
}

// close stops timers, subscriptions and media synchronously.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.ring.stopAll()
		s.timers.stopAll()
		s.unsubscribe()
		close(s.stop)
		s.media.EndCall()
		s.local, s.remote = nil, nil
	})
}
