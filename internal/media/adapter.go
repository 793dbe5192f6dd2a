// Package media owns local capture and the peer connection of one call, and
// turns transport events into the callbacks the call state machine consumes.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/signaling"
)

var log = logging.Logger("media")

// Callbacks receive adapter events. Unset callbacks are skipped. Events from
// a transport that was torn down by EndCall are never delivered.
type Callbacks struct {
	OnLocalStream  func(*LocalStream)
	OnRemoteStream func(*RemoteStream)
	OnSignal       func(signaling.Envelope)
	OnConnect      func()
	OnError        func(error)
	OnClose        func()
}

// Stats counts envelope handling.
type Stats struct {
	Applied    int  `json:"applied"`
	Duplicates int  `json:"duplicates"`
	Queued     int  `json:"queued"`
	Rejected   int  `json:"rejected"`
	Connected  bool `json:"connected"`
}

// Adapter is the media side of one call.
type Adapter struct {
	label     string
	capturer  Capturer
	transport TransportFactory

	cbMu sync.RWMutex
	cb   Callbacks

	epoch atomic.Uint64

	mu      sync.Mutex
	local   *LocalStream
	remote  *RemoteStream
	peer    Transport
	pending []signaling.Envelope
	seen    map[string]struct{}
	stats   Stats
	audioOn bool
	videoOn bool
}

// NewAdapter builds an adapter. label names the call in logs.
func NewAdapter(label string, capturer Capturer, transport TransportFactory) *Adapter {
	return &Adapter{
		label:     label,
		capturer:  capturer,
		transport: transport,
		seen:      make(map[string]struct{}),
		audioOn:   true,
		videoOn:   true,
	}
}

func (a *Adapter) SetCallbacks(cb Callbacks) {
	a.cbMu.Lock()
	a.cb = cb
	a.cbMu.Unlock()
}

func (a *Adapter) callbacks() Callbacks {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	return a.cb
}

// IsSupported reports whether capture and a transport are available.
func (a *Adapter) IsSupported() bool {
	return a.capturer != nil && a.transport != nil && a.capturer.Supported()
}

// InitializeMedia captures the microphone and, when video is set, the camera.
// Failures are *AccessError.
func (a *Adapter) InitializeMedia(ctx context.Context, video bool) (*LocalStream, error) {
	if a.capturer == nil {
		return nil, &AccessError{Video: video, Err: ErrNoDevices}
	}
	ep := a.epoch.Load()
	stream, err := a.capturer.Capture(ctx, video)
	if err != nil {
		var ae *AccessError
		if !errors.As(err, &ae) {
			err = &AccessError{Video: video, Err: err}
		}
		log.Warnw("media init failed", "call_id", a.label, "err", err)
		return nil, err
	}
	if a.epoch.Load() != ep {
		stream.Stop()
		return nil, ErrEnded
	}

	a.mu.Lock()
	if a.local != nil {
		a.local.Stop()
	}
	a.local = stream
	_ = stream.setEnabled(audioKind, a.audioOn)
	_ = stream.setEnabled(videoKind, a.videoOn)
	a.mu.Unlock()

	if fn := a.callbacks().OnLocalStream; fn != nil {
		fn(stream)
	}
	log.Infow("local stream ready", "call_id", a.label, "tracks", len(stream.Tracks()))
	return stream, nil
}

// CreatePeerConnection builds the transport in the given role and applies any
// envelopes that arrived before it existed.
func (a *Adapter) CreatePeerConnection(initiator bool) error {
	a.mu.Lock()
	if a.local == nil {
		a.mu.Unlock()
		return ErrNoLocalStream
	}
	if a.peer != nil {
		_ = a.peer.Close()
		a.peer = nil
	}
	ep := a.epoch.Load()
	peer, err := a.transport(initiator, a.local, a.events(ep))
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.peer = peer
	pending := a.pending
	a.pending = nil
	a.stats.Queued = 0
	for _, env := range pending {
		a.applyLocked(env)
	}
	a.mu.Unlock()

	log.Infow("peer connection created", "call_id", a.label, "initiator", initiator, "flushed", len(pending))
	return nil
}

// events wraps the callbacks so nothing from an older epoch gets through.
func (a *Adapter) events(ep uint64) TransportEvents {
	live := func() bool { return a.epoch.Load() == ep }
	return TransportEvents{
		Signal: func(env signaling.Envelope) {
			if fn := a.callbacks().OnSignal; live() && fn != nil {
				fn(env)
			}
		},
		Connect: func() {
			a.mu.Lock()
			a.stats.Connected = true
			a.mu.Unlock()
			if fn := a.callbacks().OnConnect; live() && fn != nil {
				fn()
			}
		},
		Stream: func(rs *RemoteStream) {
			a.mu.Lock()
			a.remote = rs
			a.mu.Unlock()
			if fn := a.callbacks().OnRemoteStream; live() && fn != nil {
				fn(rs)
			}
		},
		Error: func(err error) {
			if fn := a.callbacks().OnError; live() && fn != nil {
				fn(err)
			}
		},
		Close: func() {
			if fn := a.callbacks().OnClose; live() && fn != nil {
				fn()
			}
		},
	}
}

// HandleSignalData feeds an inbound envelope to the transport, queueing it
// until the transport exists. An envelope identical to one already applied is
// dropped; an envelope the transport rejects is dropped and not retried.
func (a *Adapter) HandleSignalData(env signaling.Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peer == nil {
		a.pending = append(a.pending, env)
		a.stats.Queued = len(a.pending)
		return
	}
	a.applyLocked(env)
}

func (a *Adapter) applyLocked(env signaling.Envelope) {
	key := env.Key()
	if _, dup := a.seen[key]; dup {
		a.stats.Duplicates++
		log.Debugw("duplicate signal dropped", "call_id", a.label, "kind", env.Kind())
		return
	}
	a.seen[key] = struct{}{}

	if err := env.Validate(); err != nil {
		a.stats.Rejected++
		log.Warnw("invalid signal dropped", "call_id", a.label, "err", err)
		return
	}
	if err := a.peer.Signal(env); err != nil {
		a.stats.Rejected++
		log.Warnw("signal not applied", "call_id", a.label, "kind", env.Kind(), "err", err)
		return
	}
	a.stats.Applied++
}

// ToggleAudio enables or disables the microphone without renegotiation.
func (a *Adapter) ToggleAudio(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audioOn = enabled
	if a.local != nil {
		if err := a.local.setEnabled(audioKind, enabled); err != nil {
			log.Warnw("toggle audio", "call_id", a.label, "err", err)
		}
	}
}

// ToggleVideo enables or disables the camera without renegotiation.
func (a *Adapter) ToggleVideo(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.videoOn = enabled
	if a.local != nil {
		if err := a.local.setEnabled(videoKind, enabled); err != nil {
			log.Warnw("toggle video", "call_id", a.label, "err", err)
		}
	}
}

// EndCall stops local tracks, closes the transport and clears queued and seen
// envelopes. Idempotent.
func (a *Adapter) EndCall() {
	a.epoch.Add(1)

	a.mu.Lock()
	local, peer := a.local, a.peer
	a.local, a.peer, a.remote = nil, nil, nil
	a.pending = nil
	a.seen = make(map[string]struct{})
	a.stats = Stats{}
	a.audioOn, a.videoOn = true, true
	a.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			log.Debugw("closing transport", "call_id", a.label, "err", err)
		}
	}
	if local != nil || peer != nil {
		log.Infow("media torn down", "call_id", a.label)
	}
}

func (a *Adapter) LocalStream() *LocalStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

func (a *Adapter) RemoteStream() *RemoteStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote
}

func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
