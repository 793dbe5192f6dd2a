// Package call owns the call session. A Machine serializes user intents and
// relay and media events through one goroutine, drives the media adapter and
// publishes status through the relay bridge.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
	"github.com/petervdpas/goopcall/internal/util"
)

var log = logging.Logger("call")

const (
	RingTimeout  = 30 * time.Second
	tickInterval = time.Second
	mediaTimeout = 30 * time.Second
)

// Config wires a Machine. Bridge and Media are required.
type Config struct {
	Bridge *relay.Bridge
	Media  MediaFactory
	Clock  clock.Clock
	// Self may be left empty and provided later through SetIdentity.
	Self         relay.Party
	RingTimeout  time.Duration
	CleanupDelay time.Duration
	// ResetAfter returns terminal states to idle automatically. Zero leaves
	// that to Reset.
	ResetAfter time.Duration
}

type startRequest struct {
	ContactID string      `validate:"required"`
	Contact   relay.Party `validate:"required"`
	Media     relay.Media `validate:"oneof=voice video"`
}

// Machine is the single authority over this client's call session.
type Machine struct {
	bridge       *relay.Bridge
	newMedia     MediaFactory
	clock        clock.Clock
	validate     *validator.Validate
	ringTimeout  time.Duration
	cleanupDelay time.Duration
	resetAfter   time.Duration
	supported    bool

	ctx    context.Context
	cancel context.CancelFunc

	qmu       sync.Mutex
	queue     []func()
	closed    bool
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	self       relay.Party
	incoming   relay.Unsubscribe
	state      State
	gen        uint64
	sess       *session
	flags      Flags
	minimized  bool
	resetTimer *clock.Timer

	viewMu sync.RWMutex
	view   view

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// New starts a machine in idle.
func New(cfg Config) (*Machine, error) {
	if cfg.Bridge == nil || cfg.Media == nil {
		return nil, errors.New("call: bridge and media factory are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = RingTimeout
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = relay.CleanupDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		bridge:       cfg.Bridge,
		newMedia:     cfg.Media,
		clock:        cfg.Clock,
		validate:     validator.New(),
		ringTimeout:  cfg.RingTimeout,
		cleanupDelay: cfg.CleanupDelay,
		resetAfter:   cfg.ResetAfter,
		supported:    cfg.Media("").IsSupported(),
		ctx:          ctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		state:        Idle{},
		subs:         make(map[int]chan Snapshot),
	}
	m.publish()
	go m.loop()

	if cfg.Self.UID != "" {
		if err := m.SetIdentity(cfg.Self); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// ── Event loop ──

func (m *Machine) post(fn func()) bool {
	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *Machine) next() (func(), bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn, true
}

func (m *Machine) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
		case <-m.ctx.Done():
			return
		}
		for {
			fn, ok := m.next()
			if !ok {
				break
			}
			fn()
			m.publish()
		}
	}
}

// do runs fn on the loop and waits for its result.
func (m *Machine) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !m.post(func() { reply <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Intents ──

// SetIdentity enables call flows for p and starts listening for calls
// addressed to it.
func (m *Machine) SetIdentity(p relay.Party) error {
	if err := m.validate.Struct(p); err != nil {
		return fmt.Errorf("call: invalid identity: %w", err)
	}
	if _, err := util.ValidateID(p.UID); err != nil {
		return fmt.Errorf("call: invalid identity: %w", err)
	}
	return m.do(context.Background(), func() error {
		switch m.state.(type) {
		case Idle, Terminal:
		default:
			return ErrSessionActive
		}
		if m.incoming != nil {
			m.incoming()
		}
		m.self = p
		uid := p.UID
		m.incoming = m.bridge.SubscribeIncomingCalls(uid, func(in relay.Incoming) {
			m.post(func() { m.onIncoming(uid, in) })
		})
		log.Infow("identity set", "uid", uid)
		return nil
	})
}

// StartCall places an outgoing call and returns its id once the machine is
// initiating. The record write and everything after it happen in the
// background. A ctx that is done before the loop takes the intent places no
// call; once taken, the outcome is reported whatever ctx does.
func (m *Machine) StartCall(ctx context.Context, contactID string, contact relay.Party, md relay.Media) (string, error) {
	contact.UID = contactID
	req := startRequest{ContactID: contactID, Contact: contact, Media: md}
	if err := m.validate.Struct(req); err != nil {
		return "", fmt.Errorf("call: invalid start request: %w", err)
	}
	if _, err := util.ValidateID(contactID); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidContact, err)
	}
	var id string
	err := m.do(context.Background(), func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		id, err = m.startCall(req)
		return err
	})
	return id, err
}

func (m *Machine) AcceptCall() error {
	return m.do(context.Background(), m.acceptCall)
}

func (m *Machine) DeclineCall() error {
	return m.do(context.Background(), m.declineCall)
}

// EndCall ends whatever session is live. Ending while ringing inbound
// declines. A no-op in idle and terminal states.
func (m *Machine) EndCall() error {
	return m.do(context.Background(), m.endCall)
}

func (m *Machine) HoldCall() error {
	return m.do(context.Background(), m.holdCall)
}

func (m *Machine) ResumeCall() error {
	return m.do(context.Background(), m.resumeCall)
}

// ReconnectCall rebuilds media and transport for a connected call.
func (m *Machine) ReconnectCall() error {
	return m.do(context.Background(), m.reconnectCall)
}

// Reset returns a terminal state to idle.
func (m *Machine) Reset() error {
	return m.do(context.Background(), func() error {
		switch m.state.(type) {
		case Idle:
			return nil
		case Terminal:
			m.resetToIdle()
			return nil
		}
		return &TransitionError{Intent: "reset", From: m.state.Status()}
	})
}

// ToggleMute flips the muted flag and returns the new value.
func (m *Machine) ToggleMute() (bool, error) {
	return m.toggle("toggle mute", func() bool {
		m.flags.Muted = !m.flags.Muted
		if m.sess != nil && !m.flags.OnHold {
			m.sess.media.ToggleAudio(!m.flags.Muted)
		}
		return m.flags.Muted
	})
}

// ToggleVideo flips the camera-off flag and returns the new value.
func (m *Machine) ToggleVideo() (bool, error) {
	return m.toggle("toggle video", func() bool {
		m.flags.CameraOff = !m.flags.CameraOff
		if m.sess != nil && !m.flags.OnHold {
			m.sess.media.ToggleVideo(!m.flags.CameraOff)
		}
		return m.flags.CameraOff
	})
}

func (m *Machine) ToggleSpeaker() (bool, error) {
	return m.toggle("toggle speaker", func() bool {
		m.flags.SpeakerOn = !m.flags.SpeakerOn
		return m.flags.SpeakerOn
	})
}

func (m *Machine) ToggleMinimize() (bool, error) {
	return m.toggle("toggle minimize", func() bool {
		m.minimized = !m.minimized
		return m.minimized
	})
}

func (m *Machine) toggle(intent string, fn func() bool) (bool, error) {
	var v bool
	err := m.do(context.Background(), func() error {
		if _, idle := m.state.(Idle); idle {
			return &TransitionError{Intent: intent, From: StatusIdle}
		}
		v = fn()
		return nil
	})
	return v, err
}

// MediaStats reports the adapter counters of the live session.
func (m *Machine) MediaStats() (media.Stats, bool) {
	var (
		st media.Stats
		ok bool
	)
	_ = m.do(context.Background(), func() error {
		if m.sess != nil {
			st, ok = m.sess.media.Stats(), true
		}
		return nil
	})
	return st, ok
}

// IsMediaSupported reports whether this host can capture and connect.
func (m *Machine) IsMediaSupported() bool { return m.supported }

// Close ends any live call, stops listening and stops the loop.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		_ = m.do(context.Background(), func() error {
			m.shutdown()
			return nil
		})
		m.qmu.Lock()
		m.closed = true
		m.qmu.Unlock()
		m.cancel()
		<-m.done

		m.subMu.Lock()
		for id, ch := range m.subs {
			close(ch)
			delete(m.subs, id)
		}
		m.subMu.Unlock()
	})
}

func (m *Machine) shutdown() {
	if m.incoming != nil {
		m.incoming()
		m.incoming = nil
	}
	m.clearReset()
	switch m.state.(type) {
	case Idle, Terminal:
		return
	}
	call := *m.state.session()
	status := relay.StatusEnded
	var extra map[string]any
	switch m.state.(type) {
	case Initiating:
		status = ""
	case RingingInbound:
		status = relay.StatusDeclined
	default:
		extra = map[string]any{"endedBy": m.self.UID}
	}
	m.finish(StatusEnded, CauseClosed, nil, "", nil)
	if status == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	if err := m.bridge.PublishStatus(ctx, call.ID, status, extra); err != nil {
		log.Warnw("final status not published", "call_id", call.ID, "err", err)
	}
	m.bridge.ScheduleCleanup(call.ID, m.cleanupDelay)
}
