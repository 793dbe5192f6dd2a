package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
	"github.com/petervdpas/goopcall/internal/signaling"
	"github.com/petervdpas/goopcall/internal/util"
)

// Everything in this file runs on the loop goroutine.

// setState moves to next if the transition table allows it.
func (m *Machine) setState(next State) bool {
	from := m.state.Status()
	to := next.Status()
	if !from.CanTransitionTo(to) {
		log.Errorw("transition refused", "from", from, "to", to)
		return false
	}
	if _, idle := next.(Idle); !idle && next.session().ID == "" {
		log.Errorw("transition refused: no call id", "from", from, "to", to)
		return false
	}
	if _, ringing := ringDeadline(m.state); ringing && m.sess != nil {
		m.sess.ring.stopAll()
	}
	m.state = next
	if to.InCall() {
		m.startDurationClock()
	}
	callID := ""
	if c := next.session(); c != nil {
		callID = c.ID
	}
	log.Infow("call state", "call_id", callID, "from", from, "to", to)
	return true
}

// openSession starts a new generation owning call.
func (m *Machine) openSession(call Call, ms MediaSession, initiator bool) {
	m.clearReset()
	m.gen++
	m.sess = newSession(m.clock, call, ms, initiator, m.gen)
	m.flags = Flags{}
	m.minimized = false
	m.bindMedia()
	go m.sess.writeSignals(m.bridge, func(gen uint64, err error) {
		m.post(func() { m.onRelayError(gen, err) })
	})
}

// bindMedia routes adapter callbacks for the current generation.
func (m *Machine) bindMedia() {
	gen := m.gen
	s := m.sess
	s.media.SetCallbacks(media.Callbacks{
		OnSignal: s.sendSignal,
		OnConnect: func() {
			m.post(func() { m.onConnected(gen) })
		},
		OnRemoteStream: func(rs *media.RemoteStream) {
			m.post(func() { m.onRemoteStream(gen, rs) })
		},
		OnError: func(err error) {
			m.post(func() { m.onMediaError(gen, err) })
		},
		OnClose: func() {
			m.post(func() { m.onMediaClosed(gen) })
		},
	})
}

// teardown releases the session's resources and invalidates everything still
// in flight for it.
func (m *Machine) teardown() {
	if m.sess != nil {
		m.sess.close()
		m.sess = nil
	}
	m.gen++
}

// finish ends the session in a terminal state and, when status is set,
// writes it to the record and schedules the record's deletion.
func (m *Machine) finish(kind Status, cause Cause, err error, status relay.Status, extra map[string]any) {
	c := m.state.session()
	if c == nil {
		return
	}
	now := m.clock.Now()
	term := Terminal{Call: *c, Kind: kind, Cause: cause, Err: err, Elapsed: elapsed(m.state, now)}
	if at, ok := connectedAt(m.state); ok {
		term.ConnectedAt = &at
	}
	m.teardown()
	if !m.setState(term) {
		return
	}
	if err != nil {
		log.Warnw("call terminated", "call_id", c.ID, "status", kind, "cause", cause, "err", err)
	}
	if status != "" {
		m.publishStatus(c.ID, status, extra, true)
	}
	m.scheduleReset()
}

// publishStatus writes in the background. Failures come back as relay errors
// for the generation that issued the write.
func (m *Machine) publishStatus(callID string, status relay.Status, extra map[string]any, cleanup bool) {
	gen := m.gen
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, util.DefaultWriteTimeout)
		defer cancel()
		err := m.bridge.PublishStatus(ctx, callID, status, extra)
		if cleanup {
			m.bridge.ScheduleCleanup(callID, m.cleanupDelay)
		}
		if err != nil {
			m.post(func() { m.onRelayError(gen, err) })
		}
	}()
}

// abandon ends a record whose session was given up while the record was
// still being written.
func (m *Machine) abandon(callID string) {
	extra := map[string]any{"endedBy": m.self.UID}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, util.DefaultWriteTimeout)
		defer cancel()
		if err := m.bridge.PublishStatus(ctx, callID, relay.StatusEnded, extra); err != nil {
			log.Warnw("abandoned record not ended", "call_id", callID, "err", err)
		}
		m.bridge.ScheduleCleanup(callID, m.cleanupDelay)
	}()
}

func (m *Machine) scheduleReset() {
	m.clearReset()
	if m.resetAfter <= 0 {
		return
	}
	gen := m.gen
	m.resetTimer = m.clock.AfterFunc(m.resetAfter, func() {
		m.post(func() {
			if _, ok := m.state.(Terminal); ok && gen == m.gen {
				m.resetToIdle()
			}
		})
	})
}

func (m *Machine) clearReset() {
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
}

func (m *Machine) resetToIdle() {
	m.clearReset()
	if m.sess != nil {
		m.teardown()
	}
	m.setState(Idle{})
	m.flags = Flags{}
	m.minimized = false
}

func (m *Machine) startRing() {
	gen := m.gen
	m.sess.ring.after(m.ringTimeout, func() {
		m.post(func() { m.onRingExpired(gen) })
	})
	m.sess.ring.every(tickInterval, func() { m.post(func() {}) })
}

func (m *Machine) startDurationClock() {
	if m.sess == nil || m.sess.ticking {
		return
	}
	m.sess.ticking = true
	m.sess.timers.every(tickInterval, func() { m.post(func() {}) })
}

func (m *Machine) watchStatus() {
	gen, s := m.gen, m.sess
	s.subs = append(s.subs, m.bridge.SubscribeStatus(s.call.ID, func(u relay.StatusUpdate) {
		m.post(func() { m.onStatus(gen, u) })
	}))
}

func (m *Machine) watchSignals() {
	gen, s := m.gen, m.sess
	s.subs = append(s.subs, m.bridge.SubscribeSignals(s.call.ID, s.call.Local.UID, func(env signaling.Envelope) {
		m.post(func() {
			if gen == m.gen && m.sess != nil {
				m.sess.media.HandleSignalData(env)
			}
		})
	}))
}

func (m *Machine) acquireMedia() {
	gen, s := m.gen, m.sess
	video := s.call.Media == relay.MediaVideo
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, mediaTimeout)
		defer cancel()
		stream, err := s.media.InitializeMedia(ctx, video)
		m.post(func() { m.onLocalStream(gen, stream, err) })
	}()
}

func (m *Machine) createPeerConnection(initiator bool) bool {
	if m.sess.pcCreated {
		return true
	}
	if err := m.sess.media.CreatePeerConnection(initiator); err != nil {
		m.finish(StatusFailed, CauseConnection, err, relay.StatusEnded, nil)
		return false
	}
	m.sess.pcCreated = true
	return true
}

// applyFlags pushes the local flags to fresh media.
func (m *Machine) applyFlags() {
	on := !m.flags.OnHold
	m.sess.media.ToggleAudio(on && !m.flags.Muted)
	m.sess.media.ToggleVideo(on && !m.flags.CameraOff)
}

// ── Intents ──

func (m *Machine) startCall(req startRequest) (string, error) {
	if m.self.UID == "" {
		return "", ErrNoIdentity
	}
	if _, idle := m.state.(Idle); !idle {
		return "", ErrSessionActive
	}
	if req.ContactID == m.self.UID {
		return "", fmt.Errorf("%w: cannot call yourself", ErrInvalidContact)
	}
	callID := relay.CallID(m.self.UID, req.ContactID, m.clock.Now())
	ms := m.newMedia(callID)
	if !ms.IsSupported() {
		return "", ErrMediaUnsupported
	}
	call := Call{ID: callID, Direction: Outgoing, Media: req.Media, Local: m.self, Remote: req.Contact}
	m.openSession(call, ms, true)
	m.setState(Initiating{call})

	gen := m.gen
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, util.DefaultWriteTimeout)
		defer cancel()
		err := m.bridge.PublishCallCreated(ctx, callID, call.Local, call.Remote, call.Media)
		m.post(func() { m.onCreated(gen, callID, err) })
	}()
	return callID, nil
}

func (m *Machine) acceptCall() error {
	st, ok := m.state.(RingingInbound)
	if !ok {
		return &TransitionError{Intent: "accept", From: m.state.Status()}
	}
	if !m.sess.media.IsSupported() {
		return ErrMediaUnsupported
	}
	m.setState(Answering{st.Call})
	m.watchSignals()
	m.acquireMedia()
	return nil
}

func (m *Machine) declineCall() error {
	if _, ok := m.state.(RingingInbound); !ok {
		return &TransitionError{Intent: "decline", From: m.state.Status()}
	}
	m.finish(StatusDeclined, CauseLocal, nil, relay.StatusDeclined, nil)
	return nil
}

func (m *Machine) endCall() error {
	switch m.state.(type) {
	case Idle, Terminal:
		return nil
	case RingingInbound:
		return m.declineCall()
	case Initiating:
		// The record may not exist yet; onCreated finishes it off.
		m.finish(StatusEnded, CauseLocal, nil, "", nil)
	default:
		m.finish(StatusEnded, CauseLocal, nil, relay.StatusEnded, map[string]any{"endedBy": m.self.UID})
	}
	return nil
}

func (m *Machine) holdCall() error {
	st, ok := m.state.(Active)
	if !ok {
		return &TransitionError{Intent: "hold", From: m.state.Status()}
	}
	m.setState(OnHold{Call: st.Call, ConnectedAt: st.ConnectedAt, Elapsed: m.clock.Now().Sub(st.ConnectedAt)})
	m.flags.OnHold = true
	m.sess.media.ToggleAudio(false)
	m.sess.media.ToggleVideo(false)
	return nil
}

func (m *Machine) resumeCall() error {
	st, ok := m.state.(OnHold)
	if !ok {
		return &TransitionError{Intent: "resume", From: m.state.Status()}
	}
	m.setState(Active{Call: st.Call, ConnectedAt: st.ConnectedAt})
	m.flags.OnHold = false
	m.applyFlags()
	return nil
}

func (m *Machine) reconnectCall() error {
	switch m.state.(type) {
	case Connected, Active, OnHold:
	default:
		return &TransitionError{Intent: "reconnect", From: m.state.Status()}
	}
	call := *m.state.session()
	at, _ := connectedAt(m.state)
	el := elapsed(m.state, m.clock.Now())

	s := m.sess
	s.unsubscribe()
	s.media.EndCall()
	s.local, s.remote, s.pcCreated = nil, nil, false
	m.gen++
	s.gen.Store(m.gen)
	m.bindMedia()
	m.flags.OnHold = false

	m.setState(Reconnecting{Call: call, ConnectedAt: at, Elapsed: el})
	m.watchStatus()
	m.watchSignals()
	m.acquireMedia()
	return nil
}

// ── Relay and media events ──

func (m *Machine) onCreated(gen uint64, callID string, err error) {
	if gen != m.gen {
		if err == nil {
			m.abandon(callID)
		}
		return
	}
	st, ok := m.state.(Initiating)
	if !ok {
		return
	}
	if err != nil {
		m.finish(StatusFailed, CauseRelay, err, "", nil)
		return
	}
	m.setState(RingingOutbound{Call: st.Call, Deadline: m.clock.Now().Add(m.ringTimeout)})
	m.startRing()
	m.watchStatus()
	m.watchSignals()
	m.acquireMedia()
}

func (m *Machine) onLocalStream(gen uint64, stream *media.LocalStream, err error) {
	if gen != m.gen || m.sess == nil {
		return
	}
	if err != nil {
		if errors.Is(err, media.ErrEnded) {
			return
		}
		m.finish(StatusFailed, CauseMedia, err, relay.StatusEnded, nil)
		return
	}
	m.sess.local = stream
	m.applyFlags()

	switch st := m.state.(type) {
	case RingingOutbound, Connecting:
		m.createPeerConnection(true)
	case Answering:
		m.setState(Connecting{st.Call})
		if m.createPeerConnection(false) {
			m.publishStatus(st.ID, relay.StatusActive, nil, false)
		}
	case Reconnecting:
		m.createPeerConnection(m.sess.initiator)
	}
}

func (m *Machine) onStatus(gen uint64, u relay.StatusUpdate) {
	if gen != m.gen {
		return
	}
	if u.Deleted {
		switch m.state.(type) {
		case Idle, Terminal, Initiating:
		default:
			m.finish(StatusEnded, CauseRemote, nil, "", nil)
		}
		return
	}

	switch st := m.state.(type) {
	case RingingOutbound:
		switch u.Status {
		case relay.StatusActive:
			m.setState(Connecting{st.Call})
		case relay.StatusDeclined:
			m.finish(StatusDeclined, CauseRemote, nil, "", nil)
		case relay.StatusMissed:
			m.finish(StatusNoAnswer, CauseRemote, nil, "", nil)
		case relay.StatusBusy:
			m.finish(StatusBusy, CauseRemote, nil, "", nil)
		case relay.StatusEnded, relay.StatusNoAnswer:
			m.finish(StatusEnded, CauseRemote, nil, "", nil)
		}
	case RingingInbound:
		switch u.Status {
		case relay.StatusEnded, relay.StatusNoAnswer:
			m.finish(StatusEnded, CauseRemote, nil, "", nil)
		}
	case Answering, Connecting, Connected, Active, OnHold, Reconnecting:
		if u.Status.Terminal() {
			m.finish(StatusEnded, CauseRemote, nil, "", nil)
		}
	}
}

func (m *Machine) onConnected(gen uint64) {
	if gen != m.gen {
		return
	}
	now := m.clock.Now()
	switch st := m.state.(type) {
	case RingingOutbound, Answering, Connecting:
		m.setState(Connected{Call: *st.session(), ConnectedAt: now})
	case Reconnecting:
		m.setState(Connected{Call: st.Call, ConnectedAt: st.ConnectedAt})
	}
}

// onRemoteStream makes the call active even if the relay has not confirmed
// it yet. Local media is authoritative for what the user sees.
func (m *Machine) onRemoteStream(gen uint64, rs *media.RemoteStream) {
	if gen != m.gen || m.sess == nil {
		return
	}
	m.sess.remote = rs
	now := m.clock.Now()
	switch st := m.state.(type) {
	case RingingOutbound, Answering, Connecting:
		m.setState(Active{Call: *st.session(), ConnectedAt: now})
	case Connected:
		m.setState(Active{Call: st.Call, ConnectedAt: st.ConnectedAt})
	case Reconnecting:
		m.setState(Active{Call: st.Call, ConnectedAt: st.ConnectedAt})
	}
}

func (m *Machine) onMediaError(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	switch m.state.(type) {
	case Idle, Terminal:
		return
	}
	m.finish(StatusFailed, CauseConnection, err, relay.StatusEnded, nil)
}

func (m *Machine) onMediaClosed(gen uint64) {
	if gen != m.gen {
		return
	}
	switch m.state.(type) {
	case Idle, Terminal:
		return
	}
	m.finish(StatusEnded, CauseRemote, nil, relay.StatusEnded, map[string]any{"endedBy": m.self.UID})
}

// onRelayError keeps a call with healthy media going and fails anything
// that still depends on the relay to get there.
func (m *Machine) onRelayError(gen uint64, err error) {
	if gen != m.gen {
		log.Debugw("relay write failed after session moved on", "err", err)
		return
	}
	switch m.state.(type) {
	case Idle, Terminal:
		log.Debugw("relay write failed", "err", err)
	case Connected, Active, OnHold:
		log.Warnw("relay write failed, call continues", "call_id", m.state.session().ID, "err", err)
	default:
		m.finish(StatusFailed, CauseRelay, err, "", nil)
	}
}

func (m *Machine) onRingExpired(gen uint64) {
	if gen != m.gen {
		return
	}
	switch m.state.(type) {
	case RingingOutbound:
		m.finish(StatusNoAnswer, CauseTimeout, nil, relay.StatusNoAnswer, nil)
	case RingingInbound:
		m.finish(StatusDeclined, CauseMissed, nil, relay.StatusMissed, nil)
	}
}

func (m *Machine) onIncoming(selfID string, in relay.Incoming) {
	if selfID != m.self.UID || in.Caller.UID == m.self.UID {
		return
	}
	switch m.state.(type) {
	case Idle:
	case Terminal:
		m.resetToIdle()
	default:
		if c := m.state.session(); c != nil && c.ID == in.CallID {
			return
		}
		log.Infow("busy, turning away incoming call", "call_id", in.CallID, "from", in.Caller.UID)
		callID := in.CallID
		go func() {
			ctx, cancel := context.WithTimeout(m.ctx, util.DefaultWriteTimeout)
			defer cancel()
			if err := m.bridge.PublishStatus(ctx, callID, relay.StatusBusy, nil); err != nil {
				log.Warnw("busy status not published", "call_id", callID, "err", err)
				return
			}
			m.bridge.ScheduleCleanup(callID, m.cleanupDelay)
		}()
		return
	}

	call := Call{ID: in.CallID, Direction: Incoming, Media: in.Media, Local: m.self, Remote: in.Caller}
	m.openSession(call, m.newMedia(in.CallID), false)
	m.setState(RingingInbound{Call: call, Deadline: m.clock.Now().Add(m.ringTimeout)})
	m.startRing()
	m.watchStatus()
}
