package call

import (
	"time"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
)

// Snapshot is the session as the UI sees it.
type Snapshot struct {
	Status          Status       `json:"status"`
	StatusText      string       `json:"status_text"`
	CallID          string       `json:"call_id,omitempty"`
	Direction       Direction    `json:"direction,omitempty"`
	Media           relay.Media  `json:"media,omitempty"`
	LocalParty      *relay.Party `json:"local_party,omitempty"`
	RemoteParty     *relay.Party `json:"remote_party,omitempty"`
	Incoming        bool         `json:"incoming"`
	RingDeadline    *time.Time   `json:"ring_deadline,omitempty"`
	RingRemaining   int          `json:"ring_remaining"`
	ConnectedAt     *time.Time   `json:"connected_at,omitempty"`
	Duration        int          `json:"duration"`
	Flags           Flags        `json:"flags"`
	Minimized       bool         `json:"minimized"`
	MediaSupported  bool         `json:"media_supported"`
	IdentityPresent bool         `json:"identity_present"`
	Cause           Cause        `json:"cause,omitempty"`
	Error           string       `json:"error,omitempty"`

	LocalStream  *media.LocalStream  `json:"-"`
	RemoteStream *media.RemoteStream `json:"-"`
}

// view is what the loop hands over after each event. Time-derived fields are
// computed when a snapshot is taken.
type view struct {
	state     State
	flags     Flags
	minimized bool
	identity  bool
	local     *media.LocalStream
	remote    *media.RemoteStream
}

func (m *Machine) publish() {
	v := view{
		state:     m.state,
		flags:     m.flags,
		minimized: m.minimized,
		identity:  m.self.UID != "",
	}
	if m.sess != nil {
		v.local, v.remote = m.sess.local, m.sess.remote
	}
	m.viewMu.Lock()
	m.view = v
	m.viewMu.Unlock()

	snap := m.snapshotOf(v, m.clock.Now())
	m.subMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	m.subMu.Unlock()
}

// Snapshot returns the current session.
func (m *Machine) Snapshot() Snapshot {
	m.viewMu.RLock()
	v := m.view
	m.viewMu.RUnlock()
	return m.snapshotOf(v, m.clock.Now())
}

// Subscribe delivers a snapshot after every event and once a second while a
// clock is running. Slow readers miss snapshots rather than block the
// machine.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	ch <- m.Snapshot()

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
		m.subMu.Unlock()
	}
}

func (m *Machine) snapshotOf(v view, now time.Time) Snapshot {
	st := v.state
	s := Snapshot{
		Status:          st.Status(),
		StatusText:      StatusText(st),
		Flags:           v.flags,
		Minimized:       v.minimized,
		MediaSupported:  m.supported,
		IdentityPresent: v.identity,
		LocalStream:     v.local,
		RemoteStream:    v.remote,
	}
	if c := st.session(); c != nil {
		local, remote := c.Local, c.Remote
		s.CallID = c.ID
		s.Direction = c.Direction
		s.Media = c.Media
		s.LocalParty = &local
		s.RemoteParty = &remote
	}
	if _, ok := st.(RingingInbound); ok {
		s.Incoming = true
	}
	if d, ok := ringDeadline(st); ok {
		s.RingDeadline = &d
		s.RingRemaining = remainingSeconds(d, now)
	}
	if at, ok := connectedAt(st); ok {
		s.ConnectedAt = &at
	}
	s.Duration = int(elapsed(st, now) / time.Second)
	if t, ok := st.(Terminal); ok {
		s.Cause = t.Cause
		if t.Err != nil {
			s.Error = t.Err.Error()
		}
	}
	return s
}

// remainingSeconds rounds up so the countdown shows 30 right after the ring
// starts and 1 during the final second.
func remainingSeconds(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}
