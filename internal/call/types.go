package call

import (
	"time"

	"github.com/petervdpas/goopcall/internal/relay"
)

// Status is the status reported to the UI.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusInitiating      Status = "initiating"
	StatusRingingOutbound Status = "ringing-outbound"
	StatusRingingInbound  Status = "ringing-inbound"
	StatusAnswering       Status = "answering"
	StatusConnecting      Status = "connecting"
	StatusConnected       Status = "connected"
	StatusActive          Status = "active"
	StatusOnHold          Status = "on-hold"
	StatusReconnecting    Status = "reconnecting"
	StatusEnded           Status = "ended"
	StatusFailed          Status = "failed"
	StatusBusy            Status = "busy"
	StatusNoAnswer        Status = "no-answer"
	StatusDeclined        Status = "declined"
)

// Terminal reports whether s only leaves through Reset.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusFailed, StatusBusy, StatusNoAnswer, StatusDeclined:
		return true
	}
	return false
}

// InCall reports whether duration accumulates in s.
func (s Status) InCall() bool { return s == StatusConnected || s == StatusActive }

var transitions = map[Status][]Status{
	StatusIdle:            {StatusInitiating, StatusRingingInbound},
	StatusInitiating:      {StatusRingingOutbound, StatusEnded, StatusFailed},
	StatusRingingOutbound: {StatusConnecting, StatusConnected, StatusActive, StatusNoAnswer, StatusDeclined, StatusBusy, StatusEnded, StatusFailed},
	StatusRingingInbound:  {StatusAnswering, StatusDeclined, StatusEnded, StatusFailed},
	StatusAnswering:       {StatusConnecting, StatusConnected, StatusActive, StatusEnded, StatusFailed},
	StatusConnecting:      {StatusConnected, StatusActive, StatusEnded, StatusFailed},
	StatusConnected:       {StatusActive, StatusReconnecting, StatusEnded, StatusFailed},
	StatusActive:          {StatusOnHold, StatusReconnecting, StatusEnded, StatusFailed},
	StatusOnHold:          {StatusActive, StatusReconnecting, StatusEnded, StatusFailed},
	StatusReconnecting:    {StatusConnected, StatusActive, StatusEnded, StatusFailed},
	StatusEnded:           {StatusIdle},
	StatusFailed:          {StatusIdle},
	StatusBusy:            {StatusIdle},
	StatusNoAnswer:        {StatusIdle},
	StatusDeclined:        {StatusIdle},
}

// CanTransitionTo reports whether the machine may move from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Direction of a call relative to this client.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Cause qualifies a terminal state.
type Cause string

const (
	CauseLocal      Cause = "local"
	CauseRemote     Cause = "remote"
	CauseMissed     Cause = "missed"
	CauseTimeout    Cause = "timeout"
	CauseMedia      Cause = "media"
	CauseConnection Cause = "connection"
	CauseRelay      Cause = "relay"
	CauseClosed     Cause = "closed"
)

// Flags are toggled locally and never leave this client.
type Flags struct {
	Muted     bool `json:"muted"`
	CameraOff bool `json:"camera_off"`
	SpeakerOn bool `json:"speaker_on"`
	OnHold    bool `json:"on_hold"`
}

// Call holds what stays fixed for a session's lifetime.
type Call struct {
	ID        string
	Direction Direction
	Media     relay.Media
	Local     relay.Party
	Remote    relay.Party
}

// State is one of the concrete state types below. Each carries only the
// fields that are meaningful in it.
type State interface {
	Status() Status
	session() *Call
}

type Idle struct{}

type Initiating struct{ Call }

type RingingOutbound struct {
	Call
	Deadline time.Time
}

type RingingInbound struct {
	Call
	Deadline time.Time
}

type Answering struct{ Call }

type Connecting struct{ Call }

type Connected struct {
	Call
	ConnectedAt time.Time
}

type Active struct {
	Call
	ConnectedAt time.Time
}

type OnHold struct {
	Call
	ConnectedAt time.Time
	Elapsed     time.Duration
}

type Reconnecting struct {
	Call
	ConnectedAt time.Time
	Elapsed     time.Duration
}

type Terminal struct {
	Call
	Kind        Status
	Cause       Cause
	ConnectedAt *time.Time
	Elapsed     time.Duration
	Err         error
}

func (Idle) Status() Status            { return StatusIdle }
func (Initiating) Status() Status      { return StatusInitiating }
func (RingingOutbound) Status() Status { return StatusRingingOutbound }
func (RingingInbound) Status() Status  { return StatusRingingInbound }
func (Answering) Status() Status       { return StatusAnswering }
func (Connecting) Status() Status      { return StatusConnecting }
func (Connected) Status() Status       { return StatusConnected }
func (Active) Status() Status          { return StatusActive }
func (OnHold) Status() Status          { return StatusOnHold }
func (Reconnecting) Status() Status    { return StatusReconnecting }
func (t Terminal) Status() Status      { return t.Kind }

func (Idle) session() *Call              { return nil }
func (s Initiating) session() *Call      { return &s.Call }
func (s RingingOutbound) session() *Call { return &s.Call }
func (s RingingInbound) session() *Call  { return &s.Call }
func (s Answering) session() *Call       { return &s.Call }
func (s Connecting) session() *Call      { return &s.Call }
func (s Connected) session() *Call       { return &s.Call }
func (s Active) session() *Call          { return &s.Call }
func (s OnHold) session() *Call          { return &s.Call }
func (s Reconnecting) session() *Call    { return &s.Call }
func (s Terminal) session() *Call        { return &s.Call }

// connectedAt returns when media first became active in st, if it has.
func connectedAt(st State) (time.Time, bool) {
	switch s := st.(type) {
	case Connected:
		return s.ConnectedAt, true
	case Active:
		return s.ConnectedAt, true
	case OnHold:
		return s.ConnectedAt, true
	case Reconnecting:
		return s.ConnectedAt, true
	case Terminal:
		if s.ConnectedAt != nil {
			return *s.ConnectedAt, true
		}
	}
	return time.Time{}, false
}

// elapsed is the call duration in st at now. It only grows while connected
// or active and is frozen everywhere else.
func elapsed(st State, now time.Time) time.Duration {
	switch s := st.(type) {
	case Connected:
		return now.Sub(s.ConnectedAt)
	case Active:
		return now.Sub(s.ConnectedAt)
	case OnHold:
		return s.Elapsed
	case Reconnecting:
		return s.Elapsed
	case Terminal:
		return s.Elapsed
	}
	return 0
}

// ringDeadline is present only while ringing.
func ringDeadline(st State) (time.Time, bool) {
	switch s := st.(type) {
	case RingingOutbound:
		return s.Deadline, true
	case RingingInbound:
		return s.Deadline, true
	}
	return time.Time{}, false
}

// StatusText is the human-readable line the UI shows for st.
func StatusText(st State) string {
	if t, ok := st.(Terminal); ok {
		switch t.Kind {
		case StatusEnded:
			return "Call ended"
		case StatusFailed:
			if t.Cause == CauseMedia {
				return "Call failed: camera or microphone unavailable"
			}
			return "Call failed: connection error"
		case StatusBusy:
			return "User is busy"
		case StatusNoAnswer:
			return "No answer"
		case StatusDeclined:
			if t.Cause == CauseMissed {
				return "Missed call"
			}
			return "Call declined"
		}
	}
	switch st.Status() {
	case StatusInitiating:
		return "Calling..."
	case StatusRingingOutbound:
		return "Ringing..."
	case StatusRingingInbound:
		return "Incoming call"
	case StatusAnswering:
		return "Answering..."
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusActive:
		return "In call"
	case StatusOnHold:
		return "On hold"
	case StatusReconnecting:
		return "Reconnecting..."
	}
	return ""
}
