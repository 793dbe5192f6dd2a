package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petervdpas/goopcall/internal/docstore"
)

const (
	// Collection holds one call record per call id.
	Collection = "calls"
	// CleanupDelay is how long a terminated record stays readable.
	CleanupDelay = 5 * time.Second
	// StaleAfter bounds how old a "calling" record may be and still ring.
	StaleAfter = 5 * time.Minute
)

// Media is the call type.
type Media string

const (
	MediaVoice Media = "voice"
	MediaVideo Media = "video"
)

func (m Media) Valid() bool { return m == MediaVoice || m == MediaVideo }

// Status is the relay-visible call status.
type Status string

const (
	StatusCalling  Status = "calling"
	StatusActive   Status = "active"
	StatusDeclined Status = "declined"
	StatusMissed   Status = "missed"
	StatusNoAnswer Status = "no-answer"
	StatusEnded    Status = "ended"
	StatusBusy     Status = "busy"
)

// Terminal reports whether no further status follows.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusMissed, StatusNoAnswer, StatusEnded, StatusBusy:
		return true
	}
	return false
}

// timestampField names the field stamped alongside a status write.
func (s Status) timestampField() string {
	switch s {
	case StatusActive:
		return "acceptedAt"
	case StatusDeclined:
		return "declinedAt"
	case StatusMissed:
		return "missedAt"
	case StatusCalling:
		return ""
	default:
		return "endedAt"
	}
}

// Party is one side's identity and display metadata.
type Party struct {
	UID    string `json:"uid" validate:"required"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
	Avatar string `json:"avatar,omitempty"`
}

// Record is the shared call document.
type Record struct {
	CallerID      string                     `json:"callerId"`
	RecipientID   string                     `json:"recipientId"`
	CallerInfo    Party                      `json:"callerInfo"`
	RecipientInfo Party                      `json:"recipientInfo"`
	Type          Media                      `json:"type"`
	Status        Status                     `json:"status"`
	CreatedAt     int64                      `json:"createdAt"`
	AcceptedAt    *int64                     `json:"acceptedAt,omitempty"`
	DeclinedAt    *int64                     `json:"declinedAt,omitempty"`
	EndedAt       *int64                     `json:"endedAt,omitempty"`
	MissedAt      *int64                     `json:"missedAt,omitempty"`
	EndedBy       string                     `json:"endedBy,omitempty"`
	SignalData    map[string]json.RawMessage `json:"signalData,omitempty"`
	SignalMeta    map[string]int64           `json:"signalMeta,omitempty"`
	LastSignalAt  *int64                     `json:"lastSignalAt,omitempty"`
}

// TerminatedAt is the newest terminal timestamp, or zero.
func (r Record) TerminatedAt() int64 {
	var at int64
	for _, p := range []*int64{r.DeclinedAt, r.EndedAt, r.MissedAt} {
		if p != nil && *p > at {
			at = *p
		}
	}
	return at
}

// LastTouchedAt is the newest of createdAt, acceptedAt and lastSignalAt.
func (r Record) LastTouchedAt() int64 {
	at := r.CreatedAt
	for _, p := range []*int64{r.AcceptedAt, r.LastSignalAt} {
		if p != nil && *p > at {
			at = *p
		}
	}
	return at
}

// CallID builds the id the caller assigns: {callerId}_{calleeId}_{unix ms}.
func CallID(callerID, calleeID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", callerID, calleeID, at.UnixMilli())
}

func decodeRecord(d docstore.Doc) (Record, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode call record: %w", err)
	}
	return r, nil
}
