// Package signaling defines the negotiation payloads two peers exchange
// through the relay before media can flow.
package signaling

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pion/sdp/v3"
	"golang.org/x/crypto/blake2b"
)

// Kind is the negotiation role of an envelope.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindUnknown   Kind = ""
)

// Candidate is a connectivity candidate in the browser JSON shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is one offer, answer or candidate. Offers and answers carry SDP;
// candidates carry Candidate.
type Envelope struct {
	Type      string     `json:"type,omitempty"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// Offer builds an offer envelope.
func Offer(sdp string) Envelope { return Envelope{Type: string(KindOffer), SDP: sdp} }

// Answer builds an answer envelope.
func Answer(sdp string) Envelope { return Envelope{Type: string(KindAnswer), SDP: sdp} }

// Kind reports the role, falling back to the candidate field when Type is
// missing.
func (e Envelope) Kind() Kind {
	switch Kind(e.Type) {
	case KindOffer, KindAnswer, KindCandidate:
		return Kind(e.Type)
	case KindUnknown:
		if e.Candidate != nil && e.SDP == "" {
			return KindCandidate
		}
	}
	return KindUnknown
}

// Validate checks that the envelope can be handed to a transport.
func (e Envelope) Validate() error {
	switch k := e.Kind(); k {
	case KindOffer, KindAnswer:
		if e.SDP == "" {
			return &NegotiationError{Kind: k, Reason: "empty sdp"}
		}
		var desc sdp.SessionDescription
		if err := desc.Unmarshal([]byte(e.SDP)); err != nil {
			return &NegotiationError{Kind: k, Reason: "unparseable sdp", Err: err}
		}
		return nil
	case KindCandidate:
		if e.Candidate == nil {
			return &NegotiationError{Kind: k, Reason: "missing candidate"}
		}
		return nil
	default:
		return &NegotiationError{Kind: k, Reason: fmt.Sprintf("unknown type %q", e.Type)}
	}
}

// Key is a content fingerprint of the serialized payload. Two envelopes with
// the same key are the same signal.
func (e Envelope) Key() string {
	b, _ := json.Marshal(e)
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Fingerprint scopes Key to one call and one sender.
func (e Envelope) Fingerprint(callID, senderID string) string {
	b, _ := json.Marshal(e)
	h, _ := blake2b.New256(nil)
	h.Write([]byte(callID))
	h.Write([]byte{0})
	h.Write([]byte(senderID))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Decode parses and validates a raw payload.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, &NegotiationError{Reason: "malformed payload", Err: err}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
