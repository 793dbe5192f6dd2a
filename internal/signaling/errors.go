package signaling

import "fmt"

// NegotiationError reports a malformed or inapplicable envelope. The envelope
// is dropped; negotiation may still fail later on the transport.
type NegotiationError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *NegotiationError) Error() string {
	kind := string(e.Kind)
	if kind == "" {
		kind = "unknown"
	}
	if e.Err != nil {
		return fmt.Sprintf("negotiation %s: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("negotiation %s: %s", kind, e.Reason)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
