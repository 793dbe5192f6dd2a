package relay

import "fmt"

// WriteError is a failed write against the relay. Whether it ends the call
// depends on whether media is already flowing; the bridge only reports it.
type WriteError struct {
	Op     string
	CallID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("relay %s %s: %v", e.Op, e.CallID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
