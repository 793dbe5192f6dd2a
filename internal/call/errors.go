package call

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive     = errors.New("call: a session is already active")
	ErrNoIdentity        = errors.New("call: no identity")
	ErrMediaUnsupported  = errors.New("call: media capture is not supported")
	ErrClosed            = errors.New("call: machine closed")
	ErrInvalidTransition = errors.New("call: invalid transition")
	// ErrInvalidContact covers callee ids that can never be called.
	ErrInvalidContact = errors.New("call: invalid contact")
)

// TransitionError is returned when an intent is not valid in the current
// state.
type TransitionError struct {
	Intent string
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("call: cannot %s while %s", e.Intent, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
