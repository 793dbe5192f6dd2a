package media

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLocalStream is returned when a transport is requested before media
	// was initialized.
	ErrNoLocalStream = errors.New("media: local stream not initialized")
	// ErrEnded is returned when an operation loses a race with EndCall.
	ErrEnded = errors.New("media: session ended")
	// ErrConnectionFailed is reported when the peer connection gives up.
	ErrConnectionFailed = errors.New("media: peer connection failed")
	// ErrNoDevices means capture is impossible on this host.
	ErrNoDevices = errors.New("media: no capture devices")
)

// AccessError is a device or permission failure during capture. It is never
// retried automatically.
type AccessError struct {
	Video bool
	Err   error
}

func (e *AccessError) Error() string {
	what := "microphone"
	if e.Video {
		what = "microphone and camera"
	}
	return fmt.Sprintf("media access (%s): %v", what, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }
