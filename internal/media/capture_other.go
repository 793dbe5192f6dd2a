//go:build !linux

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// DeviceCapturer has no device drivers on this platform; Supported is false
// and Capture always fails with an AccessError.
type DeviceCapturer struct{}

func NewDeviceCapturer(_, _ int) (*DeviceCapturer, error) { return &DeviceCapturer{}, nil }

func (c *DeviceCapturer) Populate(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }

func (c *DeviceCapturer) Supported() bool { return false }

func (c *DeviceCapturer) Capture(_ context.Context, video bool) (*LocalStream, error) {
	return nil, &AccessError{Video: video, Err: ErrNoDevices}
}
