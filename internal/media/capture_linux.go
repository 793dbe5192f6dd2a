//go:build linux

package media

import (
	"context"
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceCapturer captures the camera and microphone with VP8 and Opus
// encoders (V4L2 and malgo drivers).
type DeviceCapturer struct {
	selector  *mediadevices.CodecSelector
	maxWidth  int
	maxHeight int
}

// NewDeviceCapturer prepares the encoders. Devices are opened per Capture.
func NewDeviceCapturer(maxWidth, maxHeight int) (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	if maxWidth <= 0 {
		maxWidth = 640
	}
	if maxHeight <= 0 {
		maxHeight = 480
	}
	return &DeviceCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
	}, nil
}

func (c *DeviceCapturer) Populate(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

func (c *DeviceCapturer) Supported() bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			return true
		}
	}
	return false
}

// Capture opens the microphone and, when video is set, the camera. A video
// call whose camera cannot be opened falls back to audio only.
func (c *DeviceCapturer) Capture(ctx context.Context, video bool) (*LocalStream, error) {
	type attempt struct {
		video bool
		label string
	}
	attempts := []attempt{{false, "audio-only"}}
	if video {
		attempts = []attempt{{true, "video+audio"}, {false, "audio-only"}}
	}

	lastErr := ErrNoDevices
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, &AccessError{Video: video, Err: err}
		}
		constraints := mediadevices.MediaStreamConstraints{
			Codec: c.selector,
			Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras yield malformed frames that
				// poison the VP8 encoder; raw formats only.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: c.maxWidth}
				mc.Height = prop.IntRanged{Max: c.maxHeight}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnw("GetUserMedia failed", "attempt", a.label, "err", err)
			lastErr = err
			continue
		}

		var tracks []*LocalTrack
		for _, tr := range stream.GetTracks() {
			tr := tr
			tr.OnEnded(func(err error) {
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warnw("local track ended", "kind", tr.Kind().String(), "err", err)
				}
			})
			tracks = append(tracks, NewLocalTrack(tr, tr.Close))
		}
		log.Infow("local media captured", "attempt", a.label, "tracks", len(tracks))
		return NewLocalStream(video, tracks...), nil
	}
	return nil, &AccessError{Video: video, Err: lastErr}
}
