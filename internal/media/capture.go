package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Capturer acquires local audio and optionally video.
type Capturer interface {
	// Supported reports whether capture can work on this host. No side effects.
	Supported() bool
	Capture(ctx context.Context, video bool) (*LocalStream, error)
}

// CodecPopulator is implemented by capturers whose encoders dictate the codec
// set registered with the WebRTC API.
type CodecPopulator interface {
	Populate(me *webrtc.MediaEngine) error
}

// NewAPIFor builds the WebRTC API matching c's codecs.
func NewAPIFor(c Capturer, timeouts ICETimeouts) (*webrtc.API, error) {
	if p, ok := c.(CodecPopulator); ok {
		return NewAPI(p.Populate, timeouts)
	}
	return NewAPI(defaultCodecs, timeouts)
}

// SyntheticCapturer produces tracks that carry no samples. Headless peers and
// relay tests use it where no devices exist; negotiation and connectivity
// behave as with real devices.
type SyntheticCapturer struct{}

func (SyntheticCapturer) Supported() bool { return true }

func (SyntheticCapturer) Capture(ctx context.Context, video bool) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AccessError{Video: video, Err: err}
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "goopcall")
	if err != nil {
		return nil, &AccessError{Video: video, Err: err}
	}
	tracks := []*LocalTrack{NewLocalTrack(audio, nil)}
	if video {
		vt, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "goopcall")
		if err != nil {
			return nil, &AccessError{Video: video, Err: err}
		}
		tracks = append(tracks, NewLocalTrack(vt, nil))
	}
	return NewLocalStream(video, tracks...), nil
}
