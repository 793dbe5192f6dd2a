package media

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is used when none are configured.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// ICETimeouts are handed to the setting engine. A brief NAT or relay hiccup
// must not end the call, so disconnection is tolerated for a while.
type ICETimeouts struct {
	Disconnected time.Duration
	Failed       time.Duration
	KeepAlive    time.Duration
}

var DefaultICETimeouts = ICETimeouts{
	Disconnected: 30 * time.Second,
	Failed:       120 * time.Second,
	KeepAlive:    2 * time.Second,
}

// NewAPI builds a WebRTC API whose codecs come from populate, with the default
// interceptors.
func NewAPI(populate func(*webrtc.MediaEngine) error, timeouts ICETimeouts) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := populate(mediaEngine); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(timeouts.Disconnected, timeouts.Failed, timeouts.KeepAlive)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

func defaultCodecs(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }
