package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is a captured track. Disabling it detaches it from its sender so
// nothing is sent, without renegotiation.
type LocalTrack struct {
	track   webrtc.TrackLocal
	closeFn func() error

	mu      sync.Mutex
	sender  *webrtc.RTPSender
	enabled bool
	stopped bool
}

// NewLocalTrack wraps track. closeFn releases the device, may be nil.
func NewLocalTrack(track webrtc.TrackLocal, closeFn func() error) *LocalTrack {
	return &LocalTrack{track: track, closeFn: closeFn, enabled: true}
}

func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// SetEnabled switches the sender between the track and silence.
func (t *LocalTrack) SetEnabled(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled == on || t.stopped {
		t.enabled = on
		return nil
	}
	t.enabled = on
	if t.sender == nil {
		return nil
	}
	if on {
		return t.sender.ReplaceTrack(t.track)
	}
	return t.sender.ReplaceTrack(nil)
}

// attach records the sender carrying this track and applies the current
// enabled state to it.
func (t *LocalTrack) attach(sender *webrtc.RTPSender) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sender = sender
	if !t.enabled && sender != nil {
		return sender.ReplaceTrack(nil)
	}
	return nil
}

// Stop releases the device. Idempotent.
func (t *LocalTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.sender = nil
	fn := t.closeFn
	t.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			log.Debugw("closing track", "kind", t.track.Kind().String(), "err", err)
		}
	}
}

// LocalStream is the set of tracks captured for one call.
type LocalStream struct {
	video  bool
	tracks []*LocalTrack
}

// NewLocalStream groups tracks. video records whether a camera was requested.
func NewLocalStream(video bool, tracks ...*LocalTrack) *LocalStream {
	return &LocalStream{video: video, tracks: tracks}
}

func (s *LocalStream) VideoRequested() bool { return s.video }

func (s *LocalStream) Tracks() []*LocalTrack { return s.tracks }

func (s *LocalStream) byKind(k webrtc.RTPCodecType) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *LocalStream) AudioTracks() []*LocalTrack { return s.byKind(webrtc.RTPCodecTypeAudio) }

func (s *LocalStream) VideoTracks() []*LocalTrack { return s.byKind(webrtc.RTPCodecTypeVideo) }

func (s *LocalStream) setEnabled(k webrtc.RTPCodecType, on bool) error {
	var first error
	for _, t := range s.byKind(k) {
		if err := t.SetEnabled(on); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stop stops every track.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// RemoteStream is what the peer sends us.
type RemoteStream struct {
	ID string

	mu      sync.Mutex
	tracks  []*webrtc.TrackRemote
	kinds   []webrtc.RTPCodecType
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewRemoteStream(id string) *RemoteStream { return &RemoteStream{ID: id} }

func (s *RemoteStream) addTrack(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.kinds = append(s.kinds, t.Kind())
	s.mu.Unlock()
}

// Tracks returns the remote tracks received so far.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}

// HasVideo reports whether a remote video track arrived.
func (s *RemoteStream) HasVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.kinds {
		if k == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

func (s *RemoteStream) observe(p *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(p.Payload)))
}

// Packets is the number of RTP packets read from the peer.
func (s *RemoteStream) Packets() uint64 { return s.packets.Load() }

// PayloadBytes is the RTP payload volume read from the peer.
func (s *RemoteStream) PayloadBytes() uint64 { return s.bytes.Load() }

const (
	audioKind = webrtc.RTPCodecTypeAudio
	videoKind = webrtc.RTPCodecTypeVideo
)
