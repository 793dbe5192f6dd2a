package media

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopcall/internal/signaling"
)

const pliInterval = 3 * time.Second

// NewPionFactory returns a TransportFactory that builds pion peer
// connections. Candidates are gathered before the offer or answer is emitted,
// so each side writes exactly one description to the relay.
func NewPionFactory(api *webrtc.API, iceServers func() []webrtc.ICEServer) TransportFactory {
	return func(initiator bool, local *LocalStream, ev TransportEvents) (Transport, error) {
		servers := DefaultICEServers
		if iceServers != nil {
			if s := iceServers(); len(s) > 0 {
				servers = s
			}
		}
		return newPionTransport(api, servers, initiator, local, ev)
	}
}

type pionTransport struct {
	pc        *webrtc.PeerConnection
	ev        TransportEvents
	initiator bool

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	remote     *RemoteStream

	connected atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
}

func newPionTransport(api *webrtc.API, servers []webrtc.ICEServer, initiator bool, local *LocalStream, ev TransportEvents) (*pionTransport, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}
	t := &pionTransport{pc: pc, ev: ev, initiator: initiator, done: make(chan struct{})}

	for _, lt := range local.Tracks() {
		sender, err := pc.AddTrack(lt.Track())
		if err != nil {
			log.Warnw("AddTrack failed", "kind", lt.Kind().String(), "err", err)
			continue
		}
		if err := lt.attach(sender); err != nil {
			log.Warnw("applying track state", "err", err)
		}
		go t.drainRTCP(sender)
	}
	// Keep m-lines for kinds we do not send so the peer can still send them.
	if len(local.AudioTracks()) == 0 {
		t.addRecvOnly(webrtc.RTPCodecTypeAudio)
	}
	if local.VideoRequested() && len(local.VideoTracks()) == 0 {
		t.addRecvOnly(webrtc.RTPCodecTypeVideo)
	}

	pc.OnConnectionStateChange(t.onState)
	pc.OnTrack(t.onTrack)

	if initiator {
		go t.offer()
	}
	return t, nil
}

func (t *pionTransport) addRecvOnly(kind webrtc.RTPCodecType) {
	if _, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Warnw("AddTransceiver failed", "kind", kind.String(), "err", err)
	}
}

// drainRTCP reads sender RTCP so interceptors see receiver reports.
func (t *pionTransport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *pionTransport) onState(s webrtc.PeerConnectionState) {
	log.Debugw("peer connection state", "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if t.connected.CompareAndSwap(false, true) && t.ev.Connect != nil {
			t.ev.Connect()
		}
	case webrtc.PeerConnectionStateFailed:
		if !t.closed.Load() && t.ev.Error != nil {
			t.ev.Error(ErrConnectionFailed)
		}
	case webrtc.PeerConnectionStateClosed:
		if !t.closed.Load() && t.ev.Close != nil {
			t.ev.Close()
		}
	}
}

func (t *pionTransport) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	t.mu.Lock()
	first := t.remote == nil
	if first {
		t.remote = NewRemoteStream(track.StreamID())
	}
	remote := t.remote
	t.mu.Unlock()

	remote.addTrack(track)
	log.Infow("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType, "ssrc", uint32(track.SSRC()))

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go t.requestKeyframes(track)
	}
	go t.readRTP(track, remote)

	if first && t.ev.Stream != nil {
		t.ev.Stream(remote)
	}
}

func (t *pionTransport) readRTP(track *webrtc.TrackRemote, remote *RemoteStream) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		remote.observe(pkt)
	}
}

// requestKeyframes sends periodic PLIs so a decoder joining late recovers.
func (t *pionTransport) requestKeyframes(track *webrtc.TrackRemote) {
	tk := time.NewTicker(pliInterval)
	defer tk.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-tk.C:
			err := t.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
			if err != nil {
				return
			}
		}
	}
}

func (t *pionTransport) offer() {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		t.fail(err)
		return
	}
	t.publishLocal(offer, signaling.Offer)
}

func (t *pionTransport) answer() {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		t.fail(err)
		return
	}
	t.publishLocal(answer, signaling.Answer)
}

// publishLocal sets the description and emits it once gathering is done.
func (t *pionTransport) publishLocal(desc webrtc.SessionDescription, wrap func(string) signaling.Envelope) {
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(desc); err != nil {
		t.fail(err)
		return
	}
	select {
	case <-gathered:
	case <-t.done:
		return
	}
	ld := t.pc.LocalDescription()
	if ld == nil || t.closed.Load() {
		return
	}
	if t.ev.Signal != nil {
		t.ev.Signal(wrap(ld.SDP))
	}
}

func (t *pionTransport) fail(err error) {
	if t.closed.Load() {
		return
	}
	log.Warnw("negotiation failed", "err", err)
	if t.ev.Error != nil {
		t.ev.Error(err)
	}
}

func (t *pionTransport) Signal(env signaling.Envelope) error {
	if t.closed.Load() {
		return ErrEnded
	}
	switch kind := env.Kind(); kind {
	case signaling.KindOffer:
		if t.initiator {
			return &signaling.NegotiationError{Kind: kind, Reason: "initiator does not accept offers"}
		}
		if err := t.setRemote(webrtc.SDPTypeOffer, env.SDP); err != nil {
			return &signaling.NegotiationError{Kind: kind, Reason: "apply offer", Err: err}
		}
		go t.answer()
		return nil
	case signaling.KindAnswer:
		if t.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			return &signaling.NegotiationError{Kind: kind, Reason: "no offer pending"}
		}
		if err := t.setRemote(webrtc.SDPTypeAnswer, env.SDP); err != nil {
			return &signaling.NegotiationError{Kind: kind, Reason: "apply answer", Err: err}
		}
		return nil
	case signaling.KindCandidate:
		c := env.Candidate
		if c == nil {
			return &signaling.NegotiationError{Kind: kind, Reason: "missing candidate"}
		}
		init := webrtc.ICECandidateInit{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		}
		t.mu.Lock()
		if t.pc.RemoteDescription() == nil {
			t.candidates = append(t.candidates, init)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		if err := t.pc.AddICECandidate(init); err != nil {
			return &signaling.NegotiationError{Kind: kind, Reason: "add candidate", Err: err}
		}
		return nil
	default:
		return &signaling.NegotiationError{Kind: kind, Reason: "unsupported envelope"}
	}
}

// setRemote applies a remote description and flushes candidates that arrived
// before it.
func (t *pionTransport) setRemote(typ webrtc.SDPType, sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	pending := t.candidates
	t.candidates = nil
	var errs []error
	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		log.Debugw("queued candidates rejected", "count", len(errs), "err", errors.Join(errs...))
	}
	return nil
}

func (t *pionTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)
	return t.pc.Close()
}
