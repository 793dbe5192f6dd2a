package media

import "github.com/petervdpas/goopcall/internal/signaling"

// TransportEvents are the callbacks a transport raises. Any of them may be
// called from any goroutine.
type TransportEvents struct {
	Signal  func(signaling.Envelope)
	Connect func()
	Stream  func(*RemoteStream)
	Error   func(error)
	Close   func()
}

// Transport is one peer connection in the initiator or responder role.
// Signal applies an inbound envelope and returns a *signaling.NegotiationError
// when it cannot.
type Transport interface {
	Signal(env signaling.Envelope) error
	Close() error
}

// TransportFactory builds a transport sending the tracks of local.
type TransportFactory func(initiator bool, local *LocalStream, ev TransportEvents) (Transport, error)
