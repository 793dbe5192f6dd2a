package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
)

var log = logging.Logger("viewer")

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Caller is the call machine as the HTTP layer drives it.
type Caller interface {
	Snapshot() call.Snapshot
	Subscribe() (<-chan call.Snapshot, func())

	StartCall(ctx context.Context, contactID string, contact relay.Party, md relay.Media) (string, error)
	AcceptCall() error
	DeclineCall() error
	EndCall() error
	HoldCall() error
	ResumeCall() error
	ReconnectCall() error
	Reset() error

	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	ToggleSpeaker() (bool, error)
	ToggleMinimize() (bool, error)

	MediaStats() (media.Stats, bool)
	IsMediaSupported() bool
}

type Deps struct {
	Call Caller // nil leaves only /api/call/mode
	Logs Logs
}

func Register(r chi.Router, d Deps) {
	registerOpenAPIRoute(r)
	registerAPILogRoutes(r, d)
	RegisterCall(r, d.Call)
}
