package routes

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petervdpas/goopcall/internal/relay"
)

const sseKeepAlive = 15 * time.Second

// RegisterCall registers the call API. c may be nil; then only
// GET /api/call/mode is registered and it reports "disabled", so the frontend
// always has a safe endpoint to query.
func RegisterCall(r chi.Router, c Caller) {
	r.Get("/api/call/mode", func(w http.ResponseWriter, _ *http.Request) {
		resp := callModeResponse{Mode: "disabled", Platform: runtime.GOOS}
		if c != nil {
			resp.Mode = "native"
			resp.MediaSupported = c.IsMediaSupported()
		}
		writeJSON(w, resp)
	})

	if c == nil {
		return
	}

	r.Get("/api/call/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, c.Snapshot())
	})

	// One "state" event per snapshot, starting with the current one.
	r.Get("/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		snaps, cancel := c.Subscribe()
		defer cancel()

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if err := writeSSE(w, "state", snap); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	r.Get("/api/call/debug", func(w http.ResponseWriter, _ *http.Request) {
		stats, live := c.MediaStats()
		resp := callDebugResponse{Snapshot: c.Snapshot(), Live: live}
		if live {
			resp.Media = &stats
		}
		writeJSON(w, resp)
	})

	r.Group(func(r chi.Router) {
		r.Use(localOnly)

		r.Post("/api/call/start", func(w http.ResponseWriter, r *http.Request) {
			var req startCallRequest
			if decodeJSON(w, r, &req) != nil {
				return
			}
			req.ContactID = strings.TrimSpace(req.ContactID)
			if req.ContactID == "" {
				http.Error(w, "missing contact_id", http.StatusBadRequest)
				return
			}
			if req.Media == "" {
				req.Media = relay.MediaVoice
			}
			id, err := c.StartCall(r.Context(), req.ContactID, req.Contact, req.Media)
			if err != nil {
				writeIntentError(w, "start", err)
				return
			}
			writeJSON(w, startCallResponse{CallID: id, Status: string(c.Snapshot().Status)})
		})

		intents := []struct {
			path string
			fn   func() error
		}{
			{"accept", c.AcceptCall},
			{"decline", c.DeclineCall},
			{"end", c.EndCall},
			{"hold", c.HoldCall},
			{"resume", c.ResumeCall},
			{"reconnect", c.ReconnectCall},
			{"reset", c.Reset},
		}
		for _, in := range intents {
			r.Post("/api/call/"+in.path, intentHandler(in.path, in.fn, c))
		}

		toggles := []struct {
			path string
			key  string
			fn   func() (bool, error)
		}{
			{"toggle-mute", "muted", c.ToggleMute},
			{"toggle-video", "camera_off", c.ToggleVideo},
			{"toggle-speaker", "speaker_on", c.ToggleSpeaker},
			{"toggle-minimize", "minimized", c.ToggleMinimize},
		}
		for _, tg := range toggles {
			r.Post("/api/call/"+tg.path, toggleHandler(tg.path, tg.key, tg.fn))
		}
	})
}

// intentHandler answers with the snapshot taken after the intent ran.
func intentHandler(name string, fn func() error, c Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			writeIntentError(w, name, err)
			return
		}
		writeJSON(w, c.Snapshot())
	}
}

func toggleHandler(name, key string, fn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v, err := fn()
		if err != nil {
			writeIntentError(w, name, err)
			return
		}
		writeJSON(w, map[string]bool{key: v})
	}
}
