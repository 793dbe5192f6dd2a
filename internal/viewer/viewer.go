// Package viewer serves the local HTTP surface of a client: call control,
// live call state and logs.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/viewer/routes"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Call routes.Caller
	Logs *LogBuffer

	// Debug mounts the pprof handlers under /debug.
	Debug bool
}

// Handler builds the router. No RealIP: call control is loopback-only and
// checks the connection's own address.
func (v Viewer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	deps := routes.Deps{Call: v.Call}
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(r, deps)

	if v.Debug {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start serves on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, v Viewer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return v.Serve(ctx, ln)
}

func (v Viewer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: v.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// SSE streams never finish on their own.
		if err := srv.Shutdown(shutCtx); err != nil {
			_ = srv.Close()
		}
	}()
	log.Infow("viewer listening", "url", "http://"+ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
