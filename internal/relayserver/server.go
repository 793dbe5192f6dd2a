// Package relayserver hosts a document store over a websocket so two clients
// on different machines can share one call relay.
package relayserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/docstore"
)

var log = logging.Logger("relayserver")

const (
	sendBuffer   = 128
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	opTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves a Store to websocket clients.
type Server struct {
	store *docstore.Store

	mu    sync.Mutex
	conns map[string]*conn
}

func New(store *docstore.Store) *Server {
	return &Server{store: store, conns: make(map[string]*conn)}
}

// Router returns the HTTP handler with /healthz and /ws.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.ServeWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.conns)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "clients": n})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll()
		_ = srv.Shutdown(shutCtx)
	}()
	log.Infow("relay listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan docstore.Message
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// push queues a message. A client too slow to drain its queue is dropped; it
// reconnects and re-reads state.
func (c *conn) push(m docstore.Message) {
	select {
	case c.send <- m:
	case <-c.done:
	default:
		log.Warnw("client too slow, dropping connection", "client", c.id)
		c.close()
	}
}

// ServeWS upgrades and runs one client connection.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "err", err)
		return
	}
	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan docstore.Message, sendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	unhook := s.store.OnChange(func(ref docstore.Ref) {
		c.push(docstore.Message{Type: docstore.MsgChange, Ref: &ref})
	})
	log.Infow("client connected", "client", c.id, "remote", r.RemoteAddr)

	defer func() {
		unhook()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		c.close()
		log.Infow("client disconnected", "client", c.id)
	}()

	go s.writeLoop(c)

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req docstore.Request
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugw("read failed", "client", c.id, "err", err)
			}
			return
		}
		c.push(s.apply(r.Context(), req))
	}
}

func (s *Server) writeLoop(c *conn) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(m); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// apply executes one request against the store.
func (s *Server) apply(parent context.Context, req docstore.Request) docstore.Message {
	ctx, cancel := context.WithTimeout(parent, opTimeout)
	defer cancel()

	out := docstore.Message{Type: docstore.MsgResult, ID: req.ID}
	if req.Collection == "" || (req.Op != docstore.OpList && req.DocID == "") {
		out.Error = "collection and doc_id are required"
		return out
	}

	var err error
	switch req.Op {
	case docstore.OpGet:
		out.Doc, err = s.store.Get(ctx, req.Collection, req.DocID)
		if errors.Is(err, docstore.ErrNotFound) {
			out.NotFound, err = true, nil
		}
	case docstore.OpSet:
		err = s.store.Set(ctx, req.Collection, req.DocID, req.Doc)
	case docstore.OpMerge:
		err = s.store.Merge(ctx, req.Collection, req.DocID, req.Doc)
	case docstore.OpMergeExisting:
		err = s.store.MergeExisting(ctx, req.Collection, req.DocID, req.Doc)
		if errors.Is(err, docstore.ErrNotFound) {
			out.NotFound, err = true, nil
		}
	case docstore.OpDelete:
		err = s.store.Delete(ctx, req.Collection, req.DocID)
	case docstore.OpList:
		out.Entries, err = s.store.List(ctx, req.Collection)
	default:
		err = errors.New("unknown op " + req.Op)
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
