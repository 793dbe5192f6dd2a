package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by a WS backend after its connection is gone.
var ErrClosed = errors.New("docstore: relay connection closed")

// WS is a Backend that forwards every operation to a relay server over a
// websocket and receives change pushes for all documents.
type WS struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	notify  func(Ref)

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialWS connects to a relay server's websocket endpoint.
func DialWS(ctx context.Context, url string, header http.Header) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	w := &WS{
		conn:    conn,
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

func (w *WS) readLoop() {
	for {
		var m Message
		if err := w.conn.ReadJSON(&m); err != nil {
			w.shutdown(err)
			return
		}
		switch m.Type {
		case MsgResult:
			w.mu.Lock()
			ch, ok := w.pending[m.ID]
			delete(w.pending, m.ID)
			w.mu.Unlock()
			if ok {
				ch <- m
			}
		case MsgChange:
			if m.Ref == nil {
				continue
			}
			w.mu.Lock()
			fn := w.notify
			w.mu.Unlock()
			if fn != nil {
				fn(*m.Ref)
			}
		default:
			log.Debugw("unknown relay message", "type", m.Type)
		}
	}
}

func (w *WS) shutdown(err error) {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.pending = make(map[string]chan Message)
		w.mu.Unlock()
		close(w.done)
		w.conn.Close()
		if err != nil {
			log.Infow("relay connection closed", "err", err)
		}
	})
}

// Done is closed when the connection is lost.
func (w *WS) Done() <-chan struct{} { return w.done }

func (w *WS) call(ctx context.Context, req Request) (Message, error) {
	req.ID = uuid.NewString()
	ch := make(chan Message, 1)

	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return Message{}, ErrClosed
	default:
	}
	w.pending[req.ID] = ch
	w.mu.Unlock()

	w.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
	} else {
		_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	err := w.conn.WriteJSON(req)
	w.writeMu.Unlock()
	if err != nil {
		w.forget(req.ID)
		return Message{}, fmt.Errorf("relay %s: %w", req.Op, err)
	}

	select {
	case m := <-ch:
		if m.Error != "" {
			return m, fmt.Errorf("relay %s: %s", req.Op, m.Error)
		}
		return m, nil
	case <-ctx.Done():
		w.forget(req.ID)
		return Message{}, ctx.Err()
	case <-w.done:
		return Message{}, ErrClosed
	}
}

func (w *WS) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *WS) Get(ctx context.Context, collection, id string) (Doc, error) {
	m, err := w.call(ctx, Request{Op: OpGet, Collection: collection, DocID: id})
	if err != nil {
		return nil, err
	}
	if m.NotFound {
		return nil, ErrNotFound
	}
	if m.Doc == nil {
		return Doc{}, nil
	}
	return m.Doc, nil
}

func (w *WS) Set(ctx context.Context, collection, id string, doc Doc) error {
	_, err := w.call(ctx, Request{Op: OpSet, Collection: collection, DocID: id, Doc: doc})
	return err
}

func (w *WS) Merge(ctx context.Context, collection, id string, patch Doc) error {
	_, err := w.call(ctx, Request{Op: OpMerge, Collection: collection, DocID: id, Doc: patch})
	return err
}

func (w *WS) MergeExisting(ctx context.Context, collection, id string, patch Doc) error {
	m, err := w.call(ctx, Request{Op: OpMergeExisting, Collection: collection, DocID: id, Doc: patch})
	if err != nil {
		return err
	}
	if m.NotFound {
		return ErrNotFound
	}
	return nil
}

func (w *WS) Delete(ctx context.Context, collection, id string) error {
	_, err := w.call(ctx, Request{Op: OpDelete, Collection: collection, DocID: id})
	return err
}

func (w *WS) List(ctx context.Context, collection string) ([]Entry, error) {
	m, err := w.call(ctx, Request{Op: OpList, Collection: collection})
	if err != nil {
		return nil, err
	}
	return m.Entries, nil
}

func (w *WS) OnRemoteChange(fn func(Ref)) {
	w.mu.Lock()
	w.notify = fn
	w.mu.Unlock()
}

func (w *WS) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	w.shutdown(nil)
	return nil
}
