package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("docstore")

const refreshTimeout = 5 * time.Second

// Store wraps a Backend with snapshot listeners. Every write made through the
// Store, and every remote change reported by a Notifier backend, refreshes the
// watches that cover the touched document.
type Store struct {
	backend Backend

	mu       sync.Mutex
	docs     map[Ref]map[*watch]struct{}
	queries  map[string]map[*watch]struct{}
	hooks    map[uint64]func(Ref)
	nextHook uint64
}

func New(b Backend) *Store {
	s := &Store{
		backend: b,
		docs:    make(map[Ref]map[*watch]struct{}),
		queries: make(map[string]map[*watch]struct{}),
		hooks:   make(map[uint64]func(Ref)),
	}
	if n, ok := b.(Notifier); ok {
		n.OnRemoteChange(s.changed)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) Get(ctx context.Context, collection, id string) (Doc, error) {
	return s.backend.Get(ctx, collection, id)
}

func (s *Store) List(ctx context.Context, collection string) ([]Entry, error) {
	return s.backend.List(ctx, collection)
}

func (s *Store) Set(ctx context.Context, collection, id string, doc Doc) error {
	norm, err := Normalize(doc)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, collection, id, norm); err != nil {
		return err
	}
	s.changed(Ref{collection, id})
	return nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, patch Doc) error {
	norm, err := Normalize(patch)
	if err != nil {
		return err
	}
	if err := s.backend.Merge(ctx, collection, id, norm); err != nil {
		return err
	}
	s.changed(Ref{collection, id})
	return nil
}

// MergeExisting merges patch into a document that must already exist. It
// returns ErrNotFound and writes nothing otherwise.
func (s *Store) MergeExisting(ctx context.Context, collection, id string, patch Doc) error {
	norm, err := Normalize(patch)
	if err != nil {
		return err
	}
	if err := s.backend.MergeExisting(ctx, collection, id, norm); err != nil {
		return err
	}
	s.changed(Ref{collection, id})
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.backend.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.changed(Ref{collection, id})
	return nil
}

// OnChange registers fn for every change the store observes.
func (s *Store) OnChange(fn func(Ref)) (cancel func()) {
	s.mu.Lock()
	s.nextHook++
	id := s.nextHook
	s.hooks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}
}

// Changed reports a change made outside this Store.
func (s *Store) Changed(ref Ref) { s.changed(ref) }

func (s *Store) changed(ref Ref) {
	s.mu.Lock()
	for w := range s.docs[ref] {
		w.push(ref.ID)
	}
	for w := range s.queries[ref.Collection] {
		w.push(ref.ID)
	}
	hooks := make([]func(Ref), 0, len(s.hooks))
	for _, fn := range s.hooks {
		hooks = append(hooks, fn)
	}
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ref)
	}
}

// WatchDoc delivers the current state of one document, then a new snapshot
// for every observed change. Snapshots arrive in order on a single goroutine.
// cancel waits for a callback in progress and no callback starts after it
// returns, so fn must not call cancel itself. cancel may be called repeatedly.
func (s *Store) WatchDoc(collection, id string, fn func(Snapshot)) (cancel func()) {
	ref := Ref{collection, id}
	w := newWatch()
	w.handle = func(docID string) {
		ctx, done := context.WithTimeout(context.Background(), refreshTimeout)
		doc, err := s.backend.Get(ctx, collection, docID)
		done()
		snap := Snapshot{ID: docID}
		switch {
		case err == nil:
			snap.Doc, snap.Exists = doc, true
		case errors.Is(err, ErrNotFound):
		default:
			log.Warnw("refresh failed", "ref", ref.String(), "err", err)
			return
		}
		w.deliver(func() { fn(snap) })
	}

	s.mu.Lock()
	set, ok := s.docs[ref]
	if !ok {
		set = make(map[*watch]struct{})
		s.docs[ref] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	w.push(id)
	go w.loop(nil)
	return w.cancelFunc(func() {
		s.mu.Lock()
		delete(s.docs[ref], w)
		if len(s.docs[ref]) == 0 {
			delete(s.docs, ref)
		}
		s.mu.Unlock()
	})
}

// WatchQuery delivers the documents of collection that match filter, first as
// a batch of Added changes, then as changes while documents enter, change
// within, or leave the result set. cancel behaves as for WatchDoc.
func (s *Store) WatchQuery(collection string, filter Filter, fn func([]Change)) (cancel func()) {
	filter = filter.Normalized()
	members := make(map[string]bool)
	w := newWatch()
	w.handle = func(docID string) {
		ctx, done := context.WithTimeout(context.Background(), refreshTimeout)
		doc, err := s.backend.Get(ctx, collection, docID)
		done()
		if err != nil && !errors.Is(err, ErrNotFound) {
			log.Warnw("query refresh failed", "collection", collection, "id", docID, "err", err)
			return
		}
		var ch *Change
		match := err == nil && filter.Match(doc)
		switch {
		case match && !members[docID]:
			members[docID] = true
			ch = &Change{Type: Added, ID: docID, Doc: doc}
		case match:
			ch = &Change{Type: Modified, ID: docID, Doc: doc}
		case members[docID]:
			delete(members, docID)
			ch = &Change{Type: Removed, ID: docID, Doc: doc}
		}
		if ch != nil {
			changes := []Change{*ch}
			w.deliver(func() { fn(changes) })
		}
	}
	initial := func() {
		ctx, done := context.WithTimeout(context.Background(), refreshTimeout)
		entries, err := s.backend.List(ctx, collection)
		done()
		if err != nil {
			log.Warnw("query list failed", "collection", collection, "err", err)
			return
		}
		var changes []Change
		for _, e := range entries {
			if filter.Match(e.Doc) {
				members[e.ID] = true
				changes = append(changes, Change{Type: Added, ID: e.ID, Doc: e.Doc})
			}
		}
		if len(changes) > 0 {
			w.deliver(func() { fn(changes) })
		}
	}

	s.mu.Lock()
	set, ok := s.queries[collection]
	if !ok {
		set = make(map[*watch]struct{})
		s.queries[collection] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	go w.loop(initial)
	return w.cancelFunc(func() {
		s.mu.Lock()
		delete(s.queries[collection], w)
		if len(s.queries[collection]) == 0 {
			delete(s.queries, collection)
		}
		s.mu.Unlock()
	})
}

// Close closes the backend. Open watches stop receiving changes; a callback
// already running is not waited for.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, set := range s.docs {
		for w := range set {
			w.stop()
		}
	}
	for _, set := range s.queries {
		for w := range set {
			w.stop()
		}
	}
	s.docs = make(map[Ref]map[*watch]struct{})
	s.queries = make(map[string]map[*watch]struct{})
	s.mu.Unlock()
	return s.backend.Close()
}

// watch serializes refreshes for one listener. Pending ids coalesce: the
// refresh reads the latest state, so one pass covers several writes.
type watch struct {
	handle func(id string)

	// deliverMu is held across each callback so cancel can wait it out.
	deliverMu sync.Mutex

	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	wake   chan struct{}

	qmu   sync.Mutex
	queue []string
}

func newWatch() *watch {
	return &watch{done: make(chan struct{}), wake: make(chan struct{}, 1)}
}

func (w *watch) push(id string) {
	w.qmu.Lock()
	for _, q := range w.queue {
		if q == id {
			w.qmu.Unlock()
			return
		}
	}
	w.queue = append(w.queue, id)
	w.qmu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watch) pop() (string, bool) {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	if len(w.queue) == 0 {
		return "", false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	return id, true
}

func (w *watch) loop(initial func()) {
	if initial != nil && !w.closed.Load() {
		initial()
	}
	for {
		for {
			if w.closed.Load() {
				return
			}
			id, ok := w.pop()
			if !ok {
				break
			}
			w.handle(id)
		}
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
	}
}

func (w *watch) deliver(fn func()) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if w.closed.Load() {
		return
	}
	fn()
}

func (w *watch) stop() {
	w.once.Do(func() {
		w.closed.Store(true)
		close(w.done)
	})
}

func (w *watch) cancelFunc(detach func()) func() {
	return func() {
		w.stop()
		// Wait out a callback in progress.
		w.deliverMu.Lock()
		w.deliverMu.Unlock()
		detach()
	}
}
