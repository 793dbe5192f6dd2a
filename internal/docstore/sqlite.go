package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/petervdpas/goopcall/internal/storage"
)

// DefaultPollInterval is how often a SQLite backend checks the change log for
// writes from other processes.
const DefaultPollInterval = 250 * time.Millisecond

// SQLite is a Backend on a SQLite file. Several processes may open the same
// file; each polls the shared change log to notice the others' writes.
type SQLite struct {
	db       *storage.DB
	interval time.Duration

	mu       sync.Mutex
	notify   func(Ref)
	lastSeq  int64
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// OpenSQLite opens the database at path. A zero interval disables change
// polling.
func OpenSQLite(path string, interval time.Duration) (*SQLite, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	seq, err := db.LastSeq(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, interval: interval, lastSeq: seq, stop: make(chan struct{})}, nil
}

func (s *SQLite) Get(ctx context.Context, collection, id string) (Doc, error) {
	body, found, err := s.db.GetDoc(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	var d Doc
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLite) Set(ctx context.Context, collection, id string, doc Doc) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.PutDoc(ctx, collection, id, body)
}

func (s *SQLite) Merge(ctx context.Context, collection, id string, patch Doc) error {
	return s.merge(ctx, collection, id, patch, false)
}

func (s *SQLite) MergeExisting(ctx context.Context, collection, id string, patch Doc) error {
	return s.merge(ctx, collection, id, patch, true)
}

func (s *SQLite) merge(ctx context.Context, collection, id string, patch Doc, mustExist bool) error {
	return s.db.UpdateDoc(ctx, collection, id, func(cur []byte, found bool) ([]byte, error) {
		d := Doc{}
		switch {
		case found:
			if err := json.Unmarshal(cur, &d); err != nil {
				return nil, err
			}
		case mustExist:
			return nil, ErrNotFound
		}
		DeepMerge(d, patch)
		return json.Marshal(d)
	})
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	return s.db.DeleteDoc(ctx, collection, id)
}

func (s *SQLite) List(ctx context.Context, collection string) ([]Entry, error) {
	rows, err := s.db.ListDocs(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		var d Doc
		if err := json.Unmarshal(r.Body, &d); err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: r.ID, Doc: d})
	}
	return out, nil
}

// OnRemoteChange starts polling the change log.
func (s *SQLite) OnRemoteChange(fn func(Ref)) {
	s.mu.Lock()
	first := s.notify == nil
	s.notify = fn
	s.mu.Unlock()
	if first && s.interval > 0 {
		s.wg.Add(1)
		go s.pollLoop()
	}
}

func (s *SQLite) pollLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.poll()
		}
	}
}

func (s *SQLite) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval*4)
	defer cancel()
	changes, err := s.db.ChangesSince(ctx, s.lastSeq, 256)
	if err != nil {
		log.Debugw("change poll failed", "err", err)
		return
	}
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	for _, c := range changes {
		s.lastSeq = c.Seq
		if fn != nil {
			fn(Ref{Collection: c.Collection, ID: c.ID})
		}
	}
}

// PruneChanges trims the shared change log.
func (s *SQLite) PruneChanges(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.db.PruneChanges(ctx, time.Now().Add(-olderThan))
}

func (s *SQLite) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}
