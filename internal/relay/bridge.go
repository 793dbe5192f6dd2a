// Package relay is the only code that reads or writes call records on the
// shared document store. It publishes call creation, signals and status, and
// turns record snapshots into deduplicated callbacks.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/samber/lo"

	"github.com/petervdpas/goopcall/internal/docstore"
	"github.com/petervdpas/goopcall/internal/signaling"
)

var log = logging.Logger("relay")

// Unsubscribe stops a subscription, waiting for a callback in progress. Safe
// to call more than once, but not from the subscription's own callback.
type Unsubscribe func()

// Incoming describes a call addressed to this client.
type Incoming struct {
	CallID    string
	Caller    Party
	Recipient Party
	Media     Media
	CreatedAt time.Time
}

// StatusUpdate is a change of the record's status, or its deletion.
type StatusUpdate struct {
	Status  Status
	Record  Record
	Deleted bool
}

// Bridge owns all relay traffic for this client.
type Bridge struct {
	store      *docstore.Store
	clock      clock.Clock
	collection string
	staleAfter time.Duration

	mu       sync.Mutex
	cleanups map[string]*clock.Timer
}

type Option func(*Bridge)

func WithClock(c clock.Clock) Option { return func(b *Bridge) { b.clock = c } }

func WithCollection(name string) Option { return func(b *Bridge) { b.collection = name } }

func WithStaleAfter(d time.Duration) Option { return func(b *Bridge) { b.staleAfter = d } }

func NewBridge(store *docstore.Store, opts ...Option) *Bridge {
	b := &Bridge{
		store:      store,
		clock:      clock.New(),
		collection: Collection,
		staleAfter: StaleAfter,
		cleanups:   make(map[string]*clock.Timer),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bridge) now() int64 { return b.clock.Now().UnixMilli() }

// PublishCallCreated writes the initial record with status "calling".
func (b *Bridge) PublishCallCreated(ctx context.Context, callID string, caller, recipient Party, media Media) error {
	rec := Record{
		CallerID:      caller.UID,
		RecipientID:   recipient.UID,
		CallerInfo:    caller,
		RecipientInfo: recipient,
		Type:          media,
		Status:        StatusCalling,
		CreatedAt:     b.now(),
	}
	doc, err := docstore.Normalize(rec)
	if err != nil {
		return &WriteError{Op: "create", CallID: callID, Err: err}
	}
	if err := b.store.Set(ctx, b.collection, callID, doc); err != nil {
		return &WriteError{Op: "create", CallID: callID, Err: err}
	}
	log.Infow("call record created", "call_id", callID, "to", recipient.UID, "media", media)
	return nil
}

// PublishSignal merges env under the sender's key. The other party's key is
// never touched.
func (b *Bridge) PublishSignal(ctx context.Context, callID, senderID string, env signaling.Envelope) error {
	now := b.now()
	patch := docstore.Doc{
		"signalData":   map[string]any{senderID: env},
		"signalMeta":   map[string]any{senderID: now},
		"lastSignalAt": now,
	}
	if err := b.update(ctx, callID, patch); err != nil {
		return &WriteError{Op: "signal", CallID: callID, Err: err}
	}
	log.Debugw("signal published", "call_id", callID, "kind", env.Kind())
	return nil
}

// PublishStatus merges status and its timestamp field, plus any extra fields.
func (b *Bridge) PublishStatus(ctx context.Context, callID string, status Status, extra map[string]any) error {
	patch := docstore.Doc(lo.Assign(extra, map[string]any{"status": status}))
	if f := status.timestampField(); f != "" {
		patch[f] = b.now()
	}
	if err := b.update(ctx, callID, patch); err != nil {
		return &WriteError{Op: "status " + string(status), CallID: callID, Err: err}
	}
	log.Infow("status published", "call_id", callID, "status", status)
	return nil
}

// update merges into an existing record. A record that is already gone stays
// gone, even when its cleanup lands between our read and write.
func (b *Bridge) update(ctx context.Context, callID string, patch docstore.Doc) error {
	return b.store.MergeExisting(ctx, b.collection, callID, patch)
}

// Record reads the current record.
func (b *Bridge) Record(ctx context.Context, callID string) (Record, error) {
	d, err := b.store.Get(ctx, b.collection, callID)
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(d)
}

// ScheduleCleanup deletes the record after delay. A second schedule for the
// same call keeps the first deadline.
func (b *Bridge) ScheduleCleanup(callID string, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cleanups[callID]; ok {
		return
	}
	b.cleanups[callID] = b.clock.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.cleanups, callID)
		b.mu.Unlock()
		b.deleteRecord(callID)
	})
}

func (b *Bridge) deleteRecord(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Delete(ctx, b.collection, callID); err != nil {
		log.Warnw("cleanup failed", "call_id", callID, "err", err)
		return
	}
	log.Debugw("call record deleted", "call_id", callID)
}

// PendingCleanups lists calls with a scheduled deletion.
func (b *Bridge) PendingCleanups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := lo.Keys(b.cleanups)
	sort.Strings(ids)
	return ids
}

// Close runs pending cleanups right away.
func (b *Bridge) Close() {
	b.mu.Lock()
	pending := make([]string, 0, len(b.cleanups))
	for id, t := range b.cleanups {
		if t.Stop() {
			pending = append(pending, id)
		}
	}
	b.cleanups = make(map[string]*clock.Timer)
	b.mu.Unlock()
	for _, id := range pending {
		b.deleteRecord(id)
	}
}

type subscription struct {
	closed atomic.Bool
	once   sync.Once
	cancel func()
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

func (s *subscription) active() bool { return !s.closed.Load() }

// SubscribeIncomingCalls reports each new "calling" record addressed to
// selfID once. Records older than the staleness window are ignored.
func (b *Bridge) SubscribeIncomingCalls(selfID string, fn func(Incoming)) Unsubscribe {
	sub := &subscription{}
	var mu sync.Mutex
	seen := make(map[string]bool)
	filter := docstore.Filter{"recipientId": selfID, "status": string(StatusCalling)}

	sub.cancel = b.store.WatchQuery(b.collection, filter, func(changes []docstore.Change) {
		for _, ch := range changes {
			if ch.Type != docstore.Added || !sub.active() {
				continue
			}
			mu.Lock()
			dup := seen[ch.ID]
			seen[ch.ID] = true
			mu.Unlock()
			if dup {
				continue
			}
			rec, err := decodeRecord(ch.Doc)
			if err != nil {
				log.Warnw("ignoring malformed call record", "call_id", ch.ID, "err", err)
				continue
			}
			created := time.UnixMilli(rec.CreatedAt)
			if age := b.clock.Now().Sub(created); age > b.staleAfter {
				log.Debugw("ignoring stale call record", "call_id", ch.ID, "age", age)
				continue
			}
			fn(Incoming{
				CallID:    ch.ID,
				Caller:    rec.CallerInfo,
				Recipient: rec.RecipientInfo,
				Media:     rec.Type,
				CreatedAt: created,
			})
		}
	})
	return sub.unsubscribe
}

// SubscribeSignals delivers every distinct envelope written by a sender other
// than selfID, once per fingerprint. Malformed envelopes are dropped.
func (b *Bridge) SubscribeSignals(callID, selfID string, fn func(signaling.Envelope)) Unsubscribe {
	sub := &subscription{}
	seen := make(map[string]struct{})

	sub.cancel = b.store.WatchDoc(b.collection, callID, func(snap docstore.Snapshot) {
		if !snap.Exists {
			return
		}
		raw, ok := snap.Doc["signalData"].(map[string]any)
		if !ok {
			return
		}
		senders := lo.Keys(raw)
		sort.Strings(senders)
		for _, sender := range senders {
			if sender == selfID || !sub.active() {
				continue
			}
			payload, err := json.Marshal(raw[sender])
			if err != nil {
				continue
			}
			env, err := signaling.Decode(payload)
			if err != nil {
				key := signaling.Envelope{SDP: string(payload)}.Fingerprint(callID, sender)
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					log.Warnw("dropping malformed signal", "call_id", callID, "from", sender, "err", err)
				}
				continue
			}
			fp := env.Fingerprint(callID, sender)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			fn(env)
		}
	})
	return sub.unsubscribe
}

// SubscribeStatus delivers status changes of one record and, once, its
// deletion.
func (b *Bridge) SubscribeStatus(callID string, fn func(StatusUpdate)) Unsubscribe {
	sub := &subscription{}
	var last Status
	deleted := false

	sub.cancel = b.store.WatchDoc(b.collection, callID, func(snap docstore.Snapshot) {
		if !sub.active() || deleted {
			return
		}
		if !snap.Exists {
			deleted = true
			fn(StatusUpdate{Deleted: true})
			return
		}
		rec, err := decodeRecord(snap.Doc)
		if err != nil {
			log.Warnw("ignoring malformed call record", "call_id", callID, "err", err)
			return
		}
		if rec.Status == last {
			return
		}
		last = rec.Status
		fn(StatusUpdate{Status: rec.Status, Record: rec})
	})
	return sub.unsubscribe
}

// IsNotFound reports whether err means the record no longer exists.
func IsNotFound(err error) bool { return errors.Is(err, docstore.ErrNotFound) }
