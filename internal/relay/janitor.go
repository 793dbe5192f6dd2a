package relay

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/petervdpas/goopcall/internal/docstore"
)

// DefaultSweepSchedule runs the janitor once a minute.
const DefaultSweepSchedule = "@every 1m"

// TerminalGrace is how long a terminated record may outlive its
// terminal timestamp before the janitor removes it.
const TerminalGrace = time.Minute

// AbandonAfter is the last-resort limit for a record whose clients both
// disappeared mid-call: no status or signal write for this long.
const AbandonAfter = 24 * time.Hour

// changePruner is implemented by backends with a change log.
type changePruner interface {
	PruneChanges(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Janitor removes call records nobody will clean up: "calling" records past
// the staleness window, terminated records whose scheduled cleanup never ran,
// records without a status and live records that went quiet long ago.
type Janitor struct {
	store      *docstore.Store
	clock      clock.Clock
	collection string
	staleAfter time.Duration
	schedule   string
	cron       *cron.Cron
}

func NewJanitor(store *docstore.Store, schedule string, opts ...Option) *Janitor {
	b := NewBridge(store, opts...)
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Janitor{
		store:      store,
		clock:      b.clock,
		collection: b.collection,
		staleAfter: b.staleAfter,
		schedule:   schedule,
	}
}

// Start schedules periodic sweeps.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := j.Sweep(ctx); err != nil {
			log.Warnw("sweep failed", "err", err)
		} else if n > 0 {
			log.Infow("swept call records", "count", n)
		}
	}); err != nil {
		return err
	}
	j.cron.Start()
	log.Infow("janitor started", "schedule", j.schedule)
	return nil
}

func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep deletes expired records and returns how many it removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := j.store.List(ctx, j.collection)
	if err != nil {
		return 0, err
	}
	now := j.clock.Now()
	expired := lo.Filter(entries, func(e docstore.Entry, _ int) bool {
		rec, err := decodeRecord(e.Doc)
		if err != nil {
			return true
		}
		switch {
		case rec.Status == "":
			return now.Sub(time.UnixMilli(rec.LastTouchedAt())) > j.staleAfter
		case rec.Status == StatusCalling:
			return now.Sub(time.UnixMilli(rec.CreatedAt)) > j.staleAfter
		case rec.Status.Terminal():
			at := rec.TerminatedAt()
			if at == 0 {
				at = rec.CreatedAt
			}
			return now.Sub(time.UnixMilli(at)) > TerminalGrace
		}
		return now.Sub(time.UnixMilli(rec.LastTouchedAt())) > AbandonAfter
	})

	removed := 0
	for _, e := range expired {
		if err := j.store.Delete(ctx, j.collection, e.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if p, ok := j.store.Backend().(changePruner); ok {
		if _, err := p.PruneChanges(ctx, j.staleAfter); err != nil {
			log.Debugw("change log prune failed", "err", err)
		}
	}
	return removed, nil
}
