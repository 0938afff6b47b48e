// Package update walks every followed title across all sources,
// re-fetches details in bounded chunks, and lets each driver push the
// fresh data into the local store — raising the new-chapter flag where
// the latest label advanced. Single-flight: one run at a time, later
// triggers are silently ignored.
package update

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"mangasync/internal/events"
	"mangasync/internal/source"
	"mangasync/internal/store"
	"mangasync/pkg/models"
)

// ChunkSize bounds one details request so large libraries cannot build
// requests the server times out on.
const ChunkSize = 20

type Engine struct {
	store *store.Store
	reg   *source.Registry
	hub   *events.Hub
	now   func() time.Time

	running  atomic.Bool
	lastRun  atomic.Int64 // unix ms of the last completed run
	progress atomic.Value // string, "<done> / <total>"
}

func NewEngine(st *store.Store, reg *source.Registry, hub *events.Hub) *Engine {
	e := &Engine{
		store: st,
		reg:   reg,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
	e.progress.Store("")
	return e
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Running reports whether a run is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// Progress returns the last published progress label.
func (e *Engine) Progress() string { return e.progress.Load().(string) }

// LastRun returns when the last run completed, zero if never.
func (e *Engine) LastRun() time.Time {
	ms := e.lastRun.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Run refreshes every followed title. Ongoing series go before ended
// ones so likely-new chapters surface first. Within one source the
// chunks run strictly sequentially; that keeps the per-source cache
// consistent when the driver writes it back to the store.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	// the guard must drop on every exit path, including failed chunks
	defer e.running.Store(false)

	cols, err := e.store.Collections.All(ctx)
	if err != nil {
		return err
	}

	var ongoing, ended []models.CollectionRecord
	for _, c := range cols {
		if c.IsEnd {
			ended = append(ended, c)
		} else {
			ongoing = append(ongoing, c)
		}
	}

	total := len(cols)
	done := 0
	e.publish(events.Event{Type: events.TypeUpdateStart, Message: e.label(done, total)})

	for _, group := range [][]models.CollectionRecord{ongoing, ended} {
		if err := e.runGroup(ctx, group, total, &done); err != nil {
			return err
		}
	}

	e.lastRun.Store(e.now().UnixMilli())
	e.publish(events.Event{Type: events.TypeUpdateDone, Message: e.label(done, total)})
	return nil
}

func (e *Engine) runGroup(ctx context.Context, group []models.CollectionRecord, total int, done *int) error {
	buckets := make(map[string][]string)
	var order []string
	for _, c := range group {
		if _, ok := buckets[c.Driver]; !ok {
			order = append(order, c.Driver)
		}
		buckets[c.Driver] = append(buckets[c.Driver], c.ID)
	}

	for _, driverID := range order {
		drv := e.reg.Get(driverID)
		for _, chunk := range chunks(buckets[driverID], ChunkSize) {
			// force-refresh: this is the one place staleness must be ignored
			if err := drv.Details(ctx, chunk, true, false); err != nil {
				return err
			}
			if err := drv.UpdateLocalRecords(ctx); err != nil {
				return err
			}
			*done += len(chunk)
			e.publish(events.Event{Type: events.TypeUpdateProgress, Driver: driverID, Message: e.label(*done, total)})
		}
	}
	return nil
}

func (e *Engine) label(done, total int) string {
	s := fmt.Sprintf("%d / %d", done, total)
	e.progress.Store(s)
	return s
}

func (e *Engine) publish(ev events.Event) {
	if e.hub == nil {
		return
	}
	ev.At = e.now()
	e.hub.Publish(ev)
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
