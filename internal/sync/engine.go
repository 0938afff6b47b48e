// Package sync reconciles the local store against the remote account
// service: histories first (cursor-windowed, server owns the merge),
// then collections (remote index is the source of truth). At most one
// pass runs at a time; a second call while running is a silent no-op.
package sync

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"mangasync/internal/events"
	"mangasync/internal/source"
	"mangasync/internal/store"
	"mangasync/internal/transport"
	"mangasync/pkg/models"
)

type Engine struct {
	store *store.Store
	api   *transport.Client
	reg   *source.Registry
	hub   *events.Hub
	token func() string
	now   func() time.Time

	running atomic.Bool
	lastRun atomic.Int64 // unix ms of the last completed pass
}

func NewEngine(st *store.Store, api *transport.Client, reg *source.Registry, hub *events.Hub, token func() string) *Engine {
	return &Engine{
		store: st,
		api:   api,
		reg:   reg,
		hub:   hub,
		token: token,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// LastRun returns when the last pass completed, zero if never.
func (e *Engine) LastRun() time.Time {
	ms := e.lastRun.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Run executes one full sync pass. Without a credential the whole
// operation is skipped; while another pass runs it is a no-op. Both
// return nil: neither case is an error.
func (e *Engine) Run(ctx context.Context) error {
	if e.token() == "" {
		return nil
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	defer e.running.Store(false)

	e.publish(events.Event{Type: events.TypeSyncStart})

	if err := e.syncHistories(ctx); err != nil {
		return err
	}
	if err := e.syncCollections(ctx); err != nil {
		return err
	}

	e.lastRun.Store(e.now().UnixMilli())
	e.publish(events.Event{Type: events.TypeSyncDone})
	return nil
}

// syncHistories uploads every local row touched since the cursor and
// upserts the server's merged answer verbatim (the server owns the
// merge policy). The cursor advances only after the round trip
// succeeds, so a failed upload is retried on the next pass instead of
// silently dropping its window.
func (e *Engine) syncHistories(ctx context.Context) error {
	cursor, err := e.store.Settings.GetTime(ctx, store.KeyLastSync)
	if err != nil {
		return err
	}

	local, err := e.store.Histories.UpdatedSince(ctx, cursor)
	if err != nil {
		return err
	}
	if local == nil {
		local = []models.HistoryRecord{}
	}

	q := url.Values{}
	if !cursor.IsZero() {
		q.Set("date", strconv.FormatInt(cursor.UnixMilli(), 10))
	}

	var merged []models.HistoryRecord
	if err := e.api.Request(ctx, http.MethodPost, "user/histories", q, local, &merged); err != nil {
		return err
	}

	for _, rec := range merged {
		if err := e.store.Histories.Upsert(ctx, rec); err != nil {
			return err
		}
	}

	return e.store.Settings.SetTime(ctx, store.KeyLastSync, e.now())
}

// syncCollections makes the local follow-set match the remote index:
// rows absent remotely are deleted, pairs absent locally are added by
// fetching their details through the driver. Re-running against the
// same remote state converges, so a crash mid-way is safe.
func (e *Engine) syncCollections(ctx context.Context) error {
	var remote []models.ItemKey
	if err := e.api.Request(ctx, http.MethodGet, "user/collections", nil, nil, &remote); err != nil {
		return err
	}
	remoteSet := make(map[models.ItemKey]struct{}, len(remote))
	for _, k := range remote {
		remoteSet[k] = struct{}{}
	}

	local, err := e.store.Collections.Keys(ctx)
	if err != nil {
		return err
	}
	localSet := make(map[models.ItemKey]struct{}, len(local))
	for _, k := range local {
		if _, ok := remoteSet[k]; !ok {
			if _, err := e.store.Collections.Delete(ctx, k.Driver, k.ID); err != nil {
				return err
			}
			continue
		}
		localSet[k] = struct{}{}
	}

	// remote pairs we do not hold yet, bucketed per source
	missing := make(map[string][]string)
	for _, k := range remote {
		if _, ok := localSet[k]; !ok {
			missing[k.Driver] = append(missing[k.Driver], k.ID)
		}
	}

	for driverID, ids := range missing {
		drv := e.reg.Get(driverID)
		if err := drv.Details(ctx, ids, true, true); err != nil {
			return err
		}
		for _, id := range ids {
			if err := drv.AddToCollection(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) publish(ev events.Event) {
	if e.hub == nil {
		return
	}
	ev.At = e.now()
	e.hub.Publish(ev)
}
