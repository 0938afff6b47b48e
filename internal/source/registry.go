// Package source mediates all catalog reads through per-source drivers.
// A driver proxies one remote content source and keeps permanent
// in-process caches of its pagination, search results and item details.
package source

import (
	"sort"
	"sync"
	"time"

	"mangasync/internal/store"
	"mangasync/internal/transport"
)

// Registry lazily creates and memoizes one Driver per source
// identifier. Construction performs no I/O; drivers initialize
// themselves on first use.
type Registry struct {
	api   *transport.Client
	store *store.Store
	now   func() time.Time

	mu      sync.Mutex
	drivers map[string]*Driver
}

func NewRegistry(api *transport.Client, st *store.Store) *Registry {
	return &Registry{
		api:     api,
		store:   st,
		now:     func() time.Time { return time.Now().UTC() },
		drivers: make(map[string]*Driver),
	}
}

// SetClock overrides the registry clock for drivers created afterwards.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Get returns the driver for id, creating and memoizing it first if
// needed. Repeated lookups of the same id return the same instance.
func (r *Registry) Get(id string) *Driver {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drivers[id]; ok {
		return d
	}
	d := newDriver(id, r.api, r.store, r.now)
	r.drivers[id] = d
	return d
}

// Discover registers every identifier from a server response's
// Available-Drivers header. Wired as the transport's driver hook.
func (r *Registry) Discover(ids []string) {
	for _, id := range ids {
		r.Get(id)
	}
}

// Known lists the identifiers seen so far, sorted.
func (r *Registry) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
