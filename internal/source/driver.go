package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"mangasync/internal/store"
	"mangasync/internal/transport"
	"mangasync/pkg/models"
)

// Driver proxies one content source. All caches live for the process
// lifetime; there is no TTL or eviction, except that a detail entry is
// evicted when its episode list may have grown.
type Driver struct {
	ID string

	api   *transport.Client
	store *store.Store
	now   func() time.Time

	mu          sync.Mutex
	initialized bool
	suggestible bool
	categories  []string
	list        map[string]map[int][]string // category -> page -> ordered ids
	search      map[string]map[int][]string // keyword -> page -> ordered ids
	simple      map[string]models.SimpleItem
	full        map[string]models.FullItem
}

func newDriver(id string, api *transport.Client, st *store.Store, now func() time.Time) *Driver {
	return &Driver{
		ID:     id,
		api:    api,
		store:  st,
		now:    now,
		list:   make(map[string]map[int][]string),
		search: make(map[string]map[int][]string),
		simple: make(map[string]models.SimpleItem),
		full:   make(map[string]models.FullItem),
	}
}

type categoriesResp struct {
	Categories []string `json:"categories"`
	Suggestion bool     `json:"suggestion"`
}

// Initialize fetches the source's category list and suggestion-support
// flag. One-shot; methods that need the metadata call it lazily.
func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	done := d.initialized
	d.mu.Unlock()
	if done {
		return nil
	}

	var resp categoriesResp
	q := url.Values{"driver": {d.ID}}
	if err := d.api.Request(ctx, http.MethodGet, "categories", q, nil, &resp); err != nil {
		return err
	}

	d.mu.Lock()
	d.categories = resp.Categories
	d.suggestible = resp.Suggestion
	d.initialized = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *Driver) Categories() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.categories...)
}

func (d *Driver) Suggestible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suggestible
}

// LoadList fetches one catalog page. It reports whether the page has
// content: a cached page answers from memory, and a page directly after
// a cached empty page is end-of-list without a network call.
func (d *Driver) LoadList(ctx context.Context, category string, page int) (bool, error) {
	if page < 1 {
		return false, nil
	}
	if err := d.Initialize(ctx); err != nil {
		return false, err
	}

	d.mu.Lock()
	if hit, ok := cachedPage(d.list, category, page); ok {
		d.mu.Unlock()
		return hit, nil
	}
	d.mu.Unlock()

	q := url.Values{
		"driver": {d.ID},
		"page":   {strconv.Itoa(page)},
	}
	if category != "" {
		q.Set("category", category)
	}
	var rows []models.SimpleItem
	if err := d.api.Request(ctx, http.MethodGet, "list", q, nil, &rows); err != nil {
		return false, err
	}

	d.storePage(d.list, category, page, rows)
	return len(rows) > 0, nil
}

// LoadSearch mirrors LoadList for keyword search. An empty keyword is
// no result, and a search whose first page came back empty
// short-circuits every later page.
func (d *Driver) LoadSearch(ctx context.Context, keyword string, page int) (bool, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" || page < 1 {
		return false, nil
	}
	if err := d.Initialize(ctx); err != nil {
		return false, err
	}

	d.mu.Lock()
	if hit, ok := cachedPage(d.search, keyword, page); ok {
		d.mu.Unlock()
		return hit, nil
	}
	if page > 1 {
		if first, ok := d.search[keyword][1]; ok && len(first) == 0 {
			d.mu.Unlock()
			return false, nil
		}
	}
	d.mu.Unlock()

	q := url.Values{
		"driver":  {d.ID},
		"keyword": {keyword},
		"page":    {strconv.Itoa(page)},
	}
	var rows []models.SimpleItem
	if err := d.api.Request(ctx, http.MethodGet, "search", q, nil, &rows); err != nil {
		return false, err
	}

	d.storePage(d.search, keyword, page, rows)
	return len(rows) > 0, nil
}

// Suggestions asks the source for keyword completions. No caching;
// sources that do not support suggestions answer locally with nothing.
func (d *Driver) Suggestions(ctx context.Context, keyword string) ([]string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	if !d.Suggestible() {
		return nil, nil
	}

	q := url.Values{
		"driver":  {d.ID},
		"keyword": {keyword},
	}
	var out []string
	if err := d.api.Request(ctx, http.MethodGet, "suggestion", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Details fetches item records in one batched request, skipping ids the
// relevant cache tier already holds unless useCache is false. Chunking
// large batches is the refresh engine's job, not the driver's.
func (d *Driver) Details(ctx context.Context, ids []string, showAll, useCache bool) error {
	d.mu.Lock()
	var remaining []string
	for _, id := range ids {
		if useCache {
			if showAll {
				if _, ok := d.full[id]; ok {
					continue
				}
			} else if _, ok := d.simple[id]; ok {
				continue
			}
		}
		remaining = append(remaining, id)
	}
	d.mu.Unlock()

	if len(remaining) == 0 {
		return nil
	}

	q := url.Values{
		"driver":   {d.ID},
		"ids":      {strings.Join(remaining, ",")},
		"show-all": {showAllParam(showAll)},
	}
	var rows []models.FullItem
	if err := d.api.Request(ctx, http.MethodGet, "details", q, nil, &rows); err != nil {
		return err
	}

	d.mu.Lock()
	for _, row := range rows {
		if showAll {
			d.full[row.ID] = row
		}
		d.simple[row.ID] = row.ToSimple()
	}
	d.mu.Unlock()
	return nil
}

// EpisodePages fetches the page image URLs for one chapter, echoing the
// opaque per-source payload cached with the item's details.
func (d *Driver) EpisodePages(ctx context.Context, id string, episode int) ([]string, error) {
	d.mu.Lock()
	item, ok := d.full[id]
	d.mu.Unlock()
	if !ok {
		if err := d.Details(ctx, []string{id}, true, true); err != nil {
			return nil, err
		}
		d.mu.Lock()
		item = d.full[id]
		d.mu.Unlock()
	}

	q := url.Values{
		"ie": {id},
		"d":  {d.ID},
		"e":  {strconv.Itoa(episode)},
	}
	var urls []string
	if err := d.api.Request(ctx, http.MethodPost, "episode", q, item.Driver, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

// UpdateLocalRecords pushes the driver's cached items into the local
// store. Followed titles get their collection row overwritten with the
// fresh fields; a changed latest-chapter label raises the history
// new-flag and evicts the cached details so episode lists re-fetch.
func (d *Driver) UpdateLocalRecords(ctx context.Context) error {
	d.mu.Lock()
	items := make([]models.SimpleItem, 0, len(d.simple))
	for _, it := range d.simple {
		items = append(items, it)
	}
	d.mu.Unlock()

	for _, item := range items {
		col, err := d.store.Collections.Get(ctx, d.ID, item.ID)
		if err != nil {
			return err
		}
		if col == nil {
			// cached but not followed
			continue
		}

		if err := d.store.Collections.Upsert(ctx, models.CollectionFromItem(d.ID, item)); err != nil {
			return err
		}

		hist, err := d.store.Histories.Get(ctx, d.ID, item.ID)
		if err != nil {
			return err
		}
		if hist == nil || hist.Latest == item.Latest {
			continue
		}

		// episode lists may have grown; force a re-fetch on next view
		d.mu.Lock()
		delete(d.full, item.ID)
		d.mu.Unlock()

		hist.Latest = item.Latest
		hist.Datetime = d.now()
		hist.New = true
		if err := d.store.Histories.Upsert(ctx, *hist); err != nil {
			return err
		}
	}
	return nil
}

// AddToCollection starts following a title: fetches details if the
// caches lack them, writes the collection row, and makes sure a history
// row exists with the new-flag lowered. It never uploads anything; the
// remote index is pushed only at login.
func (d *Driver) AddToCollection(ctx context.Context, id string) error {
	if err := d.Details(ctx, []string{id}, true, true); err != nil {
		return err
	}
	item, ok := d.Simple(id)
	if !ok {
		return fmt.Errorf("driver %s: item %s not found", d.ID, id)
	}

	if err := d.store.Collections.Upsert(ctx, models.CollectionFromItem(d.ID, item)); err != nil {
		return err
	}

	hist, err := d.store.Histories.Get(ctx, d.ID, id)
	if err != nil {
		return err
	}
	if hist == nil {
		hist = &models.HistoryRecord{
			Driver:    d.ID,
			ID:        id,
			Title:     item.Title,
			Thumbnail: item.Thumbnail,
			Datetime:  d.now(),
			Latest:    item.Latest,
		}
	}
	hist.New = false
	return d.store.Histories.Upsert(ctx, *hist)
}

// RemoveFromCollection stops following a title. The history row stays.
func (d *Driver) RemoveFromCollection(ctx context.Context, id string) (bool, error) {
	return d.store.Collections.Delete(ctx, d.ID, id)
}

// Simple returns the cached lightweight record for id.
func (d *Driver) Simple(id string) (models.SimpleItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.simple[id]
	return it, ok
}

// Full returns the cached detail record for id.
func (d *Driver) Full(id string) (models.FullItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.full[id]
	return it, ok
}

// ListPage resolves a cached pagination entry back to items, in the
// order the server returned them.
func (d *Driver) ListPage(category string, page int) []models.SimpleItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolve(d.list[category][page])
}

// SearchPage resolves a cached search entry back to items.
func (d *Driver) SearchPage(keyword string, page int) []models.SimpleItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolve(d.search[keyword][page])
}

func (d *Driver) resolve(ids []string) []models.SimpleItem {
	out := make([]models.SimpleItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := d.simple[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (d *Driver) storePage(cache map[string]map[int][]string, key string, page int, rows []models.SimpleItem) {
	ids := make([]string, 0, len(rows))

	d.mu.Lock()
	for _, row := range rows {
		d.simple[row.ID] = row
		ids = append(ids, row.ID)
	}
	if cache[key] == nil {
		cache[key] = make(map[int][]string)
	}
	cache[key][page] = ids
	d.mu.Unlock()
}

// cachedPage answers for a page already in the cache (content iff the
// entry is non-empty) and detects end-of-list from an empty previous
// page. The second return reports whether an answer was possible.
func cachedPage(cache map[string]map[int][]string, key string, page int) (bool, bool) {
	pages, ok := cache[key]
	if !ok {
		return false, false
	}
	if ids, ok := pages[page]; ok {
		return len(ids) > 0, true
	}
	if page > 1 {
		if prev, ok := pages[page-1]; ok && len(prev) == 0 {
			return false, true
		}
	}
	return false, false
}

func showAllParam(showAll bool) string {
	if showAll {
		return "1"
	}
	return "0"
}
