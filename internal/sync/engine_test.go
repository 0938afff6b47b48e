package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/internal/events"
	"mangasync/internal/source"
	"mangasync/internal/store"
	"mangasync/internal/transport"
	"mangasync/pkg/database"
	"mangasync/pkg/models"
)

// fakeAccount serves the account endpoints plus just enough of the
// catalog for the collection reconciler to fetch missing items.
type fakeAccount struct {
	mu             sync.Mutex
	historiesCalls int
	uploaded       []models.HistoryRecord
	lastDateParam  string
	merged         []models.HistoryRecord
	collections    []models.ItemKey
	items          map[string]models.FullItem
	failHistories  bool
	historiesGate  chan struct{} // when set, the handler blocks on it

	srv *httptest.Server
}

func newFakeAccount(t *testing.T) *fakeAccount {
	t.Helper()
	f := &fakeAccount{items: make(map[string]models.FullItem)}

	mux := http.NewServeMux()
	mux.HandleFunc("/user/histories", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.historiesCalls++
		f.lastDateParam = r.URL.Query().Get("date")
		_ = json.NewDecoder(r.Body).Decode(&f.uploaded)
		fail, gate, merged := f.failHistories, f.historiesGate, f.merged
		f.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if merged == nil {
			merged = []models.HistoryRecord{}
		}
		writeJSON(w, merged)
	})
	mux.HandleFunc("/user/collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		keys := f.collections
		f.mu.Unlock()
		if keys == nil {
			keys = []models.ItemKey{}
		}
		writeJSON(w, keys)
	})
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		f.mu.Lock()
		out := make([]models.FullItem, 0, len(ids))
		for _, id := range ids {
			if it, ok := f.items[id]; ok {
				out = append(out, it)
			}
		}
		f.mu.Unlock()
		writeJSON(w, out)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var testClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func setupEngine(t *testing.T, f *fakeAccount) (*Engine, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))
	st := store.New(db)

	client := transport.New(f.srv.URL, "")
	client.SetTokenProvider(func() string { return "tok" })
	reg := source.NewRegistry(client, st)
	reg.SetClock(testClock)

	eng := NewEngine(st, client, reg, events.NewHub(), func() string { return "tok" })
	eng.SetClock(testClock)
	return eng, st
}

func TestRunSkipsWithoutCredential(t *testing.T) {
	f := newFakeAccount(t)
	eng, _ := setupEngine(t, f)
	eng.token = func() string { return "" }

	require.NoError(t, eng.Run(context.Background()))

	f.mu.Lock()
	calls := f.historiesCalls
	f.mu.Unlock()
	assert.Zero(t, calls)
	assert.True(t, eng.LastRun().IsZero())
}

func TestRunMergesHistoriesAndAdvancesCursor(t *testing.T) {
	f := newFakeAccount(t)
	eng, st := setupEngine(t, f)
	ctx := context.Background()

	local := models.HistoryRecord{
		Driver: "MHG", ID: "1", Title: "Local", Episode: "ch. 3", Page: 4,
		Datetime: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.Histories.Upsert(ctx, local))

	remoteOnly := models.HistoryRecord{
		Driver: "DM5", ID: "9", Title: "Remote", Episode: "ch. 8",
		Datetime: time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
	}
	f.merged = []models.HistoryRecord{local, remoteOnly}

	require.NoError(t, eng.Run(ctx))

	// the local row was in the upload, and the first pass sends no cursor
	f.mu.Lock()
	require.Len(t, f.uploaded, 1)
	assert.Equal(t, "1", f.uploaded[0].ID)
	assert.Empty(t, f.lastDateParam)
	f.mu.Unlock()

	// the server's merged answer landed verbatim
	got, err := st.Histories.Get(ctx, "DM5", "9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ch. 8", got.Episode)

	cursor, err := st.Settings.GetTime(ctx, store.KeyLastSync)
	require.NoError(t, err)
	assert.Equal(t, testClock(), cursor)
	assert.Equal(t, testClock(), eng.LastRun())
}

func TestRunSendsCursorOnLaterPasses(t *testing.T) {
	f := newFakeAccount(t)
	eng, st := setupEngine(t, f)
	ctx := context.Background()

	cursor := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Settings.SetTime(ctx, store.KeyLastSync, cursor))

	require.NoError(t, eng.Run(ctx))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "1714521600000", f.lastDateParam)
}

func TestRunKeepsCursorOnFailure(t *testing.T) {
	f := newFakeAccount(t)
	f.failHistories = true
	eng, st := setupEngine(t, f)
	ctx := context.Background()

	require.Error(t, eng.Run(ctx))

	cursor, err := st.Settings.GetTime(ctx, store.KeyLastSync)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	// the guard is released, a later pass can run
	assert.False(t, eng.Running())
	f.mu.Lock()
	f.failHistories = false
	f.mu.Unlock()
	require.NoError(t, eng.Run(ctx))
}

func TestRunReconcilesCollections(t *testing.T) {
	f := newFakeAccount(t)
	f.collections = []models.ItemKey{
		{Driver: "MHG", ID: "2"},
		{Driver: "MHG", ID: "3"},
	}
	f.items["3"] = models.FullItem{
		SimpleItem: models.SimpleItem{ID: "3", Title: "Three", Latest: "ch. 1"},
	}
	eng, st := setupEngine(t, f)
	ctx := context.Background()

	require.NoError(t, st.Collections.Upsert(ctx, models.CollectionRecord{Driver: "MHG", ID: "1", Title: "One"}))
	require.NoError(t, st.Collections.Upsert(ctx, models.CollectionRecord{Driver: "MHG", ID: "2", Title: "Two"}))

	require.NoError(t, eng.Run(ctx))

	keys, err := st.Collections.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, f.collections, keys)

	// the added pair also got its history row, unread
	hist, err := st.Histories.Get(ctx, "MHG", "3")
	require.NoError(t, err)
	require.NotNil(t, hist)
	assert.False(t, hist.New)
}

func TestRunIsSingleFlight(t *testing.T) {
	f := newFakeAccount(t)
	eng, _ := setupEngine(t, f)
	ctx := context.Background()

	gate := make(chan struct{})
	f.mu.Lock()
	f.historiesGate = gate
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, eng.Running, time.Second, time.Millisecond)

	// overlapping call: silent no-op, no second upload
	require.NoError(t, eng.Run(ctx))

	f.mu.Lock()
	f.historiesGate = nil
	f.mu.Unlock()
	close(gate)
	require.NoError(t, <-done)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.historiesCalls)
}
