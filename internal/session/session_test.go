package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/internal/store"
	"mangasync/internal/transport"
	"mangasync/pkg/database"
	"mangasync/pkg/models"
)

type fakeAuth struct {
	mu          sync.Mutex
	token       string
	tokenCalls  int
	uploadCalls int
	uploaded    []models.ItemKey
	created     map[string]string
	cleared     bool

	srv *httptest.Server
}

func newFakeAuth(t *testing.T) *fakeAuth {
	t.Helper()
	f := &fakeAuth{token: "tok", created: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/user/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.tokenCalls++
		tok := f.token
		f.mu.Unlock()
		if req.Password != "hunter2" {
			tok = ""
		}
		writeJSON(w, map[string]string{"token": tok})
	})
	mux.HandleFunc("/user/collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploadCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.uploaded)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/user/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Username, Password, Key string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Key != "invite" {
			http.Error(w, "bad key", http.StatusForbidden)
			return
		}
		f.mu.Lock()
		f.created[req.Username] = req.Password
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/user/clear", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cleared = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type countingSyncer struct{ runs int }

func (c *countingSyncer) Run(context.Context) error {
	c.runs++
	return nil
}

func setupSession(t *testing.T, f *fakeAuth) (*Session, *store.Store, *countingSyncer) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))
	st := store.New(db)

	sess := New(transport.New(f.srv.URL, ""), st)
	sy := &countingSyncer{}
	sess.SetSyncer(sy)
	return sess, st, sy
}

func TestLoginUploadsIndexAndSyncsOnce(t *testing.T) {
	f := newFakeAuth(t)
	sess, st, sy := setupSession(t, f)
	ctx := context.Background()

	require.NoError(t, st.Collections.Upsert(ctx, models.CollectionRecord{Driver: "MHG", ID: "1"}))
	require.NoError(t, st.Collections.Upsert(ctx, models.CollectionRecord{Driver: "DM5", ID: "2"}))

	require.NoError(t, sess.Login(ctx, "a@b.c", "hunter2"))

	assert.True(t, sess.LoggedIn())
	assert.Equal(t, "tok", sess.Token())
	assert.Equal(t, "a@b.c", sess.Email())
	assert.Equal(t, 1, sy.runs)

	f.mu.Lock()
	assert.Equal(t, 1, f.uploadCalls)
	assert.ElementsMatch(t, []models.ItemKey{
		{Driver: "MHG", ID: "1"},
		{Driver: "DM5", ID: "2"},
	}, f.uploaded)
	f.mu.Unlock()

	// credential persisted for the next start
	tok, err := st.Settings.Get(ctx, store.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestLoginEmptyIndexUploadsEmptyArray(t *testing.T) {
	f := newFakeAuth(t)
	sess, _, _ := setupSession(t, f)

	require.NoError(t, sess.Login(context.Background(), "a@b.c", "hunter2"))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.uploadCalls)
	assert.NotNil(t, f.uploaded)
	assert.Empty(t, f.uploaded)
}

func TestLoginRejected(t *testing.T) {
	f := newFakeAuth(t)
	sess, _, sy := setupSession(t, f)

	err := sess.Login(context.Background(), "a@b.c", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	assert.False(t, sess.LoggedIn())
	assert.Zero(t, sy.runs)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Zero(t, f.uploadCalls)
}

func TestLoadRestoresCredential(t *testing.T) {
	f := newFakeAuth(t)
	sess, st, _ := setupSession(t, f)
	ctx := context.Background()

	require.NoError(t, st.Settings.Set(ctx, store.KeyToken, "persisted"))
	require.NoError(t, st.Settings.Set(ctx, store.KeyEmail, "a@b.c"))

	require.NoError(t, sess.Load(ctx))
	assert.Equal(t, "persisted", sess.Token())
	assert.Equal(t, "a@b.c", sess.Email())
}

func TestLogoutClearsCredentialAndCursor(t *testing.T) {
	f := newFakeAuth(t)
	sess, st, _ := setupSession(t, f)
	ctx := context.Background()

	require.NoError(t, sess.Login(ctx, "a@b.c", "hunter2"))
	require.NoError(t, st.Settings.SetTime(ctx, store.KeyLastSync, time.Now()))

	require.NoError(t, sess.Logout(ctx))

	assert.False(t, sess.LoggedIn())
	tok, err := st.Settings.Get(ctx, store.KeyToken)
	require.NoError(t, err)
	assert.Empty(t, tok)

	cursor, err := st.Settings.GetTime(ctx, store.KeyLastSync)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())
}

func TestExpiry(t *testing.T) {
	f := newFakeAuth(t)
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	f.token = signed

	sess, _, _ := setupSession(t, f)
	require.NoError(t, sess.Login(context.Background(), "a@b.c", "hunter2"))

	got, ok := sess.Expiry()
	require.True(t, ok)
	assert.Equal(t, exp, got.UTC())
}

func TestExpiryOpaqueToken(t *testing.T) {
	f := newFakeAuth(t)
	sess, _, _ := setupSession(t, f)
	require.NoError(t, sess.Login(context.Background(), "a@b.c", "hunter2"))

	_, ok := sess.Expiry()
	assert.False(t, ok)
}

func TestCreate(t *testing.T) {
	f := newFakeAuth(t)
	sess, _, _ := setupSession(t, f)
	ctx := context.Background()

	require.NoError(t, sess.Create(ctx, "new@b.c", "pw", "invite"))
	f.mu.Lock()
	assert.Equal(t, "pw", f.created["new@b.c"])
	f.mu.Unlock()

	err := sess.Create(ctx, "new@b.c", "pw", "bogus")
	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestClearAccount(t *testing.T) {
	f := newFakeAuth(t)
	sess, st, _ := setupSession(t, f)
	ctx := context.Background()

	require.NoError(t, st.Collections.Upsert(ctx, models.CollectionRecord{Driver: "MHG", ID: "1"}))
	require.NoError(t, st.Histories.Upsert(ctx, models.HistoryRecord{Driver: "MHG", ID: "1", Datetime: time.Now()}))

	require.NoError(t, sess.ClearAccount(ctx, "hunter2"))

	f.mu.Lock()
	assert.True(t, f.cleared)
	f.mu.Unlock()

	keys, err := st.Collections.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	rows, err := st.Histories.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
