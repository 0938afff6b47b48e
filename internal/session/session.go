// Package session owns the bearer credential and the account lifecycle:
// login, logout, account creation, password change and account wipe.
// Logging in pushes the full local collection index to the server and
// triggers one sync pass.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mangasync/internal/store"
	"mangasync/internal/transport"
	"mangasync/pkg/models"
)

var ErrBadCredentials = errors.New("login rejected")

// Syncer triggers a sync pass after login. Satisfied by the sync
// engine; kept as an interface so session does not depend on it.
type Syncer interface {
	Run(ctx context.Context) error
}

type Session struct {
	api    *transport.Client
	store  *store.Store
	syncer Syncer

	mu    sync.RWMutex
	token string
	email string
}

func New(api *transport.Client, st *store.Store) *Session {
	return &Session{api: api, store: st}
}

// SetSyncer wires the engine run after login. Must be set before Login.
func (s *Session) SetSyncer(sy Syncer) { s.syncer = sy }

// Load restores a persisted credential at startup.
func (s *Session) Load(ctx context.Context) error {
	token, err := s.store.Settings.Get(ctx, store.KeyToken)
	if err != nil {
		return err
	}
	email, err := s.store.Settings.Get(ctx, store.KeyEmail)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.email = email
	s.mu.Unlock()
	return nil
}

// Token returns the current credential, "" when logged out. Wired as
// the transport's token provider.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

func (s *Session) LoggedIn() bool { return s.Token() != "" }

// Expiry reads the exp claim out of the token without verifying it —
// the server holds the key, the client only wants to know when to
// prompt for a fresh login. ok is false for opaque tokens.
func (s *Session) Expiry() (time.Time, bool) {
	t := s.Token()
	if t == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a token, uploads the full local
// collection index exactly once, triggers one sync pass, and persists
// the credential so the next start stays logged in.
func (s *Session) Login(ctx context.Context, email, password string) error {
	var resp loginResp
	err := s.api.Request(ctx, http.MethodPost, "user/token", nil, loginReq{Username: email, Password: password}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return ErrBadCredentials
	}

	s.mu.Lock()
	s.token = resp.Token
	s.email = email
	s.mu.Unlock()

	keys, err := s.store.Collections.Keys(ctx)
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []models.ItemKey{}
	}
	if err := s.api.Request(ctx, http.MethodPost, "user/collections", nil, keys, nil); err != nil {
		return err
	}

	if s.syncer != nil {
		if err := s.syncer.Run(ctx); err != nil {
			return err
		}
	}

	if err := s.store.Settings.Set(ctx, store.KeyToken, resp.Token); err != nil {
		return err
	}
	return s.store.Settings.Set(ctx, store.KeyEmail, email)
}

// Logout clears the credential and the sync cursor; the next sync after
// a fresh login starts from epoch.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.email = ""
	s.mu.Unlock()

	if err := s.store.Settings.Delete(ctx, store.KeyToken); err != nil {
		return err
	}
	if err := s.store.Settings.Delete(ctx, store.KeyEmail); err != nil {
		return err
	}
	return s.store.Settings.Delete(ctx, store.KeyLastSync)
}

type createReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Key      string `json:"key"`
}

// Create registers a new account; key is the server's invite key.
func (s *Session) Create(ctx context.Context, email, password, key string) error {
	return s.api.Request(ctx, http.MethodPost, "user/create", nil, createReq{Username: email, Password: password, Key: key}, nil)
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Session) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return s.api.Request(ctx, http.MethodPost, "user/me", nil, changePasswordReq{OldPassword: oldPassword, NewPassword: newPassword}, nil)
}

type clearReq struct {
	Password string `json:"password"`
}

// ClearAccount wipes the remote account data (server re-checks the
// password) and then the local collection and history tables.
func (s *Session) ClearAccount(ctx context.Context, password string) error {
	if err := s.api.Request(ctx, http.MethodPost, "user/clear", nil, clearReq{Password: password}, nil); err != nil {
		return err
	}
	if err := s.store.Collections.Clear(ctx); err != nil {
		return err
	}
	return s.store.Histories.Clear(ctx)
}
