package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Setting keys used by the engine. Kept here so callers never pass raw
// strings around.
const (
	KeyLastSync = "last_sync"
	KeyToken    = "token"
	KeyEmail    = "email"
	KeyClientID = "client_id"
)

type SettingsRepo struct {
	DB *sql.DB
}

func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{DB: db}
}

// Get returns the stored value, or "" when the key is absent.
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return v, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (r *SettingsRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}

// GetTime reads a key written by SetTime. Absent or malformed values
// come back as the zero time.
func (r *SettingsRepo) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *SettingsRepo) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}
