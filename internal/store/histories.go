package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mangasync/pkg/models"
)

type HistoryRepo struct {
	DB *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{DB: db}
}

// Upsert inserts or overwrites a history row keyed by (driver, id).
// The record is written verbatim; merge policy belongs to the caller.
func (r *HistoryRepo) Upsert(ctx context.Context, rec models.HistoryRecord) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO histories (driver, id, title, thumbnail, datetime, episode, page, latest, is_extra, is_new)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(driver, id) DO UPDATE SET
			title = excluded.title,
			thumbnail = excluded.thumbnail,
			datetime = excluded.datetime,
			episode = excluded.episode,
			page = excluded.page,
			latest = excluded.latest,
			is_extra = excluded.is_extra,
			is_new = excluded.is_new
	`, rec.Driver, rec.ID, rec.Title, rec.Thumbnail, rec.Datetime.UnixMilli(),
		rec.Episode, rec.Page, rec.Latest, rec.IsExtra, rec.New)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

func (r *HistoryRepo) Get(ctx context.Context, driver, id string) (*models.HistoryRecord, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT driver, id, title, thumbnail, datetime, episode, page, latest, is_extra, is_new
		FROM histories
		WHERE driver = ? AND id = ?
	`, driver, id)

	rec, err := scanHistory(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	return rec, nil
}

// All returns every history row, most recently touched first.
func (r *HistoryRepo) All(ctx context.Context) ([]models.HistoryRecord, error) {
	return r.query(ctx, `
		SELECT driver, id, title, thumbnail, datetime, episode, page, latest, is_extra, is_new
		FROM histories
		ORDER BY datetime DESC
	`)
}

// UpdatedSince returns rows touched at or after the cursor. A zero
// cursor returns everything.
func (r *HistoryRepo) UpdatedSince(ctx context.Context, cursor time.Time) ([]models.HistoryRecord, error) {
	if cursor.IsZero() {
		return r.All(ctx)
	}
	return r.query(ctx, `
		SELECT driver, id, title, thumbnail, datetime, episode, page, latest, is_extra, is_new
		FROM histories
		WHERE datetime >= ?
		ORDER BY datetime DESC
	`, cursor.UnixMilli())
}

func (r *HistoryRepo) Clear(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM histories`); err != nil {
		return fmt.Errorf("clear histories: %w", err)
	}
	return nil
}

func (r *HistoryRepo) query(ctx context.Context, q string, args ...any) ([]models.HistoryRecord, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func scanHistory(scan func(...any) error) (*models.HistoryRecord, error) {
	var rec models.HistoryRecord
	var ms int64
	if err := scan(&rec.Driver, &rec.ID, &rec.Title, &rec.Thumbnail, &ms,
		&rec.Episode, &rec.Page, &rec.Latest, &rec.IsExtra, &rec.New); err != nil {
		return nil, err
	}
	rec.Datetime = time.UnixMilli(ms).UTC()
	return &rec, nil
}
