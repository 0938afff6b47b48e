package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mangasync/pkg/models"
)

type CollectionRepo struct {
	DB *sql.DB
}

func NewCollectionRepo(db *sql.DB) *CollectionRepo {
	return &CollectionRepo{DB: db}
}

// Upsert inserts or overwrites a followed title keyed by (driver, id).
func (r *CollectionRepo) Upsert(ctx context.Context, rec models.CollectionRecord) error {
	authors, err := json.Marshal(rec.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO collections (driver, id, title, is_end, latest, thumbnail, authors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(driver, id) DO UPDATE SET
			title = excluded.title,
			is_end = excluded.is_end,
			latest = excluded.latest,
			thumbnail = excluded.thumbnail,
			authors = excluded.authors
	`, rec.Driver, rec.ID, rec.Title, rec.IsEnd, rec.Latest, rec.Thumbnail, string(authors))
	if err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}
	return nil
}

func (r *CollectionRepo) Delete(ctx context.Context, driver, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM collections
		WHERE driver = ? AND id = ?
	`, driver, id)
	if err != nil {
		return false, fmt.Errorf("delete collection: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CollectionRepo) Get(ctx context.Context, driver, id string) (*models.CollectionRecord, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT driver, id, title, is_end, latest, thumbnail, authors
		FROM collections
		WHERE driver = ? AND id = ?
	`, driver, id)

	rec, err := scanCollection(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return rec, nil
}

// All returns every followed title in (driver, id) order.
func (r *CollectionRepo) All(ctx context.Context) ([]models.CollectionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT driver, id, title, is_end, latest, thumbnail, authors
		FROM collections
		ORDER BY driver, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []models.CollectionRecord
	for rows.Next() {
		rec, err := scanCollection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Keys returns just the (driver, id) pairs, the shape uploaded to the
// remote collection index.
func (r *CollectionRepo) Keys(ctx context.Context) ([]models.ItemKey, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT driver, id FROM collections ORDER BY driver, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list collection keys: %w", err)
	}
	defer rows.Close()

	var out []models.ItemKey
	for rows.Next() {
		var k models.ItemKey
		if err := rows.Scan(&k.Driver, &k.ID); err != nil {
			return nil, fmt.Errorf("scan collection key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *CollectionRepo) Clear(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM collections`); err != nil {
		return fmt.Errorf("clear collections: %w", err)
	}
	return nil
}

func scanCollection(scan func(...any) error) (*models.CollectionRecord, error) {
	var rec models.CollectionRecord
	var authors string
	if err := scan(&rec.Driver, &rec.ID, &rec.Title, &rec.IsEnd, &rec.Latest, &rec.Thumbnail, &authors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(authors), &rec.Authors); err != nil {
		return nil, fmt.Errorf("decode authors: %w", err)
	}
	return &rec, nil
}
