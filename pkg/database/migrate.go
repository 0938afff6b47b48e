package database

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	driver    TEXT NOT NULL,
	id        TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	is_end    INTEGER NOT NULL DEFAULT 0,
	latest    TEXT NOT NULL DEFAULT '',
	thumbnail TEXT NOT NULL DEFAULT '',
	authors   TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (driver, id)
);

CREATE TABLE IF NOT EXISTS histories (
	driver    TEXT NOT NULL,
	id        TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	thumbnail TEXT NOT NULL DEFAULT '',
	datetime  INTEGER NOT NULL DEFAULT 0,
	episode   TEXT NOT NULL DEFAULT '',
	page      INTEGER NOT NULL DEFAULT 0,
	latest    TEXT NOT NULL DEFAULT '',
	is_extra  INTEGER NOT NULL DEFAULT 0,
	is_new    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (driver, id)
);

CREATE INDEX IF NOT EXISTS idx_histories_datetime ON histories(datetime);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
