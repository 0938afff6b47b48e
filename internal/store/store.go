// Package store holds the durable client-side state: which titles the
// user follows, what they have read, and scalar settings such as the
// sync cursor and stored credential. Every other component reads and
// writes through it.
package store

import "database/sql"

type Store struct {
	Collections *CollectionRepo
	Histories   *HistoryRepo
	Settings    *SettingsRepo
}

func New(db *sql.DB) *Store {
	return &Store{
		Collections: NewCollectionRepo(db),
		Histories:   NewHistoryRepo(db),
		Settings:    NewSettingsRepo(db),
	}
}
