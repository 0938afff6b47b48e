package models

import "time"

// CollectionRecord is one followed title. Its presence in the store
// means "the user follows this"; the metadata mirrors the most recent
// SimpleItem seen for the title.
type CollectionRecord struct {
	Driver    string   `json:"driver"`
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	IsEnd     bool     `json:"is_end"`
	Latest    string   `json:"latest"`
	Thumbnail string   `json:"thumbnail"`
	Authors   []string `json:"authors"`
}

// Key returns the globally unique (driver, id) pair for the record.
func (c CollectionRecord) Key() ItemKey {
	return ItemKey{Driver: c.Driver, ID: c.ID}
}

// HistoryRecord tracks reading progress and chapter freshness for a
// title the user has ever opened. New is raised by the refresh engine
// when the latest chapter label advances and cleared by the
// reading-progress write path.
type HistoryRecord struct {
	Driver    string    `json:"driver"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Thumbnail string    `json:"thumbnail"`
	Datetime  time.Time `json:"datetime"`
	Episode   string    `json:"episode,omitempty"`
	Page      int       `json:"page,omitempty"`
	Latest    string    `json:"latest"`
	IsExtra   bool      `json:"is_extra,omitempty"`
	New       bool      `json:"new"`
}

// Key returns the globally unique (driver, id) pair for the record.
func (h HistoryRecord) Key() ItemKey {
	return ItemKey{Driver: h.Driver, ID: h.ID}
}

// ItemKey identifies one title across the whole system: the source it
// lives on plus its id within that source.
type ItemKey struct {
	Driver string `json:"driver"`
	ID     string `json:"id"`
}

// CollectionFromItem builds a collection row out of the freshest
// SimpleItem known for a title.
func CollectionFromItem(driver string, item SimpleItem) CollectionRecord {
	return CollectionRecord{
		Driver:    driver,
		ID:        item.ID,
		Title:     item.Title,
		IsEnd:     item.IsEnd,
		Latest:    item.Latest,
		Thumbnail: item.Thumbnail,
		Authors:   item.Authors,
	}
}
