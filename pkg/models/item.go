package models

import "encoding/json"

// SimpleItem is the lightweight projection of a title used by list and
// search results. It carries just enough to render a shelf entry and to
// detect chapter-freshness changes.
type SimpleItem struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Latest    string   `json:"latest"` // label of the newest chapter
	IsEnd     bool     `json:"is_end"` // series finished publishing
	Thumbnail string   `json:"thumbnail"`
}

// FullItem is the detail-tier record for a title. Every FullItem can be
// projected down to a SimpleItem; the reverse is never possible.
type FullItem struct {
	SimpleItem

	Description string          `json:"description"`
	Categories  []string        `json:"categories"`
	Driver      json.RawMessage `json:"driver_data,omitempty"` // opaque per-source payload, echoed back on episode requests
	Episodes    EpisodeList     `json:"episodes"`
}

// EpisodeList holds the two chapter tracks a source may publish.
type EpisodeList struct {
	Serial []string `json:"serial"`
	Extra  []string `json:"extra"`
}

// ToSimple projects the detail record down to its list form.
func (f FullItem) ToSimple() SimpleItem {
	return f.SimpleItem
}
