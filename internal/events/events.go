package events

import "time"

// Event types published by the engines.
const (
	TypeSyncStart      = "sync.start"
	TypeSyncDone       = "sync.done"
	TypeUpdateStart    = "update.start"
	TypeUpdateProgress = "update.progress"
	TypeUpdateDone     = "update.done"
	TypeNewChapter     = "chapter.new"
	TypeError          = "error"
)

// Event is one state change or progress notification. The engines
// publish these; the UI process consumes them over the websocket route.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"` // e.g. "20 / 45"
	Driver  string    `json:"driver,omitempty"`
	ItemID  string    `json:"item_id,omitempty"`
	At      time.Time `json:"at"`
}
