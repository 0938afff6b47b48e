// Package events carries engine progress and state changes out to
// observers: in-process subscribers (tests, the CLI) and websocket
// clients (the UI).
package events

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

type Hub struct {
	mu        sync.Mutex
	subs      map[chan Event]struct{}
	wsClients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs:      make(map[chan Event]struct{}),
		wsClients: make(map[*websocket.Conn]struct{}),
	}
}

// Subscribe returns a buffered event channel and a cancel func. A
// subscriber that falls behind misses events rather than blocking the
// publishing engine.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) AddWS(ws *websocket.Conn) {
	h.mu.Lock()
	h.wsClients[ws] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) RemoveWS(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.wsClients, ws)
	h.mu.Unlock()
	_ = ws.Close()
}

// Publish fans the event out to every subscriber and websocket client.
// Never blocks.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}

	if len(h.wsClients) == 0 {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for ws := range h.wsClients {
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = ws.Close()
			delete(h.wsClients, ws)
		}
	}
}

// Count reports the number of attached observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs) + len(h.wsClients)
}
