// Package relay is the fan-out bridge between client processes that do
// not share memory. It stores nothing and arbitrates nothing: every
// inbound envelope is forwarded verbatim to every other connected
// window, best-effort.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// Hub manages the websocket connections of all windows.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*websocket.Conn)}
}

// Register registers a window's connection. A reconnecting window
// replaces its previous connection.
func (h *Hub) Register(windowID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.connections[windowID]; ok {
		existing.Close()
	}
	h.connections[windowID] = conn

	log.Info().Str("window_id", windowID).Msg("Window connected")
}

// Unregister removes a window's connection.
func (h *Hub) Unregister(windowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.connections[windowID]; ok {
		conn.Close()
		delete(h.connections, windowID)
		log.Info().Str("window_id", windowID).Msg("Window disconnected")
	}
}

// Fanout forwards env to every connected window except the sender.
// Delivery is at-most-once; windows whose write fails are dropped.
func (h *Hub) Fanout(env *models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal envelope")
		return
	}

	h.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(h.connections))
	for id, conn := range h.connections {
		if id != env.SenderID {
			targets[id] = conn
		}
	}
	h.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("window_id", id).Msg("Failed to forward envelope")
			h.Unregister(id)
		}
	}
}

// SendTo delivers an envelope to one specific window.
func (h *Hub) SendTo(windowID string, env *models.Envelope) error {
	h.mu.RLock()
	conn, ok := h.connections[windowID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("window %s is not connected", windowID)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.Unregister(windowID)
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

// Connected reports whether a window currently holds a connection.
func (h *Hub) Connected(windowID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[windowID]
	return ok
}
