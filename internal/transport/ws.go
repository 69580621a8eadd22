package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// WSTransport is a Broadcast implementation backed by a websocket
// connection to the relay server, for processes that do not share memory
// with their peers.
type WSTransport struct {
	senderID string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers []func(env *models.Envelope)
	closed   bool
}

// DialRelay connects to the relay at relayURL (e.g. ws://host:port/ws)
// authenticating with token and identifying as senderID.
func DialRelay(ctx context.Context, relayURL, token, senderID string) (*WSTransport, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	t := &WSTransport{senderID: senderID, conn: conn}
	go t.readLoop()
	return t, nil
}

// Publish stamps env with the sender ID and writes it to the relay.
func (t *WSTransport) Publish(ctx context.Context, env *models.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	env.SenderID = t.senderID
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

// Subscribe registers a handler for inbound envelopes.
func (t *WSTransport) Subscribe(handler func(env *models.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Close closes the relay connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *WSTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("sender_id", t.senderID).Msg("Relay connection lost")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Msg("Failed to parse relay envelope")
			continue
		}
		// The relay already excludes the sender, but filter by identity
		// anyway so a misbehaving relay cannot make us reprocess our own
		// envelopes.
		if env.SenderID == t.senderID {
			continue
		}

		t.mu.Lock()
		handlers := make([]func(*models.Envelope), len(t.handlers))
		copy(handlers, t.handlers)
		t.mu.Unlock()

		for _, h := range handlers {
			h(&env)
		}
	}
}
