package transport

import (
	"context"
	"sync"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// MemoryBus is the in-process broadcast channel. Every engine joins the
// bus with its window ID and receives every envelope published by other
// members; its own envelopes are filtered out on delivery.
type MemoryBus struct {
	mu      sync.RWMutex
	members map[string]*BusConn
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{members: make(map[string]*BusConn)}
}

// Join attaches a new member identified by senderID and returns its
// connection. Joining twice with the same ID replaces the previous
// connection.
func (b *MemoryBus) Join(senderID string) *BusConn {
	conn := &BusConn{bus: b, senderID: senderID}
	b.mu.Lock()
	if old, ok := b.members[senderID]; ok {
		old.mu.Lock()
		old.closed = true
		old.mu.Unlock()
	}
	b.members[senderID] = conn
	b.mu.Unlock()
	return conn
}

func (b *MemoryBus) dispatch(env *models.Envelope) {
	b.mu.RLock()
	conns := make([]*BusConn, 0, len(b.members))
	for _, c := range b.members {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		c.deliver(env)
	}
}

func (b *MemoryBus) leave(senderID string) {
	b.mu.Lock()
	delete(b.members, senderID)
	b.mu.Unlock()
}

// BusConn is one member's connection to a MemoryBus. It implements
// Broadcast.
type BusConn struct {
	bus      *MemoryBus
	senderID string

	mu       sync.Mutex
	handlers []func(env *models.Envelope)
	closed   bool
}

// Publish stamps env with the member's sender ID and fans it out to
// every bus member. Delivery to other members happens synchronously; a
// member that has no handler yet simply misses the envelope.
func (c *BusConn) Publish(ctx context.Context, env *models.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	env.SenderID = c.senderID
	c.bus.dispatch(env)
	return nil
}

// Subscribe registers a handler for inbound envelopes.
func (c *BusConn) Subscribe(handler func(env *models.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Close detaches the member from the bus. Further publishes and
// deliveries are dropped.
func (c *BusConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.bus.leave(c.senderID)
	return nil
}

func (c *BusConn) deliver(env *models.Envelope) {
	// Self-filter: compare identity, never suppress the send.
	if env.SenderID == c.senderID {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := make([]func(*models.Envelope), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}
