// Package transport implements the broadcast channel connecting live
// client processes: an in-process bus for engines sharing one OS process
// and a websocket client speaking to the relay for fleets that do not.
// Delivery is best-effort and at-most-once; there is no ordering
// guarantee between distinct publishers and no delivery guarantee to a
// closed or not-yet-open subscriber.
package transport

import (
	"context"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// Broadcast is the fan-out channel shared by all client processes.
// Publish stamps the envelope with the publisher's sender ID; a
// subscriber never observes its own envelopes (filtered by identity
// comparison on the receiving side, not by suppressing the send).
type Broadcast interface {
	Publish(ctx context.Context, env *models.Envelope) error
	Subscribe(handler func(env *models.Envelope))
	Close() error
}

// Noop is the degraded transport used when no broadcast capability is
// available. Every operation succeeds and does nothing; the system then
// relies solely on the shared store fallback.
type Noop struct{}

func (Noop) Publish(ctx context.Context, env *models.Envelope) error { return nil }
func (Noop) Subscribe(handler func(env *models.Envelope))            {}
func (Noop) Close() error                                            { return nil }
