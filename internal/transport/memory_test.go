package transport

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

type recorder struct {
	mu   sync.Mutex
	envs []*models.Envelope
}

func (r *recorder) handle(env *models.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Type
	}
	return out
}

func TestMemoryBus_FanOutExcludesSender(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	a := bus.Join("win-a")
	b := bus.Join("win-b")
	c := bus.Join("win-c")

	var recA, recB, recC recorder
	a.Subscribe(recA.handle)
	b.Subscribe(recB.handle)
	c.Subscribe(recC.handle)

	require.NoError(t, a.Publish(ctx, &models.Envelope{Type: models.EnvPresence}))

	assert.Empty(t, recA.types(), "a publisher never reprocesses its own message")
	assert.Equal(t, []string{models.EnvPresence}, recB.types())
	assert.Equal(t, []string{models.EnvPresence}, recC.types())
}

func TestMemoryBus_SenderIDStampedOnPublish(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	a := bus.Join("win-a")
	b := bus.Join("win-b")

	var rec recorder
	b.Subscribe(rec.handle)

	// Whatever the caller put in SenderID is overwritten.
	require.NoError(t, a.Publish(ctx, &models.Envelope{Type: models.EnvPresence, SenderID: "spoofed"}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.envs, 1)
	assert.Equal(t, "win-a", rec.envs[0].SenderID)
}

func TestMemoryBus_NoDeliveryToClosedOrLateSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	a := bus.Join("win-a")
	b := bus.Join("win-b")

	// b has no handler yet: this envelope is simply lost to it.
	require.NoError(t, a.Publish(ctx, &models.Envelope{Type: models.EnvUserJoined}))

	var rec recorder
	b.Subscribe(rec.handle)
	require.NoError(t, a.Publish(ctx, &models.Envelope{Type: models.EnvPresence}))
	assert.Equal(t, []string{models.EnvPresence}, rec.types())

	require.NoError(t, b.Close())
	require.NoError(t, a.Publish(ctx, &models.Envelope{Type: models.EnvUserLeft}))
	assert.Equal(t, []string{models.EnvPresence}, rec.types())

	// Publishing from a closed connection is a silent no-op.
	require.NoError(t, b.Publish(ctx, &models.Envelope{Type: models.EnvPresence}))
}

func TestNoopTransportNeverErrors(t *testing.T) {
	ctx := context.Background()
	var n Noop
	assert.NoError(t, n.Publish(ctx, &models.Envelope{Type: models.EnvPresence}))
	n.Subscribe(func(*models.Envelope) {})
	assert.NoError(t, n.Close())
}
