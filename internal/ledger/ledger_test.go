package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

func TestLedger_TTLClampedToMinimum(t *testing.T) {
	l := New(time.Millisecond, nil)
	id := l.RecordOptimistic("a", "b")

	req, ok := l.Get(id)
	require.True(t, ok)
	assert.GreaterOrEqual(t, req.ExpiresAt.Sub(req.CreatedAt), MinTTL)
}

func TestLedger_RecordOptimisticDeduplicatesPendingPair(t *testing.T) {
	l := New(time.Second, nil)
	id1 := l.RecordOptimistic("a", "b")
	id2 := l.RecordOptimistic("a", "b")
	assert.Equal(t, id1, id2)

	// A different target is a different request.
	id3 := l.RecordOptimistic("a", "c")
	assert.NotEqual(t, id1, id3)
}

func TestLedger_ExpiryIncrementsPrunedCountOnce(t *testing.T) {
	ttl := 600 * time.Millisecond
	var persisted []uint64
	l := New(ttl, func(count uint64) { persisted = append(persisted, count) })

	id := l.RecordOptimistic("a", "b")

	// Before the TTL nothing expires.
	assert.Zero(t, l.PruneExpired(time.Now()))

	deadline := time.Now().Add(ttl + 50*time.Millisecond)
	pruned := l.PruneExpired(deadline)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, uint64(1), l.PrunedCount())
	assert.Equal(t, []uint64{1}, persisted)

	req, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.RequestExpired, req.State)

	// Idempotent: a second pass finds nothing new and drops the terminal
	// record from the working set.
	assert.Zero(t, l.PruneExpired(deadline.Add(time.Second)))
	assert.Equal(t, uint64(1), l.PrunedCount())
	_, ok = l.Get(id)
	assert.False(t, ok)
}

func TestLedger_ReconcileConfirmsPendingRequest(t *testing.T) {
	l := New(time.Second, nil)
	id := l.RecordOptimistic("a", "b")

	req, _ := l.Get(id)
	echo := *req
	echo.State = models.RequestConfirmed
	l.Reconcile(map[string]*models.JoinRequest{id: &echo})

	confirmed, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.RequestConfirmed, confirmed.State)
	assert.Empty(t, l.Pending())

	// A confirmed request never expires.
	assert.Zero(t, l.PruneExpired(time.Now().Add(time.Minute)))
	assert.Zero(t, l.PrunedCount())
}

func TestLedger_ReconcileAdoptsUnknownAuthoritativeRecords(t *testing.T) {
	l := New(time.Second, nil)
	auth := &models.JoinRequest{
		RequestID:        "r-remote",
		RequestingUserID: "x",
		TargetUserID:     "y",
		CreatedAt:        time.Now(),
		ExpiresAt:        time.Now().Add(time.Minute),
		State:            models.RequestConfirmed,
	}
	l.Reconcile(map[string]*models.JoinRequest{"r-remote": auth})

	got, ok := l.Get("r-remote")
	require.True(t, ok)
	assert.Equal(t, models.RequestConfirmed, got.State)
}

func TestLedger_CancelBeforeExpiry(t *testing.T) {
	l := New(time.Second, nil)
	id := l.RecordOptimistic("a", "b")

	require.True(t, l.Cancel(id))
	req, _ := l.Get(id)
	assert.Equal(t, models.RequestCancelled, req.State)

	// Cancelled is terminal: no second cancel, no expiry count.
	assert.False(t, l.Cancel(id))
	assert.Zero(t, l.PruneExpired(time.Now().Add(time.Minute)))
	assert.Zero(t, l.PrunedCount())

	assert.False(t, l.Cancel("unknown"))
}

func TestLedger_SeedPrunedCountOnlyMovesForward(t *testing.T) {
	l := New(time.Second, nil)
	l.SeedPrunedCount(7)
	assert.Equal(t, uint64(7), l.PrunedCount())
	l.SeedPrunedCount(3)
	assert.Equal(t, uint64(7), l.PrunedCount())
}

func TestLedger_EveryRecordReachesExactlyOneTerminalState(t *testing.T) {
	l := New(600*time.Millisecond, nil)

	confirmed := l.RecordOptimistic("a", "b")
	cancelled := l.RecordOptimistic("a", "c")
	expired := l.RecordOptimistic("a", "d")

	l.Confirm(confirmed)
	l.Cancel(cancelled)

	for id, want := range map[string]string{
		confirmed: models.RequestConfirmed,
		cancelled: models.RequestCancelled,
	} {
		req, ok := l.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, want, req.State)
		assert.True(t, req.Terminal())
	}

	assert.Equal(t, 1, l.PruneExpired(time.Now().Add(time.Second)))
	req, ok := l.Get(expired)
	require.True(t, ok)
	assert.Equal(t, models.RequestExpired, req.State)

	assert.Empty(t, l.Pending())
	assert.Equal(t, uint64(1), l.PrunedCount())
}
