package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

func TestManager_CreateSeedsCreator(t *testing.T) {
	m := NewManager()
	now := time.Now()

	sess, err := m.Create("couple-1", "anna", "romantic", now)
	require.NoError(t, err)
	assert.True(t, sess.IsActive)
	assert.Equal(t, "couple-1", sess.CoupleID)
	require.Contains(t, sess.Participants, "anna")

	// A second create while one is active fails.
	_, err = m.Create("couple-1", "anna", "romantic", now)
	assert.ErrorIs(t, err, ErrActiveSession)
}

func TestManager_JoinIsIdempotent(t *testing.T) {
	m := NewManager()
	now := time.Now()
	_, err := m.Create("couple-1", "anna", "romantic", now)
	require.NoError(t, err)

	sess, joined := m.Join("ben", now.Add(time.Second))
	require.True(t, joined)
	assert.Len(t, sess.Participants, 2)

	_, joined = m.Join("ben", now.Add(2*time.Second))
	assert.False(t, joined)
}

func TestManager_EndThenNoSession(t *testing.T) {
	m := NewManager()
	now := time.Now()
	_, err := m.Create("couple-1", "anna", "romantic", now)
	require.NoError(t, err)

	final, err := m.End(now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, final.IsActive)

	_, err = m.End(now.Add(2 * time.Second))
	assert.ErrorIs(t, err, ErrNoSession)
	_, _, err = m.DrawCard(&models.Card{ID: "card-1"}, now)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_CardAndMessageDeltasAreIdempotent(t *testing.T) {
	m := NewManager()
	now := time.Now()
	_, err := m.Create("couple-1", "anna", "romantic", now)
	require.NoError(t, err)

	card := &models.Card{ID: "card-1", Text: "truth or dare", DrawnBy: "anna", DrawnAt: now}
	sess, applied, err := m.DrawCard(card, now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "card-1", sess.CurrentCard.ID)
	assert.Len(t, sess.SharedHistory, 1)

	// Duplicate delivery of the same card id is a no-op.
	sess, applied, err = m.DrawCard(card, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, sess.SharedHistory, 1)

	msg := &models.SessionMessage{ID: "m-1", SenderID: "anna", Text: "hi", SentAt: now}
	_, applied, err = m.AddMessage(msg, now)
	require.NoError(t, err)
	assert.True(t, applied)
	sess, applied, err = m.AddMessage(msg, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, sess.Messages, 1)

	shared := &models.Card{ID: "card-2", Text: "bonus"}
	sess, applied, err = m.ShareCard(shared, now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, sess.SharedHistory, 2)
	// Sharing does not replace the current card.
	assert.Equal(t, "card-1", sess.CurrentCard.ID)
}

func TestManager_AdoptIsIdempotentAndRecencyDriven(t *testing.T) {
	m := NewManager()
	now := time.Now()
	remote := &models.GameSession{
		ID:        "s-1",
		CoupleID:  "couple-1",
		CreatedBy: "anna",
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Participants: map[string]models.SessionParticipant{
			"anna": {JoinedAt: now, IsActive: true},
		},
	}

	_, changed := m.Adopt(remote)
	assert.True(t, changed)
	_, changed = m.Adopt(remote)
	assert.False(t, changed)

	// An older copy of the same session is ignored.
	stale := *remote
	stale.UpdatedAt = now.Add(-time.Minute)
	stale.SessionType = "stale"
	got, changed := m.Adopt(&stale)
	assert.False(t, changed)
	assert.NotEqual(t, "stale", got.SessionType)

	// Termination applies even without a newer timestamp.
	ended := *remote
	ended.IsActive = false
	got, changed = m.Adopt(&ended)
	assert.True(t, changed)
	assert.False(t, got.IsActive)

	// A stale active copy cannot revive the ended session.
	_, changed = m.Adopt(remote)
	assert.False(t, changed)
}

func TestManager_AdoptKeepsLocalDeltasMissingFromEcho(t *testing.T) {
	m := NewManager()
	now := time.Now()
	sess, err := m.Create("couple-1", "anna", "romantic", now)
	require.NoError(t, err)

	local := &models.SessionMessage{ID: "m-local", SenderID: "anna", Text: "hi", SentAt: now}
	_, _, err = m.AddMessage(local, now.Add(10*time.Millisecond))
	require.NoError(t, err)

	// The peer's echo was written concurrently: newer, carrying its own
	// deltas but not ours.
	echo := *sess
	echo.UpdatedAt = now.Add(20 * time.Millisecond)
	echo.Messages = []models.SessionMessage{{ID: "m-peer", SenderID: "ben", Text: "yo", SentAt: now}}
	echo.SharedHistory = []models.Card{{ID: "card-peer", Text: "truth", DrawnBy: "ben", DrawnAt: now}}
	echo.Participants = map[string]models.SessionParticipant{
		"anna": {JoinedAt: now, IsActive: true},
		"ben":  {JoinedAt: now, IsActive: true},
	}

	adopted, changed := m.Adopt(&echo)
	require.True(t, changed)
	assert.True(t, adopted.HasMessage("m-peer"))
	assert.True(t, adopted.HasMessage("m-local"))
	assert.True(t, adopted.HasSharedCard("card-peer"))
	assert.Contains(t, adopted.Participants, "ben")

	// Same guarantee when the echo terminates the session.
	final := echo
	final.IsActive = false
	final.Messages = echo.Messages[:1]
	adopted, changed = m.Adopt(&final)
	require.True(t, changed)
	assert.False(t, adopted.IsActive)
	assert.True(t, adopted.HasMessage("m-local"))
}

func TestManager_LateRecordOfSupersededSessionIgnored(t *testing.T) {
	m := NewManager()
	now := time.Now()
	_, err := m.Create("couple-1", "anna", "romantic", now)
	require.NoError(t, err)
	current, _ := m.Current()

	old := &models.GameSession{
		ID:        "s-old",
		CoupleID:  "couple-1",
		IsActive:  false,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	got, changed := m.Adopt(old)
	assert.False(t, changed)
	assert.Equal(t, current.ID, got.ID)
}

func TestManager_RecoverySemantics(t *testing.T) {
	m := NewManager()
	now := time.Now()
	stored := &models.GameSession{
		ID:        "s-1",
		CoupleID:  "couple-1",
		CreatedBy: "anna",
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Participants: map[string]models.SessionParticipant{
			"anna": {JoinedAt: now, IsActive: true},
		},
	}

	m.Rehydrate(stored)
	assert.True(t, m.Resumable())

	// Create is blocked while the resume-versus-terminate decision is
	// pending.
	_, err := m.Create("couple-1", "anna", "romantic", now)
	assert.ErrorIs(t, err, ErrActiveSession)

	sess, err := m.Resume("anna", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "s-1", sess.ID)
	assert.False(t, m.Resumable())

	_, err = m.Resume("anna", now.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_RehydratedEndedSessionNotResumable(t *testing.T) {
	m := NewManager()
	m.Rehydrate(&models.GameSession{ID: "s-1", CoupleID: "couple-1", IsActive: false})
	assert.False(t, m.Resumable())
}
