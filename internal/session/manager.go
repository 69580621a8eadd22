// Package session manages the shared game session owned by an active
// couple: lifecycle, card draws, messages and idempotent application of
// deltas observed from the peer.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

var (
	ErrNoSession     = errors.New("no active session")
	ErrActiveSession = errors.New("a session is already active")
)

// Manager tracks the local process's view of its couple's session:
// NoSession -> Active -> Ended. After a reload with a surviving session
// the manager holds it as resumable until the caller picks Resume or
// TerminateAndRestart.
type Manager struct {
	mu        sync.Mutex
	current   *models.GameSession
	resumable bool
}

// NewManager creates a manager with no session.
func NewManager() *Manager {
	return &Manager{}
}

// Create starts a new session for the given couple. It fails while
// another session is active or resumable.
func (m *Manager) Create(coupleID, createdBy, sessionType string, now time.Time) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.IsActive {
		return nil, ErrActiveSession
	}
	sess := &models.GameSession{
		ID:          uuid.New().String(),
		CoupleID:    coupleID,
		SessionType: sessionType,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsActive:    true,
		Participants: map[string]models.SessionParticipant{
			createdBy: {JoinedAt: now, IsActive: true},
		},
	}
	m.current = sess
	m.resumable = false
	return copySession(sess), nil
}

// Adopt replaces the local session with one observed from the store or
// broadcast channel. Adopting the already-held session state is a
// no-op; a record for the held session ID wins only by recency, except
// that termination is terminal. It returns the resulting copy and
// whether anything changed.
func (m *Manager) Adopt(incoming *models.GameSession) (*models.GameSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != incoming.ID {
		// A different session replaces the held one only when it is
		// fresher; envelopes arrive unordered, and a late record of an
		// already-superseded session must not clobber its successor.
		if m.current != nil && m.current.IsActive && !incoming.UpdatedAt.After(m.current.UpdatedAt) {
			return copySession(m.current), false
		}
		m.current = copySession(incoming)
		m.resumable = false
		return copySession(m.current), true
	}
	if m.current.IsActive && !incoming.IsActive {
		m.current = mergeLocalDeltas(copySession(incoming), m.current)
		return copySession(m.current), true
	}
	if !incoming.UpdatedAt.After(m.current.UpdatedAt) {
		return copySession(m.current), false
	}
	if !m.current.IsActive && incoming.IsActive {
		return copySession(m.current), false
	}
	m.current = mergeLocalDeltas(copySession(incoming), m.current)
	return copySession(m.current), true
}

// Rehydrate installs a session found in the store on process start. An
// active rehydrated session is held as resumable rather than silently
// resumed; the resume-versus-terminate decision belongs to the caller.
func (m *Manager) Rehydrate(sess *models.GameSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = copySession(sess)
	m.resumable = sess.IsActive
}

// Resumable reports whether a rehydrated session awaits the caller's
// resume-versus-terminate decision.
func (m *Manager) Resumable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumable
}

// Resume accepts the rehydrated session and returns it.
func (m *Manager) Resume(userID string, now time.Time) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.resumable || m.current == nil {
		return nil, ErrNoSession
	}
	m.resumable = false
	m.joinLocked(userID, now)
	return copySession(m.current), nil
}

// Join adds a participant to the active session. Joining twice is a
// no-op. It returns the session copy and whether membership changed.
func (m *Manager) Join(userID string, now time.Time) (*models.GameSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.IsActive {
		return nil, false
	}
	changed := m.joinLocked(userID, now)
	return copySession(m.current), changed
}

func (m *Manager) joinLocked(userID string, now time.Time) bool {
	if _, ok := m.current.Participants[userID]; ok {
		return false
	}
	if m.current.Participants == nil {
		m.current.Participants = make(map[string]models.SessionParticipant)
	}
	m.current.Participants[userID] = models.SessionParticipant{JoinedAt: now, IsActive: true}
	m.current.UpdatedAt = now
	return true
}

// End terminates the current session and returns its final state.
func (m *Manager) End(now time.Time) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.IsActive {
		return nil, ErrNoSession
	}
	m.current.IsActive = false
	m.current.UpdatedAt = now
	m.resumable = false
	return copySession(m.current), nil
}

// DrawCard makes card the session's current card and appends it to the
// shared history. Re-applying a card already in the history is a no-op.
func (m *Manager) DrawCard(card *models.Card, now time.Time) (*models.GameSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.IsActive {
		return nil, false, ErrNoSession
	}
	if m.current.HasSharedCard(card.ID) {
		return copySession(m.current), false, nil
	}
	cp := *card
	m.current.CurrentCard = &cp
	m.current.SharedHistory = append(m.current.SharedHistory, cp)
	m.current.UpdatedAt = now
	return copySession(m.current), true, nil
}

// ShareCard appends card to the shared history without replacing the
// current card. Duplicate card IDs are a no-op.
func (m *Manager) ShareCard(card *models.Card, now time.Time) (*models.GameSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.IsActive {
		return nil, false, ErrNoSession
	}
	if m.current.HasSharedCard(card.ID) {
		return copySession(m.current), false, nil
	}
	m.current.SharedHistory = append(m.current.SharedHistory, *card)
	m.current.UpdatedAt = now
	return copySession(m.current), true, nil
}

// AddMessage appends a message to the session. Duplicate message IDs
// are a no-op.
func (m *Manager) AddMessage(msg *models.SessionMessage, now time.Time) (*models.GameSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.IsActive {
		return nil, false, ErrNoSession
	}
	if m.current.HasMessage(msg.ID) {
		return copySession(m.current), false, nil
	}
	m.current.Messages = append(m.current.Messages, *msg)
	m.current.UpdatedAt = now
	return copySession(m.current), true, nil
}

// Current returns a copy of the session the manager holds, active or
// ended.
func (m *Manager) Current() (*models.GameSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, false
	}
	return copySession(m.current), true
}

// Reset drops the current session.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.resumable = false
}

// mergeLocalDeltas folds deltas applied locally but missing from an
// adopted record of the same session back in, keyed by ID. Without it a
// peer's concurrently written echo would silently drop a message or
// card appended here between two observations.
func mergeLocalDeltas(adopted, prev *models.GameSession) *models.GameSession {
	for _, msg := range prev.Messages {
		if !adopted.HasMessage(msg.ID) {
			adopted.Messages = append(adopted.Messages, msg)
		}
	}
	for _, card := range prev.SharedHistory {
		if !adopted.HasSharedCard(card.ID) {
			adopted.SharedHistory = append(adopted.SharedHistory, card)
		}
	}
	for id, p := range prev.Participants {
		if _, ok := adopted.Participants[id]; !ok {
			adopted.Participants[id] = p
		}
	}
	return adopted
}

func copySession(s *models.GameSession) *models.GameSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = append([]models.SessionMessage(nil), s.Messages...)
	cp.SharedHistory = append([]models.Card(nil), s.SharedHistory...)
	cp.Participants = make(map[string]models.SessionParticipant, len(s.Participants))
	for id, p := range s.Participants {
		cp.Participants[id] = p
	}
	if s.CurrentCard != nil {
		card := *s.CurrentCard
		cp.CurrentCard = &card
	}
	return &cp
}
