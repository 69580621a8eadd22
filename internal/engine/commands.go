package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FaVaGit/CardApp-sub001/internal/identity"
	"github.com/FaVaGit/CardApp-sub001/internal/models"
	"github.com/FaVaGit/CardApp-sub001/internal/pairing"
	"github.com/FaVaGit/CardApp-sub001/internal/session"
	"github.com/FaVaGit/CardApp-sub001/internal/store"
)

const maxCodeAttempts = 10

// Register creates a new user bound to this device, makes it the
// current user and announces it to the fleet.
func (e *Engine) Register(ctx context.Context, name, nickname, gameType string) (*models.User, error) {
	code, err := e.uniquePersonalCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:                  uuid.New().String(),
		Name:                name,
		Nickname:            nickname,
		PersonalCode:        code,
		GameType:            gameType,
		AvailableForPairing: true,
		IsOnline:            true,
		LastSeen:            now,
		DeviceID:            e.registry.DeviceID(),
		CreatedAt:           now,
	}
	e.tracker.Merge(user)

	e.mu.Lock()
	e.currentID = user.ID
	e.mu.Unlock()

	if err := e.persistUsers(ctx); err != nil {
		return nil, err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvUserJoined, Timestamp: now, User: user})
	e.emit(Event{Type: EventUserJoined, User: user})

	e.log.Info().Str("user_id", user.ID).Str("code", code).Msg("User registered")
	return user, nil
}

// Login makes the user holding personalCode the current user and
// refreshes their presence.
func (e *Engine) Login(ctx context.Context, personalCode string) (*models.User, error) {
	user, ok := e.tracker.ByCode(personalCode)
	if !ok {
		return nil, pairing.ErrNotFound
	}

	now := time.Now()
	e.tracker.Touch(user.ID, now)
	e.mu.Lock()
	e.currentID = user.ID
	e.mu.Unlock()

	if err := e.persistUsers(ctx); err != nil {
		return nil, err
	}
	user, _ = e.tracker.Get(user.ID)
	e.announce(ctx, &models.Envelope{Type: models.EnvPresence, Timestamp: now, User: user})
	e.emit(Event{Type: EventPresenceUpdated, User: user})

	e.log.Info().Str("user_id", user.ID).Msg("User logged in")
	return user, nil
}

// Logout takes the current user offline and announces the departure.
// The user's pairing, if any, stays intact for a later login.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return ErrNotLoggedIn
	}

	now := time.Now()
	user, _ := e.tracker.Depart(id, now)
	e.mu.Lock()
	e.currentID = ""
	e.mu.Unlock()

	if err := e.persistUsers(ctx); err != nil {
		return err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvUserLeft, Timestamp: now, User: user})
	e.emit(Event{Type: EventUserLeft, User: user})
	return nil
}

// RequestPairing pairs the current user with the holder of personalCode.
// The request is recorded optimistically before the store round trip;
// on failure the record is cancelled, on success it is confirmed once
// the write lands.
func (e *Engine) RequestPairing(ctx context.Context, personalCode string) (*models.Couple, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}

	target, ok := e.tracker.ByCode(personalCode)
	if !ok {
		return nil, pairing.ErrNotFound
	}
	if target.ID == id {
		return nil, pairing.ErrSelfPairing
	}

	requestID := e.invites.RecordOptimistic(id, target.ID)

	now := time.Now()
	couple, err := e.coordinator.RequestPairing(id, personalCode, now)
	if err != nil {
		e.invites.Cancel(requestID)
		return nil, err
	}

	if err := e.persistPairingState(ctx, requestID); err != nil {
		return nil, err
	}
	e.invites.Confirm(requestID)

	e.announce(ctx, &models.Envelope{Type: models.EnvPairingCreated, Timestamp: now, Couple: couple})
	e.emit(Event{Type: EventPairingCreated, Couple: couple})

	e.log.Info().
		Str("user_id", id).
		Str("partner_id", target.ID).
		Str("couple_id", couple.ID).
		Msg("Pairing created")
	return couple, nil
}

// LeavePairing dissolves the current user's active pairing. The former
// partner is not called synchronously; their process reconciles the
// deactivated record from the store or broadcast channel.
func (e *Engine) LeavePairing(ctx context.Context) (*models.Couple, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}

	now := time.Now()
	ended, err := e.coordinator.Leave(id, now)
	if err != nil {
		return nil, err
	}

	var events []Event
	if sess, ok := e.sessions.Current(); ok && sess.CoupleID == ended.ID && sess.IsActive {
		if final, endErr := e.sessions.End(now); endErr == nil {
			if err := store.SaveSession(ctx, e.store, final); err != nil {
				e.log.Error().Err(err).Msg("Failed to persist ended session")
			}
			e.announce(ctx, &models.Envelope{Type: models.EnvSessionEnded, Timestamp: now, Session: final})
			events = append(events, Event{Type: EventSessionEnded, Session: final})
		}
	}

	if err := e.persistCouples(ctx); err != nil {
		return nil, err
	}
	if err := e.persistUsers(ctx); err != nil {
		return nil, err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvPairingEnded, Timestamp: now, Couple: ended})
	events = append(events, Event{Type: EventPairingEnded, Couple: ended})
	e.emit(events...)

	e.log.Info().Str("user_id", id).Str("couple_id", ended.ID).Msg("Pairing ended")
	return ended, nil
}

// SwitchPairing leaves the current pairing and joins the holder of
// personalCode as one externally-visible operation: the target is
// validated before anything is dissolved, so a caller never trades an
// existing pairing for a protocol error it could have been told about
// up front.
func (e *Engine) SwitchPairing(ctx context.Context, personalCode string) (*models.Couple, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}

	target, ok := e.tracker.ByCode(personalCode)
	if !ok {
		return nil, pairing.ErrNotFound
	}
	if target.ID == id {
		return nil, pairing.ErrSelfPairing
	}

	if current, paired := e.coordinator.ActiveCoupleOf(id); paired {
		if current.PartnerOf(id) == target.ID {
			return current, nil
		}
		if partnerCouple, taken := e.coordinator.ActiveCoupleOf(target.ID); taken && !partnerCouple.HasMember(id) {
			return nil, &pairing.UnavailableError{TargetUserID: target.ID, TargetCode: target.PersonalCode}
		}
		if _, err := e.LeavePairing(ctx); err != nil {
			return nil, fmt.Errorf("failed to leave current pairing: %w", err)
		}
	}

	return e.RequestPairing(ctx, personalCode)
}

// CancelInvite cancels a pending optimistic request and, best-effort,
// suppresses its store echo if the write has already landed.
func (e *Engine) CancelInvite(ctx context.Context, requestID string) bool {
	if !e.invites.Cancel(requestID) {
		return false
	}
	invites, err := store.LoadInvites(ctx, e.store)
	if err != nil {
		return true
	}
	if _, ok := invites[requestID]; ok {
		delete(invites, requestID)
		if err := store.SaveInvites(ctx, e.store, invites); err != nil {
			e.log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to suppress cancelled invite")
		}
	}
	return true
}

// CreateSession starts a game session for the current user's active
// pairing. The partner joins implicitly on observing the session.
func (e *Engine) CreateSession(ctx context.Context, sessionType string) (*models.GameSession, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}
	couple, ok := e.coordinator.ActiveCoupleOf(id)
	if !ok {
		return nil, pairing.ErrNoActivePairing
	}

	now := time.Now()
	sess, err := e.sessions.Create(couple.ID, id, sessionType, now)
	if err != nil {
		return nil, err
	}
	if err := store.SaveSession(ctx, e.store, sess); err != nil {
		return nil, err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvSessionCreated, Timestamp: now, Session: sess})
	e.emit(Event{Type: EventSessionCreated, Session: sess})

	e.log.Info().Str("session_id", sess.ID).Str("couple_id", couple.ID).Msg("Session created")
	return sess, nil
}

// EndSession terminates the current session and notifies the fleet so
// the partner is never left believing a session still exists.
func (e *Engine) EndSession(ctx context.Context) error {
	now := time.Now()
	final, err := e.sessions.End(now)
	if err != nil {
		return err
	}
	if err := store.SaveSession(ctx, e.store, final); err != nil {
		return err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvSessionEnded, Timestamp: now, Session: final})
	e.emit(Event{Type: EventSessionEnded, Session: final})
	return nil
}

// DrawCard draws a card into the current session.
func (e *Engine) DrawCard(ctx context.Context, title, text string) (*models.Card, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}

	now := time.Now()
	card := &models.Card{
		ID:      uuid.New().String(),
		Title:   title,
		Text:    text,
		DrawnBy: id,
		DrawnAt: now,
	}
	sess, _, err := e.sessions.DrawCard(card, now)
	if err != nil {
		return nil, err
	}
	if err := store.SaveSession(ctx, e.store, sess); err != nil {
		return nil, err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvCardDrawn, Timestamp: now, Session: sess, Card: card})
	e.emit(Event{Type: EventCardDrawn, Session: sess, Card: card})
	return card, nil
}

// ShareCard adds an externally-sourced card to the session's shared
// history. Sharing the same card twice is a no-op.
func (e *Engine) ShareCard(ctx context.Context, card *models.Card) error {
	now := time.Now()
	sess, added, err := e.sessions.ShareCard(card, now)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	if err := store.SaveSession(ctx, e.store, sess); err != nil {
		return err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvCardDrawn, Timestamp: now, Session: sess, Card: card})
	e.emit(Event{Type: EventCardDrawn, Session: sess, Card: card})
	return nil
}

// SendMessage appends a chat message to the current session.
func (e *Engine) SendMessage(ctx context.Context, text string) (*models.SessionMessage, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}

	now := time.Now()
	msg := &models.SessionMessage{
		ID:       uuid.New().String(),
		SenderID: id,
		Text:     text,
		SentAt:   now,
	}
	sess, _, err := e.sessions.AddMessage(msg, now)
	if err != nil {
		return nil, err
	}
	if err := store.SaveSession(ctx, e.store, sess); err != nil {
		return nil, err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvMessageReceived, Timestamp: now, Session: sess, Message: msg})
	e.emit(Event{Type: EventMessageReceived, Session: sess, Message: msg})
	return msg, nil
}

// SessionResumable reports whether a rehydrated session awaits the
// caller's resume-versus-terminate decision.
func (e *Engine) SessionResumable() bool {
	return e.sessions.Resumable()
}

// ResumeSession accepts the rehydrated session and rejoins it.
func (e *Engine) ResumeSession(ctx context.Context) (*models.GameSession, error) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, ErrNotLoggedIn
	}

	now := time.Now()
	sess, err := e.sessions.Resume(id, now)
	if err != nil {
		return nil, err
	}
	if err := store.SaveSession(ctx, e.store, sess); err != nil {
		return nil, err
	}
	e.announce(ctx, &models.Envelope{Type: models.EnvSessionCreated, Timestamp: now, Session: sess})
	return sess, nil
}

// TerminateAndRestartSession discards the rehydrated (or current)
// session, notifying the peer of the termination, and starts a fresh
// one of the given type. It is the mutually exclusive alternative to
// ResumeSession.
func (e *Engine) TerminateAndRestartSession(ctx context.Context, sessionType string) (*models.GameSession, error) {
	if err := e.EndSession(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}
	return e.CreateSession(ctx, sessionType)
}

// ClearAllUsers wipes the shared store and every local collection. It
// is a debug operation; peers pick the wipe up through the sync signal
// and their next reconciliation.
func (e *Engine) ClearAllUsers(ctx context.Context) error {
	for coupleID := range e.coordinator.All() {
		if err := e.store.Remove(ctx, store.SessionKey(coupleID)); err != nil {
			return err
		}
	}
	for _, key := range []string{store.KeyUsers, store.KeyCouples, store.KeySentInvites} {
		if err := e.store.Remove(ctx, key); err != nil {
			return err
		}
	}

	e.tracker.Reset()
	e.coordinator.Reset()
	e.sessions.Reset()
	e.invites.Reset()
	e.mu.Lock()
	e.currentID = ""
	e.mu.Unlock()

	e.announce(ctx, &models.Envelope{Type: models.EnvStoreSync, Timestamp: time.Now()})
	e.log.Info().Msg("Cleared all users")
	return nil
}

// ForceRefresh runs a reconciliation pass immediately instead of
// waiting for the next poll tick.
func (e *Engine) ForceRefresh(ctx context.Context) {
	e.reconcile(ctx)
}

// persistPairingState writes the couples and users collections plus the
// authoritative invite echo in one pass.
func (e *Engine) persistPairingState(ctx context.Context, requestID string) error {
	if err := e.persistCouples(ctx); err != nil {
		return err
	}
	if err := e.persistUsers(ctx); err != nil {
		return err
	}
	req, ok := e.invites.Get(requestID)
	if !ok {
		return nil
	}
	invites, err := store.LoadInvites(ctx, e.store)
	if err != nil {
		return err
	}
	echo := *req
	echo.State = models.RequestConfirmed
	invites[requestID] = &echo
	return store.SaveInvites(ctx, e.store, invites)
}

// uniquePersonalCode generates a personal code not held by any known
// user, retrying a bounded number of times.
func (e *Engine) uniquePersonalCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := identity.NewPersonalCode()
		if !e.tracker.CodeExists(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique code after %d attempts", maxCodeAttempts)
}

func newEnvelopeID() string {
	return uuid.New().String()
}
