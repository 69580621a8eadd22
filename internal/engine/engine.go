// Package engine ties the identity registry, presence tracker, pairing
// coordinator, request ledger and session manager into one instance per
// client process. Engines coordinate only through the shared store and
// the broadcast channel; there is no authoritative server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/FaVaGit/CardApp-sub001/internal/config"
	"github.com/FaVaGit/CardApp-sub001/internal/identity"
	"github.com/FaVaGit/CardApp-sub001/internal/ledger"
	"github.com/FaVaGit/CardApp-sub001/internal/models"
	"github.com/FaVaGit/CardApp-sub001/internal/pairing"
	"github.com/FaVaGit/CardApp-sub001/internal/presence"
	"github.com/FaVaGit/CardApp-sub001/internal/session"
	"github.com/FaVaGit/CardApp-sub001/internal/store"
	"github.com/FaVaGit/CardApp-sub001/internal/transport"
)

var (
	// ErrStoreUnavailable is fatal: without a shared store there is no
	// coordination path at all.
	ErrStoreUnavailable = errors.New("shared store unavailable")

	// ErrNotLoggedIn is returned by commands that need a current user.
	ErrNotLoggedIn = errors.New("no current user")
)

// Engine is one client process's presence and pairing engine. Construct
// one per process with New and hand it to UI collaborators by reference;
// there is no ambient global instance.
type Engine struct {
	cfg      config.EngineConfig
	log      zerolog.Logger
	registry *identity.Registry
	store    store.SharedStore
	bus      transport.Broadcast

	tracker     *presence.Tracker
	coordinator *pairing.Coordinator
	sessions    *session.Manager
	invites     *ledger.Ledger

	mu          sync.Mutex
	currentID   string
	subscribers []func(Event)
	kick        chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// New constructs an engine. The shared store is mandatory; a nil
// broadcast degrades to the no-op transport so the store poll remains
// the only propagation path, which the protocol tolerates.
func New(cfg config.EngineConfig, registry *identity.Registry, st store.SharedStore, bus transport.Broadcast, logger zerolog.Logger) (*Engine, error) {
	if st == nil {
		return nil, ErrStoreUnavailable
	}
	if bus == nil {
		bus = transport.Noop{}
	}

	tracker := presence.NewTracker(cfg.LivenessWindow)
	e := &Engine{
		cfg:         cfg,
		log:         logger.With().Str("window_id", registry.WindowID()).Logger(),
		registry:    registry,
		store:       st,
		bus:         bus,
		tracker:     tracker,
		coordinator: pairing.NewCoordinator(tracker),
		sessions:    session.NewManager(),
		kick:        make(chan struct{}, 1),
	}
	e.invites = ledger.New(cfg.InviteTTL, e.persistPrunedCount)

	bus.Subscribe(e.handleEnvelope)
	st.Watch(func(key string) {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	})
	return e, nil
}

// Subscribe registers a UI event handler. Handlers run synchronously on
// the goroutine that produced the event and must return quickly.
func (e *Engine) Subscribe(handler func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, handler)
}

// Start rehydrates state from the shared store and starts the heartbeat
// and reconciliation timers. It must be called once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if err := e.rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}

	e.wg.Add(2)
	go e.heartbeatLoop(ctx)
	go e.reconcileLoop(ctx)
	e.log.Info().Msg("Engine started")
	return nil
}

// Close stops the timers and the broadcast transport.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	return e.bus.Close()
}

// CurrentUser returns the logged-in user, if any.
func (e *Engine) CurrentUser() (*models.User, bool) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return e.tracker.Get(id)
}

// OnlineUsers returns the derived online-users view.
func (e *Engine) OnlineUsers() []*models.User {
	return e.tracker.OnlineUsers()
}

// CurrentCouple returns the caller's active pairing, if any.
func (e *Engine) CurrentCouple() (*models.Couple, bool) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return e.coordinator.ActiveCoupleOf(id)
}

// CurrentSession returns the session the engine holds, active or ended.
func (e *Engine) CurrentSession() (*models.GameSession, bool) {
	return e.sessions.Current()
}

// PendingInvites returns the caller's optimistic requests not yet
// confirmed, expired or cancelled.
func (e *Engine) PendingInvites() []*models.JoinRequest {
	return e.invites.Pending()
}

// PrunedInviteCount returns the cumulative count of expired invites.
func (e *Engine) PrunedInviteCount() uint64 {
	return e.invites.PrunedCount()
}

// rehydrate restores engine state from the shared store before any
// broadcast-driven updates are consumed.
func (e *Engine) rehydrate(ctx context.Context) error {
	users, err := store.LoadUsers(ctx, e.store)
	if err != nil {
		return err
	}
	for _, u := range users {
		e.tracker.Merge(u)
	}

	couples, err := store.LoadCouples(ctx, e.store)
	if err != nil {
		return err
	}
	for _, c := range couples {
		e.coordinator.Apply(c)
	}

	invites, err := store.LoadInvites(ctx, e.store)
	if err != nil {
		return err
	}
	e.invites.Reconcile(invites)

	metrics, err := store.LoadInviteMetrics(ctx, e.store)
	if err != nil {
		return err
	}
	e.invites.SeedPrunedCount(metrics.PrunedCount)

	// Recover identity: the freshest user registered from this device
	// becomes the current user again after a reload.
	if u, ok := e.tracker.ByDevice(e.registry.DeviceID()); ok {
		e.mu.Lock()
		e.currentID = u.ID
		e.mu.Unlock()
		e.log.Info().Str("user_id", u.ID).Msg("Recovered identity from store")

		if couple, ok := e.coordinator.ActiveCoupleOf(u.ID); ok {
			sess, err := store.LoadSession(ctx, e.store, couple.ID)
			if err != nil {
				return err
			}
			if sess != nil && sess.IsActive {
				e.sessions.Rehydrate(sess)
				e.emit(Event{Type: EventSessionResumable, Session: sess, Couple: couple})
			}
		}
	}
	return nil
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeat(ctx)
		}
	}
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcile(ctx)
		case <-e.kick:
			e.reconcile(ctx)
		}
	}
}

// heartbeat refreshes the local user's presence, persists it, and
// broadcasts it. The local user is optimistically online before any
// round trip confirms.
func (e *Engine) heartbeat(ctx context.Context) {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()

	now := time.Now()
	var events []Event

	if id != "" {
		e.tracker.Touch(id, now)
		if err := e.persistUsers(ctx); err != nil {
			e.log.Error().Err(err).Msg("Failed to persist heartbeat")
		}
		if u, ok := e.tracker.Get(id); ok {
			e.announce(ctx, &models.Envelope{Type: models.EnvPresence, Timestamp: now, User: u})
		}
	}

	for _, flipped := range e.tracker.Sweep(now) {
		events = append(events, Event{Type: EventPresenceUpdated, User: flipped})
	}
	// Partner liveness comes from the freshest membership record, never
	// from a cached couple copy.
	if id != "" {
		if couple, changed := e.coordinator.RefreshMemberPresence(id); changed {
			events = append(events, Event{Type: EventPresenceUpdated, Couple: couple})
		}
	}
	e.emit(events...)
}

// reconcile is the pull path: it merges every store collection into the
// in-memory components. Either this or the broadcast push path alone is
// sufficient for correctness.
func (e *Engine) reconcile(ctx context.Context) {
	var events []Event
	now := time.Now()

	users, err := store.LoadUsers(ctx, e.store)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to load users")
		return
	}
	for _, u := range users {
		if merged, changed := e.tracker.Merge(u); changed {
			events = append(events, Event{Type: EventPresenceUpdated, User: merged})
		}
	}

	couples, err := store.LoadCouples(ctx, e.store)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to load couples")
		return
	}
	for _, c := range couples {
		events = append(events, e.applyCouple(ctx, c, now)...)
	}

	invites, err := store.LoadInvites(ctx, e.store)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to load invites")
		return
	}
	e.invites.Reconcile(invites)
	if pruned := e.invites.PruneExpired(now); pruned > 0 {
		e.log.Info().Int("pruned", pruned).Uint64("total", e.invites.PrunedCount()).Msg("Pruned expired invites")
	}

	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id != "" {
		if couple, ok := e.coordinator.ActiveCoupleOf(id); ok {
			sess, err := store.LoadSession(ctx, e.store, couple.ID)
			if err != nil {
				e.log.Error().Err(err).Msg("Failed to load session")
			} else if sess != nil {
				events = append(events, e.adoptSession(ctx, sess, now)...)
			}
		}
	}

	e.emit(events...)
}

// applyCouple reconciles a couple record and turns coordinator results
// into UI events, ending any session owned by a couple that went
// inactive.
func (e *Engine) applyCouple(ctx context.Context, c *models.Couple, now time.Time) []Event {
	res := e.coordinator.Apply(c)
	var events []Event
	if res.Created != nil {
		events = append(events, Event{Type: EventPairingCreated, Couple: res.Created})
	}
	for _, ended := range res.Ended {
		events = append(events, Event{Type: EventPairingEnded, Couple: ended})
		if sess, ok := e.sessions.Current(); ok && sess.CoupleID == ended.ID && sess.IsActive {
			if final, err := e.sessions.End(now); err == nil {
				events = append(events, Event{Type: EventSessionEnded, Session: final})
			}
		}
	}
	return events
}

// adoptSession reconciles a session record, auto-joining the local user
// when the session belongs to their couple, and derives lifecycle
// events from the transition.
func (e *Engine) adoptSession(ctx context.Context, sess *models.GameSession, now time.Time) []Event {
	prev, hadPrev := e.sessions.Current()
	adopted, changed := e.sessions.Adopt(sess)
	if !changed {
		return nil
	}

	var events []Event
	newSession := !hadPrev || prev.ID != adopted.ID
	if newSession && adopted.IsActive {
		events = append(events, Event{Type: EventSessionCreated, Session: adopted})
	}
	if adopted.IsActive {
		// Joining a session is implicit membership in its owning couple.
		e.mu.Lock()
		id := e.currentID
		e.mu.Unlock()
		if id != "" {
			if joined, didJoin := e.sessions.Join(id, now); didJoin {
				if err := store.SaveSession(ctx, e.store, joined); err != nil {
					e.log.Error().Err(err).Msg("Failed to persist session join")
				}
				e.announce(ctx, &models.Envelope{Type: models.EnvSessionCreated, Timestamp: now, Session: joined})
			}
		}
	}
	if !adopted.IsActive && (!hadPrev || prev.IsActive) {
		events = append(events, Event{Type: EventSessionEnded, Session: adopted})
	}
	if !newSession && adopted.IsActive {
		// Diff by ID, not by position: adoption may interleave the peer's
		// deltas with ones kept from the local copy.
		for i := range adopted.SharedHistory {
			card := adopted.SharedHistory[i]
			if prev.HasSharedCard(card.ID) {
				continue
			}
			events = append(events, Event{Type: EventCardDrawn, Session: adopted, Card: &card})
		}
		for i := range adopted.Messages {
			msg := adopted.Messages[i]
			if prev.HasMessage(msg.ID) {
				continue
			}
			events = append(events, Event{Type: EventMessageReceived, Session: adopted, Message: &msg})
		}
	}
	return events
}

// handleEnvelope is the push path: inbound broadcast envelopes are
// merged through the same reconciliation functions as store reads.
// Envelopes arrive unordered and possibly duplicated; every application
// below is idempotent.
func (e *Engine) handleEnvelope(env *models.Envelope) {
	ctx := context.Background()
	now := time.Now()
	var events []Event

	switch env.Type {
	case models.EnvUserJoined:
		if env.User != nil {
			if merged, changed := e.tracker.Merge(env.User); changed {
				events = append(events, Event{Type: EventUserJoined, User: merged})
			}
		}
	case models.EnvUserLeft:
		if env.User != nil {
			e.tracker.Merge(env.User)
			e.tracker.MarkOffline(env.User.ID)
			if u, ok := e.tracker.Get(env.User.ID); ok {
				events = append(events, Event{Type: EventUserLeft, User: u})
			}
		}
	case models.EnvPresence:
		if env.User != nil {
			if merged, changed := e.tracker.Merge(env.User); changed {
				events = append(events, Event{Type: EventPresenceUpdated, User: merged})
			}
			e.mu.Lock()
			id := e.currentID
			e.mu.Unlock()
			if id != "" {
				if couple, changed := e.coordinator.RefreshMemberPresence(id); changed {
					events = append(events, Event{Type: EventPresenceUpdated, Couple: couple})
				}
			}
		}
	case models.EnvPairingCreated, models.EnvPairingEnded:
		if env.Couple != nil {
			events = append(events, e.applyCouple(ctx, env.Couple, now)...)
		}
	case models.EnvSessionCreated, models.EnvSessionEnded, models.EnvCardDrawn, models.EnvMessageReceived:
		if env.Session != nil && e.sessionIsMine(env.Session) {
			events = append(events, e.adoptSession(ctx, env.Session, now)...)
		}
	case models.EnvStoreSync:
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}

	e.emit(events...)
}

// sessionIsMine reports whether a session belongs to the local user's
// active couple.
func (e *Engine) sessionIsMine(sess *models.GameSession) bool {
	e.mu.Lock()
	id := e.currentID
	e.mu.Unlock()
	if id == "" {
		return false
	}
	couple, ok := e.coordinator.ActiveCoupleOf(id)
	return ok && couple.ID == sess.CoupleID
}

// announce publishes an envelope on the broadcast channel and leaves the
// transient store signal for processes that cannot observe broadcasts.
// Both paths are best-effort; the periodic poll remains the backstop.
func (e *Engine) announce(ctx context.Context, env *models.Envelope) {
	env.ID = newEnvelopeID()
	if err := e.bus.Publish(ctx, env); err != nil {
		e.log.Warn().Err(err).Str("type", env.Type).Msg("Broadcast publish failed, store fallback only")
	}
	if err := store.SignalUpdate(ctx, e.store, env); err != nil {
		e.log.Warn().Err(err).Str("type", env.Type).Msg("Store signal failed")
	}
}

// persistUsers writes the users collection. The whole collection lives
// under one store key, so records concurrent writers stored since our
// last observation are merged in first; a plain overwrite would erase
// them.
func (e *Engine) persistUsers(ctx context.Context) error {
	stored, err := store.LoadUsers(ctx, e.store)
	if err != nil {
		return err
	}
	var events []Event
	for _, u := range stored {
		if merged, changed := e.tracker.Merge(u); changed {
			events = append(events, Event{Type: EventPresenceUpdated, User: merged})
		}
	}
	if err := store.SaveUsers(ctx, e.store, e.tracker.All()); err != nil {
		return err
	}
	e.emit(events...)
	return nil
}

// persistCouples writes the couples collection, read-merge-write like
// persistUsers. Reconciling the stored records before writing also
// resolves a concurrent mutually-targeting pairing right here: the
// later-created couple is deactivated and both records land in the
// store, so every peer observes the same winner.
func (e *Engine) persistCouples(ctx context.Context) error {
	stored, err := store.LoadCouples(ctx, e.store)
	if err != nil {
		return err
	}
	now := time.Now()
	var events []Event
	for _, c := range stored {
		events = append(events, e.applyCouple(ctx, c, now)...)
	}
	if err := store.SaveCouples(ctx, e.store, e.coordinator.All()); err != nil {
		return err
	}
	e.emit(events...)
	return nil
}

func (e *Engine) persistPrunedCount(count uint64) {
	ctx := context.Background()
	if err := store.SaveInviteMetrics(ctx, e.store, store.InviteMetrics{PrunedCount: count}); err != nil {
		e.log.Error().Err(err).Msg("Failed to persist invite metrics")
	}
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	subs := make([]func(Event), len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()
	for _, ev := range events {
		for _, s := range subs {
			s(ev)
		}
	}
}
