package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// Well-known keys of the shared store.
const (
	KeyUsers         = "users"
	KeyCouples       = "couples"
	KeySessionPrefix = "game_session:"
	KeySentInvites   = "sent_invites"
	KeyInviteMetrics = "invite_metrics"
	KeySessionUpdate = "session_update"
)

// SharedStore is the key-value store visible to every process on the
// same origin. It is both the system of record that a process rehydrates
// from after a reload and the fallback transport for processes that
// cannot observe the broadcast channel. All values are last-writer-wins
// at the key level; higher-level invariants are enforced by merge logic
// in the consumers, never by the store.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Watch registers a handler invoked with the key of every write made
	// to the store. Implementations that cannot push change notifications
	// may never invoke the handler; consumers must keep a periodic poll
	// as the second reconciliation path.
	Watch(handler func(key string))
}

// SessionKey returns the store key holding the session of a couple.
func SessionKey(coupleID string) string {
	return KeySessionPrefix + coupleID
}

// InviteMetrics is the persisted counter state of the request ledger.
type InviteMetrics struct {
	PrunedCount uint64 `json:"pruned_count"`
}

// LoadUsers reads the users collection, returning an empty map when the
// key is absent.
func LoadUsers(ctx context.Context, s SharedStore) (map[string]*models.User, error) {
	out := make(map[string]*models.User)
	if err := loadJSON(ctx, s, KeyUsers, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveUsers writes the users collection.
func SaveUsers(ctx context.Context, s SharedStore, users map[string]*models.User) error {
	return saveJSON(ctx, s, KeyUsers, users)
}

// LoadCouples reads the couples collection, returning an empty map when
// the key is absent.
func LoadCouples(ctx context.Context, s SharedStore) (map[string]*models.Couple, error) {
	out := make(map[string]*models.Couple)
	if err := loadJSON(ctx, s, KeyCouples, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCouples writes the couples collection.
func SaveCouples(ctx context.Context, s SharedStore, couples map[string]*models.Couple) error {
	return saveJSON(ctx, s, KeyCouples, couples)
}

// LoadSession reads the session of a couple; it returns (nil, nil) when
// no session exists.
func LoadSession(ctx context.Context, s SharedStore, coupleID string) (*models.GameSession, error) {
	var sess models.GameSession
	err := loadJSON(ctx, s, SessionKey(coupleID), &sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// SaveSession writes the session of a couple.
func SaveSession(ctx context.Context, s SharedStore, sess *models.GameSession) error {
	return saveJSON(ctx, s, SessionKey(sess.CoupleID), sess)
}

// LoadInvites reads the sent-invites ledger, returning an empty map when
// the key is absent.
func LoadInvites(ctx context.Context, s SharedStore) (map[string]*models.JoinRequest, error) {
	out := make(map[string]*models.JoinRequest)
	if err := loadJSON(ctx, s, KeySentInvites, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveInvites writes the sent-invites ledger.
func SaveInvites(ctx context.Context, s SharedStore, invites map[string]*models.JoinRequest) error {
	return saveJSON(ctx, s, KeySentInvites, invites)
}

// LoadInviteMetrics reads the persisted ledger metrics.
func LoadInviteMetrics(ctx context.Context, s SharedStore) (InviteMetrics, error) {
	var m InviteMetrics
	if err := loadJSON(ctx, s, KeyInviteMetrics, &m); err != nil {
		return InviteMetrics{}, err
	}
	return m, nil
}

// SaveInviteMetrics writes the persisted ledger metrics.
func SaveInviteMetrics(ctx context.Context, s SharedStore, m InviteMetrics) error {
	return saveJSON(ctx, s, KeyInviteMetrics, m)
}

// SignalUpdate writes a transient envelope under the session_update key
// and promptly removes it. Processes that cannot observe the broadcast
// channel pick the write up through their store watch or poll.
func SignalUpdate(ctx context.Context, s SharedStore, env *models.Envelope) error {
	if err := saveJSON(ctx, s, KeySessionUpdate, env); err != nil {
		return err
	}
	return s.Remove(ctx, KeySessionUpdate)
}

func loadJSON(ctx context.Context, s SharedStore, key string, out any) error {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func saveJSON(ctx context.Context, s SharedStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
