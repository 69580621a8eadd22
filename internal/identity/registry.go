// Package identity assigns each process its stable identifiers: a
// device ID persisted across restarts, a window ID unique to this
// process instance, and short human-shareable personal codes.
package identity

import (
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	codeLength = 6
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	deviceIDKey = "device_id"
)

// LocalStore is process-local persistence, deliberately NOT shared with
// peers. It backs only the device identity.
type LocalStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Registry produces and caches the process identity. A nil or failing
// LocalStore degrades to an in-memory identity for the lifetime of the
// process; Registry methods never fail.
type Registry struct {
	mu       sync.Mutex
	local    LocalStore
	deviceID string
	windowID string
}

// NewRegistry creates a registry over the given local store. local may
// be nil.
func NewRegistry(local LocalStore) *Registry {
	return &Registry{local: local}
}

// DeviceID returns the stable device identifier, recovering it from the
// local store when present and minting (and best-effort persisting) one
// otherwise.
func (r *Registry) DeviceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deviceID != "" {
		return r.deviceID
	}
	if r.local != nil {
		if id, ok := r.local.Get(deviceIDKey); ok && id != "" {
			r.deviceID = id
			return id
		}
	}
	r.deviceID = uuid.New().String()
	if r.local != nil {
		if err := r.local.Set(deviceIDKey, r.deviceID); err != nil {
			log.Warn().Err(err).Msg("Failed to persist device id, continuing in memory")
		}
	}
	return r.deviceID
}

// WindowID returns the identifier of this process instance. It is never
// shared across windows and never persisted.
func (r *Registry) WindowID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.windowID == "" {
		r.windowID = uuid.New().String()
	}
	return r.windowID
}

// NewPersonalCode generates a random 6-character code over A-Z0-9.
// Uniqueness among known users is the caller's concern.
func NewPersonalCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
