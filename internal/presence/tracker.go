// Package presence maintains per-user liveness from heartbeats and
// inbound presence records, and derives the online-users view.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// Tracker holds the set of known users and their liveness. A user is
// online iff now - LastSeen <= window. Callers interact with copies;
// Tracker never hands out pointers into its own map.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	users  map[string]*models.User
}

// NewTracker creates a tracker with the given liveness window.
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window: window,
		users:  make(map[string]*models.User),
	}
}

// Merge reconciles an incoming user record into the tracker. Recency by
// LastSeen wins; an incoming record's online claim is honored only while
// it is still within the liveness window. Records older than the local
// copy are ignored. Merge returns the merged copy and whether anything
// changed.
func (t *Tracker) Merge(incoming *models.User) (*models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	local, ok := t.users[incoming.ID]
	if !ok {
		cp := *incoming
		if time.Since(cp.LastSeen) > t.window {
			cp.IsOnline = false
		}
		t.users[incoming.ID] = &cp
		out := cp
		return &out, true
	}

	prev := *local
	if incoming.LastSeen.After(local.LastSeen) {
		local.LastSeen = incoming.LastSeen
		local.Name = incoming.Name
		local.Nickname = incoming.Nickname
		local.AvailableForPairing = incoming.AvailableForPairing
		local.IsOnline = incoming.IsOnline && time.Since(incoming.LastSeen) <= t.window
	}
	out := *local
	return &out, *local != prev
}

// Touch refreshes a user's heartbeat, transitioning an offline or
// unknown user to online. It reports whether the user is known.
func (t *Tracker) Touch(userID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return false
	}
	if at.After(u.LastSeen) {
		u.LastSeen = at
	}
	u.IsOnline = true
	return true
}

// SetAvailability flips a user's pairing availability.
func (t *Tracker) SetAvailability(userID string, available bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.users[userID]; ok {
		u.AvailableForPairing = available
	}
}

// MarkOffline forces a user offline without touching LastSeen.
func (t *Tracker) MarkOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.users[userID]; ok {
		u.IsOnline = false
	}
}

// Depart records an explicit logout: the user goes offline with a fresh
// LastSeen so peers merging the record by recency accept the offline
// state. It returns a copy of the updated user.
func (t *Tracker) Depart(userID string, at time.Time) (*models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return nil, false
	}
	if at.After(u.LastSeen) {
		u.LastSeen = at
	}
	u.IsOnline = false
	cp := *u
	return &cp, true
}

// Sweep reclassifies online users whose silence exceeds the liveness
// window and returns copies of those who flipped offline. The reverse
// transition only ever happens through a heartbeat or a fresher record.
func (t *Tracker) Sweep(now time.Time) []*models.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	var flipped []*models.User
	for _, u := range t.users {
		if u.IsOnline && now.Sub(u.LastSeen) > t.window {
			u.IsOnline = false
			cp := *u
			flipped = append(flipped, &cp)
		}
	}
	return flipped
}

// Get returns a copy of the user with the given ID.
func (t *Tracker) Get(userID string) (*models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// ByCode returns a copy of the user with the given personal code.
func (t *Tracker) ByCode(code string) (*models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.users {
		if u.PersonalCode == code {
			cp := *u
			return &cp, true
		}
	}
	return nil, false
}

// ByDevice returns a copy of the most recently seen user registered from
// the given device.
func (t *Tracker) ByDevice(deviceID string) (*models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *models.User
	for _, u := range t.users {
		if u.DeviceID != deviceID {
			continue
		}
		if best == nil || u.LastSeen.After(best.LastSeen) {
			best = u
		}
	}
	if best == nil {
		return nil, false
	}
	cp := *best
	return &cp, true
}

// CodeExists reports whether any known user holds the given personal
// code.
func (t *Tracker) CodeExists(code string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.users {
		if u.PersonalCode == code {
			return true
		}
	}
	return false
}

// OnlineUsers returns copies of all users currently online, ordered by
// name for stable presentation.
func (t *Tracker) OnlineUsers() []*models.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*models.User
	for _, u := range t.users {
		if u.IsOnline {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns a snapshot of every known user keyed by ID.
func (t *Tracker) All() map[string]*models.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*models.User, len(t.users))
	for id, u := range t.users {
		cp := *u
		out[id] = &cp
	}
	return out
}

// Reset drops every known user.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = make(map[string]*models.User)
}
