// Package pairing implements the couple-formation protocol: exclusive
// two-party pairings, conflict negotiation when a target is taken, and
// idempotent reconciliation of pairing records observed on the store or
// broadcast channel.
package pairing

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FaVaGit/CardApp-sub001/internal/identity"
	"github.com/FaVaGit/CardApp-sub001/internal/models"
	"github.com/FaVaGit/CardApp-sub001/internal/presence"
)

// Coordinator owns the couples collection. A precomputed user-to-couple
// index tracks active membership so presence ticks never scan membership
// arrays.
type Coordinator struct {
	mu      sync.Mutex
	tracker *presence.Tracker
	couples map[string]*models.Couple
	byUser  map[string]string // userID -> active couple ID
}

// NewCoordinator creates a coordinator over the given presence tracker.
func NewCoordinator(tracker *presence.Tracker) *Coordinator {
	return &Coordinator{
		tracker: tracker,
		couples: make(map[string]*models.Couple),
		byUser:  make(map[string]string),
	}
}

// RequestPairing forms a pairing between the caller and the user holding
// personalCode. Calling it again for the same target while the pairing
// is active returns the existing couple rather than an error.
func (c *Coordinator) RequestPairing(callerID, personalCode string, now time.Time) (*models.Couple, error) {
	target, ok := c.tracker.ByCode(personalCode)
	if !ok {
		return nil, ErrNotFound
	}
	if target.ID == callerID {
		return nil, ErrSelfPairing
	}
	caller, ok := c.tracker.Get(callerID)
	if !ok {
		return nil, ErrNotFound
	}
	if target.GameType != caller.GameType {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existingID, paired := c.byUser[callerID]; paired {
		existing := c.couples[existingID]
		if existing.PartnerOf(callerID) == target.ID {
			cp := *existing
			return &cp, nil
		}
		return nil, ErrAlreadyPaired
	}
	if _, taken := c.byUser[target.ID]; taken || !target.AvailableForPairing {
		return nil, &UnavailableError{TargetUserID: target.ID, TargetCode: target.PersonalCode}
	}

	couple := &models.Couple{
		ID:        uuid.New().String(),
		Name:      caller.Name + " & " + target.Name,
		CreatedBy: callerID,
		Members: [2]models.CoupleMember{
			{UserID: callerID, Role: models.RoleCreator, JoinedAt: now, IsOnline: caller.IsOnline},
			{UserID: target.ID, Role: models.RoleMember, JoinedAt: now, IsOnline: target.IsOnline},
		},
		GameType:  caller.GameType,
		IsActive:  true,
		JoinCode:  identity.NewPersonalCode(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.couples[couple.ID] = couple
	c.index(couple)
	c.tracker.SetAvailability(callerID, false)
	c.tracker.SetAvailability(target.ID, false)

	cp := *couple
	return &cp, nil
}

// Leave dissolves the caller's active pairing. The record survives with
// IsActive=false so the remaining member reconciles it independently on
// its next store or broadcast observation.
func (c *Coordinator) Leave(callerID string, now time.Time) (*models.Couple, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	coupleID, ok := c.byUser[callerID]
	if !ok {
		return nil, ErrNoActivePairing
	}
	couple := c.couples[coupleID]
	couple.IsActive = false
	couple.UpdatedAt = now
	c.unindex(couple)
	c.restoreAvailability(couple)

	cp := *couple
	return &cp, nil
}

// ApplyResult describes what a reconciliation pass changed.
type ApplyResult struct {
	Changed bool
	// Ended holds copies of couples deactivated by this application,
	// either because the incoming record itself went inactive or because
	// it lost the tie-break against an earlier overlapping couple.
	Ended []*models.Couple
	// Created is set when a previously unknown active couple was adopted.
	Created *models.Couple
}

// Apply reconciles a couple record observed on the store or broadcast
// channel. It is idempotent: applying an already-reconciled record is a
// no-op. Concurrent mutually-targeting pairings are resolved by keeping
// the record with the earliest durably observed creation time.
func (c *Coordinator) Apply(incoming *models.Couple) ApplyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res ApplyResult
	local, known := c.couples[incoming.ID]
	if known {
		merged := MergeCouple(local, incoming)
		if merged == local {
			return res
		}
		wasActive := local.IsActive
		*local = *merged
		res.Changed = true
		if wasActive && !local.IsActive {
			c.unindex(local)
			c.restoreAvailability(local)
			cp := *local
			res.Ended = append(res.Ended, &cp)
		} else if !wasActive && local.IsActive {
			c.deactivateOverlaps(local, &res)
			if local.IsActive {
				c.index(local)
				c.tracker.SetAvailability(local.Members[0].UserID, false)
				c.tracker.SetAvailability(local.Members[1].UserID, false)
			}
		}
		return res
	}

	cp := *incoming
	c.couples[cp.ID] = &cp
	res.Changed = true
	if !cp.IsActive {
		return res
	}
	c.deactivateOverlaps(&cp, &res)
	if cp.IsActive {
		c.index(&cp)
		c.tracker.SetAvailability(cp.Members[0].UserID, false)
		c.tracker.SetAvailability(cp.Members[1].UserID, false)
		created := cp
		res.Created = &created
	}
	return res
}

// deactivateOverlaps enforces the at-most-one-active-pairing invariant
// when adopting an active couple: of two active couples sharing a
// member, the one created first wins.
func (c *Coordinator) deactivateOverlaps(candidate *models.Couple, res *ApplyResult) {
	for _, m := range candidate.Members {
		otherID, taken := c.byUser[m.UserID]
		if !taken || otherID == candidate.ID {
			continue
		}
		other := c.couples[otherID]
		if other.CreatedAt.After(candidate.CreatedAt) {
			other.IsActive = false
			other.UpdatedAt = candidate.CreatedAt
			c.unindex(other)
			c.restoreAvailability(other)
			cp := *other
			res.Ended = append(res.Ended, &cp)
		} else {
			candidate.IsActive = false
			cp := *candidate
			res.Ended = append(res.Ended, &cp)
			return
		}
	}
}

func (c *Coordinator) restoreAvailability(couple *models.Couple) {
	for _, m := range couple.Members {
		if _, stillPaired := c.byUser[m.UserID]; !stillPaired {
			c.tracker.SetAvailability(m.UserID, true)
		}
	}
}

// ActiveCoupleOf returns a copy of the caller's active couple via the
// membership index.
func (c *Coordinator) ActiveCoupleOf(userID string) (*models.Couple, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byUser[userID]
	if !ok {
		return nil, false
	}
	cp := *c.couples[id]
	return &cp, true
}

// Get returns a copy of the couple with the given ID, active or not.
func (c *Coordinator) Get(coupleID string) (*models.Couple, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	couple, ok := c.couples[coupleID]
	if !ok {
		return nil, false
	}
	cp := *couple
	return &cp, true
}

// RefreshMemberPresence recomputes the per-member online flags of a
// user's active couple from the freshest tracker records. It returns a
// copy of the couple and whether any flag flipped.
func (c *Coordinator) RefreshMemberPresence(userID string) (*models.Couple, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byUser[userID]
	if !ok {
		return nil, false
	}
	couple := c.couples[id]
	changed := false
	for i := range couple.Members {
		u, ok := c.tracker.Get(couple.Members[i].UserID)
		if !ok {
			continue
		}
		if couple.Members[i].IsOnline != u.IsOnline {
			couple.Members[i].IsOnline = u.IsOnline
			changed = true
		}
	}
	cp := *couple
	return &cp, changed
}

// All returns a snapshot of every known couple keyed by ID.
func (c *Coordinator) All() map[string]*models.Couple {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*models.Couple, len(c.couples))
	for id, couple := range c.couples {
		cp := *couple
		out[id] = &cp
	}
	return out
}

// Reset drops every couple and the membership index.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.couples = make(map[string]*models.Couple)
	c.byUser = make(map[string]string)
}

func (c *Coordinator) index(couple *models.Couple) {
	c.byUser[couple.Members[0].UserID] = couple.ID
	c.byUser[couple.Members[1].UserID] = couple.ID
}

func (c *Coordinator) unindex(couple *models.Couple) {
	for _, m := range couple.Members {
		if c.byUser[m.UserID] == couple.ID {
			delete(c.byUser, m.UserID)
		}
	}
}
