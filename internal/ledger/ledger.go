// Package ledger tracks pairing requests applied optimistically before
// any acknowledgment from the shared store or broadcast channel. Every
// record ends in exactly one of confirmed, expired or cancelled; expiry
// is a normal terminal state, not an error.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FaVaGit/CardApp-sub001/internal/models"
)

// MinTTL is the floor applied to caller-configured TTLs so pruning can
// never race ahead of plausible round-trip latency.
const MinTTL = 500 * time.Millisecond

// Ledger is the optimistic request ledger. The pruned-count metric is
// reported to persistFn on every change so it survives a process reload.
type Ledger struct {
	mu          sync.Mutex
	ttl         time.Duration
	requests    map[string]*models.JoinRequest
	prunedCount uint64
	persistFn   func(prunedCount uint64)
}

// New creates a ledger with the given TTL, clamped to MinTTL. persistFn
// may be nil.
func New(ttl time.Duration, persistFn func(prunedCount uint64)) *Ledger {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	return &Ledger{
		ttl:       ttl,
		requests:  make(map[string]*models.JoinRequest),
		persistFn: persistFn,
	}
}

// SeedPrunedCount restores the persisted metric after a reload. It only
// ever moves the counter forward.
func (l *Ledger) SeedPrunedCount(count uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if count > l.prunedCount {
		l.prunedCount = count
	}
}

// RecordOptimistic records a locally-initiated pairing request before
// the store round trip. If an optimistic request for the same
// requester/target pair is already pending, its ID is returned instead
// of creating a duplicate.
func (l *Ledger) RecordOptimistic(requestingUserID, targetUserID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.requests {
		if r.State == models.RequestOptimistic &&
			r.RequestingUserID == requestingUserID &&
			r.TargetUserID == targetUserID {
			return r.RequestID
		}
	}

	now := time.Now()
	req := &models.JoinRequest{
		RequestID:        uuid.New().String(),
		RequestingUserID: requestingUserID,
		TargetUserID:     targetUserID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(l.ttl),
		State:            models.RequestOptimistic,
	}
	l.requests[req.RequestID] = req
	return req.RequestID
}

// Reconcile merges authoritative echoes observed on the store or
// broadcast channel into the ledger. A pending optimistic record whose
// echo is present becomes confirmed; terminal records are left alone.
// Authoritative records unknown locally are adopted as confirmed.
func (l *Ledger) Reconcile(authoritative map[string]*models.JoinRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, auth := range authoritative {
		local, ok := l.requests[id]
		if !ok {
			cp := *auth
			cp.State = models.RequestConfirmed
			l.requests[id] = &cp
			continue
		}
		if local.State == models.RequestOptimistic {
			local.State = models.RequestConfirmed
		}
	}
}

// Confirm marks a single request confirmed, used when the caller itself
// observes its write land.
func (l *Ledger) Confirm(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.requests[requestID]; ok && r.State == models.RequestOptimistic {
		r.State = models.RequestConfirmed
	}
}

// Cancel cancels a pending optimistic request. Cancelling a terminal or
// unknown request is a no-op and returns false.
func (l *Ledger) Cancel(requestID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[requestID]
	if !ok || r.State != models.RequestOptimistic {
		return false
	}
	r.State = models.RequestCancelled
	return true
}

// PruneExpired expires every optimistic request past its deadline,
// drops all terminal records older than their deadline from the working
// set, and returns the number of records newly expired. The cumulative
// metric is persisted through persistFn.
func (l *Ledger) PruneExpired(now time.Time) int {
	l.mu.Lock()
	pruned := 0
	for id, r := range l.requests {
		if r.State == models.RequestOptimistic && now.After(r.ExpiresAt) {
			// Newly expired records survive one pass so the UI can render
			// the expired state distinctly before the record is dropped.
			r.State = models.RequestExpired
			pruned++
			continue
		}
		if r.Terminal() && now.After(r.ExpiresAt) {
			delete(l.requests, id)
		}
	}
	if pruned > 0 {
		l.prunedCount += uint64(pruned)
	}
	count := l.prunedCount
	persist := l.persistFn
	l.mu.Unlock()

	if pruned > 0 && persist != nil {
		persist(count)
	}
	return pruned
}

// PrunedCount returns the monotonically increasing count of expired
// requests.
func (l *Ledger) PrunedCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prunedCount
}

// Get returns a copy of the request with the given ID.
func (l *Ledger) Get(requestID string) (*models.JoinRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[requestID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// Pending returns copies of all requests still in the optimistic state.
func (l *Ledger) Pending() []*models.JoinRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.JoinRequest
	for _, r := range l.requests {
		if r.State == models.RequestOptimistic {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

// Reset drops every record without touching the pruned-count metric.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = make(map[string]*models.JoinRequest)
}
