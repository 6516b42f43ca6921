package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPendingApprovalTTL   = 5 * time.Minute
	defaultPendingSweepInterval = 15 * time.Second
	maxPendingApprovals         = 1000
)

// PendingApproval is one outstanding human decision request.
type PendingApproval struct {
	RequestID string    `json:"request_id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// pendingEntry pairs the visible record with its single-resolution
// primitive: a buffered oneshot channel claimed by whichever resolver
// (decision, TTL sweep, shutdown) gets there first.
type pendingEntry struct {
	PendingApproval
	resolved bool
	result   chan bool
}

// PendingApprovalStore correlates "a decision is being awaited" requests
// with their eventual outcome. Entries are ephemeral and in-memory; every
// path that fails to produce an explicit approval resolves to false.
type PendingApprovalStore struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	ttl     time.Duration
	sweep   *time.Ticker
	done    chan struct{}
	closed  bool
	lg      Logger
}

// NewPendingApprovalStore starts a store with the given TTL and a
// background sweep that force-denies entries outliving it. A
// non-positive ttl selects the default.
func NewPendingApprovalStore(ttl time.Duration, lg Logger) *PendingApprovalStore {
	if ttl <= 0 {
		ttl = defaultPendingApprovalTTL
	}

	s := &PendingApprovalStore{
		entries: make(map[string]*pendingEntry),
		ttl:     ttl,
		sweep:   time.NewTicker(defaultPendingSweepInterval),
		done:    make(chan struct{}),
		lg:      lg.NewSystem("pending-approvals"),
	}
	go s.sweepExpired()
	return s
}

// Add registers a pending entry and returns its id plus a channel that
// yields the decision exactly once: true on approval, false on denial,
// expiry or shutdown.
func (s *PendingApprovalStore) Add(summary string) (string, <-chan bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", nil, ValidationErrorf("approval store is shut down")
	}
	if len(s.entries) >= maxPendingApprovals {
		return "", nil, ValidationErrorf("too many pending approvals")
	}

	now := time.Now()
	entry := &pendingEntry{
		PendingApproval: PendingApproval{
			RequestID: uuid.NewString(),
			Summary:   summary,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		},
		result: make(chan bool, 1),
	}
	s.entries[entry.RequestID] = entry

	s.lg.Info("approval requested", "requestID", entry.RequestID, "summary", summary)
	return entry.RequestID, entry.result, nil
}

// Decide resolves a pending entry. The first caller wins; later calls
// for the same id report false and change nothing.
func (s *PendingApprovalStore) Decide(requestID string, approved bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok || entry.resolved {
		return false
	}
	s.resolveLocked(entry, approved)

	s.lg.Info("approval decided", "requestID", requestID, "approved", approved)
	return true
}

// Get returns a pending entry if it is still live.
func (s *PendingApprovalStore) Get(requestID string) (PendingApproval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok || entry.resolved || time.Now().After(entry.ExpiresAt) {
		return PendingApproval{}, false
	}
	return entry.PendingApproval, true
}

// List returns all live, non-expired pending entries.
func (s *PendingApprovalStore) List() []PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]PendingApproval, 0, len(s.entries))
	for _, entry := range s.entries {
		if !entry.resolved && now.Before(entry.ExpiresAt) {
			out = append(out, entry.PendingApproval)
		}
	}
	return out
}

// Len reports the number of unresolved entries, for metrics.
func (s *PendingApprovalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweeper and resolves every outstanding entry to false.
func (s *PendingApprovalStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.sweep.Stop()
	close(s.done)

	for _, entry := range s.entries {
		if !entry.resolved {
			s.resolveLocked(entry, false)
		}
	}
}

// resolveLocked claims the entry's single resolution. Callers hold s.mu;
// the buffered channel makes the send non-blocking.
func (s *PendingApprovalStore) resolveLocked(entry *pendingEntry, approved bool) {
	entry.resolved = true
	entry.result <- approved
	delete(s.entries, entry.RequestID)
}

func (s *PendingApprovalStore) sweepExpired() {
	for {
		select {
		case <-s.done:
			return
		case <-s.sweep.C:
			s.mu.Lock()
			now := time.Now()
			for _, entry := range s.entries {
				if !entry.resolved && now.After(entry.ExpiresAt) {
					s.lg.Warn("approval expired without a decision", "requestID", entry.RequestID)
					s.resolveLocked(entry, false)
				}
			}
			s.mu.Unlock()
		}
	}
}
