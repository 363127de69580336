package apisec

import (
	"context"
	"sync"
	"time"
)

// AuditStore persists audit entries for querying and reporting. The logger
// treats it as best-effort: a store error fails the individual LogEvent
// call (false) but never the audited action.
type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	// Query returns entries matching the filter, most recent first, bounded
	// by q.Limit.
	Query(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
	// PurgeExpired removes entries whose retention deadline is before now
	// and reports how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// memoryAuditStore is the default bounded in-memory store. When the bound
// is reached the oldest entries are evicted first.
type memoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
	max     int
}

// NewMemoryAuditStore creates an in-memory [AuditStore] holding at most max
// entries (oldest evicted on overflow).
func NewMemoryAuditStore(max int) AuditStore {
	if max <= 0 {
		max = 100000
	}
	return &memoryAuditStore{max: max}
}

func (s *memoryAuditStore) Append(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.max {
		// Drop the oldest slice prefix in one move.
		excess := len(s.entries) - s.max
		s.entries = append(s.entries[:0], s.entries[excess:]...)
	}
	return nil
}

func matchesQuery(e AuditEntry, q AuditQuery) bool {
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Severity != "" && e.Severity != q.Severity {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	return true
}

func (s *memoryAuditStore) Query(_ context.Context, q AuditQuery) ([]AuditEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AuditEntry, 0, limit)
	// Entries are appended in time order; walk backwards for most recent
	// first.
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if matchesQuery(s.entries[i], q) {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memoryAuditStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	purged := 0
	for _, e := range s.entries {
		if e.RetentionExpiresAt.Before(now) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return purged, nil
}
