// Package idempotency maps batch fingerprints to their first acceptance so
// that retried submissions are answered from the original batch instead of
// being executed (and billed) again.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record is created on the first acceptance of a fingerprint. While the
// record is unexpired, resubmissions with the same fingerprint are served the
// original batch id. It does not promise the original batch has finished,
// only that no second execution will start.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	OwnerUserID string    `json:"owner_user_id"`
	ItemSummary string    `json:"item_summary"`
}

// Store is the dedup contract consumed by the orchestrator. Implementations
// must make PutIfAbsent atomic: of N concurrent calls with the same
// fingerprint, exactly one inserts. A store error means "cannot confirm
// idempotency" and callers must fail closed, never assume "not a duplicate".
type Store interface {
	// Lookup returns the live record for the fingerprint, or nil when absent
	// or expired.
	Lookup(ctx context.Context, fingerprint string) (*Record, error)
	// PutIfAbsent inserts the record unless a live one already exists. It
	// returns the surviving record and whether this call inserted it.
	PutIfAbsent(ctx context.Context, rec Record) (*Record, bool, error)
	// Delete removes the record so a later legitimate resubmission is not
	// answered from a batch that never ran (admission failed after insert).
	Delete(ctx context.Context, fingerprint string) error
}

// MemoryStore is the single-process implementation: a mutex-protected map
// with passive expiry. Expired records are ignored on read and overwritten
// on insert rather than reaped eagerly.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Lookup(_ context.Context, fingerprint string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok || !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, rec Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.Fingerprint]
	if ok && existing.ExpiresAt.After(s.now()) {
		out := existing
		return &out, false, nil
	}
	s.records[rec.Fingerprint] = rec
	out := rec
	return &out, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fingerprint)
	return nil
}

var _ Store = (*MemoryStore)(nil)
