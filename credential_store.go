package apisec

import (
	"context"
	"sync"
)

// CredentialStore persists hashed credential records. Implementations must
// be safe for concurrent use; the manager provides per-owner serialization
// for rotation on top of it.
//
// Get returns (nil, nil) for an unknown hash: absence is an expected
// outcome, not an error.
type CredentialStore interface {
	Save(ctx context.Context, rec CredentialRecord) error
	Get(ctx context.Context, hash string) (*CredentialRecord, error)
	Update(ctx context.Context, rec CredentialRecord) error
	Delete(ctx context.Context, hash string) error
	ListByOwner(ctx context.Context, ownerID string) ([]CredentialRecord, error)
	List(ctx context.Context) ([]CredentialRecord, error)
}

// memoryCredentialStore is the default in-process store.
type memoryCredentialStore struct {
	mu      sync.RWMutex
	byHash  map[string]CredentialRecord
	byOwner map[string]map[string]struct{}
}

// NewMemoryCredentialStore creates an in-memory [CredentialStore].
func NewMemoryCredentialStore() CredentialStore {
	return &memoryCredentialStore{
		byHash:  make(map[string]CredentialRecord),
		byOwner: make(map[string]map[string]struct{}),
	}
}

func (s *memoryCredentialStore) Save(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byHash[rec.Hash] = rec
	owned, ok := s.byOwner[rec.OwnerID]
	if !ok {
		owned = make(map[string]struct{})
		s.byOwner[rec.OwnerID] = owned
	}
	owned[rec.Hash] = struct{}{}
	return nil
}

func (s *memoryCredentialStore) Get(_ context.Context, hash string) (*CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memoryCredentialStore) Update(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[rec.Hash]; !ok {
		return ErrNotFound
	}
	s.byHash[rec.Hash] = rec
	return nil
}

func (s *memoryCredentialStore) Delete(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHash[hash]
	if !ok {
		return nil
	}
	delete(s.byHash, hash)
	if owned, ok := s.byOwner[rec.OwnerID]; ok {
		delete(owned, hash)
		if len(owned) == 0 {
			delete(s.byOwner, rec.OwnerID)
		}
	}
	return nil
}

func (s *memoryCredentialStore) ListByOwner(_ context.Context, ownerID string) ([]CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := s.byOwner[ownerID]
	out := make([]CredentialRecord, 0, len(owned))
	for hash := range owned {
		out = append(out, s.byHash[hash])
	}
	return out, nil
}

func (s *memoryCredentialStore) List(_ context.Context) ([]CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CredentialRecord, 0, len(s.byHash))
	for _, rec := range s.byHash {
		out = append(out, rec)
	}
	return out, nil
}
