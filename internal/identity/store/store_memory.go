// Package store persists identity records.
package store

import (
	"context"
	"fmt"
	"sync"

	"credline/internal/identity/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

// InMemory is the identity store used by the single-process ledger. Writes
// made inside a transaction are undone if that transaction fails.
type InMemory struct {
	mu         sync.RWMutex
	identities map[id.Address]*models.Identity
	nonce      uint64
}

func NewInMemory() *InMemory {
	return &InMemory{identities: make(map[id.Address]*models.Identity)}
}

// NextNonce advances the identity creation counter.
func (s *InMemory) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce++
	n := s.nonce
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.nonce == n {
			s.nonce--
		}
	})
	return n, nil
}

// Create stores a new identity. Returns ErrAlreadyUsed when the subject exists.
func (s *InMemory) Create(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.Subject]; ok {
		return fmt.Errorf("identity %s: %w", identity.Subject, sentinel.ErrAlreadyUsed)
	}
	s.identities[identity.Subject] = identity.Clone()
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.identities, identity.Subject)
	})
	return nil
}

func (s *InMemory) FindBySubject(_ context.Context, subject id.Address) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[subject]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", subject, sentinel.ErrNotFound)
	}
	return identity.Clone(), nil
}

// Execute validates and mutates an identity under the store lock. The stored
// record is replaced only when validate succeeds.
func (s *InMemory) Execute(ctx context.Context, subject id.Address, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.identities[subject]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", subject, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.identities[subject] = working
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.identities[subject] = current
	})
	return working.Clone(), nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), nil
}
