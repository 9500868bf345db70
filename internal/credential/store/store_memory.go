// Package store persists soulbound credentials as an arena indexed by token
// id plus a side index from owner to the live token.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"credline/internal/credential/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

type approvalKey struct {
	owner    id.Address
	operator id.Address
}

// InMemory is the credential store of the single-process ledger.
type InMemory struct {
	mu        sync.RWMutex
	tokens    map[id.TokenID]*models.Credential
	live      map[id.Address]id.TokenID
	approvals map[approvalKey]bool
	lastID    id.TokenID
}

func NewInMemory() *InMemory {
	return &InMemory{
		tokens:    make(map[id.TokenID]*models.Credential),
		live:      make(map[id.Address]id.TokenID),
		approvals: make(map[approvalKey]bool),
	}
}

// NextTokenID allocates the next token id.
func (s *InMemory) NextTokenID(ctx context.Context) (id.TokenID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	allocated := s.lastID
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lastID == allocated {
			s.lastID--
		}
	})
	return allocated, nil
}

// TotalSupply is the number of tokens ever minted.
func (s *InMemory) TotalSupply(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(s.lastID), nil
}

// Insert stores a new live credential. The owner must not hold a live one.
func (s *InMemory) Insert(ctx context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[c.TokenID]; ok {
		return fmt.Errorf("token %s: %w", c.TokenID, sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.live[c.Owner]; ok {
		return fmt.Errorf("live credential for %s: %w", c.Owner, sentinel.ErrAlreadyUsed)
	}
	s.tokens[c.TokenID] = c.Clone()
	s.live[c.Owner] = c.TokenID
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.tokens, c.TokenID)
		delete(s.live, c.Owner)
	})
	return nil
}

// FindByToken returns the token, tombstoned or not.
func (s *InMemory) FindByToken(_ context.Context, tokenID id.TokenID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	return c.Clone(), nil
}

// FindLiveByOwner returns the owner's non-revoked credential.
func (s *InMemory) FindLiveByOwner(_ context.Context, owner id.Address) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.live[owner]
	if !ok {
		return nil, fmt.Errorf("live credential for %s: %w", owner, sentinel.ErrNotFound)
	}
	return s.tokens[tokenID].Clone(), nil
}

// ListByOwner returns every credential ever minted to owner, oldest first.
func (s *InMemory) ListByOwner(_ context.Context, owner id.Address) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, c := range s.tokens {
		if c.Owner == owner {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// Execute validates and mutates a token under the store lock. A mutation
// that revokes the token also clears the owner's live index.
func (s *InMemory) Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Credential) error, mutate func(*models.Credential)) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.tokens[tokenID] = working
	wasLive := current.Exists()
	if wasLive && !working.Exists() {
		delete(s.live, working.Owner)
	}
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tokens[tokenID] = current
		if wasLive {
			s.live[current.Owner] = tokenID
		}
	})
	return working.Clone(), nil
}

func (s *InMemory) SetApprovalForAll(ctx context.Context, owner, operator id.Address, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := approvalKey{owner: owner, operator: operator}
	prev := s.approvals[key]
	s.setApproval(key, approved)
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.setApproval(key, prev)
	})
	return nil
}

func (s *InMemory) setApproval(key approvalKey, approved bool) {
	if approved {
		s.approvals[key] = true
	} else {
		delete(s.approvals, key)
	}
}

func (s *InMemory) IsApprovedForAll(_ context.Context, owner, operator id.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approvals[approvalKey{owner: owner, operator: operator}], nil
}
