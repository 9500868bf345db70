// Package store persists score records.
package store

import (
	"context"
	"fmt"
	"sync"

	"credline/internal/scoring/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

// InMemory keeps score records in a map. Writes inside a transaction are
// undone if it fails.
type InMemory struct {
	mu     sync.RWMutex
	scores map[id.Address]*models.Record
}

func NewInMemory() *InMemory {
	return &InMemory{scores: make(map[id.Address]*models.Record)}
}

func (s *InMemory) FindBySubject(_ context.Context, subject id.Address) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.scores[subject]
	if !ok {
		return nil, fmt.Errorf("score %s: %w", subject, sentinel.ErrNotFound)
	}
	return r.Clone(), nil
}

// Save inserts or replaces a record.
func (s *InMemory) Save(ctx context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.scores[record.Subject]
	s.scores[record.Subject] = record.Clone()
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.scores[record.Subject] = prev
		} else {
			delete(s.scores, record.Subject)
		}
	})
	return nil
}
