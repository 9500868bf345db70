// Package store persists loans and liquidity-pool positions.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"credline/internal/lending/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

// InMemory is the lending store of the single-process ledger.
type InMemory struct {
	mu        sync.RWMutex
	loans     map[id.LoanID]*models.Loan
	positions map[id.Address]*models.Position
	lastID    id.LoanID
}

func NewInMemory() *InMemory {
	return &InMemory{
		loans:     make(map[id.LoanID]*models.Loan),
		positions: make(map[id.Address]*models.Position),
	}
}

func (s *InMemory) NextLoanID(ctx context.Context) (id.LoanID, error) {
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

func (s *InMemory) LoanCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(s.lastID), nil
}

func (s *InMemory) InsertLoan(ctx context.Context, loan *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loans[loan.ID]; ok {
		return fmt.Errorf("loan %s: %w", loan.ID, sentinel.ErrAlreadyUsed)
	}
	s.loans[loan.ID] = loan.Clone()
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.loans, loan.ID)
	})
	return nil
}

func (s *InMemory) FindLoan(_ context.Context, loanID id.LoanID) (*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loan, ok := s.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", loanID, sentinel.ErrNotFound)
	}
	return loan.Clone(), nil
}

// ListByBorrower returns a borrower's loans in id order.
func (s *InMemory) ListByBorrower(_ context.Context, borrower id.Address) ([]*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Loan
	for _, loan := range s.loans {
		if loan.Borrower == borrower {
			out = append(out, loan.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ExecuteLoan validates and mutates a loan under the store lock.
func (s *InMemory) ExecuteLoan(ctx context.Context, loanID id.LoanID, validate func(*models.Loan) error, mutate func(*models.Loan)) (*models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", loanID, sentinel.ErrNotFound)
	}
	next := current.Clone()
	if err := validate(next); err != nil {
		return nil, err
	}
	mutate(next)
	s.loans[loanID] = next
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.loans[loanID] = current
	})
	return next.Clone(), nil
}

func (s *InMemory) FindPosition(_ context.Context, depositor id.Address) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[depositor]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", depositor, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

// SavePosition upserts a position; an emptied position is removed.
func (s *InMemory) SavePosition(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.positions[p.Depositor]
	if p.Amount <= 0 {
		delete(s.positions, p.Depositor)
	} else {
		s.positions[p.Depositor] = p.Clone()
	}
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.positions[p.Depositor] = prev
		} else {
			delete(s.positions, p.Depositor)
		}
	})
	return nil
}
