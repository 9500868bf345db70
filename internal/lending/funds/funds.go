// Package funds is the balance book that loans and the liquidity pool move
// value through. Each transfer is all-or-nothing and no balance goes
// negative.
package funds

import (
	"context"
	"fmt"
	"sync"

	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

// PoolAddress is the reserved account holding pool liquidity.
const PoolAddress id.Address = "pool:liquidity"

// InMemory keeps balances in a map. Writes inside a transaction are undone
// if it fails.
type InMemory struct {
	mu       sync.RWMutex
	balances map[id.Address]id.Amount
}

func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[id.Address]id.Amount)}
}

func (b *InMemory) BalanceOf(_ context.Context, addr id.Address) (id.Amount, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr], nil
}

// Credit mints amount into addr.
func (b *InMemory) Credit(ctx context.Context, addr id.Address, amount id.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("credit %d: amount must be positive", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(ctx, addr, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (b *InMemory) Transfer(ctx context.Context, from, to id.Address, amount id.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d: amount must be positive", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return fmt.Errorf("transfer from %s: %w", from, sentinel.ErrInsufficientBalance)
	}
	b.add(ctx, from, -amount)
	b.add(ctx, to, amount)
	return nil
}

// add must be called with mu held.
func (b *InMemory) add(ctx context.Context, addr id.Address, delta id.Amount) {
	b.balances[addr] += delta
	tx.OnRollback(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.balances[addr] -= delta
	})
}
