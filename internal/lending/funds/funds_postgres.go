package funds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"credline/internal/platform/postgres"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	txcontext "credline/pkg/platform/tx"
)

// Postgres keeps balances in the balances table. Transfers must run inside
// a transaction so the debit and credit commit together.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (b *Postgres) execer(ctx context.Context) postgres.Execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return b.db
}

func (b *Postgres) BalanceOf(ctx context.Context, addr id.Address) (id.Amount, error) {
	var amount int64
	err := b.execer(ctx).QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE address = $1`, string(addr)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return id.Amount(amount), nil
}

func (b *Postgres) Credit(ctx context.Context, addr id.Address, amount id.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("credit %d: amount must be positive", amount)
	}
	return b.credit(ctx, addr, amount)
}

func (b *Postgres) Transfer(ctx context.Context, from, to id.Address, amount id.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d: amount must be positive", amount)
	}
	if _, ok := txcontext.From(ctx); !ok {
		return fmt.Errorf("transfer from %s: %w", from, sentinel.ErrInvalidState)
	}
	res, err := b.execer(ctx).ExecContext(ctx, `
		UPDATE balances SET amount = amount - $2
		WHERE address = $1 AND amount >= $2
	`, string(from), int64(amount))
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transfer from %s: %w", from, sentinel.ErrInsufficientBalance)
	}
	return b.credit(ctx, to, amount)
}

func (b *Postgres) credit(ctx context.Context, addr id.Address, amount id.Amount) error {
	_, err := b.execer(ctx).ExecContext(ctx, `
		INSERT INTO balances (address, amount) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, string(addr), int64(amount))
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}
