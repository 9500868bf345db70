package tx

import (
	"context"
	"database/sql"
	"fmt"
)

// writerLockKey is the advisory lock every ledger transaction takes so that
// Postgres-backed ledgers keep the single-writer ordering of the in-memory one.
const writerLockKey = 0x6c656467 // "ledg"

// SQL runs transactions against a database/sql handle.
type SQL struct {
	db   *sql.DB
	opts options
}

// NewSQL builds a Postgres transaction runner.
func NewSQL(db *sql.DB, opts ...Option) *SQL {
	return &SQL{db: db, opts: buildOptions(opts)}
}

func (t *SQL) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	txCtx, sc, cancel, err := begin(ctx, t.opts.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	sqlTx, err := t.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
			sc.rollback()
		}
	}()

	if _, err := sqlTx.ExecContext(txCtx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	txCtx = pin(txCtx, t.opts.clock)

	if err := fn(WithTx(txCtx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	sc.run()
	return nil
}

// RunReadOnly runs fn in a read-only repeatable-read transaction, so every
// query of fn sees the same committed snapshot.
func (t *SQL) RunReadOnly(ctx context.Context, fn func(readCtx context.Context) error) error {
	if inRead(ctx) {
		return fn(ctx)
	}
	sqlTx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(withRead(WithTx(ctx, sqlTx))); err != nil {
		return err
	}
	return sqlTx.Commit()
}
