package tx

import (
	"context"
	"sync"

	dErrors "credline/pkg/domain-errors"
)

// Serial is the in-memory Runner: a single global writer lock, so exactly one
// operation commits at a time. In-memory stores register undo steps with
// OnRollback so a failed operation leaves no partial writes. Queries share
// the lock for reading, so they never see a write that may still roll back.
type Serial struct {
	mu   sync.RWMutex
	opts options
}

// NewSerial builds an in-memory serialized runner.
func NewSerial(opts ...Option) *Serial {
	return &Serial{opts: buildOptions(opts)}
}

func (s *Serial) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	txCtx, sc, cancel, err := begin(ctx, s.opts.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	return s.locked(txCtx, sc, fn)
}

// RunReadOnly holds the lock for reading while fn runs.
func (s *Serial) RunReadOnly(ctx context.Context, fn func(readCtx context.Context) error) error {
	if inRead(ctx) {
		return fn(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(withRead(ctx))
}

// locked runs fn and, on success, the commit hooks while holding the writer
// lock so hook side effects (event log appends) keep commit order.
func (s *Serial) locked(txCtx context.Context, sc *scope, fn func(txCtx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again after acquiring lock
	if err := txCtx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	txCtx = pin(txCtx, s.opts.clock)
	committed := false
	defer func() {
		if !committed {
			sc.rollback()
		}
	}()
	if err := fn(txCtx); err != nil {
		return err
	}
	committed = true
	sc.run()
	return nil
}
