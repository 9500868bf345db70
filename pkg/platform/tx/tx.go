// Package tx provides the serialized transaction boundary every ledger
// mutation runs in. A Runner commits all of an operation's writes or none of
// them, pins the request time once per transaction, and runs after-commit
// hooks only when the transaction commits.
package tx

import (
	"context"
	"database/sql"
	"sync"
	"time"

	dErrors "credline/pkg/domain-errors"
	"credline/pkg/requestcontext"
)

// defaultTxTimeout is the maximum duration for one ledger transaction.
const defaultTxTimeout = 5 * time.Second

// Runner executes fn inside a transaction. Calls nested inside an open
// transaction join it instead of starting a new one.
//
// RunReadOnly runs a query against committed state only: it never observes
// the writes of a transaction that has not committed. Called inside an open
// transaction it joins it and sees that transaction's own writes.
type Runner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	RunReadOnly(ctx context.Context, fn func(readCtx context.Context) error) error
}

// Read runs fn through r.RunReadOnly and returns its result.
func Read[T any](ctx context.Context, r Runner, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.RunReadOnly(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

type scopeKey struct{}

// scope tracks the open transaction, the hooks waiting for its commit and
// the undo steps in-memory stores registered for a rollback.
type scope struct {
	mu    sync.Mutex
	hooks []func()
	undo  []func()
}

func (s *scope) add(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *scope) addUndo(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = append(s.undo, fn)
}

func (s *scope) run() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.undo = nil
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// rollback undoes in reverse registration order and drops commit hooks.
func (s *scope) rollback() {
	s.mu.Lock()
	undo := s.undo
	s.undo = nil
	s.hooks = nil
	s.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func scopeFrom(ctx context.Context) (*scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	return s, ok
}

// InTx reports whether ctx belongs to an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := scopeFrom(ctx)
	return ok
}

type readKey struct{}

func withRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, readKey{}, true)
}

// inRead reports whether ctx is already covered by a transaction or a read
// snapshot, so a nested call must not take the lock again.
func inRead(ctx context.Context) bool {
	if InTx(ctx) {
		return true
	}
	v, _ := ctx.Value(readKey{}).(bool)
	return v
}

// OnCommit defers fn until the enclosing transaction commits. Outside a
// transaction fn runs immediately. Hooks of a rolled back transaction are dropped.
func OnCommit(ctx context.Context, fn func()) {
	if s, ok := scopeFrom(ctx); ok {
		s.add(fn)
		return
	}
	fn()
}

// OnRollback registers fn to restore state if the enclosing transaction
// fails. Outside a transaction it is a no-op, since nothing can roll back.
func OnRollback(ctx context.Context, fn func()) {
	if s, ok := scopeFrom(ctx); ok {
		s.addUndo(fn)
	}
}

// begin prepares a transaction context: deadline and hook scope. The request
// time is pinned later by pin, once the writer lock is held.
func begin(ctx context.Context, timeout time.Duration) (context.Context, *scope, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	cancel := context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	s := &scope{}
	return context.WithValue(ctx, scopeKey{}, s), s, cancel, nil
}

// pin fixes the request time for the transaction. It must run after the
// writer lock is acquired so committed timestamps follow commit order.
func pin(ctx context.Context, clock func() time.Time) context.Context {
	if requestcontext.HasTime(ctx) {
		return ctx
	}
	return requestcontext.WithTime(ctx, clock())
}

// Option configures a runner.
type Option func(*options)

type options struct {
	timeout time.Duration
	clock   func() time.Time
}

// WithTimeout overrides the per-transaction timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock overrides the clock used to pin request time.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
