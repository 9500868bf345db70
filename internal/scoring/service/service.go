// Package service implements the credit scoring engine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credline/internal/scoring/metrics"
	"credline/internal/scoring/models"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/authz"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

type Store interface {
	FindBySubject(ctx context.Context, subject id.Address) (*models.Record, error)
	Save(ctx context.Context, record *models.Record) error
}

// Cache is an optional read-through cache for score queries.
type Cache interface {
	Get(ctx context.Context, subject id.Address) (*models.Record, error)
	Set(ctx context.Context, record *models.Record) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns score records.
type Service struct {
	store    Store
	tx       tx.Runner
	operator id.Address
	cache    Cache
	events   EventEmitter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithEventEmitter(events EventEmitter) Option {
	return func(s *Service) {
		s.events = events
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func New(store Store, runner tx.Runner, operator id.Address, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("score store is required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner is required")
	}
	s := &Service{store: store, tx: runner, operator: operator, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CalculateInitialScore (re)sets subject's score to the initial value. Any
// caller may trigger it, for any subject, and it is safe to repeat.
func (s *Service) CalculateInitialScore(ctx context.Context, subject id.Address) (*models.Record, error) {
	if subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeZeroSubject, "subject is required")
	}
	return s.mutate(ctx, subject, models.ReasonInitial, func(r *models.Record, now time.Time) bool {
		r.ApplyInitial(now)
		return false
	})
}

// RewardScore raises subject's score and recomputes the credit limit. Operator only.
func (s *Service) RewardScore(ctx context.Context, subject id.Address, delta int) (*models.Record, error) {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return nil, err
	}
	if err := validateInput(subject, delta); err != nil {
		return nil, err
	}
	return s.mutate(ctx, subject, models.ReasonReward, func(r *models.Record, now time.Time) bool {
		r.ApplyReward(delta, now)
		return false
	})
}

// PenalizeScore lowers subject's score and keeps the credit limit as it was.
// A penalty that leaves the score at zero blacklists the subject and emits
// UserBlacklisted, even if the subject was already at zero. Operator only.
func (s *Service) PenalizeScore(ctx context.Context, subject id.Address, delta int) (*models.Record, error) {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return nil, err
	}
	if err := validateInput(subject, delta); err != nil {
		return nil, err
	}
	return s.mutate(ctx, subject, models.ReasonPenalty, func(r *models.Record, now time.Time) bool {
		return r.ApplyPenalty(delta, now)
	})
}

// GetScore returns the subject's record, or a zero record for unknown subjects.
func (s *Service) GetScore(ctx context.Context, subject id.Address) (*models.Record, error) {
	if s.cache != nil && !tx.InTx(ctx) {
		if cached, err := s.cache.Get(ctx, subject); err == nil {
			if s.metrics != nil {
				s.metrics.IncrementCacheHit()
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.IncrementCacheMiss()
		}
	}
	return tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Record, error) {
		return s.load(ctx, subject)
	})
}

func (s *Service) IsBlacklisted(ctx context.Context, subject id.Address) (bool, error) {
	record, err := s.GetScore(ctx, subject)
	if err != nil {
		return false, err
	}
	return record.Blacklisted, nil
}

// CreditLimit reads the subject's current limit from the store, joining the
// caller's transaction so the value cannot change before the caller commits.
func (s *Service) CreditLimit(ctx context.Context, subject id.Address) (id.Amount, error) {
	record, err := tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Record, error) {
		return s.load(ctx, subject)
	})
	if err != nil {
		return 0, err
	}
	return record.MaxLoanAmount, nil
}

func (s *Service) mutate(ctx context.Context, subject id.Address, reason models.Reason, apply func(*models.Record, time.Time) bool) (*models.Record, error) {
	var (
		updated *models.Record
		zeroed  bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.load(ctx, subject)
		if err != nil {
			return err
		}
		zeroed = apply(record, requestcontext.Now(ctx))
		if err := s.store.Save(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save score")
		}
		attrs := models.ScoreUpdated{Subject: subject, Score: record.Score, MaxLoanAmount: record.MaxLoanAmount, Reason: reason}.Attributes()
		if err := s.emit(ctx, audit.EventScoreUpdated, subject, attrs); err != nil {
			return err
		}
		if zeroed {
			if err := s.emit(ctx, audit.EventUserBlacklisted, subject, nil); err != nil {
				return err
			}
		}
		s.writeThrough(ctx, record)
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementUpdate(reason)
		if zeroed {
			s.metrics.IncrementBlacklisted()
		}
	}
	if zeroed {
		s.logger.WarnContext(ctx, "subject blacklisted", "subject", subject)
	}
	s.logger.InfoContext(ctx, "score updated",
		"subject", subject,
		"score", updated.Score,
		"max_loan_amount", updated.MaxLoanAmount,
		"reason", reason,
	)
	return updated, nil
}

// writeThrough refreshes the cache once the transaction commits.
func (s *Service) writeThrough(ctx context.Context, record *models.Record) {
	if s.cache == nil {
		return
	}
	snapshot := record.Clone()
	tx.OnCommit(ctx, func() {
		if err := s.cache.Set(context.WithoutCancel(ctx), snapshot); err != nil {
			s.logger.WarnContext(ctx, "score cache write failed", "subject", snapshot.Subject, "error", err)
		}
	})
}

func (s *Service) load(ctx context.Context, subject id.Address) (*models.Record, error) {
	record, err := s.store.FindBySubject(ctx, subject)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.Empty(subject), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load score")
	}
	return record, nil
}

func (s *Service) emit(ctx context.Context, typ audit.EventType, subject id.Address, attrs map[string]string) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Emit(ctx, audit.Event{
		Type:       typ,
		Component:  audit.ComponentScoring,
		Subject:    subject,
		Attributes: attrs,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record score event")
	}
	return nil
}

func validateInput(subject id.Address, delta int) error {
	if subject.IsNil() {
		return dErrors.New(dErrors.CodeZeroSubject, "subject is required")
	}
	if delta < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "delta must not be negative")
	}
	return nil
}
