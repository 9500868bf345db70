// Package service implements the identity ledger: identity creation, document
// attachment and operator-gated verification.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credline/internal/identity/metrics"
	"credline/internal/identity/models"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/authz"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

// Store persists identity records.
type Store interface {
	NextNonce(ctx context.Context) (uint64, error)
	Create(ctx context.Context, identity *models.Identity) error
	FindBySubject(ctx context.Context, subject id.Address) (*models.Identity, error)
	Execute(ctx context.Context, subject id.Address, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error)
	Count(ctx context.Context) (int, error)
}

// EventEmitter appends domain events inside the caller's transaction.
type EventEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns identity records.
type Service struct {
	store    Store
	tx       tx.Runner
	operator id.Address
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

// New constructs a Service. operator is the only caller allowed to verify.
func New(store Store, runner tx.Runner, operator id.Address, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
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

// CreateIdentity registers subject with its first document.
func (s *Service) CreateIdentity(ctx context.Context, subject id.Address, firstDocument id.ContentHash) (*models.Identity, error) {
	start := time.Now()
	var created *models.Identity
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.FindBySubject(ctx, subject); err == nil {
			return dErrors.New(dErrors.CodeAlreadyExists, "identity already exists")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
		}
		if err := models.ValidateDocument(firstDocument); err != nil {
			return err
		}

		nonce, err := s.store.NextNonce(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate identity nonce")
		}
		identity, err := models.NewIdentity(subject, models.DeriveUniqueID(subject, nonce), firstDocument, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.store.Create(ctx, identity); err != nil {
			return wrapStoreErr(err, "failed to create identity")
		}

		if err := s.emit(ctx, audit.EventIdentityCreated, subject, models.IdentityCreated{Subject: subject, UniqueID: identity.UniqueID}.Attributes()); err != nil {
			return err
		}
		if err := s.emit(ctx, audit.EventDocumentAdded, subject, models.DocumentAdded{Subject: subject, Hash: firstDocument, Index: 0}.Attributes()); err != nil {
			return err
		}
		created = identity
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe("create", start)
	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
	s.logger.InfoContext(ctx, "identity created", "subject", subject, "unique_id", created.UniqueID.String())
	return created, nil
}

// AddDocument appends a document hash to subject's identity.
func (s *Service) AddDocument(ctx context.Context, subject id.Address, hash id.ContentHash) (*models.Identity, error) {
	start := time.Now()
	var updated *models.Identity
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		identity, err := s.store.Execute(ctx, subject,
			func(*models.Identity) error {
				return models.ValidateDocument(hash)
			},
			func(i *models.Identity) {
				i.ApplyDocument(hash, now)
			},
		)
		if err != nil {
			return wrapStoreErr(err, "failed to add document")
		}
		attrs := models.DocumentAdded{Subject: subject, Hash: hash, Index: identity.DocumentCount() - 1}.Attributes()
		if err := s.emit(ctx, audit.EventDocumentAdded, subject, attrs); err != nil {
			return err
		}
		updated = identity
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe("add_document", start)
	if s.metrics != nil {
		s.metrics.IncrementDocumentAdded()
	}
	return updated, nil
}

// VerifyIdentity sets subject's verification level. Operator only; the level
// may move up or down across calls.
func (s *Service) VerifyIdentity(ctx context.Context, subject id.Address, level int) (*models.Identity, error) {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return nil, err
	}
	start := time.Now()
	var (
		updated  *models.Identity
		oldLevel int
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		identity, err := s.store.Execute(ctx, subject,
			func(*models.Identity) error {
				return models.ValidateLevel(level)
			},
			func(i *models.Identity) {
				oldLevel = i.ApplyVerification(level, now)
			},
		)
		if err != nil {
			return wrapStoreErr(err, "failed to verify identity")
		}
		if err := s.emit(ctx, audit.EventIdentityVerified, subject, models.IdentityVerified{Subject: subject, Level: level}.Attributes()); err != nil {
			return err
		}
		if oldLevel != level {
			attrs := models.VerificationLevelUpdated{Subject: subject, OldLevel: oldLevel, NewLevel: level}.Attributes()
			if err := s.emit(ctx, audit.EventVerificationLevelUpdated, subject, attrs); err != nil {
				return err
			}
		}
		updated = identity
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe("verify", start)
	if s.metrics != nil {
		s.metrics.IncrementVerified(level)
	}
	s.logger.InfoContext(ctx, "identity verified",
		"subject", subject,
		"old_level", oldLevel,
		"new_level", level,
	)
	return updated, nil
}

// GetIdentity returns subject's identity record.
func (s *Service) GetIdentity(ctx context.Context, subject id.Address) (*models.Identity, error) {
	identity, err := tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Identity, error) {
		return s.store.FindBySubject(ctx, subject)
	})
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load identity")
	}
	return identity, nil
}

// GetDocument returns the document at index, in insertion order.
func (s *Service) GetDocument(ctx context.Context, subject id.Address, index int) (id.ContentHash, error) {
	identity, err := s.GetIdentity(ctx, subject)
	if err != nil {
		return "", err
	}
	return identity.Document(index)
}

func (s *Service) GetUniqueID(ctx context.Context, subject id.Address) (id.UniqueID, error) {
	identity, err := s.GetIdentity(ctx, subject)
	if err != nil {
		return id.UniqueID{}, err
	}
	return identity.UniqueID, nil
}

// IsVerified is false for unknown subjects.
func (s *Service) IsVerified(ctx context.Context, subject id.Address) (bool, error) {
	identity, err := s.lookup(ctx, subject)
	if err != nil || identity == nil {
		return false, err
	}
	return identity.IsVerified, nil
}

// GetVerificationLevel is 0 for unknown subjects.
func (s *Service) GetVerificationLevel(ctx context.Context, subject id.Address) (int, error) {
	identity, err := s.lookup(ctx, subject)
	if err != nil || identity == nil {
		return models.LevelUnverified, err
	}
	return identity.VerificationLevel, nil
}

// TotalUsers counts identities ever created.
func (s *Service) TotalUsers(ctx context.Context) (int, error) {
	n, err := tx.Read(ctx, s.tx, s.store.Count)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count identities")
	}
	return n, nil
}

// lookup returns nil without error for unknown subjects.
func (s *Service) lookup(ctx context.Context, subject id.Address) (*models.Identity, error) {
	identity, err := tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Identity, error) {
		return s.store.FindBySubject(ctx, subject)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

func (s *Service) emit(ctx context.Context, typ audit.EventType, subject id.Address, attrs map[string]string) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Emit(ctx, audit.Event{
		Type:       typ,
		Component:  audit.ComponentIdentity,
		Subject:    subject,
		Attributes: attrs,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record identity event")
	}
	return nil
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveMutation(operation, start)
	}
}

// wrapStoreErr translates store sentinels into domain errors and passes coded
// errors from validation callbacks through unchanged.
func wrapStoreErr(err error, msg string) error {
	switch {
	case dErrors.CodeOf(err) != "":
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "identity not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeAlreadyExists, "identity already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
