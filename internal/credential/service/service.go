// Package service implements the soulbound credential issuer.
//
// Each subject holds at most one live credential. Minting to a subject that
// already holds one revokes the old token first; token ids and the total
// supply only ever grow. Transfers are always rejected, while approvals are
// recorded so standard token tooling keeps working.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credline/internal/credential/metrics"
	"credline/internal/credential/models"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/authz"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

type Store interface {
	NextTokenID(ctx context.Context) (id.TokenID, error)
	TotalSupply(ctx context.Context) (uint64, error)
	Insert(ctx context.Context, c *models.Credential) error
	FindByToken(ctx context.Context, tokenID id.TokenID) (*models.Credential, error)
	FindLiveByOwner(ctx context.Context, owner id.Address) (*models.Credential, error)
	ListByOwner(ctx context.Context, owner id.Address) ([]*models.Credential, error)
	Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Credential) error, mutate func(*models.Credential)) (*models.Credential, error)
	SetApprovalForAll(ctx context.Context, owner, operator id.Address, approved bool) error
	IsApprovedForAll(ctx context.Context, owner, operator id.Address) (bool, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service issues, renews and answers queries about credentials.
type Service struct {
	store    Store
	tx       tx.Runner
	operator id.Address
	validity time.Duration
	events   EventEmitter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
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

// WithValidity overrides the credential validity window.
func WithValidity(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithClock sets the clock used by read-only validity queries.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(store Store, runner tx.Runner, operator id.Address, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner is required")
	}
	s := &Service{
		store:    store,
		tx:       runner,
		operator: operator,
		validity: models.DefaultValidity,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MintSBT issues a credential to subject, revoking any live one first.
// Operator only.
func (s *Service) MintSBT(ctx context.Context, subject id.Address, scoreHash []byte, score, level int) (*models.Credential, error) {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return nil, err
	}
	if err := models.ValidateMint(subject, score, level); err != nil {
		return nil, err
	}

	var (
		minted  *models.Credential
		revoked id.TokenID
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)

		current, err := s.store.FindLiveByOwner(ctx, subject)
		switch {
		case err == nil:
			if _, err := s.store.Execute(ctx, current.TokenID,
				func(*models.Credential) error { return nil },
				func(c *models.Credential) { c.ApplyRevocation(now) },
			); err != nil {
				return wrapStoreErr(err, "failed to revoke credential")
			}
			revoked = current.TokenID
			if err := s.emit(ctx, audit.EventSBTRevoked, subject, map[string]string{"token_id": current.TokenID.String()}); err != nil {
				return err
			}
		case !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
		}

		tokenID, err := s.store.NextTokenID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate token id")
		}
		c := models.NewCredential(tokenID, subject, scoreHash, score, level, requestcontext.Caller(ctx), now, s.validity)
		if err := s.store.Insert(ctx, c); err != nil {
			return wrapStoreErr(err, "failed to store credential")
		}
		if err := s.emit(ctx, audit.EventSBTMinted, subject, c.MintedAttributes()); err != nil {
			return err
		}
		minted = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Minted.Inc()
		if !revoked.IsNil() {
			s.metrics.Revoked.Inc()
		}
	}
	s.logger.InfoContext(ctx, "credential minted",
		"subject", subject,
		"token_id", minted.TokenID,
		"revoked_token_id", revoked,
		"expires_at", minted.ExpiresAt,
	)
	return minted, nil
}

// TransferFrom always fails: credentials are soulbound.
func (s *Service) TransferFrom(ctx context.Context, from, to id.Address, tokenID id.TokenID) error {
	return s.rejectTransfer(ctx, from, to, tokenID)
}

// SafeTransferFrom always fails: credentials are soulbound.
func (s *Service) SafeTransferFrom(ctx context.Context, from, to id.Address, tokenID id.TokenID, _ []byte) error {
	return s.rejectTransfer(ctx, from, to, tokenID)
}

func (s *Service) rejectTransfer(ctx context.Context, from, to id.Address, tokenID id.TokenID) error {
	if s.metrics != nil {
		s.metrics.TransfersRejected.Inc()
	}
	s.logger.WarnContext(ctx, "credential transfer rejected",
		"caller", requestcontext.Caller(ctx),
		"from", from,
		"to", to,
		"token_id", tokenID,
	)
	return dErrors.New(dErrors.CodeSoulbound, "credentials are non-transferable")
}

// Approve records a single-token approval. Only the owner or one of its
// approved operators may approve. The approval never enables a transfer.
func (s *Service) Approve(ctx context.Context, to id.Address, tokenID id.TokenID) error {
	caller, err := authz.RequireCaller(ctx)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.GetSBTMetadata(ctx, tokenID)
		if err != nil {
			return err
		}
		if current.Owner == to {
			return dErrors.New(dErrors.CodeInvalidInput, "cannot approve the current owner")
		}
		if current.Owner != caller {
			ok, err := s.IsApprovedForAll(ctx, current.Owner, caller)
			if err != nil {
				return err
			}
			if !ok {
				return dErrors.New(dErrors.CodeNotAuthorized, "caller is not the owner nor an approved operator")
			}
		}
		c, err := s.store.Execute(ctx, tokenID,
			func(c *models.Credential) error {
				if !c.Exists() {
					return dErrors.New(dErrors.CodeNotFound, "credential not found")
				}
				return nil
			},
			func(c *models.Credential) { c.Approved = to },
		)
		if err != nil {
			return wrapStoreErr(err, "failed to approve")
		}
		return s.emit(ctx, audit.EventApproval, c.Owner, map[string]string{
			"token_id": tokenID.String(),
			"approved": string(to),
		})
	})
}

// SetApprovalForAll records whether operator may manage all of the caller's
// credentials.
func (s *Service) SetApprovalForAll(ctx context.Context, operator id.Address, approved bool) error {
	owner, err := authz.RequireCaller(ctx)
	if err != nil {
		return err
	}
	if operator == owner {
		return dErrors.New(dErrors.CodeInvalidInput, "cannot approve self as operator")
	}
	if operator.IsNil() {
		return dErrors.New(dErrors.CodeZeroSubject, "operator is required")
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetApprovalForAll(ctx, owner, operator, approved); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set operator approval")
		}
		approvedAttr := "false"
		if approved {
			approvedAttr = "true"
		}
		return s.emit(ctx, audit.EventApprovalForAll, owner, map[string]string{
			"operator": string(operator),
			"approved": approvedAttr,
		})
	})
}

// GetApproved returns the single-token approval, "" when none.
func (s *Service) GetApproved(ctx context.Context, tokenID id.TokenID) (id.Address, error) {
	c, err := s.GetSBTMetadata(ctx, tokenID)
	if err != nil {
		return "", err
	}
	return c.Approved, nil
}

func (s *Service) IsApprovedForAll(ctx context.Context, owner, operator id.Address) (bool, error) {
	ok, err := tx.Read(ctx, s.tx, func(ctx context.Context) (bool, error) {
		return s.store.IsApprovedForAll(ctx, owner, operator)
	})
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check operator approval")
	}
	return ok, nil
}

// GetSBTMetadata fails with NotFound for tokens never minted or revoked.
func (s *Service) GetSBTMetadata(ctx context.Context, tokenID id.TokenID) (*models.Credential, error) {
	c, err := s.findByToken(ctx, tokenID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load credential")
	}
	if !c.Exists() {
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	return c, nil
}

// GetUserSBT returns subject's current credential, expired or not.
func (s *Service) GetUserSBT(ctx context.Context, subject id.Address) (*models.Credential, error) {
	c, err := tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Credential, error) {
		return s.store.FindLiveByOwner(ctx, subject)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNoActiveCredential, "subject holds no credential")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	return c, nil
}

// HasActiveSBT reports whether subject holds a credential. Expiry is not
// considered; use VerifySBT for access decisions.
func (s *Service) HasActiveSBT(ctx context.Context, subject id.Address) bool {
	_, err := s.GetUserSBT(ctx, subject)
	return err == nil
}

// VerifySBT is true iff subject holds an unexpired credential whose level is
// at least minLevel. It never fails.
func (s *Service) VerifySBT(ctx context.Context, subject id.Address, minLevel int) bool {
	c, err := s.GetUserSBT(ctx, subject)
	if err != nil {
		return false
	}
	return c.IsValid(s.now(ctx)) && c.VerificationLevel >= minLevel
}

// IsValid is false for unknown and revoked tokens.
func (s *Service) IsValid(ctx context.Context, tokenID id.TokenID) bool {
	c, err := s.findByToken(ctx, tokenID)
	if err != nil {
		return false
	}
	return c.IsValid(s.now(ctx))
}

// IsExpired is false for unknown and revoked tokens.
func (s *Service) IsExpired(ctx context.Context, tokenID id.TokenID) bool {
	c, err := s.findByToken(ctx, tokenID)
	if err != nil {
		return false
	}
	return c.IsExpired(s.now(ctx))
}

// BalanceOf is 1 when subject holds a credential and 0 otherwise.
func (s *Service) BalanceOf(ctx context.Context, subject id.Address) (int, error) {
	if subject.IsNil() {
		return 0, dErrors.New(dErrors.CodeZeroSubject, "balance query for the null subject")
	}
	if s.HasActiveSBT(ctx, subject) {
		return 1, nil
	}
	return 0, nil
}

func (s *Service) OwnerOf(ctx context.Context, tokenID id.TokenID) (id.Address, error) {
	c, err := s.GetSBTMetadata(ctx, tokenID)
	if err != nil {
		return "", err
	}
	return c.Owner, nil
}

// TotalSupply counts every token ever minted, revoked ones included.
func (s *Service) TotalSupply(ctx context.Context) (uint64, error) {
	n, err := tx.Read(ctx, s.tx, s.store.TotalSupply)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read total supply")
	}
	return n, nil
}

// History lists every credential issued to subject, oldest first.
func (s *Service) History(ctx context.Context, subject id.Address) ([]*models.Credential, error) {
	list, err := tx.Read(ctx, s.tx, func(ctx context.Context) ([]*models.Credential, error) {
		return s.store.ListByOwner(ctx, subject)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credentials")
	}
	return list, nil
}

// RenewSBT restarts a token's validity window from now. Operator only.
func (s *Service) RenewSBT(ctx context.Context, tokenID id.TokenID) (*models.Credential, error) {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return nil, err
	}
	return s.renew(ctx, tokenID)
}

// RenewUserSBT renews subject's current credential. Operator only.
func (s *Service) RenewUserSBT(ctx context.Context, subject id.Address) (*models.Credential, error) {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return nil, err
	}
	var renewed *models.Credential
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.GetUserSBT(ctx, subject)
		if err != nil {
			return err
		}
		renewed, err = s.renew(ctx, current.TokenID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

func (s *Service) renew(ctx context.Context, tokenID id.TokenID) (*models.Credential, error) {
	var renewed *models.Credential
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		c, err := s.store.Execute(ctx, tokenID,
			func(c *models.Credential) error {
				if !c.Exists() {
					return dErrors.New(dErrors.CodeNotFound, "credential not found")
				}
				return nil
			},
			func(c *models.Credential) { c.ApplyRenewal(now, s.validity) },
		)
		if err != nil {
			return wrapStoreErr(err, "failed to renew credential")
		}
		if err := s.emit(ctx, audit.EventSBTRenewed, c.Owner, c.RenewedAttributes()); err != nil {
			return err
		}
		renewed = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Renewed.Inc()
	}
	s.logger.InfoContext(ctx, "credential renewed",
		"subject", renewed.Owner,
		"token_id", renewed.TokenID,
		"expires_at", renewed.ExpiresAt,
	)
	return renewed, nil
}

func (s *Service) findByToken(ctx context.Context, tokenID id.TokenID) (*models.Credential, error) {
	return tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Credential, error) {
		return s.store.FindByToken(ctx, tokenID)
	})
}

// now prefers a request-pinned time so queries inside a transaction agree
// with its writes.
func (s *Service) now(ctx context.Context) time.Time {
	if requestcontext.HasTime(ctx) {
		return requestcontext.Now(ctx)
	}
	return s.clock()
}

func (s *Service) emit(ctx context.Context, typ audit.EventType, subject id.Address, attrs map[string]string) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Emit(ctx, audit.Event{
		Type:       typ,
		Component:  audit.ComponentCredential,
		Subject:    subject,
		Attributes: attrs,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record credential event")
	}
	return nil
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case dErrors.CodeOf(err) != "":
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "credential not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeInternal, "credential slot already taken")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
