package ledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	credential "credline/internal/credential/models"
	identity "credline/internal/identity/models"
	lending "credline/internal/lending/models"
	scoring "credline/internal/scoring/models"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

// traced runs fn inside a span named after the operation and records the
// outcome.
func traced[T any](ctx context.Context, l *Ledger, op string, subject id.Address, fn func(context.Context) (T, error)) (T, error) {
	attrs := []attribute.KeyValue{
		attribute.String("ledger.operation", op),
		attribute.String("ledger.caller", string(requestcontext.Caller(ctx))),
	}
	if !subject.IsNil() {
		attrs = append(attrs, attribute.String("ledger.subject", string(subject)))
	}
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		code := dErrors.CodeOf(err)
		if code == "" {
			code = dErrors.CodeInternal
		}
		span.SetAttributes(attribute.String("ledger.outcome", string(code)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		if code == dErrors.CodeInternal {
			l.logger.ErrorContext(ctx, "ledger operation failed", "operation", op, "subject", subject, "error", err)
		}
		return out, err
	}
	span.SetAttributes(attribute.String("ledger.outcome", "ok"))
	return out, nil
}

// query is traced for operations that cannot fail.
func query[T any](ctx context.Context, l *Ledger, op string, subject id.Address, fn func(context.Context) T) T {
	out, _ := traced(ctx, l, op, subject, func(ctx context.Context) (T, error) {
		return fn(ctx), nil
	})
	return out
}

// Identity registry

func (l *Ledger) CreateIdentity(ctx context.Context, subject id.Address, firstDocument id.ContentHash) (*identity.Identity, error) {
	return traced(ctx, l, "create_identity", subject, func(ctx context.Context) (*identity.Identity, error) {
		return l.identity.CreateIdentity(ctx, subject, firstDocument)
	})
}

func (l *Ledger) AddDocument(ctx context.Context, subject id.Address, hash id.ContentHash) (*identity.Identity, error) {
	return traced(ctx, l, "add_document", subject, func(ctx context.Context) (*identity.Identity, error) {
		return l.identity.AddDocument(ctx, subject, hash)
	})
}

func (l *Ledger) VerifyIdentity(ctx context.Context, subject id.Address, level int) (*identity.Identity, error) {
	return traced(ctx, l, "verify_identity", subject, func(ctx context.Context) (*identity.Identity, error) {
		return l.identity.VerifyIdentity(ctx, subject, level)
	})
}

func (l *Ledger) GetIdentity(ctx context.Context, subject id.Address) (*identity.Identity, error) {
	return traced(ctx, l, "get_identity", subject, func(ctx context.Context) (*identity.Identity, error) {
		return l.identity.GetIdentity(ctx, subject)
	})
}

func (l *Ledger) GetDocument(ctx context.Context, subject id.Address, index int) (id.ContentHash, error) {
	return traced(ctx, l, "get_document", subject, func(ctx context.Context) (id.ContentHash, error) {
		return l.identity.GetDocument(ctx, subject, index)
	})
}

func (l *Ledger) GetUniqueID(ctx context.Context, subject id.Address) (id.UniqueID, error) {
	return traced(ctx, l, "get_unique_id", subject, func(ctx context.Context) (id.UniqueID, error) {
		return l.identity.GetUniqueID(ctx, subject)
	})
}

func (l *Ledger) IsVerified(ctx context.Context, subject id.Address) (bool, error) {
	return traced(ctx, l, "is_verified", subject, func(ctx context.Context) (bool, error) {
		return l.identity.IsVerified(ctx, subject)
	})
}

func (l *Ledger) GetVerificationLevel(ctx context.Context, subject id.Address) (int, error) {
	return traced(ctx, l, "get_verification_level", subject, func(ctx context.Context) (int, error) {
		return l.identity.GetVerificationLevel(ctx, subject)
	})
}

func (l *Ledger) TotalUsers(ctx context.Context) (int, error) {
	return traced(ctx, l, "total_users", "", l.identity.TotalUsers)
}

// Scoring engine

func (l *Ledger) CalculateInitialScore(ctx context.Context, subject id.Address) (*scoring.Record, error) {
	return traced(ctx, l, "calculate_initial_score", subject, func(ctx context.Context) (*scoring.Record, error) {
		return l.scoring.CalculateInitialScore(ctx, subject)
	})
}

func (l *Ledger) RewardScore(ctx context.Context, subject id.Address, delta int) (*scoring.Record, error) {
	return traced(ctx, l, "reward_score", subject, func(ctx context.Context) (*scoring.Record, error) {
		return l.scoring.RewardScore(ctx, subject, delta)
	})
}

func (l *Ledger) PenalizeScore(ctx context.Context, subject id.Address, delta int) (*scoring.Record, error) {
	return traced(ctx, l, "penalize_score", subject, func(ctx context.Context) (*scoring.Record, error) {
		return l.scoring.PenalizeScore(ctx, subject, delta)
	})
}

func (l *Ledger) GetScore(ctx context.Context, subject id.Address) (*scoring.Record, error) {
	return traced(ctx, l, "get_score", subject, func(ctx context.Context) (*scoring.Record, error) {
		return l.scoring.GetScore(ctx, subject)
	})
}

func (l *Ledger) IsBlacklisted(ctx context.Context, subject id.Address) (bool, error) {
	return traced(ctx, l, "is_blacklisted", subject, func(ctx context.Context) (bool, error) {
		return l.scoring.IsBlacklisted(ctx, subject)
	})
}

// Credential issuer

func (l *Ledger) MintSBT(ctx context.Context, subject id.Address, scoreHash []byte, score, level int) (*credential.Credential, error) {
	return traced(ctx, l, "mint_sbt", subject, func(ctx context.Context) (*credential.Credential, error) {
		return l.credential.MintSBT(ctx, subject, scoreHash, score, level)
	})
}

func (l *Ledger) TransferFrom(ctx context.Context, from, to id.Address, tokenID id.TokenID) error {
	_, err := traced(ctx, l, "transfer_from", from, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.credential.TransferFrom(ctx, from, to, tokenID)
	})
	return err
}

func (l *Ledger) SafeTransferFrom(ctx context.Context, from, to id.Address, tokenID id.TokenID, data []byte) error {
	_, err := traced(ctx, l, "safe_transfer_from", from, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.credential.SafeTransferFrom(ctx, from, to, tokenID, data)
	})
	return err
}

func (l *Ledger) Approve(ctx context.Context, to id.Address, tokenID id.TokenID) error {
	_, err := traced(ctx, l, "approve", to, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.credential.Approve(ctx, to, tokenID)
	})
	return err
}

func (l *Ledger) SetApprovalForAll(ctx context.Context, operator id.Address, approved bool) error {
	_, err := traced(ctx, l, "set_approval_for_all", operator, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.credential.SetApprovalForAll(ctx, operator, approved)
	})
	return err
}

func (l *Ledger) GetApproved(ctx context.Context, tokenID id.TokenID) (id.Address, error) {
	return traced(ctx, l, "get_approved", "", func(ctx context.Context) (id.Address, error) {
		return l.credential.GetApproved(ctx, tokenID)
	})
}

func (l *Ledger) IsApprovedForAll(ctx context.Context, owner, operator id.Address) (bool, error) {
	return traced(ctx, l, "is_approved_for_all", owner, func(ctx context.Context) (bool, error) {
		return l.credential.IsApprovedForAll(ctx, owner, operator)
	})
}

func (l *Ledger) GetSBTMetadata(ctx context.Context, tokenID id.TokenID) (*credential.Credential, error) {
	return traced(ctx, l, "get_sbt_metadata", "", func(ctx context.Context) (*credential.Credential, error) {
		return l.credential.GetSBTMetadata(ctx, tokenID)
	})
}

func (l *Ledger) GetUserSBT(ctx context.Context, subject id.Address) (*credential.Credential, error) {
	return traced(ctx, l, "get_user_sbt", subject, func(ctx context.Context) (*credential.Credential, error) {
		return l.credential.GetUserSBT(ctx, subject)
	})
}

func (l *Ledger) HasActiveSBT(ctx context.Context, subject id.Address) bool {
	return query(ctx, l, "has_active_sbt", subject, func(ctx context.Context) bool {
		return l.credential.HasActiveSBT(ctx, subject)
	})
}

func (l *Ledger) VerifySBT(ctx context.Context, subject id.Address, minLevel int) bool {
	return query(ctx, l, "verify_sbt", subject, func(ctx context.Context) bool {
		return l.credential.VerifySBT(ctx, subject, minLevel)
	})
}

func (l *Ledger) IsValid(ctx context.Context, tokenID id.TokenID) bool {
	return query(ctx, l, "is_valid", "", func(ctx context.Context) bool {
		return l.credential.IsValid(ctx, tokenID)
	})
}

func (l *Ledger) IsExpired(ctx context.Context, tokenID id.TokenID) bool {
	return query(ctx, l, "is_expired", "", func(ctx context.Context) bool {
		return l.credential.IsExpired(ctx, tokenID)
	})
}

func (l *Ledger) BalanceOf(ctx context.Context, subject id.Address) (int, error) {
	return traced(ctx, l, "balance_of", subject, func(ctx context.Context) (int, error) {
		return l.credential.BalanceOf(ctx, subject)
	})
}

func (l *Ledger) OwnerOf(ctx context.Context, tokenID id.TokenID) (id.Address, error) {
	return traced(ctx, l, "owner_of", "", func(ctx context.Context) (id.Address, error) {
		return l.credential.OwnerOf(ctx, tokenID)
	})
}

func (l *Ledger) TotalSupply(ctx context.Context) (uint64, error) {
	return traced(ctx, l, "total_supply", "", l.credential.TotalSupply)
}

func (l *Ledger) CredentialHistory(ctx context.Context, subject id.Address) ([]*credential.Credential, error) {
	return traced(ctx, l, "credential_history", subject, func(ctx context.Context) ([]*credential.Credential, error) {
		return l.credential.History(ctx, subject)
	})
}

func (l *Ledger) RenewSBT(ctx context.Context, tokenID id.TokenID) (*credential.Credential, error) {
	return traced(ctx, l, "renew_sbt", "", func(ctx context.Context) (*credential.Credential, error) {
		return l.credential.RenewSBT(ctx, tokenID)
	})
}

func (l *Ledger) RenewUserSBT(ctx context.Context, subject id.Address) (*credential.Credential, error) {
	return traced(ctx, l, "renew_user_sbt", subject, func(ctx context.Context) (*credential.Credential, error) {
		return l.credential.RenewUserSBT(ctx, subject)
	})
}

// Loan settlement and liquidity pool

func (l *Ledger) Fund(ctx context.Context, to id.Address, amount id.Amount) error {
	_, err := traced(ctx, l, "fund", to, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.lending.Fund(ctx, to, amount)
	})
	return err
}

func (l *Ledger) RequestLoan(ctx context.Context, amount id.Amount, installments int) (*lending.Loan, error) {
	return traced(ctx, l, "request_loan", requestcontext.Caller(ctx), func(ctx context.Context) (*lending.Loan, error) {
		return l.lending.RequestLoan(ctx, amount, installments)
	})
}

func (l *Ledger) PayInstallment(ctx context.Context, loanID id.LoanID) (*lending.Loan, error) {
	return traced(ctx, l, "pay_installment", requestcontext.Caller(ctx), func(ctx context.Context) (*lending.Loan, error) {
		return l.lending.PayInstallment(ctx, loanID)
	})
}

func (l *Ledger) CalculateTotalRepayment(ctx context.Context, loanID id.LoanID) (id.Amount, error) {
	return traced(ctx, l, "calculate_total_repayment", "", func(ctx context.Context) (id.Amount, error) {
		return l.lending.CalculateTotalRepayment(ctx, loanID)
	})
}

func (l *Ledger) GetLoan(ctx context.Context, loanID id.LoanID) (*lending.Loan, error) {
	return traced(ctx, l, "get_loan", "", func(ctx context.Context) (*lending.Loan, error) {
		return l.lending.GetLoan(ctx, loanID)
	})
}

func (l *Ledger) LoansByBorrower(ctx context.Context, borrower id.Address) ([]*lending.Loan, error) {
	return traced(ctx, l, "loans_by_borrower", borrower, func(ctx context.Context) ([]*lending.Loan, error) {
		return l.lending.LoansByBorrower(ctx, borrower)
	})
}

func (l *Ledger) LoanCount(ctx context.Context) (uint64, error) {
	return traced(ctx, l, "loan_count", "", l.lending.LoanCount)
}

func (l *Ledger) Deposit(ctx context.Context, amount id.Amount) (*lending.Position, error) {
	return traced(ctx, l, "deposit", requestcontext.Caller(ctx), func(ctx context.Context) (*lending.Position, error) {
		return l.lending.Deposit(ctx, amount)
	})
}

func (l *Ledger) Withdraw(ctx context.Context, amount id.Amount) (*lending.Position, error) {
	return traced(ctx, l, "withdraw", requestcontext.Caller(ctx), func(ctx context.Context) (*lending.Position, error) {
		return l.lending.Withdraw(ctx, amount)
	})
}

func (l *Ledger) GetDeposit(ctx context.Context, depositor id.Address) (*lending.Position, error) {
	return traced(ctx, l, "get_deposit", depositor, func(ctx context.Context) (*lending.Position, error) {
		return l.lending.GetDeposit(ctx, depositor)
	})
}

func (l *Ledger) AccruedInterest(ctx context.Context, depositor id.Address) (id.Amount, error) {
	return traced(ctx, l, "accrued_interest", depositor, func(ctx context.Context) (id.Amount, error) {
		return l.lending.AccruedInterest(ctx, depositor)
	})
}

func (l *Ledger) PoolBalance(ctx context.Context) (id.Amount, error) {
	return traced(ctx, l, "pool_balance", "", l.lending.PoolBalance)
}

func (l *Ledger) FundsBalance(ctx context.Context, addr id.Address) (id.Amount, error) {
	return traced(ctx, l, "funds_balance", addr, func(ctx context.Context) (id.Amount, error) {
		return l.lending.BalanceOf(ctx, addr)
	})
}

// Event log

// ListEvents returns a subject's events in commit order.
func (l *Ledger) ListEvents(ctx context.Context, subject id.Address) ([]audit.Event, error) {
	return traced(ctx, l, "list_events", subject, func(ctx context.Context) ([]audit.Event, error) {
		events, err := tx.Read(ctx, l.runner, func(ctx context.Context) ([]audit.Event, error) {
			return l.events.List(ctx, subject)
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
		}
		return events, nil
	})
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (l *Ledger) RecentEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	return traced(ctx, l, "recent_events", "", func(ctx context.Context) ([]audit.Event, error) {
		events, err := tx.Read(ctx, l.runner, func(ctx context.Context) ([]audit.Event, error) {
			return l.events.ListRecent(ctx, limit)
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
		}
		return events, nil
	})
}
