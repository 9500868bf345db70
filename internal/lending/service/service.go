// Package service implements the loan settlement engine and the liquidity
// pool it draws from.
//
// Loans are bounded by the borrower's credit limit at request time and are
// funded from the pool. Installments flow back into the pool. Depositors earn
// simple interest on their position.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"credline/internal/lending/funds"
	"credline/internal/lending/metrics"
	"credline/internal/lending/models"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/authz"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

type Store interface {
	NextLoanID(ctx context.Context) (id.LoanID, error)
	LoanCount(ctx context.Context) (uint64, error)
	InsertLoan(ctx context.Context, loan *models.Loan) error
	FindLoan(ctx context.Context, loanID id.LoanID) (*models.Loan, error)
	ListByBorrower(ctx context.Context, borrower id.Address) ([]*models.Loan, error)
	ExecuteLoan(ctx context.Context, loanID id.LoanID, validate func(*models.Loan) error, mutate func(*models.Loan)) (*models.Loan, error)
	FindPosition(ctx context.Context, depositor id.Address) (*models.Position, error)
	SavePosition(ctx context.Context, p *models.Position) error
}

// Funds is the value-transfer primitive. Transfer fails with
// sentinel.ErrInsufficientBalance when the sender cannot cover it.
type Funds interface {
	BalanceOf(ctx context.Context, addr id.Address) (id.Amount, error)
	Credit(ctx context.Context, addr id.Address, amount id.Amount) error
	Transfer(ctx context.Context, from, to id.Address, amount id.Amount) error
}

// ScoreReader supplies the borrower's live credit limit.
type ScoreReader interface {
	CreditLimit(ctx context.Context, subject id.Address) (id.Amount, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service settles loans against the liquidity pool.
type Service struct {
	store    Store
	funds    Funds
	scores   ScoreReader
	tx       tx.Runner
	operator id.Address
	aprBps   int64
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

// WithAPR sets the depositor yield in basis points.
func WithAPR(bps int64) Option {
	return func(s *Service) {
		if bps >= 0 {
			s.aprBps = bps
		}
	}
}

// WithClock sets the clock used by read-only interest queries.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(store Store, book Funds, scores ScoreReader, runner tx.Runner, operator id.Address, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lending store is required")
	}
	if book == nil {
		return nil, errors.New("funds book is required")
	}
	if scores == nil {
		return nil, errors.New("score reader is required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner is required")
	}
	s := &Service{
		store:    store,
		funds:    book,
		scores:   scores,
		tx:       runner,
		operator: operator,
		aprBps:   models.DefaultAPRBasisPoints,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fund credits amount to a subject's balance. Operator only.
func (s *Service) Fund(ctx context.Context, to id.Address, amount id.Amount) error {
	if err := authz.RequireOperator(ctx, s.operator); err != nil {
		return err
	}
	if to.IsNil() {
		return dErrors.New(dErrors.CodeZeroSubject, "recipient is required")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.funds.Credit(ctx, to, amount); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit funds")
		}
		if to == funds.PoolAddress {
			s.trackLiquidity(ctx)
		}
		return s.emit(ctx, audit.EventFundsCredited, to, map[string]string{
			"amount": formatAmount(amount),
		})
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "funds credited", "subject", to, "amount", amount)
	return nil
}

// RequestLoan opens a loan for the caller, paying the principal out of the
// pool into the caller's balance.
func (s *Service) RequestLoan(ctx context.Context, amount id.Amount, installments int) (*models.Loan, error) {
	borrower, err := authz.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	var opened *models.Loan
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if amount <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "loan amount must be positive")
		}
		if _, err := models.RateFor(installments); err != nil {
			return err
		}
		limit, err := s.scores.CreditLimit(ctx, borrower)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read credit limit")
		}
		if amount > limit {
			return dErrors.Newf(dErrors.CodeCreditLimitExceeded, "amount %d exceeds credit limit %d", amount, limit)
		}
		liquidity, err := s.funds.BalanceOf(ctx, funds.PoolAddress)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pool balance")
		}
		if amount > liquidity {
			return dErrors.New(dErrors.CodeInsufficientLiquidity, "pool cannot fund this loan")
		}

		loanID, err := s.store.NextLoanID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate loan id")
		}
		loan, err := models.NewLoan(loanID, borrower, amount, installments, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.store.InsertLoan(ctx, loan); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save loan")
		}
		if err := s.funds.Transfer(ctx, funds.PoolAddress, borrower, amount); err != nil {
			return s.transferErr(err, dErrors.CodeInsufficientLiquidity)
		}
		s.trackLiquidity(ctx)
		if err := s.emit(ctx, audit.EventLoanRequested, borrower, loan.RequestedAttributes()); err != nil {
			return err
		}
		opened = loan
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			if code := dErrors.CodeOf(err); code != "" {
				s.metrics.LoanRejections.WithLabelValues(string(code)).Inc()
			}
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LoansOpened.Inc()
		s.metrics.PrincipalDisbursed.Add(float64(opened.Principal))
	}
	s.logger.InfoContext(ctx, "loan opened",
		"borrower", borrower,
		"loan_id", opened.ID,
		"amount", opened.Principal,
		"installments", opened.InstallmentsTotal,
		"installment_amount", opened.InstallmentAmount,
	)
	return opened, nil
}

// PayInstallment moves one installment from the borrower to the pool.
func (s *Service) PayInstallment(ctx context.Context, loanID id.LoanID) (*models.Loan, error) {
	caller, err := authz.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	var (
		paid    *models.Loan
		settled bool
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		loan, err := s.store.ExecuteLoan(ctx, loanID,
			func(l *models.Loan) error { return l.ValidatePayment(caller) },
			func(l *models.Loan) { settled = l.ApplyPayment(now) },
		)
		if err != nil {
			return wrapStoreErr(err, "failed to record payment")
		}
		if err := s.funds.Transfer(ctx, caller, funds.PoolAddress, loan.InstallmentAmount); err != nil {
			return s.transferErr(err, dErrors.CodeInsufficientFunds)
		}
		s.trackLiquidity(ctx)
		if err := s.emit(ctx, audit.EventInstallmentPaid, caller, loan.PaymentAttributes()); err != nil {
			return err
		}
		if settled {
			if err := s.emit(ctx, audit.EventLoanRepaid, caller, map[string]string{
				"loan_id": loan.ID.String(),
				"total":   formatAmount(loan.TotalRepayment()),
			}); err != nil {
				return err
			}
		}
		paid = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.InstallmentsPaid.Inc()
		if settled {
			s.metrics.LoansRepaid.Inc()
		}
	}
	s.logger.InfoContext(ctx, "installment paid",
		"borrower", caller,
		"loan_id", paid.ID,
		"installments_paid", paid.InstallmentsPaid,
		"repaid", settled,
	)
	return paid, nil
}

// CalculateTotalRepayment is the installment amount times the term.
func (s *Service) CalculateTotalRepayment(ctx context.Context, loanID id.LoanID) (id.Amount, error) {
	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return 0, err
	}
	return loan.TotalRepayment(), nil
}

func (s *Service) GetLoan(ctx context.Context, loanID id.LoanID) (*models.Loan, error) {
	loan, err := tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Loan, error) {
		return s.store.FindLoan(ctx, loanID)
	})
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load loan")
	}
	return loan, nil
}

func (s *Service) LoansByBorrower(ctx context.Context, borrower id.Address) ([]*models.Loan, error) {
	loans, err := tx.Read(ctx, s.tx, func(ctx context.Context) ([]*models.Loan, error) {
		return s.store.ListByBorrower(ctx, borrower)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list loans")
	}
	return loans, nil
}

// LoanCount is the number of loans ever opened.
func (s *Service) LoanCount(ctx context.Context) (uint64, error) {
	n, err := tx.Read(ctx, s.tx, s.store.LoanCount)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count loans")
	}
	return n, nil
}

// Deposit moves amount from the caller into the pool. Interest accrued on an
// existing position is folded into its principal first.
func (s *Service) Deposit(ctx context.Context, amount id.Amount) (*models.Position, error) {
	depositor, err := authz.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "deposit must be positive")
	}
	var position *models.Position
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		if err := s.funds.Transfer(ctx, depositor, funds.PoolAddress, amount); err != nil {
			return s.transferErr(err, dErrors.CodeInsufficientFunds)
		}
		p, err := s.loadPosition(ctx, depositor)
		if err != nil {
			return err
		}
		p.ApplyDeposit(amount, now, s.aprBps)
		if err := s.store.SavePosition(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save deposit")
		}
		s.trackLiquidity(ctx)
		if err := s.emit(ctx, audit.EventLiquidityDeposit, depositor, map[string]string{
			"amount":   formatAmount(amount),
			"position": formatAmount(p.Amount),
		}); err != nil {
			return err
		}
		position = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PoolDeposits.Inc()
	}
	s.logger.InfoContext(ctx, "liquidity deposited", "depositor", depositor, "amount", amount)
	return position, nil
}

// Withdraw pays amount out of the caller's position, accrued interest
// included. The pool must hold enough liquidity to cover it.
func (s *Service) Withdraw(ctx context.Context, amount id.Amount) (*models.Position, error) {
	depositor, err := authz.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "withdrawal must be positive")
	}
	var position *models.Position
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		p, err := s.loadPosition(ctx, depositor)
		if err != nil {
			return err
		}
		if amount > p.Entitlement(now, s.aprBps) {
			return dErrors.New(dErrors.CodeInsufficientFunds, "withdrawal exceeds deposit and interest")
		}
		liquidity, err := s.funds.BalanceOf(ctx, funds.PoolAddress)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pool balance")
		}
		if amount > liquidity {
			return dErrors.New(dErrors.CodeInsufficientLiquidity, "pool cannot cover this withdrawal")
		}
		if err := s.funds.Transfer(ctx, funds.PoolAddress, depositor, amount); err != nil {
			return s.transferErr(err, dErrors.CodeInsufficientLiquidity)
		}
		p.ApplyWithdrawal(amount, now, s.aprBps)
		if err := s.store.SavePosition(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save deposit")
		}
		s.trackLiquidity(ctx)
		if err := s.emit(ctx, audit.EventLiquidityWithdraw, depositor, map[string]string{
			"amount":   formatAmount(amount),
			"position": formatAmount(p.Amount),
		}); err != nil {
			return err
		}
		position = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PoolWithdrawals.Inc()
	}
	s.logger.InfoContext(ctx, "liquidity withdrawn", "depositor", depositor, "amount", amount)
	return position, nil
}

// GetDeposit returns the depositor's position, empty when none.
func (s *Service) GetDeposit(ctx context.Context, depositor id.Address) (*models.Position, error) {
	return s.loadPosition(ctx, depositor)
}

// AccruedInterest is the interest earned since the position's last deposit
// or withdrawal. Zero for subjects without a position.
func (s *Service) AccruedInterest(ctx context.Context, depositor id.Address) (id.Amount, error) {
	p, err := s.loadPosition(ctx, depositor)
	if err != nil {
		return 0, err
	}
	return p.AccruedInterest(s.now(ctx), s.aprBps), nil
}

func (s *Service) PoolBalance(ctx context.Context) (id.Amount, error) {
	return s.BalanceOf(ctx, funds.PoolAddress)
}

func (s *Service) BalanceOf(ctx context.Context, addr id.Address) (id.Amount, error) {
	balance, err := tx.Read(ctx, s.tx, func(ctx context.Context) (id.Amount, error) {
		return s.funds.BalanceOf(ctx, addr)
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
	}
	return balance, nil
}

func (s *Service) loadPosition(ctx context.Context, depositor id.Address) (*models.Position, error) {
	p, err := tx.Read(ctx, s.tx, func(ctx context.Context) (*models.Position, error) {
		return s.store.FindPosition(ctx, depositor)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.Position{Depositor: depositor}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deposit")
	}
	return p, nil
}

// trackLiquidity publishes the pool balance once the transaction commits.
func (s *Service) trackLiquidity(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	balance, err := s.funds.BalanceOf(ctx, funds.PoolAddress)
	if err != nil {
		return
	}
	tx.OnCommit(ctx, func() {
		s.metrics.PoolLiquidityUnits.Set(float64(balance))
	})
}

func (s *Service) transferErr(err error, shortfall dErrors.Code) error {
	if errors.Is(err, sentinel.ErrInsufficientBalance) {
		if shortfall == dErrors.CodeInsufficientLiquidity {
			return dErrors.Wrap(err, shortfall, "pool balance is too low")
		}
		return dErrors.Wrap(err, shortfall, "balance is too low")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to move funds")
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
		Component:  audit.ComponentLending,
		Subject:    subject,
		Attributes: attrs,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record lending event")
	}
	return nil
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case dErrors.CodeOf(err) != "":
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "loan not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func formatAmount(a id.Amount) string {
	return strconv.FormatInt(int64(a), 10)
}
