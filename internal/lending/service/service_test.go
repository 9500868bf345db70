package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Funds,ScoreReader,EventEmitter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"credline/internal/lending/funds"
	"credline/internal/lending/metrics"
	"credline/internal/lending/models"
	"credline/internal/lending/service/mocks"
	"credline/internal/lending/store"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/audit/publisher"
	"credline/pkg/platform/audit/store/memory"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

const (
	operator id.Address = "0x00000000000000000000000000000000000000f1"
	alice    id.Address = "0x00000000000000000000000000000000000000a1"
	bob      id.Address = "0x00000000000000000000000000000000000000b1"
	lender   id.Address = "0x00000000000000000000000000000000000000d1"
)

const day = 24 * time.Hour

func units(n int64) id.Amount { return id.Amount(n) * id.ScaleUnit }

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	scores  *mocks.MockScoreReader
	limits  map[id.Address]id.Amount
	book    *funds.InMemory
	events  *memory.InMemoryStore
	metrics *metrics.Metrics
	service *Service
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.ctrl = gomock.NewController(s.T())
	s.scores = mocks.NewMockScoreReader(s.ctrl)
	s.limits = map[id.Address]id.Amount{}
	s.scores.EXPECT().CreditLimit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, subject id.Address) (id.Amount, error) {
			return s.limits[subject], nil
		}).AnyTimes()
	s.book = funds.NewInMemory()
	s.events = memory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	svc, err := New(store.NewInMemory(), s.book, s.scores, tx.NewSerial(tx.WithClock(clock)), operator,
		WithEventEmitter(publisher.NewPublisher(s.events)),
		WithMetrics(s.metrics),
		WithClock(clock),
		WithAPR(500),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) as(caller id.Address) context.Context {
	return requestcontext.WithCaller(context.Background(), caller)
}

func (s *ServiceSuite) fund(to id.Address, amount id.Amount) {
	s.Require().NoError(s.service.Fund(s.as(operator), to, amount))
}

func (s *ServiceSuite) balance(addr id.Address) id.Amount {
	b, err := s.service.BalanceOf(context.Background(), addr)
	s.Require().NoError(err)
	return b
}

func (s *ServiceSuite) eventTypes(subject id.Address) []audit.EventType {
	events, err := s.events.ListBySubject(context.Background(), subject)
	s.Require().NoError(err)
	types := make([]audit.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func (s *ServiceSuite) TestLoanRepaidAfterAllInstallments() {
	s.limits[alice] = units(300)
	s.fund(funds.PoolAddress, units(1_000))

	loan, err := s.service.RequestLoan(s.as(alice), units(200), 6)
	s.Require().NoError(err)
	s.Equal(id.LoanID(1), loan.ID)
	s.Equal(12, loan.RatePercent)
	s.Equal(id.Amount(35_333_333), loan.InstallmentAmount)
	s.Equal(units(200), s.balance(alice))
	s.Equal(units(800), s.balance(funds.PoolAddress))

	total, err := s.service.CalculateTotalRepayment(context.Background(), loan.ID)
	s.Require().NoError(err)
	s.Equal(id.Amount(211_999_998), total)

	s.fund(alice, total-units(200))
	for i := 1; i <= 6; i++ {
		paid, err := s.service.PayInstallment(s.as(alice), loan.ID)
		s.Require().NoError(err)
		s.Equal(i, paid.InstallmentsPaid)
		s.Equal(i == 6, paid.Status == models.StatusRepaid)
	}

	_, err = s.service.PayInstallment(s.as(alice), loan.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRepaid))

	s.Zero(s.balance(alice))
	s.Equal(units(800)+total, s.balance(funds.PoolAddress))
	s.Equal(float64(units(800)+total), testutil.ToFloat64(s.metrics.PoolLiquidityUnits))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.LoansRepaid))

	types := s.eventTypes(alice)
	s.Equal(audit.EventLoanRequested, types[0])
	s.Equal(audit.EventLoanRepaid, types[len(types)-1])
}

func (s *ServiceSuite) TestCreditLimitBoundary() {
	s.limits[alice] = units(300)
	s.fund(funds.PoolAddress, units(1_000))

	_, err := s.service.RequestLoan(s.as(alice), units(300)+1, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeCreditLimitExceeded))

	_, err = s.service.RequestLoan(s.as(alice), units(300), 1)
	s.Require().NoError(err)

	_, err = s.service.RequestLoan(s.as(bob), 1, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeCreditLimitExceeded), "no score means no credit")
	s.Equal(2.0, testutil.ToFloat64(s.metrics.LoanRejections.WithLabelValues(string(dErrors.CodeCreditLimitExceeded))))
}

func (s *ServiceSuite) TestRequestLoanRejects() {
	s.limits[alice] = units(300)

	tests := []struct {
		name         string
		ctx          context.Context
		amount       id.Amount
		installments int
		code         dErrors.Code
	}{
		{"no caller", context.Background(), units(10), 1, dErrors.CodeNotAuthorized},
		{"zero amount", s.as(alice), 0, 1, dErrors.CodeInvalidInput},
		{"negative amount", s.as(alice), -1, 1, dErrors.CodeInvalidInput},
		{"unsupported term", s.as(alice), units(10), 2, dErrors.CodeUnsupportedTerm},
		{"empty pool", s.as(alice), units(10), 3, dErrors.CodeInsufficientLiquidity},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			_, err := s.service.RequestLoan(tc.ctx, tc.amount, tc.installments)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}

	count, err := s.service.LoanCount(context.Background())
	s.Require().NoError(err)
	s.Zero(count, "rejected requests do not consume loan ids")
	s.Empty(s.eventTypes(alice))
}

func (s *ServiceSuite) TestPayInstallmentRejects() {
	s.limits[alice] = units(300)
	s.fund(funds.PoolAddress, units(1_000))
	loan, err := s.service.RequestLoan(s.as(alice), units(120), 1)
	s.Require().NoError(err)

	s.Run("unknown loan", func() {
		_, err := s.service.PayInstallment(s.as(alice), 42)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("someone else's loan", func() {
		s.fund(bob, units(500))
		_, err := s.service.PayInstallment(s.as(bob), loan.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotBorrower))
		s.Equal(units(500), s.balance(bob))
	})

	s.Run("borrower cannot cover the installment", func() {
		_, err := s.service.PayInstallment(s.as(alice), loan.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

		current, err := s.service.GetLoan(context.Background(), loan.ID)
		s.Require().NoError(err)
		s.Zero(current.InstallmentsPaid, "failed payment leaves the loan untouched")
		s.Equal(units(120), s.balance(alice))
	})
}

func (s *ServiceSuite) TestLoansByBorrower() {
	s.limits[alice] = units(300)
	s.limits[bob] = units(300)
	s.fund(funds.PoolAddress, units(1_000))

	for _, borrower := range []id.Address{alice, bob, alice} {
		_, err := s.service.RequestLoan(s.as(borrower), units(10), 3)
		s.Require().NoError(err)
	}
	loans, err := s.service.LoansByBorrower(context.Background(), alice)
	s.Require().NoError(err)
	s.Require().Len(loans, 2)
	s.Equal(id.LoanID(1), loans[0].ID)
	s.Equal(id.LoanID(3), loans[1].ID)
}

func (s *ServiceSuite) TestFundIsOperatorOnly() {
	err := s.service.Fund(s.as(alice), alice, units(10))
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	err = s.service.Fund(s.as(operator), "", units(10))
	s.True(dErrors.HasCode(err, dErrors.CodeZeroSubject))
	err = s.service.Fund(s.as(operator), alice, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Zero(s.balance(alice))
}

func (s *ServiceSuite) TestDepositAccruesInterest() {
	s.fund(lender, units(1_000))

	position, err := s.service.Deposit(s.as(lender), units(1_000))
	s.Require().NoError(err)
	s.Equal(units(1_000), position.Amount)
	s.Equal(units(1_000), s.balance(funds.PoolAddress))
	s.Zero(s.balance(lender))

	interest, err := s.service.AccruedInterest(context.Background(), lender)
	s.Require().NoError(err)
	s.Zero(interest, "no interest at deposit time")

	s.now = s.now.Add(30 * day)
	interest, err = s.service.AccruedInterest(context.Background(), lender)
	s.Require().NoError(err)
	s.Equal(id.Amount(4_109_589), interest)

	s.now = s.now.Add(30 * day)
	later, err := s.service.AccruedInterest(context.Background(), lender)
	s.Require().NoError(err)
	s.Greater(later, interest)

	none, err := s.service.AccruedInterest(context.Background(), bob)
	s.Require().NoError(err)
	s.Zero(none)
}

func (s *ServiceSuite) TestRedepositSettlesInterest() {
	s.fund(lender, units(2_000))
	_, err := s.service.Deposit(s.as(lender), units(1_000))
	s.Require().NoError(err)

	s.now = s.now.Add(365 * day)
	position, err := s.service.Deposit(s.as(lender), units(500))
	s.Require().NoError(err)
	s.Equal(units(1_550), position.Amount)
	s.Equal(s.now, position.DepositedAt)

	interest, err := s.service.AccruedInterest(context.Background(), lender)
	s.Require().NoError(err)
	s.Zero(interest)
}

func (s *ServiceSuite) TestDepositRejects() {
	_, err := s.service.Deposit(s.as(lender), units(1))
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
	_, err = s.service.Deposit(s.as(lender), 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = s.service.Deposit(context.Background(), units(1))
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))

	position, err := s.service.GetDeposit(context.Background(), lender)
	s.Require().NoError(err)
	s.Zero(position.Amount)
}

func (s *ServiceSuite) TestWithdraw() {
	s.limits[alice] = units(900)
	s.fund(lender, units(1_000))
	_, err := s.service.Deposit(s.as(lender), units(1_000))
	s.Require().NoError(err)

	s.Run("beyond the position", func() {
		_, err := s.service.Withdraw(s.as(lender), units(1_000)+1)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
	})

	s.Run("without a position", func() {
		_, err := s.service.Withdraw(s.as(bob), 1)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
	})

	s.Run("bounded by pool liquidity", func() {
		_, err := s.service.RequestLoan(s.as(alice), units(900), 1)
		s.Require().NoError(err)
		_, err = s.service.Withdraw(s.as(lender), units(200))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientLiquidity))
		s.Equal(units(100), s.balance(funds.PoolAddress))
	})

	s.Run("principal plus interest", func() {
		s.fund(funds.PoolAddress, units(1_000))
		s.now = s.now.Add(365 * day)
		position, err := s.service.Withdraw(s.as(lender), units(1_050))
		s.Require().NoError(err)
		s.Zero(position.Amount)
		s.Equal(units(1_050), s.balance(lender))
		s.GreaterOrEqual(s.balance(funds.PoolAddress), id.Amount(0))
	})

	s.Contains(s.eventTypes(lender), audit.EventLiquidityWithdraw)
}

type CollaboratorSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	scores *mocks.MockScoreReader
	book   *mocks.MockFunds
	events *mocks.MockEventEmitter
	store  *store.InMemory
	svc    *Service
}

func TestCollaboratorSuite(t *testing.T) {
	suite.Run(t, new(CollaboratorSuite))
}

func (s *CollaboratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.scores = mocks.NewMockScoreReader(s.ctrl)
	s.book = mocks.NewMockFunds(s.ctrl)
	s.events = mocks.NewMockEventEmitter(s.ctrl)
	s.store = store.NewInMemory()
	svc, err := New(s.store, s.book, s.scores, tx.NewSerial(), operator,
		WithEventEmitter(s.events),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.svc = svc
}

func (s *CollaboratorSuite) ctx() context.Context {
	return requestcontext.WithCaller(context.Background(), alice)
}

func (s *CollaboratorSuite) TestCreditLimitReadFailure() {
	s.scores.EXPECT().CreditLimit(gomock.Any(), alice).Return(id.Amount(0), errors.New("store down"))

	_, err := s.svc.RequestLoan(s.ctx(), units(10), 1)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *CollaboratorSuite) TestCreditLimitReadInsideTransaction() {
	s.scores.EXPECT().CreditLimit(gomock.Any(), alice).
		DoAndReturn(func(ctx context.Context, _ id.Address) (id.Amount, error) {
			s.True(tx.InTx(ctx), "limit must be read in the loan's transaction")
			return units(5), nil
		})

	_, err := s.svc.RequestLoan(s.ctx(), units(10), 1)
	s.True(dErrors.HasCode(err, dErrors.CodeCreditLimitExceeded))
}

func (s *CollaboratorSuite) TestEmitFailureRollsBackLoan() {
	s.scores.EXPECT().CreditLimit(gomock.Any(), alice).Return(units(100), nil)
	s.book.EXPECT().BalanceOf(gomock.Any(), funds.PoolAddress).Return(units(100), nil)
	s.book.EXPECT().Transfer(gomock.Any(), funds.PoolAddress, alice, units(10)).Return(nil)
	s.events.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("event store down"))

	_, err := s.svc.RequestLoan(s.ctx(), units(10), 1)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.store.FindLoan(context.Background(), 1)
	s.ErrorIs(err, sentinel.ErrNotFound)
	count, err := s.store.LoanCount(context.Background())
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *CollaboratorSuite) TestPaymentShortfallMapsToInsufficientFunds() {
	loan, err := models.NewLoan(1, alice, units(10), 1, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.InsertLoan(context.Background(), loan))

	s.book.EXPECT().Transfer(gomock.Any(), alice, funds.PoolAddress, loan.InstallmentAmount).
		Return(sentinel.ErrInsufficientBalance)

	_, err = s.svc.PayInstallment(s.ctx(), loan.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

	current, err := s.store.FindLoan(context.Background(), loan.ID)
	s.Require().NoError(err)
	s.Zero(current.InstallmentsPaid)
}

func (s *CollaboratorSuite) TestConcurrentReadWaitsForFailedPayment() {
	loan, err := models.NewLoan(1, alice, units(10), 1, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.InsertLoan(context.Background(), loan))

	transferring := make(chan struct{})
	release := make(chan struct{})
	s.book.EXPECT().Transfer(gomock.Any(), alice, funds.PoolAddress, loan.InstallmentAmount).
		DoAndReturn(func(context.Context, id.Address, id.Address, id.Amount) error {
			close(transferring)
			<-release
			return sentinel.ErrInsufficientBalance
		})

	paid := make(chan error, 1)
	go func() {
		_, err := s.svc.PayInstallment(s.ctx(), loan.ID)
		paid <- err
	}()
	<-transferring

	seen := make(chan *models.Loan, 1)
	go func() {
		current, err := s.svc.GetLoan(context.Background(), loan.ID)
		s.NoError(err)
		seen <- current
	}()

	select {
	case early := <-seen:
		s.Fail("loan read while the payment was still open")
		seen <- early
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	s.True(dErrors.HasCode(<-paid, dErrors.CodeInsufficientFunds))
	current := <-seen
	s.Zero(current.InstallmentsPaid)
	s.Equal(models.StatusActive, current.Status)
}
