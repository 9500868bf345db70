package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"credline/internal/lending/models"
	"credline/internal/platform/postgres"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	txcontext "credline/pkg/platform/tx"
)

const loanCounter = "loan_id"

// PostgresStore persists loans and pool positions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) postgres.Execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) NextLoanID(ctx context.Context) (id.LoanID, error) {
	v, err := postgres.NextValue(ctx, s.execer(ctx), loanCounter)
	if err != nil {
		return 0, err
	}
	return id.LoanID(v), nil
}

func (s *PostgresStore) LoanCount(ctx context.Context) (uint64, error) {
	return postgres.CurrentValue(ctx, s.execer(ctx), loanCounter)
}

func (s *PostgresStore) InsertLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO loans (
			loan_id, borrower, principal, rate_percent, installments_total,
			installments_paid, installment_amount, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		int64(loan.ID),
		string(loan.Borrower),
		int64(loan.Principal),
		loan.RatePercent,
		loan.InstallmentsTotal,
		loan.InstallmentsPaid,
		int64(loan.InstallmentAmount),
		string(loan.Status),
		loan.CreatedAt,
		loan.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("loan %s: %w", loan.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

const selectLoan = `
	SELECT loan_id, borrower, principal, rate_percent, installments_total,
		   installments_paid, installment_amount, status, created_at, updated_at
	FROM loans
`

func (s *PostgresStore) FindLoan(ctx context.Context, loanID id.LoanID) (*models.Loan, error) {
	return s.findLoan(ctx, selectLoan+`WHERE loan_id = $1`, loanID)
}

func (s *PostgresStore) ListByBorrower(ctx context.Context, borrower id.Address) ([]*models.Loan, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, selectLoan+`WHERE borrower = $1 ORDER BY loan_id`, string(borrower))
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()
	var out []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ExecuteLoan(ctx context.Context, loanID id.LoanID, validate func(*models.Loan) error, mutate func(*models.Loan)) (*models.Loan, error) {
	loan, err := s.findLoan(ctx, selectLoan+`WHERE loan_id = $1 FOR UPDATE`, loanID)
	if err != nil {
		return nil, err
	}
	if err := validate(loan); err != nil {
		return nil, err
	}
	mutate(loan)
	_, err = s.execer(ctx).ExecContext(ctx, `
		UPDATE loans SET installments_paid = $2, status = $3, updated_at = $4
		WHERE loan_id = $1
	`, int64(loan.ID), loan.InstallmentsPaid, string(loan.Status), loan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}
	return loan, nil
}

func (s *PostgresStore) findLoan(ctx context.Context, query string, loanID id.LoanID) (*models.Loan, error) {
	loan, err := scanLoan(s.execer(ctx).QueryRowContext(ctx, query, int64(loanID)))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("loan %s: %w", loanID, sentinel.ErrNotFound)
	}
	return loan, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var (
		loan        models.Loan
		loanID      int64
		borrower    string
		principal   int64
		installment int64
		status      string
	)
	err := row.Scan(
		&loanID,
		&borrower,
		&principal,
		&loan.RatePercent,
		&loan.InstallmentsTotal,
		&loan.InstallmentsPaid,
		&installment,
		&status,
		&loan.CreatedAt,
		&loan.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	loan.ID = id.LoanID(loanID)
	loan.Borrower = id.Address(borrower)
	loan.Principal = id.Amount(principal)
	loan.InstallmentAmount = id.Amount(installment)
	loan.Status = models.Status(status)
	return &loan, nil
}

func (s *PostgresStore) FindPosition(ctx context.Context, depositor id.Address) (*models.Position, error) {
	query := `SELECT depositor, amount, deposited_at FROM pool_deposits WHERE depositor = $1`
	if _, ok := txcontext.From(ctx); ok {
		query += ` FOR UPDATE`
	}
	var (
		p      models.Position
		who    string
		amount int64
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, string(depositor)).Scan(&who, &amount, &p.DepositedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", depositor, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find position: %w", err)
	}
	p.Depositor = id.Address(who)
	p.Amount = id.Amount(amount)
	return &p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *models.Position) error {
	var err error
	if p.Amount <= 0 {
		_, err = s.execer(ctx).ExecContext(ctx,
			`DELETE FROM pool_deposits WHERE depositor = $1`, string(p.Depositor))
	} else {
		_, err = s.execer(ctx).ExecContext(ctx, `
			INSERT INTO pool_deposits (depositor, amount, deposited_at) VALUES ($1, $2, $3)
			ON CONFLICT (depositor) DO UPDATE SET
				amount = EXCLUDED.amount,
				deposited_at = EXCLUDED.deposited_at
		`, string(p.Depositor), int64(p.Amount), p.DepositedAt)
	}
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}
