package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"credline/internal/platform/postgres"
	"credline/internal/scoring/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	txcontext "credline/pkg/platform/tx"
)

// PostgresStore persists scores in PostgreSQL.
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

// FindBySubject locks the row when called inside a transaction so the
// read-modify-write in the service cannot interleave.
func (s *PostgresStore) FindBySubject(ctx context.Context, subject id.Address) (*models.Record, error) {
	query := `SELECT subject, score, max_loan_amount, blacklisted, last_updated FROM scores WHERE subject = $1`
	if _, ok := txcontext.From(ctx); ok {
		query += ` FOR UPDATE`
	}
	var (
		r    models.Record
		subj string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, string(subject)).Scan(
		&subj, &r.Score, &r.MaxLoanAmount, &r.Blacklisted, &r.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("score %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find score: %w", err)
	}
	r.Subject = id.Address(subj)
	return &r, nil
}

func (s *PostgresStore) Save(ctx context.Context, record *models.Record) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO scores (subject, score, max_loan_amount, blacklisted, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject) DO UPDATE SET
			score = EXCLUDED.score,
			max_loan_amount = EXCLUDED.max_loan_amount,
			blacklisted = scores.blacklisted OR EXCLUDED.blacklisted,
			last_updated = EXCLUDED.last_updated
	`,
		string(record.Subject),
		record.Score,
		int64(record.MaxLoanAmount),
		record.Blacklisted,
		record.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}
