package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"credline/internal/identity/models"
	"credline/internal/platform/postgres"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	txcontext "credline/pkg/platform/tx"
)

const nonceCounter = "identity_nonce"

// PostgresStore persists identities in PostgreSQL.
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

func (s *PostgresStore) NextNonce(ctx context.Context) (uint64, error) {
	return postgres.NextValue(ctx, s.execer(ctx), nonceCounter)
}

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO identities (subject, unique_id, is_verified, verification_level, documents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		string(identity.Subject),
		identity.UniqueID[:],
		identity.IsVerified,
		identity.VerificationLevel,
		pq.Array(documentStrings(identity.Documents)),
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("identity %s: %w", identity.Subject, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subject id.Address) (*models.Identity, error) {
	return s.find(ctx, subject, false)
}

// Execute locks the row with FOR UPDATE, so validation and mutation see the
// same state. It requires a transaction in ctx to hold the lock.
func (s *PostgresStore) Execute(ctx context.Context, subject id.Address, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error) {
	identity, err := s.find(ctx, subject, true)
	if err != nil {
		return nil, err
	}
	if err := validate(identity); err != nil {
		return nil, err
	}
	mutate(identity)
	_, err = s.execer(ctx).ExecContext(ctx, `
		UPDATE identities
		SET is_verified = $2, verification_level = $3, documents = $4, updated_at = $5
		WHERE subject = $1
	`,
		string(identity.Subject),
		identity.IsVerified,
		identity.VerificationLevel,
		pq.Array(documentStrings(identity.Documents)),
		identity.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) find(ctx context.Context, subject id.Address, forUpdate bool) (*models.Identity, error) {
	query := `
		SELECT subject, unique_id, is_verified, verification_level, documents, created_at, updated_at
		FROM identities WHERE subject = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		identity models.Identity
		subj     string
		uniqueID []byte
		docs     []string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, string(subject)).Scan(
		&subj,
		&uniqueID,
		&identity.IsVerified,
		&identity.VerificationLevel,
		pq.Array(&docs),
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	identity.Subject = id.Address(subj)
	copy(identity.UniqueID[:], uniqueID)
	identity.Documents = make([]id.ContentHash, 0, len(docs))
	for _, d := range docs {
		identity.Documents = append(identity.Documents, id.ContentHash(d))
	}
	return &identity, nil
}

func documentStrings(docs []id.ContentHash) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = string(d)
	}
	return out
}
