package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credline/internal/credential/models"
	"credline/internal/platform/postgres"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	txcontext "credline/pkg/platform/tx"
)

const tokenCounter = "credential_token_id"

// PostgresStore persists credentials in PostgreSQL. Tombstoned rows keep
// their revoked_at stamp; a partial unique index keeps one live row per owner.
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

func (s *PostgresStore) NextTokenID(ctx context.Context) (id.TokenID, error) {
	v, err := postgres.NextValue(ctx, s.execer(ctx), tokenCounter)
	if err != nil {
		return 0, err
	}
	return id.TokenID(v), nil
}

func (s *PostgresStore) TotalSupply(ctx context.Context) (uint64, error) {
	return postgres.CurrentValue(ctx, s.execer(ctx), tokenCounter)
}

func (s *PostgresStore) Insert(ctx context.Context, c *models.Credential) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO credentials (
			token_id, owner, score_hash, score, verification_level,
			issued_at, expires_at, issuer, revoked_at, approved
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		int64(c.TokenID),
		string(c.Owner),
		nonNil(c.ScoreHash),
		c.Score,
		c.VerificationLevel,
		c.IssuedAt,
		c.ExpiresAt,
		string(c.Issuer),
		c.RevokedAt,
		string(c.Approved),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("credential %s: %w", c.TokenID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

const selectCredential = `
	SELECT token_id, owner, score_hash, score, verification_level,
		   issued_at, expires_at, issuer, revoked_at, approved
	FROM credentials
`

func (s *PostgresStore) FindByToken(ctx context.Context, tokenID id.TokenID) (*models.Credential, error) {
	return s.findOne(ctx, selectCredential+`WHERE token_id = $1`, int64(tokenID))
}

func (s *PostgresStore) FindLiveByOwner(ctx context.Context, owner id.Address) (*models.Credential, error) {
	return s.findOne(ctx, selectCredential+`WHERE owner = $1 AND revoked_at IS NULL`, string(owner))
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.Address) ([]*models.Credential, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, selectCredential+`WHERE owner = $1 ORDER BY token_id`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	var out []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Credential) error, mutate func(*models.Credential)) (*models.Credential, error) {
	c, err := s.findOne(ctx, selectCredential+`WHERE token_id = $1 FOR UPDATE`, int64(tokenID))
	if err != nil {
		return nil, err
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	mutate(c)
	_, err = s.execer(ctx).ExecContext(ctx, `
		UPDATE credentials SET expires_at = $2, revoked_at = $3, approved = $4
		WHERE token_id = $1
	`, int64(c.TokenID), c.ExpiresAt, c.RevokedAt, string(c.Approved))
	if err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SetApprovalForAll(ctx context.Context, owner, operator id.Address, approved bool) error {
	var err error
	if approved {
		_, err = s.execer(ctx).ExecContext(ctx, `
			INSERT INTO credential_operator_approvals (owner, operator) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, string(owner), string(operator))
	} else {
		_, err = s.execer(ctx).ExecContext(ctx,
			`DELETE FROM credential_operator_approvals WHERE owner = $1 AND operator = $2`,
			string(owner), string(operator))
	}
	if err != nil {
		return fmt.Errorf("set approval for all: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsApprovedForAll(ctx context.Context, owner, operator id.Address) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM credential_operator_approvals WHERE owner = $1 AND operator = $2)
	`, string(owner), string(operator)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approval for all: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.Credential, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find credential: %w", err)
		}
		return nil, fmt.Errorf("credential %v: %w", arg, sentinel.ErrNotFound)
	}
	return scanCredential(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.Credential, error) {
	var (
		c         models.Credential
		tokenID   int64
		owner     string
		issuer    string
		approved  string
		revokedAt sql.NullTime
	)
	if err := row.Scan(
		&tokenID,
		&owner,
		&c.ScoreHash,
		&c.Score,
		&c.VerificationLevel,
		&c.IssuedAt,
		&c.ExpiresAt,
		&issuer,
		&revokedAt,
		&approved,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	c.TokenID = id.TokenID(tokenID)
	c.Owner = id.Address(owner)
	c.Issuer = id.Address(issuer)
	c.Approved = id.Address(approved)
	if revokedAt.Valid {
		t := revokedAt.Time.In(time.UTC)
		c.RevokedAt = &t
	}
	return &c, nil
}

// nonNil keeps an empty score hash from being sent as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
