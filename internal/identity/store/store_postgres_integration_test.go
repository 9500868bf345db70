//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credline/internal/identity/models"
	"credline/internal/identity/store"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
	"credline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	runner   *tx.SQL
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.runner = tx.NewSQL(s.postgres.DB)
	s.now = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "identities", "ledger_counters"))
}

func (s *PostgresStoreSuite) create(subject id.Address) *models.Identity {
	var created *models.Identity
	err := s.runner.RunInTx(context.Background(), func(ctx context.Context) error {
		nonce, err := s.store.NextNonce(ctx)
		if err != nil {
			return err
		}
		identity, err := models.NewIdentity(subject, models.DeriveUniqueID(subject, nonce), "QmDoc1", s.now)
		if err != nil {
			return err
		}
		created = identity
		return s.store.Create(ctx, identity)
	})
	s.Require().NoError(err)
	return created
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	created := s.create("0xaaa")

	found, err := s.store.FindBySubject(context.Background(), "0xaaa")
	s.Require().NoError(err)
	s.Equal(created.UniqueID, found.UniqueID)
	s.Equal([]id.ContentHash{"QmDoc1"}, found.Documents)
	s.True(found.CreatedAt.Equal(s.now))
}

func (s *PostgresStoreSuite) TestDuplicateSubject() {
	s.create("0xaaa")
	err := s.runner.RunInTx(context.Background(), func(ctx context.Context) error {
		identity, err := models.NewIdentity("0xaaa", models.DeriveUniqueID("0xaaa", 99), "QmDoc1", s.now)
		s.Require().NoError(err)
		return s.store.Create(ctx, identity)
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestExecuteAppendsDocuments() {
	s.create("0xaaa")
	err := s.runner.RunInTx(context.Background(), func(ctx context.Context) error {
		_, err := s.store.Execute(ctx, "0xaaa",
			func(*models.Identity) error { return nil },
			func(i *models.Identity) {
				i.ApplyDocument("QmDoc2", s.now)
				i.ApplyVerification(3, s.now)
			},
		)
		return err
	})
	s.Require().NoError(err)

	found, err := s.store.FindBySubject(context.Background(), "0xaaa")
	s.Require().NoError(err)
	s.Equal([]id.ContentHash{"QmDoc1", "QmDoc2"}, found.Documents)
	s.Equal(3, found.VerificationLevel)
	s.True(found.IsVerified)
}

func (s *PostgresStoreSuite) TestRolledBackNonceIsNotConsumed() {
	boom := errors.New("boom")
	err := s.runner.RunInTx(context.Background(), func(ctx context.Context) error {
		if _, err := s.store.NextNonce(ctx); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	err = s.runner.RunInTx(context.Background(), func(ctx context.Context) error {
		nonce, err := s.store.NextNonce(ctx)
		s.Equal(uint64(1), nonce)
		return err
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestCount() {
	s.create("0xaaa")
	s.create("0xbbb")
	n, err := s.store.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)
}
