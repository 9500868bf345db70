package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credline/internal/identity/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newIdentity(subject id.Address) *models.Identity {
	nonce, err := s.store.NextNonce(s.ctx)
	s.Require().NoError(err)
	identity, err := models.NewIdentity(subject, models.DeriveUniqueID(subject, nonce), "QmDoc1", s.now)
	s.Require().NoError(err)
	return identity
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	s.Run("creates and finds by subject", func() {
		identity := s.newIdentity("0xaaa")
		s.Require().NoError(s.store.Create(s.ctx, identity))

		found, err := s.store.FindBySubject(s.ctx, "0xaaa")
		s.Require().NoError(err)
		s.Equal(identity.UniqueID, found.UniqueID)
	})

	s.Run("rejects a second identity for the same subject", func() {
		err := s.store.Create(s.ctx, s.newIdentity("0xaaa"))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown subject is ErrNotFound", func() {
		_, err := s.store.FindBySubject(s.ctx, "0xmissing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestNonceIsMonotonic() {
	first, err := s.store.NextNonce(s.ctx)
	s.Require().NoError(err)
	second, err := s.store.NextNonce(s.ctx)
	s.Require().NoError(err)
	s.Greater(second, first)
}

func (s *InMemoryStoreSuite) TestExecute() {
	s.Require().NoError(s.store.Create(s.ctx, s.newIdentity("0xaaa")))

	s.Run("failed validation leaves the record untouched", func() {
		_, err := s.store.Execute(s.ctx, "0xaaa",
			func(*models.Identity) error { return sentinel.ErrInvalidState },
			func(i *models.Identity) { i.ApplyDocument("QmDoc2", s.now) },
		)
		s.ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.store.FindBySubject(s.ctx, "0xaaa")
		s.Require().NoError(err)
		s.Equal(1, found.DocumentCount())
	})

	s.Run("applies the mutation", func() {
		updated, err := s.store.Execute(s.ctx, "0xaaa",
			func(*models.Identity) error { return nil },
			func(i *models.Identity) { i.ApplyVerification(2, s.now) },
		)
		s.Require().NoError(err)
		s.True(updated.IsVerified)
	})

	s.Run("returned records are copies", func() {
		found, err := s.store.FindBySubject(s.ctx, "0xaaa")
		s.Require().NoError(err)
		found.ApplyDocument("QmLeak", s.now)

		again, err := s.store.FindBySubject(s.ctx, "0xaaa")
		s.Require().NoError(err)
		s.Equal(1, again.DocumentCount())
	})
}

func (s *InMemoryStoreSuite) TestRollbackUndoesWrites() {
	runner := tx.NewSerial()
	err := runner.RunInTx(s.ctx, func(ctx context.Context) error {
		nonce, err := s.store.NextNonce(ctx)
		s.Require().NoError(err)
		identity, err := models.NewIdentity("0xccc", models.DeriveUniqueID("0xccc", nonce), "QmDoc1", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Create(ctx, identity))
		return sentinel.ErrInvalidState
	})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.store.FindBySubject(s.ctx, "0xccc")
	s.ErrorIs(err, sentinel.ErrNotFound)
	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}
