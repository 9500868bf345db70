package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credline/internal/credential/models"
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
	s.now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) mint(owner id.Address) *models.Credential {
	tokenID, err := s.store.NextTokenID(s.ctx)
	s.Require().NoError(err)
	c := models.NewCredential(tokenID, owner, []byte{0xab}, 300, 1, "0xop", s.now, models.DefaultValidity)
	s.Require().NoError(s.store.Insert(s.ctx, c))
	return c
}

func (s *InMemoryStoreSuite) revoke(tokenID id.TokenID) {
	_, err := s.store.Execute(s.ctx, tokenID,
		func(*models.Credential) error { return nil },
		func(c *models.Credential) { c.ApplyRevocation(s.now) },
	)
	s.Require().NoError(err)
}

func (s *InMemoryStoreSuite) TestLiveIndex() {
	first := s.mint("0xaaa")

	s.Run("second live credential for an owner is rejected", func() {
		c := models.NewCredential(99, "0xaaa", nil, 1, 1, "0xop", s.now, models.DefaultValidity)
		s.ErrorIs(s.store.Insert(s.ctx, c), sentinel.ErrAlreadyUsed)
	})

	s.Run("revocation clears the index but keeps the tombstone", func() {
		s.revoke(first.TokenID)

		_, err := s.store.FindLiveByOwner(s.ctx, "0xaaa")
		s.ErrorIs(err, sentinel.ErrNotFound)

		tomb, err := s.store.FindByToken(s.ctx, first.TokenID)
		s.Require().NoError(err)
		s.False(tomb.Exists())
	})

	s.Run("a new token takes over the slot", func() {
		second := s.mint("0xaaa")
		live, err := s.store.FindLiveByOwner(s.ctx, "0xaaa")
		s.Require().NoError(err)
		s.Equal(second.TokenID, live.TokenID)

		history, err := s.store.ListByOwner(s.ctx, "0xaaa")
		s.Require().NoError(err)
		s.Len(history, 2)
		s.Equal(first.TokenID, history[0].TokenID)
	})

	supply, err := s.store.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(2), supply)
}

func (s *InMemoryStoreSuite) TestRollbackRestoresRevokedToken() {
	first := s.mint("0xaaa")

	err := tx.NewSerial().RunInTx(s.ctx, func(ctx context.Context) error {
		_, err := s.store.Execute(ctx, first.TokenID,
			func(*models.Credential) error { return nil },
			func(c *models.Credential) { c.ApplyRevocation(s.now) },
		)
		s.Require().NoError(err)
		tokenID, err := s.store.NextTokenID(ctx)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Insert(ctx, models.NewCredential(tokenID, "0xaaa", nil, 500, 2, "0xop", s.now, models.DefaultValidity)))
		return errors.New("abort")
	})
	s.Require().Error(err)

	live, err := s.store.FindLiveByOwner(s.ctx, "0xaaa")
	s.Require().NoError(err)
	s.Equal(first.TokenID, live.TokenID)
	s.True(live.Exists())

	supply, err := s.store.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), supply)
}

func (s *InMemoryStoreSuite) TestApprovalForAll() {
	s.Require().NoError(s.store.SetApprovalForAll(s.ctx, "0xaaa", "0xbbb", true))
	ok, err := s.store.IsApprovedForAll(s.ctx, "0xaaa", "0xbbb")
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.store.SetApprovalForAll(s.ctx, "0xaaa", "0xbbb", false))
	ok, err = s.store.IsApprovedForAll(s.ctx, "0xaaa", "0xbbb")
	s.Require().NoError(err)
	s.False(ok)
}
