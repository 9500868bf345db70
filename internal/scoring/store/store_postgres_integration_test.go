//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credline/internal/scoring/models"
	"credline/internal/scoring/store"
	"credline/pkg/platform/sentinel"
	"credline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.now = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "scores"))
}

func (s *PostgresStoreSuite) TestUpsert() {
	ctx := context.Background()
	_, err := s.store.FindBySubject(ctx, "0xaaa")
	s.ErrorIs(err, sentinel.ErrNotFound)

	r := models.Empty("0xaaa")
	r.ApplyInitial(s.now)
	s.Require().NoError(s.store.Save(ctx, r))

	r.ApplyPenalty(100, s.now.Add(time.Hour))
	s.Require().NoError(s.store.Save(ctx, r))

	found, err := s.store.FindBySubject(ctx, "0xaaa")
	s.Require().NoError(err)
	s.Equal(200, found.Score)
	s.Equal(models.MaxLoanFor(300), found.MaxLoanAmount)
	s.True(found.LastUpdated.Equal(s.now.Add(time.Hour)))
}

func (s *PostgresStoreSuite) TestBlacklistIsSticky() {
	ctx := context.Background()
	r := models.Empty("0xaaa")
	r.ApplyInitial(s.now)
	r.ApplyPenalty(300, s.now)
	s.Require().NoError(s.store.Save(ctx, r))

	cleared := r.Clone()
	cleared.Blacklisted = false
	s.Require().NoError(s.store.Save(ctx, cleared))

	found, err := s.store.FindBySubject(ctx, "0xaaa")
	s.Require().NoError(err)
	s.True(found.Blacklisted)
}
