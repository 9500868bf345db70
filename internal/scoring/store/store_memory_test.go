package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credline/internal/scoring/models"
	"credline/pkg/platform/sentinel"
	"credline/pkg/platform/tx"
)

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	t.Run("unknown subject is ErrNotFound", func(t *testing.T) {
		_, err := NewInMemory().FindBySubject(ctx, "0xaaa")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("save replaces and returns copies", func(t *testing.T) {
		s := NewInMemory()
		r := models.Empty("0xaaa")
		r.ApplyInitial(now)
		require.NoError(t, s.Save(ctx, r))

		found, err := s.FindBySubject(ctx, "0xaaa")
		require.NoError(t, err)
		found.Score = 999

		again, err := s.FindBySubject(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, models.InitialScore, again.Score)
	})

	t.Run("rollback restores the previous record", func(t *testing.T) {
		s := NewInMemory()
		r := models.Empty("0xaaa")
		r.ApplyInitial(now)
		require.NoError(t, s.Save(ctx, r))

		err := tx.NewSerial().RunInTx(ctx, func(ctx context.Context) error {
			updated := r.Clone()
			updated.ApplyReward(100, now)
			require.NoError(t, s.Save(ctx, updated))
			fresh := models.Empty("0xbbb")
			require.NoError(t, s.Save(ctx, fresh))
			return errors.New("abort")
		})
		require.Error(t, err)

		found, err := s.FindBySubject(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, models.InitialScore, found.Score)
		_, err = s.FindBySubject(ctx, "0xbbb")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
