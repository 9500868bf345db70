package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "credline/pkg/domain"
)

var now = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func TestApplyInitial(t *testing.T) {
	r := Empty("0xaaa")
	r.ApplyInitial(now)
	r.ApplyInitial(now)
	assert.Equal(t, InitialScore, r.Score)
	assert.Equal(t, id.Amount(300_000_000), r.MaxLoanAmount)
	assert.Equal(t, now, r.LastUpdated)
}

func TestApplyReward(t *testing.T) {
	t.Run("caps at the maximum", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyInitial(now)
		r.ApplyReward(800, now)
		assert.Equal(t, MaxScore, r.Score)
		assert.Equal(t, id.Amount(1_000_000_000), r.MaxLoanAmount)
	})

	t.Run("starts from zero without a prior record", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyReward(50, now)
		assert.Equal(t, 50, r.Score)
		assert.Equal(t, id.Amount(50_000_000), r.MaxLoanAmount)
	})

	t.Run("does not overflow on huge deltas", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyReward(int(^uint(0)>>1), now)
		assert.Equal(t, MaxScore, r.Score)
	})

	t.Run("never clears a blacklist", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyInitial(now)
		r.ApplyPenalty(InitialScore, now)
		r.ApplyReward(500, now)
		assert.True(t, r.Blacklisted)
	})
}

func TestApplyPenalty(t *testing.T) {
	t.Run("keeps the pre-penalty credit limit", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyInitial(now)
		r.ApplyPenalty(100, now)
		assert.Equal(t, 200, r.Score)
		assert.Equal(t, id.Amount(300_000_000), r.MaxLoanAmount)
		assert.False(t, r.Blacklisted)
	})

	t.Run("blacklists on reaching zero", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyInitial(now)
		zero := r.ApplyPenalty(300, now)
		assert.True(t, zero)
		assert.Equal(t, 0, r.Score)
		assert.True(t, r.Blacklisted)
		assert.Equal(t, id.Amount(300_000_000), r.MaxLoanAmount)
	})

	t.Run("saturates below zero and keeps reporting zero", func(t *testing.T) {
		r := Empty("0xaaa")
		r.ApplyInitial(now)
		assert.True(t, r.ApplyPenalty(5000, now))
		assert.True(t, r.ApplyPenalty(1, now))
		assert.Equal(t, 0, r.Score)
	})
}
