package models

import (
	"strconv"
	"time"

	id "credline/pkg/domain"
)

const (
	MinScore     = 0
	MaxScore     = 1000
	InitialScore = 300
)

// Reason labels why a score changed.
type Reason string

const (
	ReasonInitial Reason = "Initial Calculation"
	ReasonReward  Reason = "Reward"
	ReasonPenalty Reason = "Penalty"
)

// Record is a subject's credit score.
//
// Invariants:
//   - Score stays within [MinScore, MaxScore]
//   - Blacklisted only ever goes from false to true
//   - MaxLoanAmount is recomputed by initial calculation and reward, never by penalty
type Record struct {
	Subject       id.Address `json:"subject"`
	Score         int        `json:"score"`
	MaxLoanAmount id.Amount  `json:"max_loan_amount"`
	LastUpdated   time.Time  `json:"last_updated"`
	Blacklisted   bool       `json:"blacklisted"`
}

// Empty is the record reported for subjects never scored.
func Empty(subject id.Address) *Record {
	return &Record{Subject: subject}
}

// MaxLoanFor derives the credit limit for a score.
func MaxLoanFor(score int) id.Amount {
	return id.Amount(score) * id.ScaleUnit
}

// ApplyInitial resets the score to InitialScore. Repeating it is a no-op on
// the score.
func (r *Record) ApplyInitial(now time.Time) {
	r.Score = InitialScore
	r.MaxLoanAmount = MaxLoanFor(InitialScore)
	r.LastUpdated = now
}

// ApplyReward raises the score, saturating at MaxScore, and recomputes the
// credit limit. delta must be non-negative.
func (r *Record) ApplyReward(delta int, now time.Time) {
	if delta >= MaxScore-r.Score {
		r.Score = MaxScore
	} else {
		r.Score += delta
	}
	r.MaxLoanAmount = MaxLoanFor(r.Score)
	r.LastUpdated = now
}

// ApplyPenalty lowers the score, saturating at MinScore. The credit limit is
// left as it was. Landing on zero blacklists the subject; the return value
// reports whether the score is zero after the penalty.
func (r *Record) ApplyPenalty(delta int, now time.Time) bool {
	if delta >= r.Score-MinScore {
		r.Score = MinScore
	} else {
		r.Score -= delta
	}
	r.LastUpdated = now
	if r.Score == MinScore {
		r.Blacklisted = true
		return true
	}
	return false
}

func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// ScoreUpdated is emitted on every score mutation.
type ScoreUpdated struct {
	Subject       id.Address
	Score         int
	MaxLoanAmount id.Amount
	Reason        Reason
}

func (e ScoreUpdated) Attributes() map[string]string {
	return map[string]string{
		"score":           strconv.Itoa(e.Score),
		"max_loan_amount": strconv.FormatInt(int64(e.MaxLoanAmount), 10),
		"reason":          string(e.Reason),
	}
}
