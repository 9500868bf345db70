package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "credline/pkg/domain"
)

const (
	// DefaultAPRBasisPoints is the depositor yield when none is configured.
	DefaultAPRBasisPoints = 500

	daysPerYear      = 365
	basisPointsScale = 10_000
	day              = 24 * time.Hour
)

// Position is a depositor's stake in the liquidity pool.
type Position struct {
	Depositor   id.Address
	Amount      id.Amount
	DepositedAt time.Time
}

// AccruedInterest is simple interest over whole elapsed days, truncated to
// base units. It is zero at the deposit instant and never decreases with now.
func (p *Position) AccruedInterest(now time.Time, aprBps int64) id.Amount {
	if p == nil || p.Amount <= 0 || aprBps <= 0 || !now.After(p.DepositedAt) {
		return 0
	}
	days := int64(now.Sub(p.DepositedAt) / day)
	if days == 0 {
		return 0
	}
	interest := decimal.NewFromInt(int64(p.Amount)).
		Mul(decimal.NewFromInt(aprBps)).
		Mul(decimal.NewFromInt(days)).
		Div(decimal.NewFromInt(daysPerYear * basisPointsScale)).
		Floor()
	return id.Amount(interest.IntPart())
}

// Entitlement is the principal plus the interest accrued so far.
func (p *Position) Entitlement(now time.Time, aprBps int64) id.Amount {
	if p == nil {
		return 0
	}
	return p.Amount + p.AccruedInterest(now, aprBps)
}

// ApplyDeposit settles accrued interest into principal, adds amount and
// restarts the accrual clock.
func (p *Position) ApplyDeposit(amount id.Amount, now time.Time, aprBps int64) {
	p.Amount = p.Entitlement(now, aprBps) + amount
	p.DepositedAt = now
}

// ApplyWithdrawal settles accrued interest, removes amount and restarts the
// accrual clock. Callers check the entitlement first.
func (p *Position) ApplyWithdrawal(amount id.Amount, now time.Time, aprBps int64) {
	p.Amount = p.Entitlement(now, aprBps) - amount
	p.DepositedAt = now
}

func (p *Position) Clone() *Position {
	c := *p
	return &c
}
