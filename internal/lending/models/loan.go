// Package models holds loan and liquidity-pool state.
package models

import (
	"strconv"
	"time"

	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
)

type Status string

const (
	StatusActive Status = "active"
	StatusRepaid Status = "repaid"
)

// termRates maps an installment count to its annual interest rate in percent.
var termRates = map[int]int{
	1:  5,
	3:  8,
	6:  12,
	12: 18,
}

// RateFor returns the annual rate in percent for a term. Unlisted terms are
// rejected rather than interpolated.
func RateFor(installments int) (int, error) {
	rate, ok := termRates[installments]
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeUnsupportedTerm, "no rate for %d installments", installments)
	}
	return rate, nil
}

// Loan is an installment loan drawn from the liquidity pool.
type Loan struct {
	ID                id.LoanID  `json:"id"`
	Borrower          id.Address `json:"borrower"`
	Principal         id.Amount  `json:"principal"`
	RatePercent       int        `json:"rate_percent"`
	InstallmentsTotal int        `json:"installments_total"`
	InstallmentsPaid  int        `json:"installments_paid"`
	InstallmentAmount id.Amount  `json:"installment_amount"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Interest is the simple interest for a term: the annual rate prorated by
// the number of monthly installments.
func Interest(principal id.Amount, ratePercent, installments int) id.Amount {
	return principal * id.Amount(ratePercent) * id.Amount(installments) / 1200
}

// NewLoan prices a loan. The installment amount truncates toward zero, so
// the total repayment may fall short of principal+interest by less than one
// base unit per installment.
func NewLoan(loanID id.LoanID, borrower id.Address, principal id.Amount, installments int, now time.Time) (*Loan, error) {
	if borrower.IsNil() {
		return nil, dErrors.New(dErrors.CodeZeroSubject, "borrower is required")
	}
	if principal <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "loan amount must be positive")
	}
	rate, err := RateFor(installments)
	if err != nil {
		return nil, err
	}
	interest := Interest(principal, rate, installments)
	return &Loan{
		ID:                loanID,
		Borrower:          borrower,
		Principal:         principal,
		RatePercent:       rate,
		InstallmentsTotal: installments,
		InstallmentAmount: (principal + interest) / id.Amount(installments),
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// TotalRepayment is what the borrower pays over the full term.
func (l *Loan) TotalRepayment() id.Amount {
	return l.InstallmentAmount * id.Amount(l.InstallmentsTotal)
}

// Outstanding is what remains to be paid.
func (l *Loan) Outstanding() id.Amount {
	return l.InstallmentAmount * id.Amount(l.InstallmentsTotal-l.InstallmentsPaid)
}

func (l *Loan) IsRepaid() bool {
	return l.InstallmentsPaid >= l.InstallmentsTotal
}

// ValidatePayment checks that caller may pay the next installment.
func (l *Loan) ValidatePayment(caller id.Address) error {
	if l.Borrower != caller {
		return dErrors.New(dErrors.CodeNotBorrower, "only the borrower can pay this loan")
	}
	if l.IsRepaid() {
		return dErrors.New(dErrors.CodeAlreadyRepaid, "loan is already repaid")
	}
	return nil
}

// ApplyPayment records one installment and reports whether it settled the loan.
func (l *Loan) ApplyPayment(now time.Time) bool {
	l.InstallmentsPaid++
	l.UpdatedAt = now
	if l.IsRepaid() {
		l.Status = StatusRepaid
		return true
	}
	return false
}

func (l *Loan) Clone() *Loan {
	c := *l
	return &c
}

func (l *Loan) RequestedAttributes() map[string]string {
	return map[string]string{
		"loan_id":            l.ID.String(),
		"amount":             strconv.FormatInt(int64(l.Principal), 10),
		"installments":       strconv.Itoa(l.InstallmentsTotal),
		"rate_percent":       strconv.Itoa(l.RatePercent),
		"installment_amount": strconv.FormatInt(int64(l.InstallmentAmount), 10),
	}
}

func (l *Loan) PaymentAttributes() map[string]string {
	return map[string]string{
		"loan_id":           l.ID.String(),
		"amount":            strconv.FormatInt(int64(l.InstallmentAmount), 10),
		"installments_paid": strconv.Itoa(l.InstallmentsPaid),
		"remaining":         strconv.Itoa(l.InstallmentsTotal - l.InstallmentsPaid),
	}
}
