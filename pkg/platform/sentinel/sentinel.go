package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// so services can translate them into domain errors:
//   - ErrNotFound: record does not exist
//   - ErrAlreadyUsed: unique key (subject, token id, loan id) already taken
//   - ErrInsufficientBalance: a balance book cannot cover a debit
//   - ErrInvalidState: record in wrong state for the requested write
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyUsed         = errors.New("already used")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnavailable         = errors.New("unavailable")
)
