// Package domainerrors carries the ledger's error taxonomy. Services return
// *Error values so callers can branch on Code without string matching; stores
// stay on pkg/platform/sentinel and are translated at the service boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a rejection kind. Values are stable and safe to expose.
type Code string

const (
	CodeNotAuthorized      Code = "not_authorized"
	CodeNotFound           Code = "not_found"
	CodeAlreadyExists      Code = "already_exists"
	CodeEmptyDocument      Code = "empty_document"
	CodeIndexOutOfRange    Code = "index_out_of_range"
	CodeInvalidLevel       Code = "invalid_level"
	CodeScoreOutOfRange    Code = "score_out_of_range"
	CodeLevelOutOfRange    Code = "level_out_of_range"
	CodeZeroSubject        Code = "zero_subject"
	CodeSoulbound          Code = "soulbound"
	CodeNoActiveCredential Code = "no_active_credential"

	CodeCreditLimitExceeded   Code = "credit_limit_exceeded"
	CodeInsufficientLiquidity Code = "insufficient_liquidity"
	CodeInsufficientFunds     Code = "insufficient_funds"
	CodeAlreadyRepaid         Code = "already_repaid"
	CodeNotBorrower           Code = "not_borrower"
	CodeUnsupportedTerm       Code = "unsupported_term"

	CodeInvalidInput Code = "invalid_input"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"
)

// Error is a coded domain error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost domain code in the chain, or "" when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether the outermost domain error in the chain has the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
