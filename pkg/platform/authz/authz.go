// Package authz holds the single-operator check every privileged ledger
// mutation performs before any other validation.
package authz

import (
	"context"
	"crypto/subtle"

	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	"credline/pkg/requestcontext"
)

// RequireOperator fails with CodeNotAuthorized unless the caller in ctx is
// operator. An unset operator authorizes nobody.
func RequireOperator(ctx context.Context, operator id.Address) error {
	caller := requestcontext.Caller(ctx)
	if operator.IsNil() || caller.IsNil() {
		return dErrors.New(dErrors.CodeNotAuthorized, "caller is not the operator")
	}
	if subtle.ConstantTimeCompare([]byte(caller), []byte(operator)) != 1 {
		return dErrors.New(dErrors.CodeNotAuthorized, "caller is not the operator")
	}
	return nil
}

// RequireCaller returns the authenticated caller or CodeNotAuthorized when
// the context carries none.
func RequireCaller(ctx context.Context) (id.Address, error) {
	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return "", dErrors.New(dErrors.CodeNotAuthorized, "caller required")
	}
	return caller, nil
}
