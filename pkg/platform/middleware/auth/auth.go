// Package auth authenticates HTTP callers with capability tokens and binds
// the token's address as the ledger caller.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"credline/pkg/capability"
	"credline/pkg/platform/middleware/request"
	"credline/pkg/requestcontext"
)

// Verifier validates capability tokens.
type Verifier interface {
	Verify(token string) (*capability.Claims, error)
}

type contextKeyRole struct{}

// ContextKeyRole is exported for handler tests.
var ContextKeyRole = contextKeyRole{}

// GetRole returns the role of the authenticated capability.
func GetRole(ctx context.Context) capability.Role {
	role, ok := ctx.Value(ContextKeyRole).(capability.Role)
	if !ok {
		return ""
	}
	return role
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireCapability rejects requests without a valid bearer capability.
func RequireCapability(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing capability",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid capability",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired capability")
				return
			}

			ctx = requestcontext.WithCaller(ctx, claims.Caller())
			ctx = context.WithValue(ctx, ContextKeyRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after RequireCapability.
func RequireRole(role capability.Role, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetRole(ctx) != role {
				logger.WarnContext(ctx, "forbidden - capability role mismatch",
					"caller", requestcontext.Caller(ctx),
					"required_role", role,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "capability role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
