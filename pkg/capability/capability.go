// Package capability issues and verifies signed capability tokens. A token
// binds a ledger address to the bearer so HTTP handlers can run ledger
// operations as that caller.
package capability

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
)

const defaultIssuer = "credline"

// Role scopes what a token may be used for.
type Role string

const (
	RoleHolder   Role = "holder"
	RoleOperator Role = "operator"
)

func (r Role) IsValid() bool {
	return r == RoleHolder || r == RoleOperator
}

// Claims carries the caller address in the registered subject claim.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Caller returns the address the token was issued to.
func (c *Claims) Caller() id.Address {
	return id.Address(c.Subject)
}

// Issuer signs and verifies HS256 capability tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

type Option func(*Issuer)

func WithIssuer(name string) Option {
	return func(i *Issuer) {
		i.issuer = name
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		i.clock = clock
	}
}

func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("capability secret must be at least 32 bytes")
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    time.Hour,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for caller with the given role.
func (i *Issuer) Issue(caller id.Address, role Role) (string, error) {
	if caller.IsNil() {
		return "", dErrors.New(dErrors.CodeZeroSubject, "caller is required")
	}
	if !role.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown role %q", role)
	}
	now := i.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign capability")
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, and that the subject is a
// well formed address.
func (i *Issuer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeNotAuthorized, "capability has expired")
		}
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "invalid capability")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "invalid capability")
	}
	caller, err := id.ParseAddress(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "capability subject is not an address")
	}
	claims.Subject = caller.String()
	if !claims.Role.IsValid() {
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "capability role is unknown")
	}
	return claims, nil
}
