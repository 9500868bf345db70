package models

import (
	"encoding/hex"
	"strconv"
	"time"

	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
)

const (
	// DefaultValidity is how long a credential stays valid after mint or renewal.
	DefaultValidity = 30 * 24 * time.Hour

	MaxScore = 1000
	MaxLevel = 3
)

// Credential is one soulbound token. Tokens are never reused: re-minting to a
// subject revokes the old token and tombstones it in place.
//
// Invariants:
//   - TokenID is unique and assigned from a counter that never goes back
//   - Owner never changes after mint
//   - at most one non-revoked credential per Owner
type Credential struct {
	TokenID           id.TokenID `json:"token_id"`
	Owner             id.Address `json:"owner"`
	ScoreHash         []byte     `json:"score_hash"`
	Score             int        `json:"score"`
	VerificationLevel int        `json:"verification_level"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Issuer            id.Address `json:"issuer"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	Approved          id.Address `json:"approved,omitempty"`
}

// ValidateMint checks mint inputs in the order callers observe them.
func ValidateMint(subject id.Address, score, level int) error {
	if subject.IsNil() {
		return dErrors.New(dErrors.CodeZeroSubject, "cannot mint to the null subject")
	}
	if score < 0 || score > MaxScore {
		return dErrors.Newf(dErrors.CodeScoreOutOfRange, "score must be between 0 and %d", MaxScore)
	}
	if level < 0 || level > MaxLevel {
		return dErrors.Newf(dErrors.CodeLevelOutOfRange, "verification level must be between 0 and %d", MaxLevel)
	}
	return nil
}

// NewCredential builds a freshly minted credential.
func NewCredential(tokenID id.TokenID, owner id.Address, scoreHash []byte, score, level int, issuer id.Address, now time.Time, validity time.Duration) *Credential {
	return &Credential{
		TokenID:           tokenID,
		Owner:             owner,
		ScoreHash:         copyHash(scoreHash),
		Score:             score,
		VerificationLevel: level,
		IssuedAt:          now,
		ExpiresAt:         now.Add(validity),
		Issuer:            issuer,
	}
}

// Exists reports whether the token still has an owner, i.e. was not revoked.
func (c *Credential) Exists() bool {
	return c.RevokedAt == nil
}

// IsValid is true for existing tokens before their expiry.
func (c *Credential) IsValid(now time.Time) bool {
	return c.Exists() && now.Before(c.ExpiresAt)
}

// IsExpired is true for existing tokens at or after their expiry.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.Exists() && !now.Before(c.ExpiresAt)
}

// ApplyRevocation tombstones the token. Its id is never handed out again.
func (c *Credential) ApplyRevocation(now time.Time) {
	t := now
	c.RevokedAt = &t
	c.Approved = ""
}

// ApplyRenewal grants a full validity window starting at now, regardless of
// the previous expiry.
func (c *Credential) ApplyRenewal(now time.Time, validity time.Duration) {
	c.ExpiresAt = now.Add(validity)
}

func (c *Credential) Clone() *Credential {
	cp := *c
	cp.ScoreHash = copyHash(c.ScoreHash)
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// copyHash never returns nil: an empty hash is stored as an empty value, not
// as a missing one.
func copyHash(h []byte) []byte {
	return append([]byte{}, h...)
}

// ScoreHashHex renders the opaque score hash for logs and events.
func (c *Credential) ScoreHashHex() string {
	return "0x" + hex.EncodeToString(c.ScoreHash)
}

// MintedAttributes is the SBTMinted event payload.
func (c *Credential) MintedAttributes() map[string]string {
	return map[string]string{
		"token_id":   c.TokenID.String(),
		"score_hash": c.ScoreHashHex(),
		"score":      strconv.Itoa(c.Score),
		"level":      strconv.Itoa(c.VerificationLevel),
		"expires_at": c.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// RenewedAttributes is the SBTRenewed event payload.
func (c *Credential) RenewedAttributes() map[string]string {
	return map[string]string{
		"token_id":   c.TokenID.String(),
		"expires_at": c.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
