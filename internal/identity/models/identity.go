package models

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/sha3"

	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
)

// Verification levels. Zero means the identity has not been verified.
const (
	LevelUnverified = 0
	MinLevel        = 1
	MaxLevel        = 3
)

// Identity is the aggregate root for one subject's identity record.
//
// Invariants:
//   - at most one Identity per subject
//   - UniqueID and CreatedAt are immutable after construction
//   - Documents is append-only and keeps insertion order
//   - VerificationLevel is 0 until verified, then within [MinLevel, MaxLevel]
type Identity struct {
	Subject           id.Address       `json:"subject"`
	UniqueID          id.UniqueID      `json:"unique_id"`
	IsVerified        bool             `json:"is_verified"`
	VerificationLevel int              `json:"verification_level"`
	Documents         []id.ContentHash `json:"documents"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewIdentity builds an unverified identity holding its first document.
func NewIdentity(subject id.Address, uniqueID id.UniqueID, firstDocument id.ContentHash, now time.Time) (*Identity, error) {
	if subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeZeroSubject, "subject is required")
	}
	if err := ValidateDocument(firstDocument); err != nil {
		return nil, err
	}
	return &Identity{
		Subject:           subject,
		UniqueID:          uniqueID,
		VerificationLevel: LevelUnverified,
		Documents:         []id.ContentHash{firstDocument},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// DeriveUniqueID hashes the subject together with a creation nonce. The nonce
// is the identity counter, so two subjects never share an id.
func DeriveUniqueID(subject id.Address, nonce uint64) id.UniqueID {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(subject))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])
	var out id.UniqueID
	copy(out[:], h.Sum(nil))
	return out
}

func ValidateDocument(hash id.ContentHash) error {
	if hash.IsBlank() {
		return dErrors.New(dErrors.CodeEmptyDocument, "document hash must not be empty")
	}
	return nil
}

func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return dErrors.Newf(dErrors.CodeInvalidLevel, "verification level must be between %d and %d", MinLevel, MaxLevel)
	}
	return nil
}

// DocumentCount is the number of documents attached so far.
func (i *Identity) DocumentCount() int {
	return len(i.Documents)
}

// Document returns the document at index in insertion order.
func (i *Identity) Document(index int) (id.ContentHash, error) {
	if index < 0 || index >= len(i.Documents) {
		return "", dErrors.Newf(dErrors.CodeIndexOutOfRange, "document index %d out of range", index)
	}
	return i.Documents[index], nil
}

// ApplyDocument appends a document. Call ValidateDocument first.
func (i *Identity) ApplyDocument(hash id.ContentHash, now time.Time) {
	i.Documents = append(i.Documents, hash)
	i.UpdatedAt = now
}

// ApplyVerification marks the identity verified at level and returns the
// previous level. Call ValidateLevel first.
func (i *Identity) ApplyVerification(level int, now time.Time) int {
	old := i.VerificationLevel
	i.IsVerified = true
	i.VerificationLevel = level
	i.UpdatedAt = now
	return old
}

// Clone returns a deep copy so stores never hand out shared slices.
func (i *Identity) Clone() *Identity {
	c := *i
	c.Documents = append([]id.ContentHash(nil), i.Documents...)
	return &c
}
