package domain

import (
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "credline/pkg/domain-errors"
)

// maxAddressLength bounds subject identifiers at trust boundaries.
const maxAddressLength = 128

// Address identifies a subject or an operator. Hex account addresses
// ("0x...") are normalised to lower case so that the same account always maps
// to the same record. The zero value is the null subject.
type Address string

// ParseAddress validates and normalises an address supplied by a caller.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if len(s) > maxAddressLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is too long")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must be valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || !unicode.IsPrint(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "address contains invalid characters")
		}
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		body := s[2:]
		if _, err := hex.DecodeString(body); err != nil || body == "" {
			return "", dErrors.New(dErrors.CodeInvalidInput, "hex address is malformed")
		}
		s = "0x" + strings.ToLower(body)
	}
	return Address(s), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

// IsNil reports whether a is the null subject.
func (a Address) IsNil() bool { return a == "" }

// UniqueID is the immutable 256-bit identifier assigned to an identity record.
type UniqueID [32]byte

func (u UniqueID) String() string { return "0x" + hex.EncodeToString(u[:]) }

func (u UniqueID) IsNil() bool { return u == UniqueID{} }

// ParseUniqueID decodes the 0x-prefixed hex form produced by String.
func ParseUniqueID(s string) (UniqueID, error) {
	var u UniqueID
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(u) {
		return u, dErrors.New(dErrors.CodeInvalidInput, "unique id must be 32 bytes of hex")
	}
	copy(u[:], b)
	return u, nil
}

// TokenID identifies one minted credential. Ids start at 1 and are never reused.
type TokenID uint64

func (t TokenID) String() string { return strconv.FormatUint(uint64(t), 10) }

func (t TokenID) IsNil() bool { return t == 0 }

// LoanID identifies a loan. Ids start at 1 and are never reused.
type LoanID uint64

func (l LoanID) String() string { return strconv.FormatUint(uint64(l), 10) }

func (l LoanID) IsNil() bool { return l == 0 }

// ContentHash is an opaque content identifier for an identity document.
type ContentHash string

// IsBlank reports whether the hash is empty or whitespace only.
func (h ContentHash) IsBlank() bool { return strings.TrimSpace(string(h)) == "" }

// Amount is a quantity of the settlement currency in 6-decimal base units.
type Amount int64

// ScaleUnit converts whole currency units into base units.
const ScaleUnit Amount = 1_000_000
