package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credline/pkg/domain-errors"
)

// TestParseAddress_Invariants validates the parsing invariant:
// "addresses are non-empty, printable and normalised"
func TestParseAddress_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAddress("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("lower-cases hex addresses", func(t *testing.T) {
		addr, err := ParseAddress("0xABCDEF0123")
		require.NoError(t, err)
		assert.Equal(t, Address("0xabcdef0123"), addr)
	})

	t.Run("keeps opaque identifiers as given", func(t *testing.T) {
		addr, err := ParseAddress("  subject-Alice ")
		require.NoError(t, err)
		assert.Equal(t, Address("subject-Alice"), addr)
	})
}

func TestParseAddress_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Null byte injection", "0xabc\x00def", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "0xabc\u200Bdef", true},
		{"Embedded whitespace", "alice bob", true},
		{"Malformed hex", "0xzz", true},
		{"Bare prefix", "0x", true},
		{"Whitespace only", "   ", true},

		{"Valid hex", "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", false},
		{"Valid opaque", "did:example:123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestUniqueIDRoundTrip(t *testing.T) {
	var u UniqueID
	u[0], u[31] = 0xab, 0x01
	parsed, err := ParseUniqueID(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, parsed)
	assert.True(t, UniqueID{}.IsNil())

	_, err = ParseUniqueID("0x1234")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestContentHashBlank(t *testing.T) {
	assert.True(t, ContentHash("").IsBlank())
	assert.True(t, ContentHash(" \t").IsBlank())
	assert.False(t, ContentHash("QmDoc1").IsBlank())
}
