package circuit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scoreCacheBreaker mirrors the thresholds the server gives the score cache.
func scoreCacheBreaker() *Breaker {
	return New("score-cache", WithFailureThreshold(5), WithSuccessThreshold(2))
}

// replay feeds outcomes ("f" failure, "s" success) and returns the state after
// each one.
func replay(b *Breaker, outcomes string) []State {
	states := make([]State, 0, len(outcomes))
	for _, o := range strings.Split(outcomes, "") {
		if o == "f" {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
		states = append(states, b.State())
	}
	return states
}

func TestScoreCacheThresholds(t *testing.T) {
	tests := []struct {
		name     string
		outcomes string
		want     State
	}{
		{"a closed breaker tolerates four redis errors", "ffff", StateClosed},
		{"the fifth consecutive error opens it", "fffff", StateOpen},
		{"a hit in between restarts the count", "ffffsffff", StateClosed},
		{"one write after an outage is not enough to close", "fffffs", StateOpen},
		{"two writes in a row close it", "fffffss", StateClosed},
		{"an error while open restarts the recovery count", "fffffsfs", StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := replay(scoreCacheBreaker(), tt.outcomes)
			assert.Equal(t, tt.want, states[len(states)-1])
		})
	}
}

func TestTransitionsAreReportedOnce(t *testing.T) {
	b := scoreCacheBreaker()
	replay(b, "ffff")

	fallback, change := b.RecordFailure()
	require.True(t, fallback)
	assert.True(t, change.Opened)

	fallback, change = b.RecordFailure()
	assert.True(t, fallback, "callers keep reading the store while open")
	assert.False(t, change.Opened)

	primary, change := b.RecordSuccess()
	assert.False(t, primary)
	assert.False(t, change.Closed)
	primary, change = b.RecordSuccess()
	assert.True(t, primary)
	assert.True(t, change.Closed)
}

func TestDefaultsAndReset(t *testing.T) {
	b := New("score-cache", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, "score-cache", b.Name())
	assert.Equal(t, "closed", b.State().String())

	replay(b, "fffff")
	assert.True(t, b.IsOpen(), "non-positive options keep the default of five failures")
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, []State{StateClosed}, replay(b, "f"))
}
