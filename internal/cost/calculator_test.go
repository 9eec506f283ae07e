package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude_KnownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1M input + 1M output on haiku.
	got := c.Claude("claude-haiku-4-5-20251001", 1_000_000, 1_000_000)
	assert.InDelta(t, 4.80, got, 0.0001)
}

func TestClaude_UnknownModelIsFree(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("no-such-model", 1_000_000, 1_000_000))
}

func TestClaude_ZeroUsage(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("claude-haiku-4-5-20251001", 0, 0))
}

func TestCredits(t *testing.T) {
	c := NewCalculator(Rates{Apollo: ApolloRate{PerCredit: 0.02}})
	assert.InDelta(t, 0.10, c.Credits(5), 0.0001)
	assert.Zero(t, c.Credits(0))
}
