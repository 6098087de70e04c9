package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowIsPerUser(t *testing.T) {
	l := NewLimiter(3600, 2)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))

	assert.True(t, l.Allow("bob"), "users do not share a bucket")
	assert.Equal(t, 2, l.Len())
}

func TestTokensRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(3600, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.InDelta(t, 0, l.Tokens("alice"), 0.01)

	now = now.Add(time.Second)
	assert.InDelta(t, 1, l.Tokens("alice"), 0.01)
	assert.True(t, l.Allow("alice"))
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(60, 1)
	l.now = func() time.Time { return now }

	assert.Equal(t, time.Duration(0), l.RetryAfter("alice"))
	assert.True(t, l.Allow("alice"))
	assert.InDelta(t, float64(time.Minute), float64(l.RetryAfter("alice")), float64(time.Second))
	assert.False(t, l.Allow("alice"), "asking for the delay does not consume a token")
}

func TestPrune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(20, 3)
	l.now = func() time.Time { return now }

	l.Allow("alice")
	now = now.Add(2 * time.Hour)
	l.Allow("bob")

	assert.Equal(t, 1, l.Prune(time.Hour))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 20, l.PerHour())
}
