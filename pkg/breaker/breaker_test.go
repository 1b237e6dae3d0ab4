package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foundry-run/foundry/pkg/breaker"
)

func TestBreaker_DefaultsClosed(t *testing.T) {
	b := breaker.New()
	assert.Equal(t, breaker.Closed, b.State("claude"))
	assert.True(t, b.Allows("claude", time.Now()))
}

func TestBreaker_TripOpens(t *testing.T) {
	b := breaker.New()
	now := time.Now()
	b.Trip("claude", now, breaker.ReasonQuota)
	assert.Equal(t, breaker.Open, b.State("claude"))
	assert.False(t, b.Allows("claude", now))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := breaker.New()
	now := time.Now()
	b.Trip("claude", now, breaker.ReasonQuota)
	later := now.Add(31 * time.Second)
	assert.True(t, b.Allows("claude", later))
	assert.Equal(t, breaker.HalfOpen, b.State("claude"))
}

func TestBreaker_SuccessInHalfOpenResetsClosed(t *testing.T) {
	b := breaker.New()
	now := time.Now()
	b.Trip("claude", now, breaker.ReasonQuota)
	b.Allows("claude", now.Add(31*time.Second)) // -> HALF_OPEN
	b.Succeed("claude")
	assert.Equal(t, breaker.Closed, b.State("claude"))
}

func TestBreaker_ExponentialBackoff(t *testing.T) {
	b := breaker.New()
	now := time.Now()
	b.Trip("claude", now, breaker.ReasonQuota)
	b.Allows("claude", now.Add(31*time.Second))
	// Trip again while half-open: cooldown should double (60s), not reset.
	b.Trip("claude", now.Add(31*time.Second), breaker.ReasonQuota)
	assert.False(t, b.Allows("claude", now.Add(31*time.Second+59*time.Second)))
	assert.True(t, b.Allows("claude", now.Add(31*time.Second+61*time.Second)))
}

func TestBreaker_AnyClosed(t *testing.T) {
	b := breaker.New()
	now := time.Now()
	b.Trip("claude", now, breaker.ReasonQuota)
	assert.True(t, b.AnyClosed([]string{"claude", "codex"}, now), "codex still CLOSED")

	b.Trip("codex", now, breaker.ReasonQuota)
	assert.False(t, b.AnyClosed([]string{"claude", "codex"}, now), "both providers OPEN -> PROVIDER_CIRCUIT_BROKEN")
}
