// Package breaker implements the per-provider Circuit Breaker
// (spec.md §4.4): a CLOSED/OPEN/HALF_OPEN state machine gating
// dispatch, grounded on the windowed-counter/threshold/cooldown design
// of the teacher's rate limiter.
package breaker

import (
	"sync"
	"time"
)

// State is one of CLOSED, OPEN, HALF_OPEN (spec.md §4.4).
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// TripReason classifies why a breaker tripped (spec.md §4.4 "Trip
// conditions").
type TripReason string

const (
	ReasonRateLimit     TripReason = "rate_limit"
	ReasonQuota         TripReason = "quota"
	ReasonAuth          TripReason = "auth"
	ReasonExecFailure   TripReason = "exec_failure"
)

const (
	initialCooldown = 30 * time.Second
	maxCooldown     = 30 * time.Minute
)

type providerState struct {
	state     State
	openUntil time.Time
	cooldown  time.Duration
}

// Breaker tracks circuit-breaker state for every provider in the
// priority list. A single Breaker instance is shared read/write by one
// Control Loop iteration at a time (single-writer, spec.md §5).
type Breaker struct {
	mu        sync.Mutex
	providers map[string]*providerState
}

// New returns an empty Breaker; providers default to CLOSED on first
// access.
func New() *Breaker {
	return &Breaker{providers: make(map[string]*providerState)}
}

func (b *Breaker) get(provider string) *providerState {
	ps, ok := b.providers[provider]
	if !ok {
		ps = &providerState{state: Closed}
		b.providers[provider] = ps
	}
	return ps
}

// Allows reports whether provider's breaker permits dispatch right
// now. An OPEN breaker whose cooldown has elapsed transitions to
// HALF_OPEN; a HALF_OPEN breaker allows every call until the next
// Succeed or Trip moves it out of that state.
func (b *Breaker) Allows(provider string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.get(provider)
	switch ps.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if now.After(ps.openUntil) {
			ps.state = HalfOpen
			return true
		}
		return false
	}
	return false
}

// State returns the current state of provider's breaker.
func (b *Breaker) State(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(provider).state
}

// Trip opens provider's breaker with exponential, bounded backoff
// (spec.md §4.4: "exponential, bounded (e.g., 30s -> 30min)").
func (b *Breaker) Trip(provider string, now time.Time, reason TripReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.get(provider)
	if ps.cooldown == 0 {
		ps.cooldown = initialCooldown
	} else {
		ps.cooldown *= 2
		if ps.cooldown > maxCooldown {
			ps.cooldown = maxCooldown
		}
	}
	ps.state = Open
	ps.openUntil = now.Add(ps.cooldown)
}

// Succeed resets provider's breaker to CLOSED on any success while
// HALF_OPEN (spec.md §4.4: "On any success in HALF_OPEN, reset to
// CLOSED"). A success while already CLOSED also clears the cooldown
// back to the initial value so a later trip starts the backoff over.
func (b *Breaker) Succeed(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.get(provider)
	ps.state = Closed
	ps.cooldown = 0
}

// AnyClosed reports whether at least one of the given providers has a
// CLOSED or HALF_OPEN breaker; used to decide PROVIDER_CIRCUIT_BROKEN
// (spec.md §4.10, boundary B3).
func (b *Breaker) AnyClosed(providers []string, now time.Time) bool {
	for _, p := range providers {
		if b.Allows(p, now) {
			return true
		}
	}
	return false
}
