package provider

import "errors"

var (
	errAllBreakersOpen    = errors.New("provider: all breakers open")
	errAllProvidersFailed = errors.New("provider: all providers failed")
)

// ErrAllBreakersOpen is returned by Dispatch when no provider in the
// priority list has an Allows()-able breaker; the Control Loop maps
// this to the PROVIDER_CIRCUIT_BROKEN halt (spec.md §4.10, boundary B3).
func ErrAllBreakersOpen() error { return errAllBreakersOpen }

// ErrAllProvidersFailed is returned by Dispatch when every attempted
// provider tripped its breaker or exited non-zero; Dispatch wraps it
// around the last attempt's error via %w.
func ErrAllProvidersFailed() error { return errAllProvidersFailed }
