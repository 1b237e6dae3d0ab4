package session

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator produces a local token estimate for use when a provider's
// structured usage payload omits counts, so SessionInfo.TotalTokens
// eviction accounting (spec.md §3, §4.7) still advances.
type Estimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the cl100k_base encoding, the closest general-purpose
// approximation across the provider CLIs Foundry dispatches to (none of
// them publish an exact public tokenizer).
func NewEstimator() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Estimator{enc: enc}, nil
}

// Estimate returns the token count of text.
func (e *Estimator) Estimate(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(text, nil, nil))
}
