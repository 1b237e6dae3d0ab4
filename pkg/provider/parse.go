package provider

import (
	"encoding/json"
	"strings"

	"github.com/foundry-run/foundry/pkg/breaker"
)

// structuredPayload is the superset of fields a provider CLI may print
// in its final JSON block: the agent output contract (spec.md §4.6)
// plus usage/session metadata (spec.md §6).
type structuredPayload struct {
	SessionID string `json:"session_id"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		CachedTokens int `json:"cached_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// hardHaltMarkers are the tokens spec.md §4.10 says to scan provider
// output for.
var hardHaltMarkers = map[string]breaker.TripReason{
	"RESOURCE_EXHAUSTED":        breaker.ReasonQuota,
	"rate limit":                breaker.ReasonRateLimit,
	"quota exceeded":            breaker.ReasonQuota,
	"PROVIDER_CIRCUIT_BROKEN":   breaker.ReasonExecFailure,
	"authentication failed":     breaker.ReasonAuth,
	"unauthorized":              breaker.ReasonAuth,
}

// ExtractJSON finds the outermost {...} block in mixed text, tolerating
// a markdown fence or stray prose around it (spec.md §6 "Mixed text is
// tolerated via outermost-brace extraction").
func ExtractJSON(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexByte(trimmed, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(trimmed); i++ {
		switch trimmed[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return trimmed[start : i+1], true
			}
		}
	}
	return "", false
}

// DefaultParser implements OutputParser against the structured payload
// shape and the hard-halt marker scan (spec.md §4.5, §4.10, §6).
func DefaultParser(raw string) (sessionID string, usage Usage, tripReason breaker.TripReason, tripped bool) {
	for marker, reason := range hardHaltMarkers {
		if strings.Contains(raw, marker) {
			return "", Usage{}, reason, true
		}
	}

	jsonBlock, ok := ExtractJSON(raw)
	if !ok {
		return "", Usage{}, "", false
	}
	var payload structuredPayload
	if err := json.Unmarshal([]byte(jsonBlock), &payload); err != nil {
		return "", Usage{}, "", false
	}
	return payload.SessionID, Usage{
		InputTokens:  payload.Usage.InputTokens,
		CachedTokens: payload.Usage.CachedTokens,
		TotalTokens:  payload.Usage.TotalTokens,
	}, "", false
}
