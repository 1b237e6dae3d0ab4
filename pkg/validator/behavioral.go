package validator

import (
	"encoding/json"
	"strings"
)

var greetingTokens = []string{"hello", "hi", "hey", "greetings", "welcome"}

// ValidateBehavioral implements the behavioral pipeline (spec.md §4.8
// "Behavioral pipeline"): no filesystem reads, no helper agent.
func ValidateBehavioral(intent, jsonBlock string) Report {
	var out BehavioralOutput
	if err := json.Unmarshal([]byte(jsonBlock), &out); err != nil {
		return Report{Valid: false, Reason: "schema mismatch: " + err.Error(), Confidence: ConfidenceNone}
	}

	if out.Status != "completed" {
		return Report{Valid: false, Reason: "status not completed", Confidence: ConfidenceLow}
	}
	if strings.TrimSpace(out.Response) == "" {
		return Report{Valid: false, Reason: "empty response", Confidence: ConfidenceLow}
	}

	if isGreetIntent(intent) {
		lower := strings.ToLower(out.Response)
		hasGreeting := false
		for _, tok := range greetingTokens {
			if strings.Contains(lower, tok) {
				hasGreeting = true
				break
			}
		}
		if !hasGreeting {
			return Report{Valid: false, Reason: "greeting intent but no greeting token in response", Confidence: ConfidenceLow}
		}
	}

	// An agent-reported confidence below 0.5 does not fail validation;
	// the confidence field is not read and no warning is emitted.
	return Report{Valid: true, Confidence: ConfidenceHigh}
}

func isGreetIntent(intent string) bool {
	lower := strings.ToLower(intent)
	for _, kw := range []string{"greet", "hello", "say", "respond", "explain", "who are you"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
