package validator

import "encoding/json"

// ValidateVerification implements the verification pipeline
// (spec.md §4.8 "Verification pipeline").
func ValidateVerification(jsonBlock string) Report {
	var out VerificationOutput
	if err := json.Unmarshal([]byte(jsonBlock), &out); err != nil {
		return Report{Valid: false, Reason: "schema mismatch: " + err.Error(), Confidence: ConfidenceNone}
	}
	if out.Status != "completed" {
		return Report{Valid: false, Reason: "status not completed", Confidence: ConfidenceLow}
	}
	if len(out.Findings) == 0 {
		return Report{Valid: false, Reason: "empty findings", Confidence: ConfidenceLow}
	}
	if out.Verdict != "pass" {
		return Report{Valid: false, Reason: "verdict not pass", Confidence: ConfidenceLow, FailedCriteria: out.Issues}
	}
	return Report{Valid: true, Confidence: ConfidenceHigh}
}
