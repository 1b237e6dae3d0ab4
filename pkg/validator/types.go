// Package validator implements the Deterministic Validator (spec.md
// §4.8): coding, behavioral, and verification pipelines that run
// before any helper agent is consulted.
package validator

// Confidence is a per-criterion or overall confidence label
// (spec.md §3, §4.8).
type Confidence string

const (
	ConfidenceHigh      Confidence = "HIGH"
	ConfidenceMedium    Confidence = "MEDIUM"
	ConfidenceLow       Confidence = "LOW"
	ConfidenceNone      Confidence = "NONE"
	ConfidenceUncertain Confidence = "UNCERTAIN"
)

// Report is the ValidationReport (spec.md §3): produced fresh each
// validation, never mutated.
type Report struct {
	Valid             bool
	Reason            string
	RulesPassed       []string
	RulesFailed       []string
	Confidence        Confidence
	FailedCriteria    []string
	UncertainCriteria []string
}

// CodingOutput is the agent output contract for coding-family task
// types (spec.md §4.6 table).
type CodingOutput struct {
	Status        string   `json:"status"`
	FilesCreated  []string `json:"files_created"`
	FilesUpdated  []string `json:"files_updated"`
	Changes       []string `json:"changes"`
	NeededChanges bool     `json:"neededChanges"`
	Summary       string   `json:"summary"`
}

// BehavioralOutput is the agent output contract for behavioral tasks.
type BehavioralOutput struct {
	Status         string  `json:"status"`
	Response       string  `json:"response"`
	IsDirectAnswer bool    `json:"isDirectAnswer"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// VerificationOutput is the agent output contract for verification
// tasks.
type VerificationOutput struct {
	Status    string   `json:"status"`
	Findings  []string `json:"findings"`
	Verdict   string   `json:"verdict"`
	Reasoning string   `json:"reasoning"`
	Issues    []string `json:"issues"`
}

// GoalCompletionOutput is the Goal Completion Checker's verdict
// (spec.md §4.3).
type GoalCompletionOutput struct {
	Completed bool     `json:"completed"`
	Reason    string   `json:"reason"`
	Missing   []string `json:"missing"`
}
