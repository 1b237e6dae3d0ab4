// Package retry implements the Retry Orchestrator (spec.md §4.11):
// given a failed or uncertain ValidationReport it escalates through
// helper-agent verification, structured interrogation, fix retry, and
// finally blocks the task, applying the repeated-error guard and
// building the pre-context blocks injected on retry/fallover.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/helper"
	"github.com/foundry-run/foundry/pkg/provider"
	"github.com/foundry-run/foundry/pkg/queue"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator"
)

// Decision is the Retry Orchestrator's verdict for one invocation
// (spec.md §4.11).
type Decision string

const (
	DecisionValid Decision = "valid"
	DecisionRetry Decision = "retry"
	DecisionBlock Decision = "block"
)

// DefaultMaxInterrogationRounds and MaxInterrogationRoundsCap back
// max_rounds (spec.md §4.11 step 2: "default 1, cap 4").
const (
	DefaultMaxInterrogationRounds = 1
	MaxInterrogationRoundsCap     = 4
)

// RepeatedErrorGuardCount is the number of identical consecutive
// failures that stops retrying outright (spec.md §4.11 "Repeated-error
// guard").
const RepeatedErrorGuardCount = 3

// InterrogationStatus is one criterion's self-reported state in a
// structured Q&A round (spec.md §4.11 step 2).
type InterrogationStatus string

const (
	StatusComplete   InterrogationStatus = "COMPLETE"
	StatusIncomplete InterrogationStatus = "INCOMPLETE"
	StatusNotStarted InterrogationStatus = "NOT_STARTED"
)

// InterrogationAnswer is one criterion's entry in the round response.
type InterrogationAnswer struct {
	Status          InterrogationStatus `json:"status"`
	FilePaths       []string            `json:"file_paths"`
	EvidenceSnippet string              `json:"evidence_snippet"`
}

// InterrogationResponse is the structured JSON an interrogation round
// must return (spec.md §4.11 step 2).
type InterrogationResponse struct {
	Results map[string]InterrogationAnswer `json:"results"`
}

// Outcome is the Orchestrator's result for one Resolve call.
type Outcome struct {
	Decision      Decision
	Report        validator.Report
	BlockedReason string
	HelperCalls   int
	Rounds        int
}

// Orchestrator wires the helper agent, interrogation dispatcher, queue,
// and sandbox root needed to escalate a failed validation.
type Orchestrator struct {
	Helper                 *helper.Agent
	Dispatcher             *provider.Dispatcher
	Queue                  *queue.Queue
	Root                   sandbox.Root
	MaxInterrogationRounds int
	BuildFixPrompt         func(t *task.Task, report validator.Report) string
}

// New returns an Orchestrator with spec.md defaults.
func New(h *helper.Agent, d *provider.Dispatcher, q *queue.Queue, root sandbox.Root) *Orchestrator {
	return &Orchestrator{
		Helper: h, Dispatcher: d, Queue: q, Root: root,
		MaxInterrogationRounds: DefaultMaxInterrogationRounds,
	}
}

// Resolve runs spec.md §4.11's decision tree against a failed or
// uncertain report. featureID/workingDirectory/priorResponse feed the
// helper prompt; recentFailureTexts is the last N validation failure
// reasons recorded for this task, oldest first, used by the repeated-
// error guard.
func (o *Orchestrator) Resolve(ctx context.Context, t *task.Task, report validator.Report, featureID, workingDirectory, priorResponse string, recentFailureTexts []string) Outcome {
	if report.Valid {
		return Outcome{Decision: DecisionValid, Report: report}
	}

	if repeatedErrorGuardTripped(recentFailureTexts) {
		return Outcome{Decision: DecisionBlock, Report: report, BlockedReason: "repeated identical failure"}
	}

	helperCalls := 0
	if t.TaskType != task.TypeBehavioral && (report.Confidence == validator.ConfidenceUncertain || report.Confidence == validator.ConfidenceLow) {
		uncertain := append(append([]string{}, report.FailedCriteria...), report.UncertainCriteria...)
		if o.Helper != nil && len(uncertain) > 0 {
			helperCalls++
			outcome, err := o.Helper.Verify(ctx, featureID, workingDirectory, uncertain, priorResponse)
			if err == nil && outcome.AllPass {
				report.Valid = true
				report.Confidence = validator.ConfidenceHigh
				report.FailedCriteria = nil
				report.UncertainCriteria = nil
				return Outcome{Decision: DecisionValid, Report: report, HelperCalls: helperCalls}
			}
		}
	}

	rounds := o.maxRounds()
	remaining := append(append([]string{}, report.FailedCriteria...), report.UncertainCriteria...)
	roundsRun := 0
	for i := 0; i < rounds && len(remaining) > 0; i++ {
		roundsRun++
		asked := remaining
		answers, notImplemented := o.interrogationRound(ctx, t, asked, workingDirectory)
		remaining = nil
		for _, criterion := range asked {
			answer, ok := answers[criterion]
			if !ok || answer.Status != StatusComplete || !o.pathsExist(answer.FilePaths) {
				remaining = append(remaining, criterion)
			}
		}
		if notImplemented {
			break
		}
		if len(remaining) == 0 {
			report.Valid = true
			report.Confidence = validator.ConfidenceHigh
			report.FailedCriteria = nil
			report.UncertainCriteria = nil
			return Outcome{Decision: DecisionValid, Report: report, HelperCalls: helperCalls, Rounds: roundsRun}
		}
	}

	if t.RetryCount < t.MaxRetries() {
		if o.Queue != nil {
			o.Queue.Requeue(t.TaskID)
		}
		t.RetryCount++
		return Outcome{Decision: DecisionRetry, Report: report, HelperCalls: helperCalls, Rounds: roundsRun}
	}

	// Final interrogation (spec.md §4.11 step 4).
	answers, _ := o.interrogationRound(ctx, t, remaining, workingDirectory)
	allConfirmed := true
	for _, criterion := range remaining {
		a, ok := answers[criterion]
		if !ok || a.Status != StatusComplete || !o.pathsExist(a.FilePaths) {
			allConfirmed = false
			break
		}
	}
	if allConfirmed {
		report.Valid = true
		report.Confidence = validator.ConfidenceHigh
		report.FailedCriteria = nil
		report.UncertainCriteria = nil
		return Outcome{Decision: DecisionValid, Report: report, HelperCalls: helperCalls, Rounds: roundsRun + 1}
	}
	return Outcome{Decision: DecisionBlock, Report: report, BlockedReason: "max retries exceeded, criteria unconfirmed", HelperCalls: helperCalls, Rounds: roundsRun + 1}
}

func (o *Orchestrator) maxRounds() int {
	n := o.MaxInterrogationRounds
	if n <= 0 {
		n = DefaultMaxInterrogationRounds
	}
	if n > MaxInterrogationRoundsCap {
		n = MaxInterrogationRoundsCap
	}
	return n
}

func (o *Orchestrator) pathsExist(paths []string) bool {
	for _, p := range paths {
		if _, ok := o.Root.Resolve(p); !ok {
			return false
		}
	}
	return true
}

// interrogationRound dispatches one structured Q&A round for the given
// criteria (spec.md §4.11 step 2). notImplemented is true if any answer
// explicitly declares NOT_STARTED with "not implemented" evidence,
// triggering early exit.
func (o *Orchestrator) interrogationRound(ctx context.Context, t *task.Task, criteria []string, workingDirectory string) (map[string]InterrogationAnswer, bool) {
	if o.Dispatcher == nil || len(criteria) == 0 {
		return nil, false
	}
	prompt := buildInterrogationPrompt(criteria)
	result, err := o.Dispatcher.Dispatch(ctx, provider.Call{
		Prompt:           prompt,
		WorkingDirectory: workingDirectory,
		TaskID:           t.TaskID,
	}, "")
	if err != nil {
		return nil, false
	}
	jsonBlock, ok := provider.ExtractJSON(result.RawOutput)
	if !ok {
		return nil, false
	}
	var resp InterrogationResponse
	if err := json.Unmarshal([]byte(jsonBlock), &resp); err != nil {
		return nil, false
	}
	notImplemented := false
	for _, a := range resp.Results {
		if a.Status == StatusNotStarted && strings.Contains(strings.ToLower(a.EvidenceSnippet), "not implemented") {
			notImplemented = true
			break
		}
	}
	return resp.Results, notImplemented
}

func buildInterrogationPrompt(criteria []string) string {
	var b strings.Builder
	b.WriteString("For each acceptance criterion below, report its completion status.\n")
	for _, c := range criteria {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteByte('\n')
	}
	b.WriteString("\nRespond with exactly one JSON object: ")
	b.WriteString(`{"results": {"<criterion>": {"status": "COMPLETE|INCOMPLETE|NOT_STARTED", "file_paths": ["..."], "evidence_snippet": "..."}}}`)
	return b.String()
}

func repeatedErrorGuardTripped(recentFailureTexts []string) bool {
	n := len(recentFailureTexts)
	if n < RepeatedErrorGuardCount {
		return false
	}
	last := recentFailureTexts[n-RepeatedErrorGuardCount:]
	for i := 1; i < len(last); i++ {
		if last[i] != last[0] {
			return false
		}
	}
	return true
}

// PreContext variants (spec.md §4.11 "Pre-context injection"): a
// ≤10-line block summarising previous provider, failure class, files
// previously touched (≤3), the first validation error, and a directive
// to avoid recreating existing files.
const maxPreContextFiles = 3

type preContextInput struct {
	header          string
	previousValue   string
	failureClass    string
	touchedFiles    []string
	firstError      string
}

func buildPreContext(in preContextInput) string {
	files := in.touchedFiles
	if len(files) > maxPreContextFiles {
		files = files[:maxPreContextFiles]
	}
	var b strings.Builder
	b.WriteString("--- ")
	b.WriteString(in.header)
	b.WriteString(" ---\n")
	if in.previousValue != "" {
		fmt.Fprintf(&b, "previous: %s\n", in.previousValue)
	}
	if in.failureClass != "" {
		fmt.Fprintf(&b, "failure_class: %s\n", in.failureClass)
	}
	if len(files) > 0 {
		fmt.Fprintf(&b, "files_touched: %s\n", strings.Join(files, ", "))
	}
	if in.firstError != "" {
		fmt.Fprintf(&b, "first_error: %s\n", in.firstError)
	}
	b.WriteString("Do not recreate files that already exist; check before writing.\n")
	b.WriteString("--- end ---")
	return b.String()
}

// ProviderSwitchPreContext summarises a fallover from one provider to
// the next (spec.md §4.5 step 3, §4.11).
func ProviderSwitchPreContext(previousProvider, failureClass string, touchedFiles []string, firstError string) string {
	return buildPreContext(preContextInput{
		header: "provider switch", previousValue: previousProvider,
		failureClass: failureClass, touchedFiles: touchedFiles, firstError: firstError,
	})
}

// RetryPreContext summarises a fix-retry attempt (spec.md §4.11 step 3).
func RetryPreContext(failureClass string, touchedFiles []string, firstError string) string {
	return buildPreContext(preContextInput{
		header: "retry attempt", failureClass: failureClass,
		touchedFiles: touchedFiles, firstError: firstError,
	})
}

// HelperPreContext summarises the context handed to a helper-agent
// verification round (spec.md §4.11 step 1).
func HelperPreContext(touchedFiles []string, firstError string) string {
	return buildPreContext(preContextInput{
		header: "helper verification", touchedFiles: touchedFiles, firstError: firstError,
	})
}
