// Package prompt implements the Prompt Builder (spec.md §4.6): one
// strategy per task type, a fixed section ordering, and the Minimal
// State Projection that conditionally folds in goal/queue/history
// context based on trigger keywords in the task text.
package prompt

import (
	"strings"

	"github.com/foundry-run/foundry/pkg/state"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator"
)

// Rules is the verbatim Rules block included in every prompt
// (spec.md §4.6 "Rules block").
const Rules = `Rules:
- Use only information from the task, criteria, and provided context; do not paraphrase or speculate.
- If a critical detail (file path, API signature, variable name) is missing, STOP and ask exactly one clarifying question.
- Remain in the declared agent mode.
- Reference only files that exist under sandbox root.
- Your response must contain only code changes and the final JSON block.`

// guidelines holds the single-line imperative guideline for each task
// type (spec.md §4.6 "task-type-specific Guidelines").
var guidelines = map[task.Type]string{
	task.TypeCoding:         "Implement the change directly; do not ask for permission to write files.",
	task.TypeImplementation: "Implement the change directly; do not ask for permission to write files.",
	task.TypeRefactoring:    "Preserve external behavior; only restructure the implementation.",
	task.TypeTesting:        "Write tests that exercise the acceptance criteria; do not weaken existing tests to pass.",
	task.TypeConfiguration:  "Change only configuration surfaces; do not alter application logic.",
	task.TypeDocumentation:  "Write documentation only; do not modify source files.",
	task.TypeBehavioral:     "Answer directly and concisely; do not defer to a hypothetical follow-up.",
	task.TypeVerification:   "Report findings only; do not modify any file.",
}

// outputContract holds the Output Requirements block for each task type
// (spec.md §4.6 "Output contract by task type").
var outputContract = map[task.Type]string{
	task.TypeBehavioral: `Output Requirements: respond with a single JSON object with exactly these keys:
{"status": "completed"|"failed", "response": string, "isDirectAnswer": bool, "confidence": number in [0,1], "reasoning": string}`,
	task.TypeVerification: `Output Requirements: respond with a single JSON object with exactly these keys:
{"status": "completed"|"failed", "findings": [string], "verdict": "pass"|"fail", "reasoning": string, "issues": [string]}`,
}

// codingOutputContract is shared by every coding-family task type
// (spec.md §4.6 table row 1).
const codingOutputContract = `Output Requirements: respond with a single JSON object with exactly these keys:
{"status": "completed"|"failed", "files_created": [string], "files_updated": [string], "changes": [string], "neededChanges": bool, "summary": string (one sentence)}
All file paths must be relative to sandbox root. An empty changes list is only valid when neededChanges is false.`

func isCodingFamily(t task.Type) bool {
	switch t {
	case task.TypeCoding, task.TypeImplementation, task.TypeRefactoring,
		task.TypeTesting, task.TypeConfiguration, task.TypeDocumentation:
		return true
	}
	return false
}

// keywordDetectors maps auto-detection keywords to their task type, in
// the priority order spec.md §4.6 lists them.
var keywordDetectors = []struct {
	Type     task.Type
	Keywords []string
}{
	{task.TypeBehavioral, []string{"greet", "hello", "say", "respond", "explain", "who are you"}},
	{task.TypeVerification, []string{"verify", "check"}},
	{task.TypeTesting, []string{"test", "spec", "coverage"}},
	{task.TypeConfiguration, []string{"configure", "setup", "install"}},
	{task.TypeDocumentation, []string{"document", "readme"}},
}

// DetectType returns t.TaskType if set, else the type inferred from
// keyword matches in the intent/instructions, defaulting to coding
// (spec.md §4.6 "detects it").
func DetectType(t *task.Task) task.Type {
	if t.TaskType != "" {
		return t.TaskType
	}
	haystack := strings.ToLower(t.Intent + " " + t.Instructions)
	for _, d := range keywordDetectors {
		for _, kw := range d.Keywords {
			if strings.Contains(haystack, kw) {
				return d.Type
			}
		}
	}
	return task.TypeCoding
}

// stateTriggers maps each conditional Minimal State Projection section
// to the keywords that include it (spec.md §4.6 "Minimal State
// Projection").
var (
	goalTriggers    = []string{"goal"}
	lastTaskTriggers = []string{"previous", "last task", "earlier", "after", "before"}
	historyTriggers = []string{"extend", "build on", "previous implementation", "based on"}
	blockedTriggers = []string{"unblock", "blocked"}
)

func mentionsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// Builder assembles Control Loop prompts from task, state, and
// sandbox context (spec.md §4.6).
type Builder struct {
	ProjectID   string
	SandboxRoot string
}

// NewBuilder returns a Builder scoped to one project's sandbox.
func NewBuilder(projectID, sandboxRoot string) *Builder {
	return &Builder{ProjectID: projectID, SandboxRoot: sandboxRoot}
}

// Build composes the dispatch prompt for t against s (spec.md §4.6
// "Every prompt contains, in order...").
func (b *Builder) Build(t *task.Task, s *state.SupervisorState) string {
	taskType := DetectType(t)

	var p strings.Builder
	p.WriteString("Task ID: " + t.TaskID + "\n")
	p.WriteString("Task Description: " + t.Instructions + "\n")
	p.WriteString("Intent: " + t.Intent + "\n")
	if len(t.AcceptanceCriteria) > 0 {
		p.WriteString("Acceptance Criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			p.WriteString("- " + c + "\n")
		}
	}
	p.WriteString("\n" + Rules + "\n\n")

	if g, ok := guidelines[taskType]; ok {
		p.WriteString("Guidelines: " + g + "\n\n")
	}

	if isCodingFamily(taskType) {
		p.WriteString(codingOutputContract + "\n\n")
	} else if oc, ok := outputContract[taskType]; ok {
		p.WriteString(oc + "\n\n")
	}

	p.WriteString(b.minimalState(t, s, taskType))

	p.WriteString("Working Directory: " + b.workingDirectory(t) + "\n")

	return strings.TrimSpace(p.String())
}

// workingDirectory returns t's sandbox-relative working directory, or
// the sandbox root itself when unset.
func (b *Builder) workingDirectory(t *task.Task) string {
	if t.WorkingDirectory != "" {
		return t.WorkingDirectory
	}
	return "."
}

// minimalState renders the Minimal State Projection: project.{id,
// sandbox_root} unconditionally, then goal/last-task-id/history/
// blocked-tasks sections gated on trigger keywords found in the task's
// intent, instructions, and acceptance criteria (spec.md §4.6). A
// documentation task receives project context only, regardless of
// which keywords it mentions.
func (b *Builder) minimalState(t *task.Task, s *state.SupervisorState, taskType task.Type) string {
	var p strings.Builder
	p.WriteString("Minimal State:\n")
	p.WriteString("project.id: " + b.ProjectID + "\n")
	p.WriteString("project.sandbox_root: " + b.SandboxRoot + "\n")

	if taskType == task.TypeDocumentation || s == nil {
		p.WriteString("\n")
		return p.String()
	}

	haystack := strings.ToLower(t.Intent + " " + t.Instructions + " " + strings.Join(t.AcceptanceCriteria, " "))

	if mentionsAny(haystack, goalTriggers) {
		p.WriteString("goal.description: " + s.Goal.Description + "\n")
		p.WriteString("goal.completed: " + boolStr(s.Goal.Completed) + "\n")
	}
	if mentionsAny(haystack, lastTaskTriggers) {
		p.WriteString("queue.last_task_id: " + s.Supervisor.LastTaskID + "\n")
	}
	if mentionsAny(haystack, historyTriggers) {
		p.WriteString(renderHistory(s.CompletedTasks))
	}
	if mentionsAny(haystack, blockedTriggers) {
		p.WriteString(renderBlocked(s.BlockedTasks))
	}

	p.WriteString("\n")
	return p.String()
}

func renderHistory(completed []state.CompletedTaskSummary) string {
	n := len(completed)
	if n == 0 {
		return ""
	}
	start := 0
	if n > 5 {
		start = n - 5
	}
	var p strings.Builder
	p.WriteString("completed_tasks (last 5):\n")
	for _, c := range completed[start:] {
		p.WriteString("- " + c.TaskID + ": " + c.Intent + "\n")
	}
	return p.String()
}

func renderBlocked(blocked []state.BlockedTask) string {
	if len(blocked) == 0 {
		return ""
	}
	var p strings.Builder
	p.WriteString("blocked_tasks:\n")
	for _, bt := range blocked {
		p.WriteString("- " + bt.TaskID + ": " + bt.Reason + "\n")
	}
	return p.String()
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// BuildFix composes the fix-retry prompt (spec.md §4.6 "Fix prompt"):
// it does not repeat the task body, only the validation report, a
// fix-only instruction, and the Rules block.
func (b *Builder) BuildFix(t *task.Task, report validator.Report) string {
	var p strings.Builder
	p.WriteString("Task ID: " + t.TaskID + "\n\n")
	p.WriteString("Validation Report:\n")
	p.WriteString("valid: " + boolStr(report.Valid) + "\n")
	if report.Reason != "" {
		p.WriteString("reason: " + report.Reason + "\n")
	}
	if len(report.FailedCriteria) > 0 {
		p.WriteString("failed_criteria:\n")
		for _, c := range report.FailedCriteria {
			p.WriteString("- " + c + "\n")
		}
	}
	if len(report.UncertainCriteria) > 0 {
		p.WriteString("uncertain_criteria:\n")
		for _, c := range report.UncertainCriteria {
			p.WriteString("- " + c + "\n")
		}
	}
	p.WriteString("\nFix only the failed and uncertain criteria above; do not redo work already validated as passing.\n\n")
	p.WriteString(Rules)

	return strings.TrimSpace(p.String())
}

// forbiddenHedges are words that must not appear in a Clarification
// response (spec.md §4.6 "Clarification prompt": "instructs
// declarative resolution").
var forbiddenHedges = []string{"maybe", "could", "suggest", "recommend", "option"}

// BuildClarification composes the clarification prompt issued after an
// AMBIGUITY or ASKED_QUESTION halt (spec.md §4.6).
func (b *Builder) BuildClarification(t *task.Task, question string) string {
	var p strings.Builder
	p.WriteString("Task ID: " + t.TaskID + "\n\n")
	p.WriteString("Your previous response asked a clarifying question instead of completing the task:\n")
	p.WriteString(question + "\n\n")
	p.WriteString("Resolve this yourself and answer declaratively. Do not use hedging language")
	p.WriteString(" (forbidden: " + strings.Join(forbiddenHedges, ", ") + ").\n\n")
	p.WriteString(Rules)

	return strings.TrimSpace(p.String())
}

// BuildGoalCompletion composes the goal-completion-check prompt
// (spec.md §4.3): dispatched when the task queue is empty, from the
// sandbox root, to decide whether the operator's declared goal has
// been fully achieved.
func (b *Builder) BuildGoalCompletion(goalDescription string, completed []state.CompletedTaskSummary) string {
	var p strings.Builder
	p.WriteString("Goal: " + goalDescription + "\n\n")
	if h := renderHistory(completed); h != "" {
		p.WriteString(h + "\n")
	}
	p.WriteString("The task queue is empty. Determine whether the goal above has been fully achieved by inspecting the project under sandbox root.\n\n")
	p.WriteString(Rules + "\n\n")
	p.WriteString(`Output Requirements: respond with a single JSON object with exactly these keys:
{"completed": bool, "reason": string, "missing": [string]}`)
	return strings.TrimSpace(p.String())
}

// ContainsHedge reports whether resp uses one of the forbidden hedge
// words (spec.md §4.6), for post-hoc rejection of a second evasive
// response.
func ContainsHedge(resp string) bool {
	lower := strings.ToLower(resp)
	for _, h := range forbiddenHedges {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
