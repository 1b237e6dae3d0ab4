package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foundry-run/foundry/pkg/state"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator"
)

func TestDetectType_ExplicitWins(t *testing.T) {
	tk := &task.Task{TaskType: task.TypeVerification, Intent: "say hello"}
	assert.Equal(t, task.TypeVerification, DetectType(tk))
}

func TestDetectType_KeywordFallback(t *testing.T) {
	cases := map[string]task.Type{
		"greet the user":          task.TypeBehavioral,
		"verify the output":       task.TypeVerification,
		"write a test for login":  task.TypeTesting,
		"configure the database":  task.TypeConfiguration,
		"document the API":        task.TypeDocumentation,
		"add a new endpoint":      task.TypeCoding,
	}
	for intent, want := range cases {
		tk := &task.Task{Intent: intent}
		assert.Equal(t, want, DetectType(tk), intent)
	}
}

func TestBuild_IncludesFixedSectionsInOrder(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox/proj-1")
	tk := &task.Task{
		TaskID:             "t1",
		Intent:             "add a login handler",
		Instructions:       "implement Login()",
		AcceptanceCriteria: []string{"function Login exists"},
	}
	s := state.New("proj-1", "ship auth")

	out := b.Build(tk, s)
	assert.Contains(t, out, "Task ID: t1")
	assert.Contains(t, out, "Intent: add a login handler")
	assert.Contains(t, out, "Acceptance Criteria:")
	assert.Contains(t, out, "STOP and ask exactly one clarifying question")
	assert.Contains(t, out, "project.id: proj-1")
	assert.Contains(t, out, "project.sandbox_root: /sandbox/proj-1")
	assert.Contains(t, out, "Working Directory:")

	idxTaskID := indexOf(out, "Task ID:")
	idxRules := indexOf(out, "Rules:")
	idxState := indexOf(out, "Minimal State:")
	idxWorkDir := indexOf(out, "Working Directory:")
	assert.True(t, idxTaskID < idxRules)
	assert.True(t, idxRules < idxState)
	assert.True(t, idxState < idxWorkDir)
}

func TestBuild_CodingOutputContract(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	tk := &task.Task{TaskID: "t1", TaskType: task.TypeCoding}
	out := b.Build(tk, state.New("proj-1", "goal"))
	assert.Contains(t, out, "files_created")
	assert.Contains(t, out, "neededChanges")
}

func TestBuild_BehavioralOutputContract(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	tk := &task.Task{TaskID: "t1", TaskType: task.TypeBehavioral}
	out := b.Build(tk, state.New("proj-1", "goal"))
	assert.Contains(t, out, "isDirectAnswer")
	assert.Contains(t, out, "confidence")
}

func TestMinimalState_GoalTriggerIncludesGoal(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	s := state.New("proj-1", "ship the login feature")
	tk := &task.Task{TaskID: "t1", Intent: "check progress toward the goal"}

	out := b.Build(tk, s)
	assert.Contains(t, out, "goal.description: ship the login feature")
}

func TestMinimalState_NoTriggerOmitsGoal(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	s := state.New("proj-1", "ship the login feature")
	tk := &task.Task{TaskID: "t1", Intent: "add a login handler"}

	out := b.Build(tk, s)
	assert.NotContains(t, out, "goal.description")
}

func TestMinimalState_LastTaskTrigger(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	s := state.New("proj-1", "goal")
	s.AppendCompleted(state.CompletedTaskSummary{TaskID: "t0", Intent: "scaffold project"})
	tk := &task.Task{TaskID: "t1", Intent: "extend the previous task"}

	out := b.Build(tk, s)
	assert.Contains(t, out, "queue.last_task_id: t0")
}

func TestMinimalState_HistoryTriggerListsLastFive(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	s := state.New("proj-1", "goal")
	for i := 0; i < 7; i++ {
		s.AppendCompleted(state.CompletedTaskSummary{TaskID: taskIDFor(i), Intent: "step"})
	}
	tk := &task.Task{TaskID: "t1", Intent: "build on the previous implementation"}

	out := b.Build(tk, s)
	assert.NotContains(t, out, "t0:")
	assert.Contains(t, out, "t6:")
}

func TestMinimalState_BlockedTrigger(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	s := state.New("proj-1", "goal")
	s.AppendBlocked(state.BlockedTask{TaskID: "t2", Reason: "missing dependency"})
	tk := &task.Task{TaskID: "t1", Intent: "unblock t2"}

	out := b.Build(tk, s)
	assert.Contains(t, out, "blocked_tasks:")
	assert.Contains(t, out, "t2: missing dependency")
}

func TestMinimalState_DocumentationGetsProjectOnly(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	s := state.New("proj-1", "ship the goal")
	tk := &task.Task{TaskID: "t1", TaskType: task.TypeDocumentation, Intent: "document the goal and the previous task"}

	out := b.Build(tk, s)
	assert.Contains(t, out, "project.id: proj-1")
	assert.NotContains(t, out, "goal.description")
	assert.NotContains(t, out, "queue.last_task_id")
}

func TestBuildFix_OmitsTaskBodyIncludesReport(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	tk := &task.Task{TaskID: "t1", Intent: "add a login handler", Instructions: "implement Login()"}
	report := validator.Report{
		Valid:          false,
		Reason:         "missing artifact",
		FailedCriteria: []string{"function Login exists"},
	}

	out := b.BuildFix(tk, report)
	assert.Contains(t, out, "Task ID: t1")
	assert.Contains(t, out, "failed_criteria:")
	assert.Contains(t, out, "function Login exists")
	assert.Contains(t, out, "Fix only the failed and uncertain criteria")
	assert.NotContains(t, out, "add a login handler")
	assert.Contains(t, out, "Rules:")
}

func TestBuildClarification_ForbidsHedgeWords(t *testing.T) {
	b := NewBuilder("proj-1", "/sandbox")
	tk := &task.Task{TaskID: "t1"}

	out := b.BuildClarification(tk, "which file should this go in?")
	assert.Contains(t, out, "forbidden: maybe, could, suggest, recommend, option")
	assert.Contains(t, out, "Resolve this yourself")
}

func TestContainsHedge(t *testing.T) {
	assert.True(t, ContainsHedge("You could maybe try option A."))
	assert.False(t, ContainsHedge("The file is at pkg/auth/login.go."))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func taskIDFor(i int) string {
	return "t" + string(rune('0'+i))
}
