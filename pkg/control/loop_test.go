package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/breaker"
	"github.com/foundry-run/foundry/pkg/ferrors"
	"github.com/foundry-run/foundry/pkg/halt"
	"github.com/foundry-run/foundry/pkg/prompt"
	"github.com/foundry-run/foundry/pkg/provider"
	"github.com/foundry-run/foundry/pkg/queue"
	"github.com/foundry-run/foundry/pkg/retry"
	"github.com/foundry-run/foundry/pkg/session"
	"github.com/foundry-run/foundry/pkg/state"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator"
)

// memBackend is a fake store.Backend that keeps state in memory, for
// tests that need to observe what the Control Loop persists without
// touching disk.
type memBackend struct {
	mu      sync.Mutex
	state   *state.SupervisorState
	ready   []string
	waiting []string
}

func (b *memBackend) SaveState(_ string, s *state.SupervisorState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := s.Snapshot()
	b.state = &cp
	return nil
}

func (b *memBackend) LoadState(_ string) (*state.SupervisorState, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, false, nil
	}
	cp := b.state.Snapshot()
	return &cp, true, nil
}

func (b *memBackend) SaveQueueLists(_ string, ready, waiting []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = append([]string(nil), ready...)
	b.waiting = append([]string(nil), waiting...)
	return nil
}

func (b *memBackend) LoadQueueLists(_ string) ([]string, []string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready, b.waiting, nil
}

func (b *memBackend) Close() error { return nil }

// newDispatcher returns a Dispatcher with a single fake provider
// "stub" that always returns raw via a fake runner (no subprocess is
// ever started), mirroring the teacher's stub dispatch pattern.
func newDispatcher(run func(ctx context.Context, cli provider.CLI, args []string) (string, string, int, error)) *provider.Dispatcher {
	priority := []provider.CLI{{
		Name:    "stub",
		Command: "stub-cli",
		BuildArgs: func(prompt, agentMode, resumeSessionID string) []string {
			return []string{prompt}
		},
	}}
	return provider.New(priority, provider.DefaultParser, breaker.New()).WithRunner(run)
}

func fixedOutput(raw string) func(context.Context, provider.CLI, []string) (string, string, int, error) {
	return func(ctx context.Context, cli provider.CLI, args []string) (string, string, int, error) {
		return raw, "", 0, nil
	}
}

func newTestLoop(t *testing.T, cfg Config) *Loop {
	t.Helper()
	l := New(cfg)
	l.sleep = func(time.Duration) {} // never actually sleep in tests
	return l
}

func baseConfig(t *testing.T, q *queue.Queue, store *memBackend, dispatcher *provider.Dispatcher) Config {
	t.Helper()
	root, err := sandbox.New(t.TempDir(), "proj-1")
	require.NoError(t, err)
	goalRoot, err := sandbox.New(t.TempDir(), "")
	require.NoError(t, err)

	return Config{
		ProjectID:     "proj-1",
		Store:         store,
		Queue:         q,
		Root:          root,
		GoalRoot:      goalRoot,
		Dispatcher:    dispatcher,
		SessionPolicy: session.DefaultPolicy(),
		Prompt:        prompt.NewBuilder("proj-1", root.Path()),
		Validator:     &validator.Validator{},
		Retry:         &retry.Orchestrator{Queue: q, Root: root},
		Halt:          halt.New(nil, nil),
	}
}

func behavioralTask(id string) *task.Task {
	return &task.Task{
		TaskID:             id,
		TaskType:           task.TypeBehavioral,
		Intent:             "greet the user",
		Instructions:       "say hello",
		AcceptanceCriteria: []string{"a greeting is returned"},
	}
}

func seedState(store *memBackend, projectID, goal string) *state.SupervisorState {
	s := state.New(projectID, goal)
	store.state = s
	return s
}

func TestRunOnce_GoalNotCompletedButQueueNotExhaustedSleeps(t *testing.T) {
	q := queue.New("proj-1")
	base := behavioralTask("base")
	dep := behavioralTask("dep")
	dep.DependsOn = []task.Dependency{{TaskID: "base", Type: task.DependencyHard}}
	require.NoError(t, q.Enqueue(base))
	require.NoError(t, q.Enqueue(dep))
	// "base" sits in-flight elsewhere (e.g. a concurrent supervisor
	// tick); "dep" remains waiting on it, so the queue is not
	// Exhausted even though Retrieve() yields nothing this tick.
	_, _ = q.Retrieve()

	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`{"completed": false, "reason": "nothing done yet"}`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionGoalChecked, action)
	assert.NotEqual(t, state.StatusHalted, store.state.Supervisor.Status)
}

func TestRunOnce_GoalCompletionHaltsWhenQueueExhaustedAndGoalIncomplete(t *testing.T) {
	q := queue.New("proj-1")
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`{"completed": false, "reason": "missing tests"}`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionHalted, action)
	assert.Equal(t, state.StatusHalted, store.state.Supervisor.Status)
}

func TestRunOnce_GoalCompletedMarksProjectCompleted(t *testing.T) {
	q := queue.New("proj-1")
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`{"completed": true, "reason": "all done", "missing": []}`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, action)
	assert.True(t, store.state.Goal.Completed)
	assert.Equal(t, state.StatusCompleted, store.state.Supervisor.Status)
}

func TestRunOnce_HappyPathDispatchValidateFinalize(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}
	raw := `{"status": "completed", "response": "hello there", "isDirectAnswer": true, "confidence": 0.9, "reasoning": "direct greeting"}`
	dispatcher := newDispatcher(fixedOutput(raw))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionDispatched, action)
	require.Len(t, store.state.CompletedTasks, 1)
	assert.Equal(t, "t1", store.state.CompletedTasks[0].TaskID)
	assert.Empty(t, store.state.CurrentTaskID)
	assert.Equal(t, 0, q.ReadyLen()+q.WaitingLen())
}

func TestRunOnce_ResourceExhaustedOnEveryProviderHaltsViaBreaker(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`RESOURCE_EXHAUSTED: quota used up for today`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionHalted, action)
	assert.Equal(t, state.StatusHalted, store.state.Supervisor.Status)
}

func TestRunOnce_BlockedMarkerHaltsProject(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`BLOCKED: missing credentials, cannot proceed`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionHalted, action)
	assert.Equal(t, state.StatusHalted, store.state.Supervisor.Status)
}

func TestRunOnce_AmbiguityTriggersClarificationThenFinalizes(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}

	var calls int
	run := func(ctx context.Context, cli provider.CLI, args []string) (string, string, int, error) {
		calls++
		if calls == 1 {
			return `AMBIGUITY: which greeting style should I use?`, "", 0, nil
		}
		return `{"status": "completed", "response": "hello there", "isDirectAnswer": true, "confidence": 0.9, "reasoning": "resolved"}`, "", 0, nil
	}
	dispatcher := newDispatcher(run)
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionDispatched, action)
	assert.Equal(t, 2, calls)
	require.Len(t, store.state.CompletedTasks, 1)
}

func TestRunOnce_AmbiguityUnresolvedAfterClarificationBlocksTask(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`AMBIGUITY: which greeting style should I use?`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionDispatched, action)
	require.Len(t, store.state.BlockedTasks, 1)
	assert.Equal(t, "t1", store.state.BlockedTasks[0].TaskID)
	assert.Empty(t, store.state.CurrentTaskID)
}

func TestRunOnce_CursorExecFailureRoutesThroughRetryOrchestrator(t *testing.T) {
	q := queue.New("proj-1")
	tk := behavioralTask("t1")
	require.NoError(t, q.Enqueue(tk))
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`CURSOR_EXEC_FAILURE: the cursor agent process crashed`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	// No criteria were ever uncertain (the halt carries no
	// FailedCriteria/UncertainCriteria), so the Orchestrator's
	// interrogation step is a no-op and MaxRetries being unexhausted
	// takes the plain retry path.
	assert.Equal(t, ActionDispatched, action)
	assert.Empty(t, store.state.CurrentTaskID)
	assert.Contains(t, l.retryCtx, "t1")
}

func TestRunOnce_RetryRedispatchesWithFixPrompt(t *testing.T) {
	tk := behavioralTask("t1")
	q2 := queue.New("proj-1")
	require.NoError(t, q2.Enqueue(tk))
	store := &memBackend{}

	var prompts []string
	run := func(ctx context.Context, cli provider.CLI, args []string) (string, string, int, error) {
		prompts = append(prompts, args[0])
		if len(prompts) == 1 {
			return `CURSOR_EXEC_FAILURE: crashed`, "", 0, nil
		}
		return `{"status": "completed", "response": "hello there", "isDirectAnswer": true, "confidence": 0.9, "reasoning": "ok"}`, "", 0, nil
	}
	dispatcher := newDispatcher(run)
	cfg := baseConfig(t, q2, store, dispatcher)
	cfg.Retry.BuildFixPrompt = cfg.Prompt.BuildFix
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)

	// First iteration: CURSOR_EXEC_FAILURE -> DecisionRetry, task
	// requeued internally by the Orchestrator; current_task cleared.
	action, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionDispatched, action)
	assert.Equal(t, 1, q2.ReadyLen())

	// Second iteration: the same task is retrieved again; the fix
	// prompt (not the original task prompt) is dispatched this time.
	action, err = l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionDispatched, action)
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Validation Report:")
	assert.NotContains(t, prompts[1], "say hello")
	require.Len(t, store.state.CompletedTasks, 1)
}

func TestRunOnce_OutputFormatInvalidHalts(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`this is not json at all`))
	cfg := baseConfig(t, q, store, dispatcher)
	seedState(store, "proj-1", "ship the feature")

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionHalted, action)
	assert.Equal(t, state.StatusHalted, store.state.Supervisor.Status)
}

func TestRunOnce_ResourceExhaustedRetryPreemptsReadyQueue(t *testing.T) {
	q := queue.New("proj-1")
	waiting := behavioralTask("waiting-task")
	scheduled := behavioralTask("scheduled-task")
	require.NoError(t, q.Enqueue(scheduled))
	require.NoError(t, q.Enqueue(waiting))
	// Simulate scheduled-task having already left ready for a
	// resource-exhausted retry: pop it manually as Retrieve would.
	_, _ = q.Retrieve()

	store := &memBackend{}
	raw := `{"status": "completed", "response": "hello there", "isDirectAnswer": true, "confidence": 0.9, "reasoning": "ok"}`
	dispatcher := newDispatcher(fixedOutput(raw))
	cfg := baseConfig(t, q, store, dispatcher)
	s := seedState(store, "proj-1", "ship the feature")
	s.Supervisor.ResourceExhaustedRetry = &state.ResourceExhaustedRetry{
		TaskID:   "scheduled-task",
		Deadline: time.Now().Add(-time.Minute),
	}

	l := newTestLoop(t, cfg)
	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionDispatched, action)
	require.Len(t, store.state.CompletedTasks, 1)
	assert.Equal(t, "scheduled-task", store.state.CompletedTasks[0].TaskID)
}

func TestRunOnce_NonRunningStatusSleepsIdleWithNoScheduledRetry(t *testing.T) {
	q := queue.New("proj-1")
	require.NoError(t, q.Enqueue(behavioralTask("t1")))
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`{}`))
	cfg := baseConfig(t, q, store, dispatcher)
	s := seedState(store, "proj-1", "ship the feature")
	s.Supervisor.Status = state.StatusBlocked

	var slept time.Duration
	l := New(cfg)
	l.sleep = func(d time.Duration) { slept = d }

	action, err := l.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionIdle, action)
	assert.Equal(t, IdleSleep, slept)
}

func TestFatalHalt_ResourceExhaustedSchedulesRetryInsteadOfHalting(t *testing.T) {
	q := queue.New("proj-1")
	store := &memBackend{}
	dispatcher := newDispatcher(fixedOutput(`{}`))
	cfg := baseConfig(t, q, store, dispatcher)
	s := seedState(store, "proj-1", "ship the feature")
	s.CurrentTaskID = "t1"

	l := newTestLoop(t, cfg)
	err := l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltResourceExhausted, "all providers exhausted"))

	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, store.state.Supervisor.Status)
	require.NotNil(t, store.state.Supervisor.ResourceExhaustedRetry)
	assert.Equal(t, "t1", store.state.Supervisor.ResourceExhaustedRetry.TaskID)
	assert.Empty(t, store.state.CurrentTaskID)
}
