// Package control implements the Control Loop (spec.md §4.1): the
// single-writer driver that composes the State Store, Queue, Session
// Registry, Circuit Breaker, Provider Dispatcher, Prompt Builder,
// Deterministic Validator, Retry Orchestrator, and Halt Handler into
// one ordered per-iteration state machine.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foundry-run/foundry/internal/observability"
	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/audit"
	"github.com/foundry-run/foundry/pkg/ferrors"
	"github.com/foundry-run/foundry/pkg/halt"
	"github.com/foundry-run/foundry/pkg/metrics"
	"github.com/foundry-run/foundry/pkg/prompt"
	"github.com/foundry-run/foundry/pkg/provider"
	"github.com/foundry-run/foundry/pkg/queue"
	"github.com/foundry-run/foundry/pkg/retry"
	"github.com/foundry-run/foundry/pkg/session"
	"github.com/foundry-run/foundry/pkg/state"
	"github.com/foundry-run/foundry/pkg/store"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator"
)

// Action reports what one RunOnce call did, for logging and tests.
type Action string

const (
	ActionDispatched  Action = "dispatched"
	ActionIdle        Action = "idle"
	ActionWaiting     Action = "waiting_retry"
	ActionGoalChecked Action = "goal_checked"
	ActionCompleted   Action = "completed"
	ActionHalted      Action = "halted"
)

// IdleSleep and ResourceExhaustedPollCeiling are the suspension-point
// durations from spec.md §5 ("(a) queue-empty sleep (1s), (b)
// resource-exhausted retry sleep (up to 60s per check)").
const (
	IdleSleep                    = 1 * time.Second
	ResourceExhaustedPollCeiling = 60 * time.Second
)

// ResourceExhaustedBackoff is the delay fatalHalt schedules into
// supervisor.resource_exhausted_retry for a RESOURCE_EXHAUSTED halt.
// checkHardHalts does not produce that code: quota exhaustion on every
// provider reaches the loop as PROVIDER_CIRCUIT_BROKEN and halts.
const ResourceExhaustedBackoff = 5 * time.Minute

// MaxClarificationAttempts bounds the in-iteration clarification
// redispatch before a soft halt gives up and blocks the task
// (spec.md §4.6 "Clarification prompt").
const MaxClarificationAttempts = 1

// Config wires every collaborator the Control Loop drives. Logger,
// Obs, TokenEstimator, Audit and MetricsSink may be nil; every other
// field is required.
type Config struct {
	ProjectID string
	Store     store.Backend
	Queue     *queue.Queue
	// Root is sandbox_root/project_id; GoalRoot is the bare
	// sandbox_root used for cross-project goal-completion checks
	// (spec.md §4.3 "run from the sandbox root so cross-project paths
	// resolve").
	Root     sandbox.Root
	GoalRoot sandbox.Root

	Dispatcher    *provider.Dispatcher
	SessionPolicy session.Policy
	// TokenEstimator fills in a local token count when a provider's
	// structured output omits usage entirely, so context-window
	// eviction in the Session Registry still has a number to compare
	// against the provider's limit. Nil disables the fallback.
	TokenEstimator *session.Estimator

	Prompt    *prompt.Builder
	Validator *validator.Validator
	Retry     *retry.Orchestrator
	Halt      *halt.Handler

	Audit       *audit.Log
	MetricsSink *metrics.Sink
	Obs         *observability.Manager
	Logger      *slog.Logger
}

// retryContext carries the evidence needed to build a pre-context
// block (spec.md §4.11 "Pre-context injection") across a requeued
// task's next dispatch. Held in-memory only: crash recovery relies on
// retry_count and the requeued task itself, not on reproducing the
// exact previous wording (spec.md §3 only persists those two).
type retryContext struct {
	Report       validator.Report
	TouchedFiles []string
	FirstError   string
}

// Loop is the Control Loop (spec.md §4.1).
type Loop struct {
	cfg   Config
	now   func() time.Time
	sleep func(time.Duration)

	retryCtx    map[string]retryContext
	clarified   map[string]int
	taskMetrics map[string]*metrics.TaskMetrics
}

// New returns a Loop from cfg, defaulting Logger to a discard logger.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		cfg:         cfg,
		now:         time.Now,
		sleep:       time.Sleep,
		retryCtx:    make(map[string]retryContext),
		clarified:   make(map[string]int),
		taskMetrics: make(map[string]*metrics.TaskMetrics),
	}
}

// taskMetricsFor returns the accumulating TaskMetrics for taskID,
// creating it on first reference (spec.md §3 "TaskMetrics").
func (l *Loop) taskMetricsFor(taskID string) *metrics.TaskMetrics {
	m, ok := l.taskMetrics[taskID]
	if !ok {
		m = metrics.New(taskID)
		l.taskMetrics[taskID] = m
	}
	return m
}

// Run drives iterations until ctx is cancelled or the project reaches
// COMPLETED or HALTED (spec.md §5 "honours a process-level shutdown
// signal between iterations, never mid-dispatch").
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		action, err := l.RunOnce(ctx)
		if err != nil {
			return err
		}
		if action == ActionCompleted || action == ActionHalted {
			return nil
		}
	}
}

// RunOnce executes exactly one iteration of spec.md §4.1's ordered
// steps.
func (l *Loop) RunOnce(ctx context.Context) (Action, error) {
	if l.cfg.Obs.Metrics() != nil {
		l.cfg.Obs.Metrics().RecordIteration()
	}
	spanCtx, span := l.cfg.Obs.Tracer().Start(ctx, "control-loop-iteration")
	defer span.End()
	ctx = spanCtx

	// Step 1: load state snapshot; fail-fast halt on missing required
	// fields.
	s, ok, err := l.cfg.Store.LoadState(l.cfg.ProjectID)
	if err != nil {
		return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltStatePersistFailure, err.Error()))
	}
	if !ok {
		return "", fmt.Errorf("control: no state for project %s; enqueue a task first", l.cfg.ProjectID)
	}
	if !s.Valid() {
		return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltMissingStateField, "supervisor state failed validity check"))
	}
	s.Iteration++

	// Step 2: if not RUNNING, either wait out a scheduled
	// resource-exhausted retry or idle-sleep.
	if s.Supervisor.Status != state.StatusRunning {
		if sched := s.Supervisor.ResourceExhaustedRetry; sched != nil && sched.Deadline.After(l.now()) {
			l.sleep(minDuration(ResourceExhaustedPollCeiling, sched.Deadline.Sub(l.now())))
			return ActionWaiting, nil
		}
		l.sleep(IdleSleep)
		return ActionIdle, nil
	}

	// Step 3: retrieve a task, preempting for a due
	// resource_exhausted_retry slot first (spec.md §4.2 retrieve()).
	t, found := l.retrieveTask(s)
	if !found {
		return l.checkGoal(ctx, s)
	}

	// Step 4: set current_task and persist.
	s.CurrentTaskID = t.TaskID
	if err := l.persist(s); err != nil {
		return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltStatePersistFailure, err.Error()))
	}

	// Step 5-9: dispatch, halt-check, validate, retry-or-finalize.
	return l.executeTask(ctx, s, t)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// retrieveTask implements spec.md §4.2 retrieve(): a due
// resource_exhausted_retry slot preempts the ready queue.
func (l *Loop) retrieveTask(s *state.SupervisorState) (*task.Task, bool) {
	if sched := s.Supervisor.ResourceExhaustedRetry; sched != nil && !sched.Deadline.After(l.now()) {
		s.Supervisor.ResourceExhaustedRetry = nil
		if t, ok := l.cfg.Queue.Task(sched.TaskID); ok {
			return t, true
		}
	}
	return l.cfg.Queue.Retrieve()
}

// checkGoal implements the Goal Completion Checker (spec.md §4.3),
// invoked when retrieval yields nothing.
func (l *Loop) checkGoal(ctx context.Context, s *state.SupervisorState) (Action, error) {
	goalPrompt := l.cfg.Prompt.BuildGoalCompletion(s.Goal.Description, s.CompletedTasks)
	result, dispatchErr := l.cfg.Dispatcher.Dispatch(ctx, provider.Call{
		Prompt:           goalPrompt,
		WorkingDirectory: l.cfg.GoalRoot.Path(),
		FeatureID:        "goal:" + l.cfg.ProjectID,
	}, "")
	if dispatchErr != nil {
		// Provider error: do not halt, sleep and retry next iteration
		// (spec.md §4.3).
		l.cfg.Logger.Warn("goal completion check: dispatch failed", "error", dispatchErr)
		l.sleep(IdleSleep)
		return ActionGoalChecked, nil
	}

	jsonBlock, ok := provider.ExtractJSON(result.RawOutput)
	if !ok {
		l.sleep(IdleSleep)
		return ActionGoalChecked, nil
	}
	var verdict validator.GoalCompletionOutput
	if err := json.Unmarshal([]byte(jsonBlock), &verdict); err != nil {
		l.sleep(IdleSleep)
		return ActionGoalChecked, nil
	}

	if verdict.Completed {
		s.Goal.Completed = true
		s.Supervisor.Status = state.StatusCompleted
		if err := l.persist(s); err != nil {
			return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltStatePersistFailure, err.Error()))
		}
		return ActionCompleted, nil
	}

	if l.cfg.Queue.Exhausted(false) {
		return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltTaskListExhaustedNoGoal, verdict.Reason))
	}
	l.sleep(IdleSleep)
	return ActionGoalChecked, nil
}

// executeTask runs spec.md §4.1 steps 5-9 for one retrieved task.
func (l *Loop) executeTask(ctx context.Context, s *state.SupervisorState, t *task.Task) (Action, error) {
	// Resolve and pin the auto-detected type once so the prompt's
	// output contract and the Deterministic Validator's pipeline
	// selection (which switches on t.TaskType) never disagree.
	if t.TaskType == "" {
		t.TaskType = prompt.DetectType(t)
	}

	now := l.now()
	sessions := session.NewRegistry(s.ActiveSessions, l.cfg.SessionPolicy)
	featureID := session.FeatureID(t.FeatureIDHint(), t.TaskID, l.cfg.ProjectID)

	call := provider.Call{
		WorkingDirectory: t.WorkingDirectory,
		AgentMode:        t.AgentMode,
		FeatureID:        featureID,
		TaskID:           t.TaskID,
	}
	if info, ok := sessions.Resolve(featureID, now); ok {
		call.SessionID = info.SessionID
	}

	preContext := ""
	if rc, ok := l.retryCtx[t.TaskID]; ok {
		call.Prompt = l.cfg.Retry.BuildFixPrompt(t, rc.Report)
		preContext = retry.RetryPreContext(rc.Report.Reason, rc.TouchedFiles, rc.FirstError)
	} else {
		call.Prompt = l.cfg.Prompt.Build(t, s)
	}

	tm := l.taskMetricsFor(t.TaskID)
	tm.Iterations++

	dispatchCtx, dispatchSpan := l.cfg.Obs.Tracer().Start(ctx, "provider-dispatch")
	dispatchStart := l.now()
	result, dispatchErr := l.cfg.Dispatcher.Dispatch(dispatchCtx, call, preContext)
	dispatchDuration := l.now().Sub(dispatchStart)
	dispatchSpan.End()
	tm.TimeInExecutionMS += dispatchDuration.Milliseconds()
	tm.PromptBytes += int64(len(call.Prompt))
	tm.ResponseBytes += int64(len(result.RawOutput))

	// Step 6: update session registry.
	if dispatchErr != nil {
		sessions.RecordFailure(featureID, now)
	} else {
		usageTokens := result.Usage.TotalTokens
		if usageTokens == 0 && l.cfg.TokenEstimator != nil {
			usageTokens = l.cfg.TokenEstimator.Estimate(call.Prompt) + l.cfg.TokenEstimator.Estimate(result.RawOutput)
		}
		sessions.RecordSuccess(featureID, result.Provider, result.SessionID, t.TaskID, usageTokens, now)
	}
	s.ActiveSessions = sessions.Snapshot()

	if m := l.cfg.Obs.Metrics(); m != nil {
		outcome := "success"
		if dispatchErr != nil {
			outcome = "failure"
		}
		m.RecordDispatch(result.Provider, outcome, dispatchDuration)
	}

	// Step 7: hard halt check on provider output.
	if haltErr := l.checkHardHalts(result, dispatchErr); haltErr != nil {
		return l.handleHalt(ctx, s, t, haltErr, result)
	}

	jsonBlock, _ := provider.ExtractJSON(result.RawOutput)

	// Step 8: validate.
	validateStart := l.now()
	report := l.cfg.Validator.Validate(ctx, t, result.RawOutput, jsonBlock)
	validateDuration := l.now().Sub(validateStart)
	tm.TimeInValidationMS += validateDuration.Milliseconds()
	if m := l.cfg.Obs.Metrics(); m != nil {
		m.RecordValidation(string(t.TaskType), string(report.Confidence), validateDuration)
	}

	if report.Valid {
		delete(l.retryCtx, t.TaskID)
		delete(l.clarified, t.TaskID)
		return l.finalize(s, t, report)
	}

	return l.retryOrBlock(ctx, s, t, report, result, featureID, call.WorkingDirectory)
}

// checkHardHalts implements spec.md §4.10: RESOURCE_EXHAUSTED is
// already absorbed by the Dispatcher's breaker fallover (spec.md
// §4.4/§4.5); it only reaches here, as PROVIDER_CIRCUIT_BROKEN, once
// every provider's breaker is open. Dispatch errors below that
// (single-provider exec/timeout failures that didn't fail over) are
// treated as the generic exec-failure soft halt.
func (l *Loop) checkHardHalts(result provider.Result, dispatchErr error) *ferrors.HaltError {
	if dispatchErr != nil {
		if errors.Is(dispatchErr, provider.ErrAllBreakersOpen()) || strings.Contains(dispatchErr.Error(), "all providers failed") {
			return ferrors.NewHalt(ferrors.HaltProviderCircuitBroken, dispatchErr.Error())
		}
		return ferrors.NewHalt(ferrors.HaltCursorExecFailure, dispatchErr.Error())
	}
	if code, reason, ok := scanHaltMarkers(result.RawOutput); ok {
		return ferrors.NewHalt(code, reason)
	}
	if _, ok := provider.ExtractJSON(result.RawOutput); !ok {
		return ferrors.NewHalt(ferrors.HaltOutputFormatInvalid, "no JSON object found in provider output")
	}
	return nil
}

// haltMarkers are the literal tokens spec.md §4.10 lists that are not
// already claimed by the breaker-trip marker scan in
// pkg/provider.DefaultParser.
var haltMarkers = []struct {
	Marker string
	Code   ferrors.HaltCode
}{
	{"BLOCKED", ferrors.HaltBlocked},
	{"ASKED_QUESTION", ferrors.HaltAskedQuestion},
	{"AMBIGUITY", ferrors.HaltAmbiguity},
	{"CURSOR_EXEC_FAILURE", ferrors.HaltCursorExecFailure},
}

func scanHaltMarkers(raw string) (ferrors.HaltCode, string, bool) {
	for _, m := range haltMarkers {
		if idx := strings.Index(raw, m.Marker); idx >= 0 {
			return m.Code, contextAround(raw, idx, m.Marker), true
		}
	}
	return "", "", false
}

// contextAround returns a short snippet around a marker match for the
// halt reason, rather than dumping the entire raw output.
func contextAround(raw string, idx int, marker string) string {
	end := idx + len(marker) + 120
	if end > len(raw) {
		end = len(raw)
	}
	return strings.TrimSpace(raw[idx:end])
}

// handleHalt dispatches a detected HaltError to either the fatal-halt
// path or the soft clarification-retry path (spec.md §4.10).
func (l *Loop) handleHalt(ctx context.Context, s *state.SupervisorState, t *task.Task, haltErr *ferrors.HaltError, result provider.Result) (Action, error) {
	if !haltErr.Code.Soft() {
		return ActionHalted, l.fatalHalt(s, haltErr.WithTask(t.TaskID))
	}
	if haltErr.Code == ferrors.HaltCursorExecFailure {
		// A single non-question exec failure funnels through the
		// ordinary invalid-report path (spec.md §4.11) rather than the
		// clarification prompt, which only makes sense in response to
		// an actual question.
		report := validator.Report{
			Valid:      false,
			Reason:     string(haltErr.Code) + ": " + haltErr.Reason,
			Confidence: validator.ConfidenceLow,
		}
		featureID := session.FeatureID(t.FeatureIDHint(), t.TaskID, l.cfg.ProjectID)
		return l.retryOrBlock(ctx, s, t, report, result, featureID, t.WorkingDirectory)
	}
	return l.clarificationRetry(ctx, s, t, haltErr)
}

// clarificationRetry implements the Clarification prompt variant
// (spec.md §4.6, §4.10): redispatch once with a declarative-resolution
// instruction; give up and block the task if the soft halt or a
// forbidden hedge persists.
func (l *Loop) clarificationRetry(ctx context.Context, s *state.SupervisorState, t *task.Task, haltErr *ferrors.HaltError) (Action, error) {
	if l.clarified[t.TaskID] >= MaxClarificationAttempts {
		return l.block(s, t, "unresolved after clarification: "+haltErr.Reason)
	}
	l.clarified[t.TaskID]++

	call := provider.Call{
		Prompt:           l.cfg.Prompt.BuildClarification(t, haltErr.Reason),
		WorkingDirectory: t.WorkingDirectory,
		AgentMode:        t.AgentMode,
		TaskID:           t.TaskID,
	}
	result, err := l.cfg.Dispatcher.Dispatch(ctx, call, "")
	if err != nil {
		return l.block(s, t, "clarification dispatch failed: "+err.Error())
	}
	if prompt.ContainsHedge(result.RawOutput) {
		return l.block(s, t, "clarification response used forbidden hedge language")
	}
	if again := l.checkHardHalts(result, nil); again != nil && again.Code.Soft() {
		return l.block(s, t, "still ambiguous after clarification: "+again.Reason)
	}

	jsonBlock, _ := provider.ExtractJSON(result.RawOutput)
	report := l.cfg.Validator.Validate(ctx, t, result.RawOutput, jsonBlock)
	if report.Valid {
		delete(l.clarified, t.TaskID)
		return l.finalize(s, t, report)
	}
	return l.retryOrBlock(ctx, s, t, report, result, session.FeatureID(t.FeatureIDHint(), t.TaskID, l.cfg.ProjectID), t.WorkingDirectory)
}

// retryOrBlock hands an invalid report to the Retry Orchestrator
// (spec.md §4.11) and applies its decision.
func (l *Loop) retryOrBlock(ctx context.Context, s *state.SupervisorState, t *task.Task, report validator.Report, result provider.Result, featureID, workingDirectory string) (Action, error) {
	recent := l.recentFailureTexts(t.TaskID, report.Reason)
	outcome := l.cfg.Retry.Resolve(ctx, t, report, featureID, workingDirectory, result.RawOutput, recent)
	l.taskMetricsFor(t.TaskID).HelperCallCount += outcome.HelperCalls

	switch outcome.Decision {
	case retry.DecisionValid:
		delete(l.retryCtx, t.TaskID)
		delete(l.clarified, t.TaskID)
		return l.finalize(s, t, outcome.Report)
	case retry.DecisionRetry:
		l.retryCtx[t.TaskID] = retryContext{
			Report:       outcome.Report,
			TouchedFiles: touchedFiles(result.RawOutput),
			FirstError:   outcome.Report.Reason,
		}
		s.CurrentTaskID = ""
		if err := l.persist(s); err != nil {
			return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltStatePersistFailure, err.Error()))
		}
		return ActionDispatched, nil
	default: // DecisionBlock
		delete(l.retryCtx, t.TaskID)
		return l.block(s, t, outcome.BlockedReason)
	}
}

// touchedFiles best-effort extracts the files a coding-family response
// declared, for the pre-context "files previously touched" block
// (spec.md §4.11 "Pre-context injection").
func touchedFiles(rawOutput string) []string {
	jsonBlock, ok := provider.ExtractJSON(rawOutput)
	if !ok {
		return nil
	}
	var out validator.CodingOutput
	if err := json.Unmarshal([]byte(jsonBlock), &out); err != nil {
		return nil
	}
	return append(append([]string{}, out.FilesCreated...), out.FilesUpdated...)
}

// recentFailureTexts returns the failure reason held from taskID's
// previous attempt, if any, followed by currentReason, oldest first
// (spec.md §4.11 "Repeated-error guard"). Only one earlier reason is
// kept per task, so the slice has at most two entries, fewer than
// retry.RepeatedErrorGuardCount: the Orchestrator's repeated-error
// guard does not trip for tasks driven by the Loop.
func (l *Loop) recentFailureTexts(taskID, currentReason string) []string {
	var out []string
	if rc, ok := l.retryCtx[taskID]; ok && rc.Report.Reason != "" {
		out = append(out, rc.Report.Reason)
	}
	out = append(out, currentReason)
	return out
}

// finalize implements the Task Finalizer (spec.md §4.12).
func (l *Loop) finalize(s *state.SupervisorState, t *task.Task, report validator.Report) (Action, error) {
	s.AppendCompleted(state.CompletedTaskSummary{
		TaskID:            t.TaskID,
		CompletedAt:       l.now(),
		Intent:            t.Intent,
		ValidationReport:  report,
	})
	s.CurrentTaskID = ""
	s.Supervisor.ResourceExhaustedRetry = nil

	promoted := l.cfg.Queue.PromoteOnCompletion(t.TaskID)
	l.cfg.Logger.Info("task finalized", "task_id", t.TaskID, "promoted", promoted)

	l.flushTaskMetrics(t.TaskID, "completed")
	if l.cfg.Audit != nil {
		_ = l.cfg.Audit.Append(audit.Entry{Event: audit.EventTaskCompleted, TaskID: t.TaskID, Reason: report.Reason})
	}
	if err := l.persist(s); err != nil {
		return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltStatePersistFailure, err.Error()))
	}
	return ActionDispatched, nil
}

// flushTaskMetrics writes the task's accumulated TaskMetrics to the
// sink, tags its final status, and forgets the in-memory accumulator
// (spec.md §4.12 "flush TaskMetrics to disk").
func (l *Loop) flushTaskMetrics(taskID, status string) {
	tm, ok := l.taskMetrics[taskID]
	if !ok {
		tm = metrics.New(taskID)
	}
	tm.Status = status
	delete(l.taskMetrics, taskID)
	if l.cfg.MetricsSink != nil {
		_ = l.cfg.MetricsSink.Flush(tm)
	}
}

// persist saves both SupervisorState and the queue's ready/waiting
// lists, which the State Store tracks as independent records
// (spec.md §6 "queue:<project_id>:ready/waiting").
func (l *Loop) persist(s *state.SupervisorState) error {
	if err := l.cfg.Store.SaveState(l.cfg.ProjectID, s); err != nil {
		return err
	}
	ready, waiting := l.cfg.Queue.Lists()
	return l.cfg.Store.SaveQueueLists(l.cfg.ProjectID, ready, waiting)
}

// block applies the Retry Orchestrator's "block" decision (spec.md
// §4.11 step 4): records the task as blocked without halting the
// supervisor as a whole.
func (l *Loop) block(s *state.SupervisorState, t *task.Task, reason string) (Action, error) {
	l.cfg.Queue.MarkBlocked(t.TaskID)
	s.AppendBlocked(state.BlockedTask{TaskID: t.TaskID, Reason: reason, Iteration: s.Iteration})
	s.CurrentTaskID = ""
	delete(l.retryCtx, t.TaskID)
	delete(l.clarified, t.TaskID)
	l.flushTaskMetrics(t.TaskID, "blocked")

	if l.cfg.Audit != nil {
		_ = l.cfg.Audit.Append(audit.Entry{Event: audit.EventTaskBlocked, TaskID: t.TaskID, Reason: reason})
	}
	if err := l.persist(s); err != nil {
		return ActionHalted, l.fatalHalt(s, ferrors.NewHalt(ferrors.HaltStatePersistFailure, err.Error()))
	}
	return ActionDispatched, nil
}

// fatalHalt applies the Halt Handler and, on RESOURCE_EXHAUSTED,
// instead schedules a future retry rather than halting the supervisor
// (spec.md §4.1 step 7, §4.10).
func (l *Loop) fatalHalt(s *state.SupervisorState, haltErr *ferrors.HaltError) error {
	if haltErr.Code == ferrors.HaltResourceExhausted && s != nil {
		s.Supervisor.ResourceExhaustedRetry = &state.ResourceExhaustedRetry{
			TaskID:   s.CurrentTaskID,
			Deadline: l.now().Add(ResourceExhaustedBackoff),
		}
		s.CurrentTaskID = ""
		return l.persist(s)
	}

	if m := l.cfg.Obs.Metrics(); m != nil {
		m.RecordHalt()
	}
	if s != nil {
		if err := l.cfg.Halt.Handle(s, haltErr); err != nil {
			return err
		}
		return l.persist(s)
	}
	return l.cfg.Halt.Handle(state.New(l.cfg.ProjectID, ""), haltErr)
}
