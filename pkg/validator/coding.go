package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/cache"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator/ast"
)

// MaxConcurrentCriteria bounds the criterion-matching fan-out so a task
// with many acceptance criteria cannot exhaust file descriptors or spike
// CPU (spec.md §5 "bounded worker pools for any fan-out").
const MaxConcurrentCriteria = 4

// TestCommandTimeout bounds test_command execution (spec.md §4.8 step 5).
const TestCommandTimeout = 5 * time.Minute

// CodingValidator implements the coding pipeline (spec.md §4.8).
type CodingValidator struct {
	Root       sandbox.Root
	ProjectID  string
	Cache      *cache.Cache
	AST        *ast.Registry
	Rules      RuleSet
	Caps       Caps
	RunCommand func(ctx context.Context, command, dir string) (exitCode int, stderr string, err error)
}

func defaultRunCommand(ctx context.Context, command, dir string) (int, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	return code, string(out), err
}

// NewCodingValidator wires the real runner/caps/ast defaults.
func NewCodingValidator(root sandbox.Root, projectID string, c *cache.Cache, reg *ast.Registry, rules RuleSet) *CodingValidator {
	return &CodingValidator{
		Root: root, ProjectID: projectID, Cache: c, AST: reg, Rules: rules,
		Caps: DefaultCaps(), RunCommand: defaultRunCommand,
	}
}

// filterPaths applies the post-hoc file-path validation filter
// (spec.md §4.6, §4.8 step 3): drops absolute/"~"/".."-traversal paths
// and paths that do not exist under sandbox root. Returns the kept
// subset and the dropped ones (for logging).
func (v *CodingValidator) filterPaths(paths []string) (kept, dropped []string) {
	for _, p := range paths {
		if _, ok := v.Root.Resolve(p); !ok {
			dropped = append(dropped, p)
			continue
		}
		if fileExists(v.Root.Path(), p) {
			kept = append(kept, p)
		} else {
			dropped = append(dropped, p)
		}
	}
	return kept, dropped
}

// Validate runs the full coding pipeline (spec.md §4.8 steps 1-6).
func (v *CodingValidator) Validate(ctx context.Context, t *task.Task, rawOutput string, jsonBlock string) Report {
	var out CodingOutput
	if err := json.Unmarshal([]byte(jsonBlock), &out); err != nil {
		return Report{Valid: false, Reason: "schema mismatch: " + err.Error(), Confidence: ConfidenceNone}
	}

	if len(t.ExpectedJSONSchema) > 0 {
		if !enforceSchema(t.ExpectedJSONSchema, jsonBlock) {
			return Report{Valid: false, Reason: "output does not match expected_json_schema", Confidence: ConfidenceNone}
		}
	}

	createdKept, createdDropped := v.filterPaths(out.FilesCreated)
	updatedKept, updatedDropped := v.filterPaths(out.FilesUpdated)
	changesKept, changesDropped := v.filterPaths(out.Changes)
	_ = changesKept

	allDeclared := append(append([]string{}, createdKept...), updatedKept...)
	dropped := append(append(createdDropped, updatedDropped...), changesDropped...)

	allRequired := append(append([]string{}, t.RequiredArtifacts...), allDeclared...)
	var rulesPassed, rulesFailed []string
	for _, artifact := range dedupe(allRequired) {
		if sandbox.Rejects(artifact) {
			rulesFailed = append(rulesFailed, fmt.Sprintf("Artifact not found: %s", artifact))
			continue
		}
		if !fileExists(v.Root.Path(), artifact) {
			rulesFailed = append(rulesFailed, fmt.Sprintf("Artifact not found: %s", artifact))
			continue
		}
		rulesPassed = append(rulesPassed, "required_artifacts_exist:"+artifact)
	}
	if len(dropped) > 0 {
		rulesFailed = append(rulesFailed, fmt.Sprintf("required_artifacts_exist: %d declared path(s) rejected", len(dropped)))
	}

	if t.TestCommand != "" {
		testCtx, cancel := context.WithTimeout(ctx, TestCommandTimeout)
		code, stderr, err := v.RunCommand(testCtx, t.TestCommand, v.Root.Path())
		cancel()
		if err != nil || code != 0 {
			rulesFailed = append(rulesFailed, "test_command failed: "+stderr)
		} else {
			rulesPassed = append(rulesPassed, "test_command")
		}
	}

	if len(rulesFailed) > 0 {
		return Report{
			Valid: false, Reason: "artifacts or tests failed",
			RulesPassed: rulesPassed, RulesFailed: rulesFailed,
			Confidence: ConfidenceLow, FailedCriteria: rulesFailed,
		}
	}

	budget := &scanBudget{caps: v.Caps}
	v.Cache.ResetIteration()

	results := make([]Confidence, len(t.AcceptanceCriteria))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentCriteria)
	for i, criterion := range t.AcceptanceCriteria {
		i, criterion := i, criterion
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = v.matchCriterion(criterion, allDeclared, budget)
			return nil
		})
	}
	_ = g.Wait() // per-criterion matching never returns an error; only ctx cancellation would

	var failedCriteria, uncertainCriteria []string
	overall := ConfidenceHigh
	for i, criterion := range t.AcceptanceCriteria {
		switch results[i] {
		case ConfidenceHigh:
			rulesPassed = append(rulesPassed, "criterion:"+criterion)
		case ConfidenceNone:
			if looksDesignStyle(criterion) {
				uncertainCriteria = append(uncertainCriteria, criterion)
				if overall != ConfidenceNone {
					overall = ConfidenceUncertain
				}
			} else {
				failedCriteria = append(failedCriteria, criterion)
				overall = ConfidenceLow
			}
		default: // MEDIUM or LOW
			uncertainCriteria = append(uncertainCriteria, criterion)
			if overall == ConfidenceHigh {
				overall = ConfidenceUncertain
			}
		}
	}

	valid := overall == ConfidenceHigh && len(failedCriteria) == 0
	return Report{
		Valid: valid, RulesPassed: rulesPassed, RulesFailed: rulesFailed,
		Confidence: overall, FailedCriteria: failedCriteria, UncertainCriteria: uncertainCriteria,
	}
}

// matchCriterion runs the criterion-matching order from spec.md §4.8
// step 6: cache, AST, rule-based, keyword fallback, documentation
// fallback.
func (v *CodingValidator) matchCriterion(criterion string, candidateFiles []string, budget *scanBudget) Confidence {
	hashes := make([]string, 0, len(candidateFiles))
	for _, f := range candidateFiles {
		hashes = append(hashes, v.Cache.HashFile(filepath.Join(v.Root.Path(), f)))
	}
	key := cache.Key(v.ProjectID, criterion, hashes)
	if entry, ok := v.Cache.Get(key); ok {
		if entry.Valid {
			return confidenceFromCacheEntry(entry)
		}
	}

	conf := v.matchCriterionUncached(criterion, candidateFiles, budget)
	v.Cache.Put(key, cache.Entry{Confidence: cache.Confidence(conf), Valid: conf == ConfidenceHigh})
	return conf
}

func confidenceFromCacheEntry(e cache.Entry) Confidence { return Confidence(e.Confidence) }

func (v *CodingValidator) matchCriterionUncached(criterion string, candidateFiles []string, budget *scanBudget) Confidence {
	if astHintPattern.MatchString(criterion) {
		for _, f := range candidateFiles {
			full := filepath.Join(v.Root.Path(), f)
			adapter := v.AST.For(full)
			if adapter == nil {
				continue
			}
			name := extractIdentifierHint(criterion)
			if adapter.HasFunction(full, name) || adapter.HasExport(full, name) ||
				adapter.HasClass(full, name, nil) {
				return ConfidenceHigh
			}
		}
	}

	if checks, ok := v.Rules[criterion]; ok {
		allPassed := true
		for _, c := range checks {
			passed, ok := Eval(v.Root.Path(), c, budget)
			if !ok || !passed {
				allPassed = false
				break
			}
		}
		if allPassed && len(checks) > 0 {
			return ConfidenceHigh
		}
		if len(checks) > 0 {
			return ConfidenceLow
		}
	}

	switch keywordMatch(criterion, v.Root.Path(), candidateFiles, budget) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceLow:
		return ConfidenceLow
	}

	if looksDesignStyle(criterion) {
		if documentationFallback(criterion, v.Root.Path(), budget) {
			return ConfidenceMedium
		}
	}

	return ConfidenceNone
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, i := range items {
		if i == "" || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

func looksDesignStyle(criterion string) bool {
	lower := strings.ToLower(criterion)
	for _, kw := range []string{"design", "plan", "architecture", "document", "approach"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
