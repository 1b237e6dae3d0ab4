package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/cache"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator/ast"
)

func newCodingValidator(t *testing.T, dir string) *CodingValidator {
	t.Helper()
	root, err := sandbox.New(dir, "")
	require.NoError(t, err)
	return NewCodingValidator(root, "proj-1", cache.New(), ast.DefaultRegistry(), RuleSet{})
}

func TestCodingValidator_HappyPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.go"), []byte("package auth\n\nfunc Login() {}\n"), 0o644))

	v := newCodingValidator(t, dir)
	tk := &task.Task{
		TaskID:             "t1",
		AcceptanceCriteria: []string{"function Login exists"},
		RequiredArtifacts:  []string{"auth.go"},
	}
	out := `{"status":"completed","files_created":["auth.go"],"summary":"added login"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.True(t, r.Valid)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
	assert.Empty(t, r.FailedCriteria)
}

func TestCodingValidator_MissingRequiredArtifactFails(t *testing.T) {
	dir := t.TempDir()
	v := newCodingValidator(t, dir)
	tk := &task.Task{TaskID: "t1", RequiredArtifacts: []string{"missing.go"}}
	out := `{"status":"completed","summary":"done"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.False(t, r.Valid)
	assert.NotEmpty(t, r.RulesFailed)
}

func TestCodingValidator_EmptyAcceptanceCriteriaIsValid(t *testing.T) {
	dir := t.TempDir()
	v := newCodingValidator(t, dir)
	tk := &task.Task{TaskID: "t1"}
	out := `{"status":"completed","summary":"no-op task"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.True(t, r.Valid)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
}

func TestCodingValidator_TraversalPathRejected(t *testing.T) {
	dir := t.TempDir()
	v := newCodingValidator(t, dir)
	tk := &task.Task{TaskID: "t1"}
	out := `{"status":"completed","files_created":["../../etc/passwd"],"summary":"x"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.False(t, r.Valid)
}

func TestCodingValidator_UncertainDesignCriterionIsNotAFailure(t *testing.T) {
	dir := t.TempDir()
	v := newCodingValidator(t, dir)
	tk := &task.Task{
		TaskID:             "t1",
		AcceptanceCriteria: []string{"the design approach is documented"},
	}
	out := `{"status":"completed","summary":"x"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.Equal(t, ConfidenceUncertain, r.Confidence)
	assert.Contains(t, r.UncertainCriteria, "the design approach is documented")
	assert.Empty(t, r.FailedCriteria)
}

func TestCodingValidator_SchemaMismatchIsInvalid(t *testing.T) {
	dir := t.TempDir()
	v := newCodingValidator(t, dir)
	tk := &task.Task{TaskID: "t1"}

	r := v.Validate(context.Background(), tk, "", "not json")
	assert.False(t, r.Valid)
	assert.Equal(t, ConfidenceNone, r.Confidence)
}

func TestCodingValidator_TestCommandFailureFailsValidation(t *testing.T) {
	dir := t.TempDir()
	v := newCodingValidator(t, dir)
	v.RunCommand = func(ctx context.Context, command, d string) (int, string, error) {
		return 1, "assertion failed", nil
	}
	tk := &task.Task{TaskID: "t1", TestCommand: "go test ./..."}
	out := `{"status":"completed","summary":"x"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.False(t, r.Valid)
}

func TestCodingValidator_KnownCriterionViaRuleSet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"version":"2.0.0"}`), 0o644))

	root, err := sandbox.New(dir, "")
	require.NoError(t, err)
	rules := RuleSet{
		"config version is at least 1.0.0": {
			{Type: CheckJSONContains, Path: "config.json", KeyPath: "version", Value: "1.0.0", Semver: true},
		},
	}
	v := NewCodingValidator(root, "proj-1", cache.New(), ast.DefaultRegistry(), rules)
	tk := &task.Task{
		TaskID:             "t1",
		AcceptanceCriteria: []string{"config version is at least 1.0.0"},
	}
	out := `{"status":"completed","summary":"x"}`

	r := v.Validate(context.Background(), tk, "", out)
	assert.True(t, r.Valid)
	assert.Contains(t, r.RulesPassed, "criterion:config version is at least 1.0.0")
}
