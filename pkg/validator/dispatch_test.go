package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/cache"
	"github.com/foundry-run/foundry/pkg/task"
	"github.com/foundry-run/foundry/pkg/validator/ast"
)

func TestValidator_DispatchesBehavioral(t *testing.T) {
	v := &Validator{}
	tk := &task.Task{TaskID: "t1", TaskType: task.TypeBehavioral, Intent: "greet the user"}
	r := v.Validate(context.Background(), tk, "", `{"status":"completed","response":"hello!"}`)
	assert.True(t, r.Valid)
}

func TestValidator_DispatchesVerification(t *testing.T) {
	v := &Validator{}
	tk := &task.Task{TaskID: "t1", TaskType: task.TypeVerification}
	r := v.Validate(context.Background(), tk, "", `{"status":"completed","findings":["ok"],"verdict":"pass"}`)
	assert.True(t, r.Valid)
}

func TestValidator_DispatchesCodingByDefault(t *testing.T) {
	dir := t.TempDir()
	root, err := sandbox.New(dir, "")
	require.NoError(t, err)
	v := &Validator{Coding: NewCodingValidator(root, "proj-1", cache.New(), ast.DefaultRegistry(), RuleSet{})}
	tk := &task.Task{TaskID: "t1", TaskType: task.TypeImplementation}
	r := v.Validate(context.Background(), tk, "", `{"status":"completed","summary":"x"}`)
	assert.True(t, r.Valid)
}
