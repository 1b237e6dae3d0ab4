package validator

import (
	"context"

	"github.com/foundry-run/foundry/pkg/task"
)

// Validator dispatches a task to one of the three pipelines by task
// type (spec.md §4.8 "for each task type the validator dispatches to
// one of three pipelines").
type Validator struct {
	Coding *CodingValidator
}

// Validate runs the pipeline appropriate to t.Type against jsonBlock.
// rawOutput is the full un-parsed provider output; it is passed on to
// the coding pipeline, whose checks read only jsonBlock.
func (v *Validator) Validate(ctx context.Context, t *task.Task, rawOutput, jsonBlock string) Report {
	switch t.TaskType {
	case task.TypeBehavioral:
		return ValidateBehavioral(t.Intent, jsonBlock)
	case task.TypeVerification:
		return ValidateVerification(jsonBlock)
	default:
		// coding, implementation, refactoring, testing, configuration,
		// documentation all share the artifact/test/criterion pipeline
		// (spec.md §4.8).
		return v.Coding.Validate(ctx, t, rawOutput, jsonBlock)
	}
}
