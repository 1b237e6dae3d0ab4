// Package task defines the Task data model (spec.md §3) and the
// task-file decoding/validation rules applied at enqueue time
// (spec.md §6, §7 "Schema errors").
//
// A Task is immutable after enqueue except for RetryCount, which only
// the Control Loop (via the Retry Orchestrator) mutates.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the closed set of task types (spec.md §3). When absent on a
// task file it is auto-detected by the Prompt Builder (spec.md §4.6).
type Type string

const (
	TypeCoding         Type = "coding"
	TypeBehavioral     Type = "behavioral"
	TypeVerification   Type = "verification"
	TypeTesting        Type = "testing"
	TypeConfiguration  Type = "configuration"
	TypeDocumentation  Type = "documentation"
	TypeRefactoring    Type = "refactoring"
	TypeImplementation Type = "implementation"
)

var validTypes = map[Type]bool{
	TypeCoding: true, TypeBehavioral: true, TypeVerification: true,
	TypeTesting: true, TypeConfiguration: true, TypeDocumentation: true,
	TypeRefactoring: true, TypeImplementation: true,
}

// Valid reports whether t is a member of the closed Type set.
func (t Type) Valid() bool { return validTypes[t] }

// DependencyType distinguishes hard dependencies (must be completed
// before promotion to ready) from soft ones (advisory context only).
type DependencyType string

const (
	DependencyHard DependencyType = "hard"
	DependencySoft DependencyType = "soft"
)

// Dependency is one entry of Task.DependsOn.
type Dependency struct {
	TaskID string         `json:"task_id" yaml:"task_id"`
	Type   DependencyType `json:"type" yaml:"type"`
}

// RetryPolicy bounds the Retry Orchestrator's fix-retry loop
// (spec.md §4.11 step 3, boundary B1).
type RetryPolicy struct {
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DefaultMaxRetries is applied when retry_policy is absent (spec.md §3).
const DefaultMaxRetries = 3

// Meta carries the optional feature_id/session_id hints consumed by
// the Session Resolver (spec.md §4.7).
type Meta struct {
	FeatureID string `json:"feature_id,omitempty" yaml:"feature_id,omitempty"`
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

// Task is the unit of work dispatched by the Control Loop (spec.md §3).
type Task struct {
	TaskID             string          `json:"task_id" yaml:"task_id"`
	Intent             string          `json:"intent" yaml:"intent"`
	Instructions       string          `json:"instructions" yaml:"instructions"`
	AcceptanceCriteria []string        `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	TaskType           Type            `json:"task_type,omitempty" yaml:"task_type,omitempty"`
	AgentMode          string          `json:"agent_mode,omitempty" yaml:"agent_mode,omitempty"`
	WorkingDirectory   string          `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	RequiredArtifacts  []string        `json:"required_artifacts,omitempty" yaml:"required_artifacts,omitempty"`
	TestCommand        string          `json:"test_command,omitempty" yaml:"test_command,omitempty"`
	ExpectedJSONSchema json.RawMessage `json:"expected_json_schema,omitempty" yaml:"expected_json_schema,omitempty"`
	DependsOn          []Dependency    `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	RetryPolicyField   *RetryPolicy    `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	MetaField          Meta            `json:"meta,omitempty" yaml:"meta,omitempty"`

	// RetryCount is the sole mutable field; only the Control Loop
	// updates it, via the Retry Orchestrator.
	RetryCount int `json:"retry_count" yaml:"retry_count"`
}

// MaxRetries returns the effective retry bound (spec.md §3 default 3).
func (t *Task) MaxRetries() int {
	if t.RetryPolicyField == nil {
		return DefaultMaxRetries
	}
	return t.RetryPolicyField.MaxRetries
}

// FeatureIDHint returns the meta.feature_id, if set.
func (t *Task) FeatureIDHint() string { return t.MetaField.FeatureID }

// SessionIDHint returns the meta.session_id, if set.
func (t *Task) SessionIDHint() string { return t.MetaField.SessionID }

// knownTopLevelKeys mirrors the Task struct's json tags; used to
// reject unknown top-level keys at decode time (spec.md §6, §7).
var knownTopLevelKeys = map[string]bool{
	"task_id": true, "intent": true, "instructions": true,
	"acceptance_criteria": true, "task_type": true, "agent_mode": true,
	"working_directory": true, "required_artifacts": true, "test_command": true,
	"expected_json_schema": true, "depends_on": true, "retry_policy": true,
	"meta": true, "retry_count": true,
}

// DecodeOne parses a single task-file JSON object, rejecting unknown
// top-level keys and invalid task_type values (spec.md §6, §7).
func DecodeOne(raw json.RawMessage) (*Task, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("task file: %w", err)
	}
	for key := range probe {
		if !knownTopLevelKeys[key] {
			return nil, fmt.Errorf("%w: %q", errUnknownKey, key)
		}
	}

	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("task file: %w", err)
	}
	if strings.TrimSpace(t.TaskID) == "" {
		return nil, errMissingTaskID
	}
	if t.TaskType != "" && !t.TaskType.Valid() {
		return nil, fmt.Errorf("%w: %q", errInvalidTaskType, t.TaskType)
	}
	return &t, nil
}

// DecodeFile parses a task-file array of task objects.
func DecodeFile(raw []byte) ([]*Task, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// Allow a single bare object as a one-task file.
		one, oneErr := DecodeOne(raw)
		if oneErr != nil {
			return nil, fmt.Errorf("task file: %w", err)
		}
		return []*Task{one}, nil
	}
	out := make([]*Task, 0, len(items))
	for _, item := range items {
		t, err := DecodeOne(item)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
