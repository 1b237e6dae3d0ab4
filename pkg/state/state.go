// Package state defines SupervisorState (spec.md §3) and the
// Ownership rule: the State Store exclusively owns persistence, every
// other component works on read-only snapshots and returns values the
// Control Loop writes back (spec.md §3 "Ownership", §9 "Provider
// sessions").
package state

import (
	"time"

	"github.com/foundry-run/foundry/pkg/session"
)

// Status is supervisor.status (spec.md §3).
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusHalted    Status = "HALTED"
	StatusBlocked   Status = "BLOCKED"
	StatusCompleted Status = "COMPLETED"
)

// ResourceExhaustedRetry is the scheduled-retry slot consulted at
// control-loop step 2 and by the Queue's preemptive Retrieve
// (spec.md §4.1 step 2, §4.2 retrieve()).
type ResourceExhaustedRetry struct {
	TaskID   string
	Deadline time.Time
}

// CompletedTaskSummary is one append-only entry of completed_tasks
// (spec.md §3).
type CompletedTaskSummary struct {
	TaskID          string
	CompletedAt     time.Time
	Intent          string
	ValidationReport any
}

// BlockedTask is one entry of blocked_tasks (spec.md §3).
type BlockedTask struct {
	TaskID    string
	Reason    string
	Iteration int
}

// Goal tracks the operator-declared goal for the project.
type Goal struct {
	ProjectID   string
	Description string
	Completed   bool
}

// Supervisor is the supervisor.* field group.
type Supervisor struct {
	Status                 Status
	LastTaskID              string
	ResourceExhaustedRetry *ResourceExhaustedRetry
}

// SupervisorState is the single durable record per project
// (spec.md §3). Exactly one of CurrentTaskID or idle-mode holds
// between iterations; Status == RUNNING implies the loop may dispatch;
// CompletedTasks and BlockedTasks are disjoint (spec.md §3 invariants).
type SupervisorState struct {
	Supervisor     Supervisor
	CurrentTaskID  string // empty when idle
	Goal           Goal
	CompletedTasks []CompletedTaskSummary
	BlockedTasks   []BlockedTask
	QueueExhausted bool
	ActiveSessions map[string]session.Info
	Iteration      int
}

// New returns a freshly created SupervisorState (spec.md §3 lifecycle:
// "created on first enqueue").
func New(projectID, goalDescription string) *SupervisorState {
	return &SupervisorState{
		Supervisor:     Supervisor{Status: StatusRunning},
		Goal:           Goal{ProjectID: projectID, Description: goalDescription},
		ActiveSessions: make(map[string]session.Info),
	}
}

// Snapshot returns a deep-enough copy for read-only consumption by
// collaborators (spec.md §3 Ownership: "all other components read-only
// snapshots and return new values the Control Loop writes back").
func (s *SupervisorState) Snapshot() SupervisorState {
	cp := *s
	cp.CompletedTasks = append([]CompletedTaskSummary(nil), s.CompletedTasks...)
	cp.BlockedTasks = append([]BlockedTask(nil), s.BlockedTasks...)
	cp.ActiveSessions = make(map[string]session.Info, len(s.ActiveSessions))
	for k, v := range s.ActiveSessions {
		cp.ActiveSessions[k] = v
	}
	return cp
}

// Valid checks the invariants a reload must satisfy (P7): required
// fields present, completed/blocked task sets disjoint.
func (s *SupervisorState) Valid() bool {
	if s.Goal.ProjectID == "" {
		return false
	}
	seen := make(map[string]bool, len(s.CompletedTasks))
	for _, c := range s.CompletedTasks {
		seen[c.TaskID] = true
	}
	for _, b := range s.BlockedTasks {
		if seen[b.TaskID] {
			return false
		}
	}
	return true
}

// AppendCompleted records a finalized task (spec.md §4.12).
func (s *SupervisorState) AppendCompleted(summary CompletedTaskSummary) {
	s.CompletedTasks = append(s.CompletedTasks, summary)
	s.Supervisor.LastTaskID = summary.TaskID
}

// AppendBlocked records a task the Retry Orchestrator gave up on
// (spec.md §4.11 step 4).
func (s *SupervisorState) AppendBlocked(b BlockedTask) {
	s.BlockedTasks = append(s.BlockedTasks, b)
}
