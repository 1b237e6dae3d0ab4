// Package halt implements the Halt Handler (spec.md §4.12 referenced
// via §4.1 step 7, §7): persists the halt reason, writes an audit
// entry, and transitions SupervisorState to HALTED.
package halt

import (
	"log/slog"

	"github.com/foundry-run/foundry/pkg/audit"
	"github.com/foundry-run/foundry/pkg/ferrors"
	"github.com/foundry-run/foundry/pkg/state"
)

// Handler applies a HaltError to SupervisorState and the audit log.
type Handler struct {
	Audit  *audit.Log
	Logger *slog.Logger
}

// New returns a Handler; logger may be nil, in which case a no-op
// discard logger is used.
func New(a *audit.Log, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{Audit: a, Logger: logger}
}

// Handle persists the halt onto s and, when an audit log is
// configured, writes one audit record. It returns nil or the audit
// append error; the halt itself is surfaced through s's HALTED status
// and the process exit code (spec.md §6 "non-zero on unrecoverable
// halt with the halt reason appended to the audit log").
func (h *Handler) Handle(s *state.SupervisorState, err *ferrors.HaltError) error {
	s.Supervisor.Status = state.StatusHalted
	if err.TaskID != "" {
		s.Supervisor.LastTaskID = err.TaskID
	}

	h.Logger.Error("halt", "code", string(err.Code), "reason", err.Reason, "task_id", err.TaskID)

	if h.Audit == nil {
		return nil
	}
	return h.Audit.Append(audit.Entry{
		Event:  audit.EventHalted,
		TaskID: err.TaskID,
		Reason: string(err.Code) + ": " + err.Reason,
	})
}

// Resume clears a HALTED status back to RUNNING (operator-driven
// restart) and records the transition.
func (h *Handler) Resume(s *state.SupervisorState) error {
	s.Supervisor.Status = state.StatusRunning
	if h.Audit == nil {
		return nil
	}
	return h.Audit.Append(audit.Entry{Event: audit.EventResumed})
}
