package task

import "fmt"

var (
	errUnknownKey      = fmt.Errorf("unknown top-level key")
	errMissingTaskID   = fmt.Errorf("missing task_id")
	errInvalidTaskType = fmt.Errorf("invalid task_type")
)
