// Package audit implements the append-only audit log (spec.md §7
// "Every terminal transition appends one audit record", §6
// "audit:<project_id>"): one JSON line per terminal transition,
// never rewritten or reordered.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event is the closed set of audit-worthy terminal transitions.
type Event string

const (
	EventTaskCompleted Event = "task_completed"
	EventTaskBlocked   Event = "task_blocked"
	EventHalted        Event = "halted"
	EventResumed       Event = "resumed"
)

// Entry is one audit record (spec.md §7 "{event, task_id?, reason,
// timestamp}").
type Entry struct {
	ID        string    `json:"id"`
	Event     Event     `json:"event"`
	TaskID    string    `json:"task_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Log appends entries to a project's audit file, one JSON object per
// line, never truncated or rewritten.
type Log struct {
	path string
}

// Open returns a Log appending to path (spec.md §6 "audit:<project_id>"),
// creating parent directories as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return &Log{path: path}, nil
}

// Append writes one entry, assigning an ID and timestamp if unset.
func (l *Log) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return f.Sync()
}

// ReadAll replays the full audit log in append order, for dump-state
// and tests.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("audit: corrupt entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return entries, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}
