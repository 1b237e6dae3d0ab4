// Package store implements the State Store (spec.md §3 "Ownership",
// §5 "Shared resources", invariant P7): the sole persistence layer for
// SupervisorState and the queue's ready/waiting lists, crash-safe via
// atomic writes, with pluggable file and SQL backends.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foundry-run/foundry/pkg/state"
)

// Backend is the State Store's storage contract. A single writer (the
// Control Loop) calls these; readers elsewhere only ever see a
// Snapshot (spec.md §3 Ownership).
type Backend interface {
	SaveState(projectID string, s *state.SupervisorState) error
	LoadState(projectID string) (*state.SupervisorState, bool, error)
	SaveQueueLists(projectID string, ready, waiting []string) error
	LoadQueueLists(projectID string) (ready, waiting []string, err error)
	Close() error
}

// FileBackend persists state:<project_id> and queue:<project_id>:{ready,waiting}
// (spec.md §6) as JSON files under root, one atomic write (temp file +
// rename) per Save call (invariant P7: a crash mid-write never leaves
// a corrupt file visible at the canonical path) — generalized from the
// teacher's `pkg/checkpoint/storage.go` `pending_executions` snapshot
// write.
type FileBackend struct {
	root string
}

// NewFileBackend returns a FileBackend rooted at root, creating it if
// necessary.
func NewFileBackend(root string) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &FileBackend{root: root}, nil
}

func (b *FileBackend) statePath(projectID string) string {
	return filepath.Join(b.root, fmt.Sprintf("state_%s.json", projectID))
}

func (b *FileBackend) queuePath(projectID, list string) string {
	return filepath.Join(b.root, fmt.Sprintf("queue_%s_%s.json", projectID, list))
}

// atomicWrite writes data to path via a sibling temp file followed by
// rename, so a crash mid-write never corrupts the canonical path
// (invariant P7).
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// SaveState persists s for projectID.
func (b *FileBackend) SaveState(projectID string, s *state.SupervisorState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	return atomicWrite(b.statePath(projectID), data)
}

// LoadState reads the persisted state for projectID. The second return
// is false when no state has ever been saved (first enqueue).
func (b *FileBackend) LoadState(projectID string) (*state.SupervisorState, bool, error) {
	data, err := os.ReadFile(b.statePath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read state: %w", err)
	}
	var s state.SupervisorState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal state: %w", err)
	}
	if !s.Valid() {
		return nil, false, fmt.Errorf("store: %w", ErrCorruptState)
	}
	return &s, true, nil
}

// SaveQueueLists persists the ready/waiting task-id lists atomically
// and independently of state (spec.md §6 "queue:<project_id>:ready/waiting").
func (b *FileBackend) SaveQueueLists(projectID string, ready, waiting []string) error {
	readyData, err := json.Marshal(ready)
	if err != nil {
		return fmt.Errorf("store: marshal ready: %w", err)
	}
	if err := atomicWrite(b.queuePath(projectID, "ready"), readyData); err != nil {
		return err
	}
	waitingData, err := json.Marshal(waiting)
	if err != nil {
		return fmt.Errorf("store: marshal waiting: %w", err)
	}
	return atomicWrite(b.queuePath(projectID, "waiting"), waitingData)
}

// LoadQueueLists reads the persisted ready/waiting task-id lists, empty
// slices if never saved.
func (b *FileBackend) LoadQueueLists(projectID string) (ready, waiting []string, err error) {
	ready, err = readStringList(b.queuePath(projectID, "ready"))
	if err != nil {
		return nil, nil, err
	}
	waiting, err = readStringList(b.queuePath(projectID, "waiting"))
	if err != nil {
		return nil, nil, err
	}
	return ready, waiting, nil
}

func readStringList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("store: unmarshal %s: %w", path, err)
	}
	return list, nil
}

// Close is a no-op for FileBackend; present to satisfy Backend.
func (b *FileBackend) Close() error { return nil }

// ErrCorruptState is returned when a loaded state file fails its
// invariant check (spec.md §3 invariants, P7).
var ErrCorruptState = fmt.Errorf("state failed invariant check on load")
