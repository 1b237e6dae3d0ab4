package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foundry-run/foundry/pkg/task"
)

// The State Store persists only the ready/waiting task-id lists
// (pkg/store.Backend.SaveQueueLists), not the task bodies those ids
// name. Reconstructing a Queue with queue.Rebuild after a restart
// needs the full Task values, so this CLI keeps its own accumulated
// task file per project, written atomically alongside the store's own
// files, and feeds it to queue.Rebuild on every enqueue/run.

func tasksPath(storeRoot, projectID string) string {
	return filepath.Join(storeRoot, fmt.Sprintf("tasks_%s.json", projectID))
}

// loadTasks returns the previously-accumulated task bodies for
// projectID, or nil if the project has never been enqueued.
func loadTasks(storeRoot, projectID string) ([]*task.Task, error) {
	data, err := os.ReadFile(tasksPath(storeRoot, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("foundry: read task file: %w", err)
	}
	tasks, err := task.DecodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("foundry: decode persisted tasks: %w", err)
	}
	return tasks, nil
}

// saveTasks atomically persists the full merged task set for
// projectID.
func saveTasks(storeRoot, projectID string, tasks []*task.Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("foundry: marshal tasks: %w", err)
	}
	path := tasksPath(storeRoot, projectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("foundry: write task file: %w", err)
	}
	return os.Rename(tmp, path)
}
