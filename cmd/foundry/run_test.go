package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/pkg/queue"
)

func TestRunCmd_ErrorsWithoutPriorEnqueue(t *testing.T) {
	cfg := testConfig(t)
	configPath := writeConfig(t, cfg)

	err := (&RunCmd{}).Run(&CLI{Config: configPath})
	assert.Error(t, err)
}

// TestRunCmd_ReconstructsQueueFromPersistedTasks exercises the pieces
// RunCmd itself does before handing off to the control loop: loading
// prior state and rebuilding a Queue from the CLI's own persisted task
// bodies. It stops short of calling RunCmd.Run, since that would block
// on a real subprocess exec against a provider CLI no test environment
// has installed.
func TestRunCmd_ReconstructsQueueFromPersistedTasks(t *testing.T) {
	cfg := testConfig(t)
	configPath := writeConfig(t, cfg)
	cli := &CLI{Config: configPath}

	dir := t.TempDir()
	taskFile := filepath.Join(dir, "tasks.json")
	payload, err := json.Marshal([]map[string]any{
		{"task_id": "t1", "intent": "do it", "instructions": "do it well", "acceptance_criteria": []string{"works"}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(taskFile, payload, 0o644))

	require.NoError(t, (&EnqueueCmd{TaskFile: taskFile, Goal: "ship it"}).Run(cli))

	tasks, err := loadTasks(cfg.Store.Root, cfg.Name)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	q, err := queue.Rebuild(cfg.Name, tasks, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, q.ReadyLen())
}
