package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/pkg/store"
)

func writeTaskFile(t *testing.T, dir string, tasks []map[string]any) string {
	t.Helper()
	data, err := json.Marshal(tasks)
	require.NoError(t, err)
	path := filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestEnqueueCmd_FirstEnqueueRequiresGoal(t *testing.T) {
	cfg := testConfig(t)
	configPath := writeConfig(t, cfg)
	taskFile := writeTaskFile(t, t.TempDir(), []map[string]any{
		{"task_id": "t1", "intent": "do it", "instructions": "do it well", "acceptance_criteria": []string{"works"}},
	})

	cmd := EnqueueCmd{TaskFile: taskFile}
	cli := &CLI{Config: configPath}
	err := cmd.Run(cli)
	assert.Error(t, err)
}

func TestEnqueueCmd_CreatesStateAndQueueOnFirstRun(t *testing.T) {
	cfg := testConfig(t)
	configPath := writeConfig(t, cfg)
	taskFile := writeTaskFile(t, t.TempDir(), []map[string]any{
		{"task_id": "t1", "intent": "do it", "instructions": "do it well", "acceptance_criteria": []string{"works"}},
	})

	cmd := EnqueueCmd{TaskFile: taskFile, Goal: "ship the feature"}
	cli := &CLI{Config: configPath}
	require.NoError(t, cmd.Run(cli))

	backend, err := store.NewFileBackend(cfg.Store.Root)
	require.NoError(t, err)
	s, ok, err := backend.LoadState(cfg.Name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ship the feature", s.Goal.Description)

	ready, waiting, err := backend.LoadQueueLists(cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ready)
	assert.Empty(t, waiting)
}

func TestEnqueueCmd_SecondEnqueueMergesWithExisting(t *testing.T) {
	cfg := testConfig(t)
	configPath := writeConfig(t, cfg)
	dir := t.TempDir()

	first := writeTaskFile(t, dir, []map[string]any{
		{"task_id": "t1", "intent": "do it", "instructions": "do it well", "acceptance_criteria": []string{"works"}},
	})
	cli := &CLI{Config: configPath}
	require.NoError(t, (&EnqueueCmd{TaskFile: first, Goal: "ship it"}).Run(cli))

	second := writeTaskFile(t, dir, []map[string]any{
		{"task_id": "t2", "intent": "do more", "instructions": "do more well", "acceptance_criteria": []string{"works"},
			"depends_on": []map[string]string{{"task_id": "t1", "type": "hard"}}},
	})
	require.NoError(t, (&EnqueueCmd{TaskFile: second}).Run(cli))

	tasks, err := loadTasks(cfg.Store.Root, cfg.Name)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	backend, err := store.NewFileBackend(cfg.Store.Root)
	require.NoError(t, err)
	ready, waiting, err := backend.LoadQueueLists(cfg.Name)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1"}, ready)
	assert.ElementsMatch(t, []string{"t2"}, waiting)
}

func TestEnqueueCmd_RejectsDependencyCycle(t *testing.T) {
	cfg := testConfig(t)
	configPath := writeConfig(t, cfg)
	taskFile := writeTaskFile(t, t.TempDir(), []map[string]any{
		{"task_id": "a", "intent": "x", "instructions": "x", "acceptance_criteria": []string{"x"},
			"depends_on": []map[string]string{{"task_id": "b", "type": "hard"}}},
		{"task_id": "b", "intent": "x", "instructions": "x", "acceptance_criteria": []string{"x"},
			"depends_on": []map[string]string{{"task_id": "a", "type": "hard"}}},
	})

	cmd := EnqueueCmd{TaskFile: taskFile, Goal: "loop"}
	cli := &CLI{Config: configPath}
	err := cmd.Run(cli)
	assert.Error(t, err)
}
