package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/pkg/task"
)

func TestLoadTasks_MissingReturnsNil(t *testing.T) {
	tasks, err := loadTasks(t.TempDir(), "proj-1")
	require.NoError(t, err)
	assert.Nil(t, tasks)
}

func TestSaveLoadTasks_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	want := []*task.Task{
		{TaskID: "t1", Intent: "do a thing", TaskType: task.TypeCoding},
		{TaskID: "t2", Intent: "do another thing", DependsOn: []task.Dependency{
			{TaskID: "t1", Type: task.DependencyHard},
		}},
	}

	require.NoError(t, saveTasks(dir, "proj-1", want))

	got, err := loadTasks(dir, "proj-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].TaskID)
	assert.Equal(t, "do a thing", got[0].Intent)
	assert.Equal(t, "t2", got[1].TaskID)
	require.Len(t, got[1].DependsOn, 1)
	assert.Equal(t, "t1", got[1].DependsOn[0].TaskID)
}

func TestSaveTasks_OverwritesPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveTasks(dir, "proj-1", []*task.Task{{TaskID: "t1"}}))
	require.NoError(t, saveTasks(dir, "proj-1", []*task.Task{{TaskID: "t1"}, {TaskID: "t2"}}))

	got, err := loadTasks(dir, "proj-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestTasksPath_IsolatedPerProject(t *testing.T) {
	assert.NotEqual(t, tasksPath("/root", "a"), tasksPath("/root", "b"))
}
