package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/pkg/task"
)

func TestDecodeOne_Valid(t *testing.T) {
	raw := []byte(`{
		"task_id": "impl_auth_01",
		"task_type": "coding",
		"intent": "add middleware",
		"instructions": "Create src/auth/middleware.ts exporting function authMiddleware",
		"acceptance_criteria": ["function authMiddleware exported"],
		"required_artifacts": ["src/auth/middleware.ts"]
	}`)

	tk, err := task.DecodeOne(raw)
	require.NoError(t, err)
	assert.Equal(t, "impl_auth_01", tk.TaskID)
	assert.Equal(t, task.TypeCoding, tk.TaskType)
	assert.Equal(t, task.DefaultMaxRetries, tk.MaxRetries())
}

func TestDecodeOne_UnknownKeyRejected(t *testing.T) {
	raw := []byte(`{"task_id": "t1", "bogus_field": true}`)
	_, err := task.DecodeOne(raw)
	assert.Error(t, err)
}

func TestDecodeOne_InvalidTaskType(t *testing.T) {
	raw := []byte(`{"task_id": "t1", "task_type": "not-a-type"}`)
	_, err := task.DecodeOne(raw)
	assert.Error(t, err)
}

func TestDecodeOne_MissingTaskID(t *testing.T) {
	raw := []byte(`{"intent": "x"}`)
	_, err := task.DecodeOne(raw)
	assert.Error(t, err)
}

func TestMaxRetries_CustomPolicy(t *testing.T) {
	raw := []byte(`{"task_id": "t1", "retry_policy": {"max_retries": 0}}`)
	tk, err := task.DecodeOne(raw)
	require.NoError(t, err)
	assert.Equal(t, 0, tk.MaxRetries())
}

func TestDecodeFile_Array(t *testing.T) {
	raw := []byte(`[{"task_id": "a"}, {"task_id": "b"}]`)
	tasks, err := task.DecodeFile(raw)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}
