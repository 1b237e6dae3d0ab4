package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foundry-run/foundry/pkg/session"
)

func TestFeatureID_Resolution(t *testing.T) {
	assert.Equal(t, "explicit", session.FeatureID("explicit", "t_123", "proj"))
	assert.Equal(t, "task:impl", session.FeatureID("", "impl_auth_01", "proj"))
	assert.Equal(t, "project:proj", session.FeatureID("", "", "proj"))
	assert.Equal(t, "default", session.FeatureID("", "", ""))
}

func TestHelperFeatureID_Namespaced(t *testing.T) {
	assert.Equal(t, "helper:task:impl", session.HelperFeatureID("task:impl"))
}

func TestRegistry_EvictOnTokenLimit(t *testing.T) {
	now := time.Now()
	r := session.NewRegistry(map[string]session.Info{
		"f1": {Provider: "codex", TotalTokens: 9_000, LastUsed: now},
	}, session.DefaultPolicy())

	_, ok := r.Resolve("f1", now)
	assert.False(t, ok, "codex context limit is 8000, 9000 tokens must evict")
}

func TestRegistry_EvictOnErrorCount(t *testing.T) {
	now := time.Now()
	r := session.NewRegistry(map[string]session.Info{
		"f1": {Provider: "claude", TotalTokens: 10, ErrorCount: 5, LastUsed: now},
	}, session.DefaultPolicy())

	_, ok := r.Resolve("f1", now)
	assert.False(t, ok)
}

func TestRegistry_EvictOnAge(t *testing.T) {
	old := time.Now().Add(-25 * time.Hour)
	r := session.NewRegistry(map[string]session.Info{
		"f1": {Provider: "claude", TotalTokens: 10, LastUsed: old},
	}, session.DefaultPolicy())

	_, ok := r.Resolve("f1", time.Now())
	assert.False(t, ok)
}

func TestRegistry_ResolveLiveSession(t *testing.T) {
	now := time.Now()
	r := session.NewRegistry(map[string]session.Info{
		"f1": {SessionID: "sess-1", Provider: "claude", TotalTokens: 10, LastUsed: now},
	}, session.DefaultPolicy())

	info, ok := r.Resolve("f1", now)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", info.SessionID)
}

func TestRegistry_RecordSuccessAccumulatesTokens(t *testing.T) {
	now := time.Now()
	r := session.NewRegistry(nil, session.DefaultPolicy())
	r.RecordSuccess("f1", "claude", "sess-1", "t1", 100, now)
	r.RecordSuccess("f1", "claude", "sess-1", "t1", 50, now)

	info, ok := r.Resolve("f1", now)
	assert.True(t, ok)
	assert.Equal(t, 150, info.TotalTokens)
	assert.Equal(t, 0, info.ErrorCount)
}

func TestRegistry_RecordFailureIncrementsErrorCount(t *testing.T) {
	now := time.Now()
	r := session.NewRegistry(nil, session.DefaultPolicy())
	r.RecordSuccess("f1", "claude", "sess-1", "t1", 10, now)
	r.RecordFailure("f1", now)

	snap := r.Snapshot()
	assert.Equal(t, 1, snap["f1"].ErrorCount)
}

func TestRegistry_DisableSessionReuse(t *testing.T) {
	now := time.Now()
	policy := session.DefaultPolicy()
	policy.DisableSessionReuse = true
	r := session.NewRegistry(map[string]session.Info{
		"f1": {SessionID: "sess-1", Provider: "claude", LastUsed: now},
	}, policy)

	_, ok := r.Resolve("f1", now)
	assert.False(t, ok)
}
