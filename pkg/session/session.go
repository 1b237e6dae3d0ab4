// Package session implements the Session Registry (spec.md §4.7, §3
// "SessionInfo"): the feature_id → SessionInfo map tracking provider
// session IDs, accumulated tokens, error counts, and last-use time,
// plus the eviction policy applied before reuse.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Info is SessionInfo (spec.md §3).
type Info struct {
	SessionID   string
	Provider    string
	LastUsed    time.Time
	ErrorCount  int
	TotalTokens int
	FeatureID   string
	TaskID      string
}

// DefaultContextLimits are the suggested per-provider token caps
// (spec.md §4.7); overridable via CONTEXT_LIMIT_<provider> (spec.md §6).
var DefaultContextLimits = map[string]int{
	"gemini":  1_500_000,
	"claude":  200_000,
	"cursor":  200_000,
	"copilot": 100_000,
	"codex":   8_000,
}

// DefaultErrorLimit and DefaultMaxAge back SESSION_ERROR_LIMIT and
// SESSION_MAX_AGE_MS (spec.md §6).
const (
	DefaultErrorLimit = 5
	DefaultMaxAge     = 24 * time.Hour
)

// Policy bundles the configurable eviction thresholds.
type Policy struct {
	ContextLimits       map[string]int
	ErrorLimit          int
	MaxAge              time.Duration
	DisableSessionReuse bool
}

// DefaultPolicy returns the suggested defaults from spec.md §4.7/§6.
func DefaultPolicy() Policy {
	limits := make(map[string]int, len(DefaultContextLimits))
	for k, v := range DefaultContextLimits {
		limits[k] = v
	}
	return Policy{ContextLimits: limits, ErrorLimit: DefaultErrorLimit, MaxAge: DefaultMaxAge}
}

func (p Policy) limit(provider string) int {
	if v, ok := p.ContextLimits[provider]; ok {
		return v
	}
	return DefaultContextLimits["codex"]
}

// shouldEvict applies spec.md §4.7's eviction policy.
func (p Policy) shouldEvict(info Info, now time.Time) bool {
	if info.TotalTokens > p.limit(info.Provider) {
		return true
	}
	if info.ErrorCount >= p.ErrorLimit {
		return true
	}
	if now.Sub(info.LastUsed) > p.MaxAge {
		return true
	}
	return false
}

// Registry is the in-state active_sessions map plus the helper-agent
// namespace (spec.md §4.7 "Helper agent sessions are tracked under a
// distinct namespace").
type Registry struct {
	sessions map[string]Info
	policy   Policy
}

// NewRegistry wraps an existing active_sessions snapshot (read-only
// input per spec.md §3 Ownership) with the given eviction policy.
func NewRegistry(snapshot map[string]Info, policy Policy) *Registry {
	cp := make(map[string]Info, len(snapshot))
	for k, v := range snapshot {
		cp[k] = v
	}
	return &Registry{sessions: cp, policy: policy}
}

// Snapshot returns the current map for the Control Loop to persist.
func (r *Registry) Snapshot() map[string]Info {
	cp := make(map[string]Info, len(r.sessions))
	for k, v := range r.sessions {
		cp[k] = v
	}
	return cp
}

// FeatureID computes the resolution chain from spec.md §4.7:
// meta.feature_id, else task:<prefix before first underscore>, else
// project:<project_id>, else "default".
func FeatureID(metaFeatureID, taskID, projectID string) string {
	if metaFeatureID != "" {
		return metaFeatureID
	}
	if taskID != "" {
		if idx := strings.IndexByte(taskID, '_'); idx > 0 {
			return "task:" + taskID[:idx]
		}
		return "task:" + taskID
	}
	if projectID != "" {
		return "project:" + projectID
	}
	return "default"
}

// HelperFeatureID namespaces helper-agent sessions so they never
// collide with task sessions (spec.md §4.7).
func HelperFeatureID(featureID string) string {
	return fmt.Sprintf("helper:%s", featureID)
}

// Resolve looks up an existing session for featureID, evicting it
// first if the policy says so (spec.md §4.7). The returned bool is
// true only when a live, non-evicted session exists to resume.
func (r *Registry) Resolve(featureID string, now time.Time) (Info, bool) {
	if r.policy.DisableSessionReuse {
		delete(r.sessions, featureID)
		return Info{}, false
	}
	info, ok := r.sessions[featureID]
	if !ok {
		return Info{}, false
	}
	if r.policy.shouldEvict(info, now) {
		delete(r.sessions, featureID)
		return Info{}, false
	}
	return info, true
}

// RecordSuccess registers a new session or updates an existing one
// after a successful dispatch: accumulate tokens, reset error count
// (spec.md §4.7).
func (r *Registry) RecordSuccess(featureID, provider, sessionID, taskID string, usageTokens int, now time.Time) {
	info := r.sessions[featureID]
	info.SessionID = sessionID
	info.Provider = provider
	info.FeatureID = featureID
	info.TaskID = taskID
	info.TotalTokens += usageTokens
	info.ErrorCount = 0
	info.LastUsed = now
	r.sessions[featureID] = info
}

// RecordFailure increments the error counter on a dispatch failure
// (spec.md §4.7, §7 "Dispatch errors").
func (r *Registry) RecordFailure(featureID string, now time.Time) {
	info := r.sessions[featureID]
	info.ErrorCount++
	info.LastUsed = now
	r.sessions[featureID] = info
}

// Evict removes a session explicitly (operator reset-sessions command,
// spec.md §6).
func (r *Registry) Evict(featureID string) {
	delete(r.sessions, featureID)
}
