package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/pkg/breaker"
	"github.com/foundry-run/foundry/pkg/provider"
)

func TestExtractJSON_BareBraces(t *testing.T) {
	got, ok := provider.ExtractJSON(`{"status":"completed"}`)
	require.True(t, ok)
	assert.Equal(t, `{"status":"completed"}`, got)
}

func TestExtractJSON_MarkdownFenced(t *testing.T) {
	got, ok := provider.ExtractJSON("```json\n{\"status\":\"completed\"}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"status":"completed"}`, got)
}

func TestExtractJSON_MixedProseOutermostBrace(t *testing.T) {
	got, ok := provider.ExtractJSON(`Here is my answer: {"status":"completed","nested":{"a":1}} done.`)
	require.True(t, ok)
	assert.Equal(t, `{"status":"completed","nested":{"a":1}}`, got)
}

func TestExtractJSON_NoBraces(t *testing.T) {
	_, ok := provider.ExtractJSON("no json here")
	assert.False(t, ok)
}

func TestDefaultParser_HardHaltMarker(t *testing.T) {
	_, _, reason, tripped := provider.DefaultParser("Error: RESOURCE_EXHAUSTED, quota used up")
	assert.True(t, tripped)
	assert.Equal(t, breaker.ReasonQuota, reason)
}

func TestDefaultParser_SessionAndUsage(t *testing.T) {
	sid, usage, _, tripped := provider.DefaultParser(`{"session_id":"sess-9","usage":{"total_tokens":42}}`)
	assert.False(t, tripped)
	assert.Equal(t, "sess-9", sid)
	assert.Equal(t, 42, usage.TotalTokens)
}
