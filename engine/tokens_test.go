package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() tokenScope {
	return tokenScope{
		trigger: map[string]any{
			"email": map[string]any{"from": "a@b.c", "subject": "weekly report"},
			"count": 3,
		},
		inputs: map[string]any{"channel": "#alerts"},
		steps: map[string]map[string]any{
			"summarize": {"text": "done", "score": 0.9},
		},
	}
}

func TestResolveString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want any
	}{
		{name: "plain string untouched", raw: "no tokens here", want: "no tokens here"},
		{name: "trigger path", raw: "{{trigger.email.from}}", want: "a@b.c"},
		{name: "inputs path", raw: "{{inputs.channel}}", want: "#alerts"},
		{name: "step output path", raw: "{{steps.summarize.text}}", want: "done"},
		{name: "lone token keeps type", raw: "{{trigger.count}}", want: 3},
		{name: "lone float token keeps type", raw: "{{steps.summarize.score}}", want: 0.9},
		{name: "embedded token interpolates", raw: "re: {{trigger.email.subject}}", want: "re: weekly report"},
		{name: "multiple tokens", raw: "{{trigger.email.from}} -> {{inputs.channel}}", want: "a@b.c -> #alerts"},
		{name: "whitespace inside braces", raw: "{{ trigger.count }}", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := resolveString("node", tt.raw, testScope())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveString_UnresolvableReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing trigger field", raw: "{{trigger.nonexistent}}"},
		{name: "missing input field", raw: "{{inputs.nonexistent}}"},
		{name: "unknown step", raw: "{{steps.never_ran.text}}"},
		{name: "missing step field", raw: "{{steps.summarize.nonexistent}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := resolveString("node-1", tt.raw, testScope())
			require.Error(t, err)

			var tokenErr *TokenError
			require.ErrorAs(t, err, &tokenErr)
			assert.Equal(t, "node-1", tokenErr.NodeID)
		})
	}
}

func TestResolveConfig_NestedStructures(t *testing.T) {
	t.Parallel()

	config := map[string]any{
		"to": "{{trigger.email.from}}",
		"body": map[string]any{
			"summary": "{{steps.summarize.text}}",
			"tags":    []any{"{{inputs.channel}}", "static"},
		},
		"retries": 2,
	}

	resolved, err := resolveConfig("node", config, testScope())
	require.NoError(t, err)

	assert.Equal(t, "a@b.c", resolved["to"])
	assert.Equal(t, 2, resolved["retries"])

	body, ok := resolved["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", body["summary"])
	assert.Equal(t, []any{"#alerts", "static"}, body["tags"])

	// Original config must not be mutated.
	assert.Equal(t, "{{trigger.email.from}}", config["to"])
}
