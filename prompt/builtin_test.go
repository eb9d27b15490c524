package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_AllParse(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	names, err := l.List("")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for _, name := range names {
		_, err := l.AllVariables(name)
		assert.NoError(t, err, name)
	}
}

func TestBuiltin_Render(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	got, err := l.Render("templates/greeting.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello User!", got)

	got, err = l.Render("developers/n8n.md", map[string]any{
		"use_case": "lead routing",
		"nodes":    []string{"Webhook", "Slack"},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "Build workflows for lead routing")
	assert.Contains(t, got, "1. Webhook\n2. Slack")

	got, err = l.Render("developers/golang.md", map[string]any{"topics": []string{"concurrency"}})
	require.NoError(t, err)
	assert.Contains(t, got, "- Concurrency")
	assert.NotContains(t, got, "years")

	got, err = l.Render("tasks/code_review.md", map[string]any{
		"language":      "Go",
		"code":          "x := 1",
		"output_format": "json",
	})
	require.NoError(t, err)
	assert.Contains(t, got, "```go\nx := 1\n```")
	assert.Contains(t, got, "## Guidelines")
	assert.Contains(t, got, "single JSON object")
}

func TestBuiltin_Variables(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	got, err := l.Variables("system/assistant.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"expertise", "name", "tone"}, got)

	got, err = l.AllVariables("tasks/code_review.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "focus", "guidelines", "language", "output_format"}, got)

	_, err = l.Render("system/assistant.md", map[string]any{"name": "Ada"})
	assert.Error(t, err)
}
