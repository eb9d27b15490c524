package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Build(t *testing.T) {
	src := NewBuilder().
		Add("Intro {{ topic }}").
		AddSection("Context", "Some context").
		AddList("Steps", []string{"one", "two"}).
		Build()

	assert.Equal(t, "Intro {{ topic }}\n\n## Context\n\nSome context\n\n## Steps\n\n- one\n- two", src)
}

func TestBuilder_AddListWithoutHeader(t *testing.T) {
	assert.Equal(t, "- a", NewBuilder().AddList("", []string{"a"}).Build())
}

func TestBuilder_Render(t *testing.T) {
	l := newLoader(t, map[string]string{"header.md": "# {{ title }}"})

	b := NewBuilder().
		AddInclude("header.md").
		AddFile("main.go", "func f() { return {{ not a var }} }").
		Add("Task: {{ task }}")

	got, err := b.Render(l, map[string]any{"title": "Review", "task": "check"})
	require.NoError(t, err)
	assert.Equal(t,
		"# Review\n<file path=\"main.go\">\nfunc f() { return {{ not a var }} }\n</file>\n\nTask: check",
		got)
}

func TestBuilder_RenderMissingVariable(t *testing.T) {
	l := newLoader(t, nil)

	_, err := NewBuilder().Add("{{ task }}").Render(l, nil)
	assert.Error(t, err)
}

func TestBuilder_Clear(t *testing.T) {
	b := NewBuilder().Add("x").AddFile("a", "b")
	b.Clear()

	assert.Equal(t, "", b.Build())
	assert.Empty(t, b.values)
}
