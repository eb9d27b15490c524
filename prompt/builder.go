package prompt

import (
	"fmt"
	"strconv"
	"strings"
)

// Builder assembles a template from parts. Text parts are template source;
// file contents are passed as values so their braces are never interpreted.
type Builder struct {
	parts  []string
	values map[string]any
}

// NewBuilder creates a new prompt builder.
func NewBuilder() *Builder {
	return &Builder{values: make(map[string]any)}
}

// Add adds template source to the prompt.
func (b *Builder) Add(text string) *Builder {
	b.parts = append(b.parts, text)
	return b
}

// AddSection adds a markdown section with header.
func (b *Builder) AddSection(header, content string) *Builder {
	b.parts = append(b.parts, fmt.Sprintf("## %s\n\n%s", header, content))
	return b
}

// AddList adds a bulleted list.
func (b *Builder) AddList(header string, items []string) *Builder {
	var buf strings.Builder
	if header != "" {
		buf.WriteString("## ")
		buf.WriteString(header)
		buf.WriteString("\n\n")
	}
	for i, item := range items {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString("- ")
		buf.WriteString(item)
	}
	b.parts = append(b.parts, buf.String())
	return b
}

// AddFile adds file contents wrapped in a file tag. The content is emitted
// verbatim.
func (b *Builder) AddFile(path, content string) *Builder {
	key := fmt.Sprintf("_file%d", len(b.values))
	b.values[key] = content
	b.parts = append(b.parts, fmt.Sprintf("<file path=%q>\n{{ %s }}\n</file>", path, key))
	return b
}

// AddInclude adds another template by name.
func (b *Builder) AddInclude(name string) *Builder {
	b.parts = append(b.parts, fmt.Sprintf("{%% include %s %%}", strconv.Quote(name)))
	return b
}

// Build returns the template source.
func (b *Builder) Build() string {
	return strings.Join(b.parts, "\n\n")
}

// Render renders the assembled template with l. Includes resolve against
// l's directories.
func (b *Builder) Render(l *Loader, vars map[string]any) (string, error) {
	merged := make(map[string]any, len(vars)+len(b.values))
	for k, v := range vars {
		merged[k] = v
	}
	for k, v := range b.values {
		merged[k] = v
	}
	return l.RenderString(b.Build(), merged)
}

// Clear resets the builder.
func (b *Builder) Clear() {
	b.parts = nil
	b.values = make(map[string]any)
}
