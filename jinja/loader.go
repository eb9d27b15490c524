package jinja

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/nikolalohinski/gonja/v2/loaders"

	perrors "github.com/randalmurphal/promptly/errors"
)

// Loader supplies template source by name.
type Loader interface {
	// GetSource returns the named template's source. A missing template
	// is reported as *errors.NotFoundError.
	GetSource(name string) (*Source, error)
}

// Source is a loaded template.
type Source struct {
	Text     string
	Filename string // Display path, e.g. "/srv/prompts/tasks/review.md"
	Root     string // Label of the root the template came from

	// Uptodate reports whether a cached compile of Text is still valid.
	// Nil means always valid.
	Uptodate func() bool
}

// Root is one search location of an FSLoader.
type Root struct {
	Label string // Shown in errors and filenames; usually the directory path
	FS    fs.FS
}

// FSLoader searches an ordered list of file systems; the first root that
// has the template wins.
type FSLoader struct {
	roots []Root
}

// NewFSLoader returns a loader over roots, searched in order.
func NewFSLoader(roots ...Root) *FSLoader {
	return &FSLoader{roots: append([]Root(nil), roots...)}
}

// Roots returns the search roots in order.
func (l *FSLoader) Roots() []Root {
	return append([]Root(nil), l.roots...)
}

// CleanName validates a template reference and returns it in canonical
// slash-separated form. Absolute paths and references that climb out of
// the root are rejected.
func CleanName(name string) (string, bool) {
	if name == "" || strings.ContainsRune(name, '\\') {
		return "", false
	}
	clean := path.Clean(name)
	if clean == "." || !fs.ValidPath(clean) {
		return "", false
	}
	return clean, true
}

func (l *FSLoader) GetSource(name string) (*Source, error) {
	clean, ok := CleanName(name)
	if !ok {
		return nil, &perrors.NotFoundError{Name: name, Reason: "invalid template path"}
	}

	var tried []string
	for i, root := range l.roots {
		display := path.Join(root.Label, clean)
		info, err := fs.Stat(root.FS, clean)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				tried = append(tried, display)
				continue
			}
			return nil, fmt.Errorf("stat template %s: %w", display, err)
		}
		if info.IsDir() {
			tried = append(tried, display)
			continue
		}

		data, err := fs.ReadFile(root.FS, clean)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", display, err)
		}

		return &Source{
			Text:     string(data),
			Filename: display,
			Root:     root.Label,
			Uptodate: l.uptodate(i, clean, info),
		}, nil
	}
	return nil, &perrors.NotFoundError{Name: name, Tried: tried}
}

// uptodate reports false once the file changes or a template of the same
// name appears in a root searched earlier.
func (l *FSLoader) uptodate(idx int, name string, info fs.FileInfo) func() bool {
	earlier := l.roots[:idx]
	root := l.roots[idx]
	modTime, size := info.ModTime(), info.Size()
	return func() bool {
		for _, r := range earlier {
			if _, err := fs.Stat(r.FS, name); err == nil {
				return false
			}
		}
		cur, err := fs.Stat(root.FS, name)
		return err == nil && cur.ModTime().Equal(modTime) && cur.Size() == size
	}
}

// sourceLoader adapts a Loader to gonja's loaders.Loader for the duration
// of one compile. The template being compiled is served from memory and
// every other name is resolved against the roots, never relative to the
// referencing file. The first lookup failure is kept so a typed
// *errors.NotFoundError survives gonja flattening it into a string.
type sourceLoader struct {
	id    string
	text  string
	next  Loader
	reads int
	deps  []*Source // Parents pulled in by extends
	err   error
}

var _ loaders.Loader = (*sourceLoader)(nil)

func (l *sourceLoader) Read(name string) (io.Reader, error) {
	if name == l.id {
		return strings.NewReader(l.text), nil
	}
	l.reads++
	if l.reads > maxIncludeDepth {
		return nil, l.fail(fmt.Errorf("template inheritance deeper than %d, check for cycles", maxIncludeDepth))
	}
	if l.next == nil {
		return nil, l.fail(&perrors.NotFoundError{Name: name, Reason: "no loader configured"})
	}
	src, err := l.next.GetSource(name)
	if err != nil {
		return nil, l.fail(err)
	}
	l.deps = append(l.deps, src)
	return strings.NewReader(normalizeNewlines(src.Text)), nil
}

func (l *sourceLoader) Resolve(name string) (string, error) {
	clean, ok := CleanName(name)
	if !ok {
		return "", l.fail(&perrors.NotFoundError{Name: name, Reason: "invalid template path"})
	}
	return clean, nil
}

func (l *sourceLoader) Inherit(string) (loaders.Loader, error) {
	return l, nil
}

func (l *sourceLoader) fail(err error) error {
	if l.err == nil {
		l.err = err
	}
	return err
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
