package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/randalmurphal/promptly/config"
	perrors "github.com/randalmurphal/promptly/errors"
	"github.com/randalmurphal/promptly/jinja"
)

// Loader renders prompt templates from a directory, optionally falling back
// to the bundled prompts. A Loader is safe for concurrent use.
type Loader struct {
	dir      string // Absolute primary directory, "" when bundled-only
	listRoot jinja.Root
	sources  *jinja.FSLoader
	env      *jinja.Environment
	logger   *slog.Logger
}

// New creates a loader rooted at dir. An empty dir roots the loader at the
// bundled prompts. A non-empty dir must exist and be a directory.
func New(dir string, opts ...Option) (*Loader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		roots []jinja.Root
		abs   string
	)
	if dir == "" {
		builtin, err := o.builtin()
		if err != nil {
			return nil, err
		}
		roots = append(roots, builtin)
	} else {
		var err error
		abs, err = checkDir(dir)
		if err != nil {
			return nil, err
		}
		roots = append(roots, jinja.Root{Label: abs, FS: os.DirFS(abs)})
		if o.fallback {
			builtin, err := o.builtin()
			if err != nil {
				return nil, err
			}
			roots = append(roots, builtin)
		}
	}

	l := &Loader{
		dir:      abs,
		listRoot: roots[0],
		sources:  jinja.NewFSLoader(roots...),
		logger:   logger,
	}

	envOpts := []jinja.Option{
		jinja.WithTrimBlocks(true),
		jinja.WithLstripBlocks(true),
		jinja.WithKeepTrailingNewline(false),
		jinja.WithCacheSize(o.cacheSize),
	}
	for name, fn := range o.filters {
		envOpts = append(envOpts, jinja.WithFilter(name, fn))
	}
	for name, value := range o.globals {
		envOpts = append(envOpts, jinja.WithGlobal(name, value))
	}
	l.env = jinja.NewEnvironment(&loggingLoader{
		next:    l.sources,
		primary: roots[0].Label,
		logger:  logger,
	}, envOpts...)

	labels := make([]string, len(roots))
	for i, r := range roots {
		labels[i] = r.Label
	}
	logger.Debug("prompt loader ready",
		slog.Any("roots", labels),
		slog.Int("cache_size", o.cacheSize))

	return l, nil
}

// NewFromSettings creates a loader from resolved configuration. Explicit
// options are applied after the settings and take precedence.
func NewFromSettings(s config.Settings, opts ...Option) (*Loader, error) {
	all := []Option{
		WithFallback(s.Fallback),
		WithCacheSize(s.CacheSize),
	}
	return New(s.PromptsDir, append(all, opts...)...)
}

// checkDir resolves dir to an absolute path and verifies it is a directory.
func checkDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &perrors.ConfigError{Path: dir, Reason: "cannot resolve prompts directory", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &perrors.ConfigError{Path: abs, Reason: "prompts directory does not exist"}
		}
		return "", &perrors.ConfigError{Path: abs, Reason: "cannot access prompts directory", Err: err}
	}
	if !info.IsDir() {
		return "", &perrors.ConfigError{Path: abs, Reason: "path is not a directory"}
	}
	return abs, nil
}

// Dir returns the absolute primary directory, or "" for a loader rooted at
// the bundled prompts.
func (l *Loader) Dir() string {
	return l.dir
}

// Render loads the named template and renders it with vars. Every variable
// the template reads must be supplied, have a default, or be guarded by a
// defined test.
func (l *Loader) Render(name string, vars map[string]any) (string, error) {
	tmpl, err := l.env.GetTemplate(name)
	if err != nil {
		return "", err
	}
	out, err := tmpl.Render(vars)
	if err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return out, nil
}

// Load is an alias for Render.
func (l *Loader) Load(name string, vars map[string]any) (string, error) {
	return l.Render(name, vars)
}

// RenderString renders an ad-hoc template. Includes resolve against the
// loader's directories.
func (l *Loader) RenderString(source string, vars map[string]any) (string, error) {
	tmpl, err := l.env.FromString(source)
	if err != nil {
		return "", err
	}
	return tmpl.Render(vars)
}

// Variables returns the sorted names a template reads without binding them
// itself. Includes are not followed; see AllVariables.
func (l *Loader) Variables(name string) ([]string, error) {
	tmpl, err := l.env.GetTemplate(name)
	if err != nil {
		return nil, err
	}
	return tmpl.UndeclaredVariables(), nil
}

// AllVariables is like Variables but also collects the variables of every
// template reachable through literal include statements. An include marked
// "ignore missing" whose target does not exist is skipped.
func (l *Loader) AllVariables(name string) ([]string, error) {
	seen := map[string]bool{name: true}
	names := make(map[string]bool)
	queue := []string{name}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		tmpl, err := l.env.GetTemplate(current)
		if err != nil {
			return nil, err
		}
		for _, v := range tmpl.UndeclaredVariables() {
			names[v] = true
		}

		for _, inc := range tmpl.Includes() {
			target, ok := l.firstExisting(inc.Names)
			if !ok {
				if inc.IgnoreMissing {
					continue
				}
				return nil, &perrors.NotFoundError{Name: inc.Names[0], Reason: "included from " + current}
			}
			if !seen[target] {
				seen[target] = true
				queue = append(queue, target)
			}
		}
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Loader) firstExisting(names []string) (string, bool) {
	for _, n := range names {
		if l.Exists(n) {
			return n, true
		}
	}
	return "", false
}

// Exists reports whether a template can be loaded, including from the
// fallback root.
func (l *Loader) Exists(name string) bool {
	_, err := l.sources.GetSource(name)
	return err == nil
}

// Source returns the raw, unrendered text of a template.
func (l *Loader) Source(name string) (string, error) {
	src, err := l.sources.GetSource(name)
	if err != nil {
		return "", err
	}
	return src.Text, nil
}

// ClearCache drops all compiled templates. Changed files are picked up
// without it; this only frees memory.
func (l *Loader) ClearCache() {
	l.env.ClearCache()
}
