package prompt

import (
	"io/fs"
	"log/slog"
	"os"

	"github.com/randalmurphal/promptly/jinja"
)

type options struct {
	fallback   bool
	builtinFS  fs.FS
	builtinDir string
	cacheSize  int
	filters    map[string]jinja.Filter
	globals    map[string]any
	logger     *slog.Logger
}

func defaultOptions() options {
	return options{
		cacheSize: jinja.DefaultCacheSize,
		filters:   make(map[string]jinja.Filter),
		globals:   make(map[string]any),
	}
}

// Option configures a Loader.
type Option func(*options)

// WithFallback makes templates missing from the primary directory resolve
// against the bundled prompts. Listing is unaffected.
func WithFallback(enabled bool) Option {
	return func(o *options) {
		o.fallback = enabled
	}
}

// WithBuiltinFS replaces the bundled prompts with fsys.
func WithBuiltinFS(fsys fs.FS) Option {
	return func(o *options) {
		o.builtinFS = fsys
		o.builtinDir = ""
	}
}

// WithBuiltinDir replaces the bundled prompts with a directory on disk.
func WithBuiltinDir(dir string) Option {
	return func(o *options) {
		o.builtinDir = dir
		o.builtinFS = nil
	}
}

// WithCacheSize sets how many compiled templates are kept. Zero disables
// caching.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithFilter registers a template filter, replacing any built-in filter of
// the same name.
func WithFilter(name string, fn jinja.Filter) Option {
	return func(o *options) {
		o.filters[name] = fn
	}
}

// WithGlobal makes value visible to every template under name. Template
// variables passed to Render shadow globals.
func WithGlobal(name string, value any) Option {
	return func(o *options) {
		o.globals[name] = value
	}
}

// WithLogger sets the logger for debug output. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// builtin resolves the bundled root from the options.
func (o *options) builtin() (jinja.Root, error) {
	switch {
	case o.builtinFS != nil:
		return jinja.Root{Label: BuiltinLabel, FS: o.builtinFS}, nil
	case o.builtinDir != "":
		abs, err := checkDir(o.builtinDir)
		if err != nil {
			return jinja.Root{}, err
		}
		return jinja.Root{Label: abs, FS: os.DirFS(abs)}, nil
	default:
		return jinja.Root{Label: BuiltinLabel, FS: Builtin()}, nil
	}
}
