package jinja

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/parser"
	"golang.org/x/sync/singleflight"

	perrors "github.com/randalmurphal/promptly/errors"
)

// DefaultCacheSize matches Jinja's default compiled-template cache size.
const DefaultCacheSize = 400

// maxIncludeDepth stops runaway include and extends recursion.
const maxIncludeDepth = 64

// Filter transforms a value. It is gonja's filter signature; errors are
// returned as exec.AsValue(err).
type Filter = exec.FilterFunction

// Test is a predicate used with "is".
type Test func(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) (bool, error)

// Environment holds engine configuration and the compiled-template cache.
// It is safe for concurrent use once constructed.
type Environment struct {
	loader Loader

	trimBlocks          bool
	lstripBlocks        bool
	keepTrailingNewline bool
	cacheSize           int

	filters map[string]Filter
	tests   map[string]Test
	globals map[string]any

	config *config.Config
	exec   *exec.Environment

	cache *lru.Cache[string, *Template]
	group singleflight.Group
}

// Option configures an Environment.
type Option func(*Environment)

// WithTrimBlocks removes the first newline after a block or comment tag.
func WithTrimBlocks(on bool) Option {
	return func(e *Environment) { e.trimBlocks = on }
}

// WithLstripBlocks strips spaces and tabs before a block or comment tag
// that starts a line.
func WithLstripBlocks(on bool) Option {
	return func(e *Environment) { e.lstripBlocks = on }
}

// WithKeepTrailingNewline keeps a single trailing newline of the source.
func WithKeepTrailingNewline(on bool) Option {
	return func(e *Environment) { e.keepTrailingNewline = on }
}

// WithCacheSize sets how many compiled templates are kept. Zero disables
// caching.
func WithCacheSize(n int) Option {
	return func(e *Environment) { e.cacheSize = n }
}

// WithFilter registers or replaces a filter.
func WithFilter(name string, f Filter) Option {
	return func(e *Environment) { e.filters[name] = f }
}

// WithTest registers or replaces a test.
func WithTest(name string, t Test) Option {
	return func(e *Environment) { e.tests[name] = t }
}

// WithGlobal makes value visible to every template under name.
func WithGlobal(name string, value any) Option {
	return func(e *Environment) { e.globals[name] = value }
}

// NewEnvironment creates an environment that loads templates through
// loader. loader may be nil when only FromString is used.
func NewEnvironment(loader Loader, opts ...Option) *Environment {
	e := &Environment{
		loader:    loader,
		cacheSize: DefaultCacheSize,
		filters:   make(map[string]Filter),
		tests:     make(map[string]Test),
		globals:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.config = config.New()
	e.config.StrictUndefined = true
	e.config.TrimBlocks = e.trimBlocks
	e.config.LeftStripBlocks = e.lstripBlocks
	e.config.KeepTrailingNewline = e.keepTrailingNewline
	e.exec = e.newExecEnvironment()

	if e.cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		e.cache, _ = lru.New[string, *Template](e.cacheSize)
	}
	return e
}

// newExecEnvironment copies gonja's builtin sets so registrations never
// touch the package-level defaults shared by other environments.
func (e *Environment) newExecEnvironment() *exec.Environment {
	filters := exec.NewFilterSet(map[string]exec.FilterFunction{}).Update(builtins.Filters)
	for name, fn := range defaultFilters() {
		setFilter(filters, name, fn)
	}
	for name, fn := range e.filters {
		setFilter(filters, name, fn)
	}

	tests := exec.NewTestSet(map[string]exec.TestFunction{}).Update(builtins.Tests)
	for name, fn := range e.tests {
		// Register and Replace only fail on signature mismatch, which
		// the Test type rules out.
		if tests.Exists(name) {
			_ = tests.Replace(name, fn)
		} else {
			_ = tests.Register(name, fn)
		}
	}

	statements := exec.NewControlStructureSet(map[string]parser.ControlStructureParser{}).
		Update(builtins.ControlStructures)
	for name, parse := range e.statements() {
		_ = statements.Replace(name, parse)
	}

	globals := exec.EmptyContext().Update(builtins.GlobalFunctions).Update(builtins.GlobalVariables)
	globals.Set("range", boundedRange)
	for name, value := range e.globals {
		globals.Set(name, value)
	}

	return &exec.Environment{
		Context:           globals,
		Filters:           filters,
		Tests:             tests,
		ControlStructures: statements,
		Methods:           builtins.Methods,
	}
}

func setFilter(set *exec.FilterSet, name string, fn exec.FilterFunction) {
	if set.Exists(name) {
		_ = set.Replace(name, fn)
		return
	}
	_ = set.Register(name, fn)
}

// Loader returns the environment's template loader.
func (e *Environment) Loader() Loader {
	return e.loader
}

// IsGlobal reports whether name resolves to an environment global.
func (e *Environment) IsGlobal(name string) bool {
	return e.exec.Context.Has(name)
}

// GetTemplate loads, compiles and caches the named template. Cached
// templates are reused while their source is up to date.
func (e *Environment) GetTemplate(name string) (*Template, error) {
	if e.loader == nil {
		return nil, &perrors.NotFoundError{Name: name, Reason: "no loader configured"}
	}

	if e.cache != nil {
		if t, ok := e.cache.Get(name); ok {
			if t.uptodate == nil || t.uptodate() {
				return t, nil
			}
			e.cache.Remove(name)
		}
	}

	v, err, _ := e.group.Do(name, func() (any, error) {
		src, err := e.loader.GetSource(name)
		if err != nil {
			return nil, err
		}
		t, err := e.compile(name, src.Filename, src.Text, src.Uptodate)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			e.cache.Add(name, t)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// FromString compiles an anonymous template. It is not cached.
func (e *Environment) FromString(source string) (*Template, error) {
	return e.compile("", "", source, nil)
}

// Parse compiles source under the given name without consulting the loader
// for it.
func (e *Environment) Parse(name, source string) (*Template, error) {
	return e.compile(name, name, source, nil)
}

// ClearCache drops every compiled template.
func (e *Environment) ClearCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// CacheLen returns the number of cached templates.
func (e *Environment) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

func (e *Environment) compile(name, filename, source string, uptodate func() bool) (*Template, error) {
	src := &sourceLoader{id: name, text: normalizeNewlines(source), next: e.loader}

	compiled, err := exec.NewTemplate(name, e.config, src, e.exec)
	if err != nil {
		return nil, compileError(name, src, err)
	}

	root := compiled.Root()
	lowerTemplate(root)
	if err := e.checkNames(name, root); err != nil {
		return nil, err
	}

	return &Template{
		env:      e,
		name:     name,
		filename: filename,
		compiled: compiled,
		uptodate: withParents(uptodate, src.deps),
	}, nil
}

// withParents extends uptodate to the templates pulled in by extends.
func withParents(uptodate func() bool, parents []*Source) func() bool {
	checks := make([]func() bool, 0, len(parents)+1)
	if uptodate != nil {
		checks = append(checks, uptodate)
	}
	for _, p := range parents {
		if p.Uptodate != nil {
			checks = append(checks, p.Uptodate)
		}
	}
	if len(checks) == 0 {
		return nil
	}
	return func() bool {
		for _, ok := range checks {
			if !ok() {
				return false
			}
		}
		return true
	}
}

// Template is a compiled template. It is immutable and safe for concurrent
// rendering.
type Template struct {
	env      *Environment
	name     string
	filename string
	compiled *exec.Template
	uptodate func() bool

	analyzeOnce sync.Once
	variables   []string
	includes    []Include
}

// Name returns the name the template was loaded under, "" for FromString.
func (t *Template) Name() string { return t.name }

// Filename returns the loader's display path for the template source.
func (t *Template) Filename() string { return t.filename }

// Root returns the parsed template tree.
func (t *Template) Root() *nodes.Template { return t.compiled.Root() }

// Render executes the template with vars and returns the output. Nothing is
// returned on error.
func (t *Template) Render(vars map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", &perrors.RenderError{Template: t.name, Message: fmt.Sprint(r)}
		}
	}()

	var sb strings.Builder
	if err := t.compiled.Execute(&sb, exec.NewContext(vars)); err != nil {
		return "", renderError(t.name, err)
	}
	return sb.String(), nil
}

// Execute renders into w. Output is written only when rendering succeeds.
func (t *Template) Execute(w io.Writer, vars map[string]any) error {
	out, err := t.Render(vars)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, out); err != nil {
		return fmt.Errorf("write %s: %w", t.displayName(), err)
	}
	return nil
}

func (t *Template) displayName() string {
	if t.name == "" {
		return "<string>"
	}
	return t.name
}

// IsTemplateError reports whether err came from the template engine rather
// than from I/O.
func IsTemplateError(err error) bool {
	return errors.Is(err, perrors.ErrTemplateNotFound) ||
		errors.Is(err, perrors.ErrTemplateSyntax) ||
		errors.Is(err, perrors.ErrUndefinedVariable) ||
		errors.Is(err, perrors.ErrRender)
}
