package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	perrors "github.com/randalmurphal/promptly/errors"
)

// Configuration keys.
const (
	KeyPromptsDir = "prompts_dir"
	KeyFallback   = "fallback"
	KeyCacheSize  = "cache_size"
)

const (
	// EnvPrefix is prepended to upper-cased keys for environment lookup,
	// e.g. PROMPTLY_PROMPTS_DIR.
	EnvPrefix = "PROMPTLY_"

	// GlobalConfigDir is the directory under ~/.config/ holding config.yaml.
	GlobalConfigDir = "promptly"

	// LocalConfigName is the per-repository config file in the git root.
	LocalConfigName = ".promptly.yaml"
)

// Defaults returns the built-in value of every known key.
func Defaults() map[string]string {
	return map[string]string{
		KeyPromptsDir: "",
		KeyFallback:   "false",
		KeyCacheSize:  "400",
	}
}

// Options configures a Resolver. The zero value resolves the standard
// locations.
type Options struct {
	// GlobalPath overrides ~/.config/promptly/config.yaml.
	GlobalPath string

	// LocalPath overrides the .promptly.yaml lookup in the git root.
	LocalPath string

	// StartDir is where git root detection starts. Defaults to ".".
	StartDir string

	// GitRootFinder finds the git root directory. If nil, the resolver
	// walks up from StartDir looking for a .git directory.
	GitRootFinder func(startDir string) (string, error)

	// Logger receives warnings about unreadable or unknown config entries.
	// Defaults to discarding them.
	Logger *slog.Logger
}

// Resolver handles hierarchical configuration resolution.
type Resolver struct {
	globalPath string
	localPath  string
	gitRoot    string
	logger     *slog.Logger

	// Warnings collects non-fatal issues during resolution.
	Warnings []string
}

// NewResolver creates a resolver and locates its config files.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		globalPath: opts.GlobalPath,
		localPath:  opts.LocalPath,
		logger:     opts.Logger,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}

	start := opts.StartDir
	if start == "" {
		start = "."
	}
	if opts.GitRootFinder != nil {
		if root, err := opts.GitRootFinder(start); err == nil {
			r.gitRoot = root
		}
	} else {
		r.gitRoot = findGitRoot(start)
	}

	if r.localPath == "" && r.gitRoot != "" {
		r.localPath = filepath.Join(r.gitRoot, LocalConfigName)
	}
	if r.globalPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			r.globalPath = filepath.Join(home, ".config", GlobalConfigDir, "config.yaml")
		}
	}
	return r
}

// warn records a non-fatal problem.
func (r *Resolver) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
	r.logger.Warn("config: " + msg)
}

// Resolved holds the final merged configuration.
type Resolved struct {
	values  map[string]string
	sources map[string]Source
	origins map[string]string // file a value was read from
}

// Get returns the value for a key, or empty string if not set.
func (c *Resolved) Get(key string) string {
	return c.values[key]
}

// Source returns the source of a key's value.
func (c *Resolved) Source(key string) Source {
	return c.sources[key]
}

// GetWithSource returns both the value and its source.
func (c *Resolved) GetWithSource(key string) (string, Source) {
	return c.values[key], c.sources[key]
}

// All returns a copy of all key-value pairs.
func (c *Resolved) All() map[string]string {
	result := make(map[string]string, len(c.values))
	for k, v := range c.values {
		result[k] = v
	}
	return result
}

// Keys returns all configuration keys, sorted.
func (c *Resolved) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Settings is the typed form of a resolved configuration.
type Settings struct {
	PromptsDir string // Empty means the bundled prompts
	Fallback   bool   // Retry misses against the bundled prompts
	CacheSize  int    // Compiled-template cache entries, 0 disables
}

// Settings parses the resolved values. A malformed value is reported as a
// *errors.ConfigError naming the key and where the value came from.
func (c *Resolved) Settings() (Settings, error) {
	s := Settings{PromptsDir: c.values[KeyPromptsDir]}

	raw := c.values[KeyFallback]
	fallback, err := strconv.ParseBool(raw)
	if err != nil {
		return Settings{}, c.invalid(KeyFallback, fmt.Sprintf("invalid boolean %q", raw), err)
	}
	s.Fallback = fallback

	raw = c.values[KeyCacheSize]
	size, err := strconv.Atoi(raw)
	if err != nil {
		return Settings{}, c.invalid(KeyCacheSize, fmt.Sprintf("invalid integer %q", raw), err)
	}
	if size < 0 {
		return Settings{}, c.invalid(KeyCacheSize, fmt.Sprintf("cache size must not be negative, got %d", size), nil)
	}
	s.CacheSize = size

	return s, nil
}

func (c *Resolved) invalid(key, reason string, err error) error {
	return &perrors.ConfigError{
		Path:   c.origins[key],
		Key:    key,
		Reason: fmt.Sprintf("%s (from %s)", reason, c.sources[key]),
		Err:    err,
	}
}

// Resolve builds the final config by merging all sources.
// Priority (highest to lowest): env > local > global > defaults.
func (r *Resolver) Resolve() *Resolved {
	cfg := &Resolved{
		values:  make(map[string]string),
		sources: make(map[string]Source),
		origins: make(map[string]string),
	}

	// 1. Apply defaults (lowest priority)
	for key, value := range Defaults() {
		cfg.values[key] = value
		cfg.sources[key] = SourceDefault
	}

	// 2. Apply global config
	r.applyFile(cfg, r.globalPath, SourceGlobal)

	// 3. Apply local config
	r.applyFile(cfg, r.localPath, SourceLocal)

	// 4. Apply environment variables
	r.applyEnv(cfg)

	return cfg
}

// ResolveWithFlags resolves config and applies explicit overrides, such as
// command-line flags. Empty values are ignored.
func (r *Resolver) ResolveWithFlags(flags map[string]string) *Resolved {
	cfg := r.Resolve()

	for key, value := range flags {
		if value == "" {
			continue
		}
		if _, known := cfg.values[key]; !known {
			r.warn(fmt.Sprintf("unknown flag override %q", key))
			continue
		}
		cfg.values[key] = value
		cfg.sources[key] = SourceFlag
		delete(cfg.origins, key)
	}

	return cfg
}

func (r *Resolver) applyFile(cfg *Resolved, path string, source Source) {
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist - not an error
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		r.warn(fmt.Sprintf("could not parse %s: %v", path, err))
		return
	}

	keys := make([]string, 0, len(parsed))
	for key := range parsed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, known := cfg.values[key]; !known {
			r.warn(fmt.Sprintf("unknown key %q in %s", key, path))
			continue
		}
		strVal, ok := toString(parsed[key])
		if !ok {
			r.warn(fmt.Sprintf("ignoring %s in %s: expected a scalar value", key, path))
			continue
		}
		// A relative prompts_dir is relative to the file that sets it.
		if key == KeyPromptsDir && strVal != "" && !filepath.IsAbs(strVal) {
			strVal = filepath.Join(filepath.Dir(path), strVal)
		}
		cfg.values[key] = strVal
		cfg.sources[key] = source
		cfg.origins[key] = path
	}
}

func (r *Resolver) applyEnv(cfg *Resolved) {
	for key := range Defaults() {
		envKey := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if value := os.Getenv(envKey); value != "" {
			cfg.values[key] = value
			cfg.sources[key] = SourceEnv
			cfg.origins[key] = "$" + envKey
		}
	}
}

// GitRoot returns the detected git root directory.
func (r *Resolver) GitRoot() string {
	return r.gitRoot
}

// GlobalPath returns the path to the global config file.
func (r *Resolver) GlobalPath() string {
	return r.globalPath
}

// LocalPath returns the path to the local config file.
func (r *Resolver) LocalPath() string {
	return r.localPath
}

// Load resolves the standard locations and returns typed settings.
func Load() (Settings, error) {
	return NewResolver(Options{}).Resolve().Settings()
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int, int64, float64:
		return fmt.Sprintf("%v", val), true
	default:
		return "", false
	}
}

// findGitRoot finds the git root by looking for a .git entry.
func findGitRoot(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached root
		}
		dir = parent
	}

	return ""
}
