package promptly

import (
	"github.com/randalmurphal/promptly/config"
	"github.com/randalmurphal/promptly/prompt"
)

// Loader renders prompt templates. See prompt.Loader.
type Loader = prompt.Loader

// Option configures a Loader.
type Option = prompt.Option

// Builder assembles a template from parts.
type Builder = prompt.Builder

// Re-exported constructors and options.
var (
	New             = prompt.New
	NewFromSettings = prompt.NewFromSettings
	NewBuilder      = prompt.NewBuilder
	Builtin         = prompt.Builtin

	WithFallback   = prompt.WithFallback
	WithBuiltinFS  = prompt.WithBuiltinFS
	WithBuiltinDir = prompt.WithBuiltinDir
	WithCacheSize  = prompt.WithCacheSize
	WithFilter     = prompt.WithFilter
	WithGlobal     = prompt.WithGlobal
	WithLogger     = prompt.WithLogger
)

// NewLoader resolves configuration from the standard locations and creates
// a loader from it. Explicit options override configured values.
func NewLoader(opts ...Option) (*Loader, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	return prompt.NewFromSettings(settings, opts...)
}
