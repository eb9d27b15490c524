package config

// Source indicates where a configuration value came from.
type Source string

// Configuration source constants.
const (
	// SourceDefault indicates the value is a built-in default.
	SourceDefault Source = "default"

	// SourceGlobal indicates the value came from ~/.config/promptly/config.yaml.
	SourceGlobal Source = "global"

	// SourceLocal indicates the value came from .promptly.yaml in the git root.
	SourceLocal Source = "local"

	// SourceEnv indicates the value came from a PROMPTLY_* environment variable.
	SourceEnv Source = "env"

	// SourceFlag indicates the value was passed to ResolveWithFlags.
	SourceFlag Source = "flag"
)
