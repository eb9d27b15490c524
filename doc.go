// Package promptly loads and renders prompt templates written in a
// Jinja-style template language.
//
// The package is organized into subpackages by concern:
//
//   - prompt: the Loader (render, list, variable detection, builder)
//   - jinja: the template engine (lexer, parser, evaluator, filters)
//   - config: hierarchical settings from files, environment and flags
//   - errors: the error taxonomy and CLI-friendly descriptions
//   - testutil: test fixtures
//
// # Quick Start
//
//	loader, err := promptly.New("prompts", promptly.WithFallback(true))
//	if err != nil {
//	    return err
//	}
//
//	text, err := loader.Render("system/assistant.md", map[string]any{
//	    "name":      "Code Assistant",
//	    "expertise": "Go",
//	})
//
// Rendering is strict: a variable the template reads without a default
// or a defined test must be supplied, otherwise the render fails with an
// error matching ErrUndefinedVariable.
//
// NewLoader builds a loader from the configuration files and PROMPTLY_*
// environment variables instead of explicit arguments.
//
// See individual package documentation for detailed usage.
package promptly
