// Package prompt loads and renders Jinja-style prompt templates.
//
// Core types:
//   - Loader: resolves template names against a prompts directory, with an
//     optional fallback to the bundled prompt library
//   - Builder: assembles a prompt from sections, lists, files and includes
//
// Example usage:
//
//	loader, err := prompt.New(".promptly/prompts", prompt.WithFallback(true))
//	if err != nil {
//	    return err
//	}
//	text, err := loader.Render("tasks/code_review.md", map[string]any{
//	    "language": "Go",
//	    "code":     src,
//	})
//
// Rendering is strict: a variable the template reads but the caller does not
// supply fails with *errors.UndefinedError unless the template gives it a
// default. Variables reports which names a template expects:
//
//	names, err := loader.Variables("tasks/code_review.md")
//
// Templates are compiled once and cached. The cache notices edited files, so
// long-running processes see changes without a restart.
package prompt
