// Package errors defines the failure kinds reported by the prompt loader and
// its template engine.
//
// Core types:
//   - ConfigError: an invalid prompts directory or configuration value
//   - NotFoundError: a template reference that resolves to no file
//   - UndefinedError: a template used a variable nobody bound
//   - SyntaxError: malformed template markup
//   - RenderError: a runtime type error while executing a template
//   - CLIError: wraps any of the above with a message and a suggestion
//
// Each typed error unwraps to a sentinel, so callers can match either way:
//
//	out, err := loader.Render("tasks/review.md", vars)
//	if errors.Is(err, perrors.ErrUndefinedVariable) {
//	    // a binding is missing
//	}
//
//	var nf *perrors.NotFoundError
//	if errors.As(err, &nf) {
//	    fmt.Println("looked in:", nf.Tried)
//	}
//
// Host applications that print errors to people can use Describe:
//
//	fmt.Fprintln(os.Stderr, perrors.Describe(err))
package errors
