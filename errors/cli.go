package errors

import (
	"errors"
	"fmt"
	"strings"
)

// CLIError wraps an error with user-friendly context and suggestions.
type CLIError struct {
	// Err is the underlying error
	Err error

	// Message is a user-friendly description of what went wrong
	Message string

	// Suggestion is an actionable hint for the user
	Suggestion string

	// Details provides additional context (optional)
	Details string
}

func (e *CLIError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Details)
	}

	if e.Suggestion != "" {
		sb.WriteString("\n\n")
		sb.WriteString(e.Suggestion)
	}

	return sb.String()
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// ErrorMessenger provides customizable error messages.
// Implement this interface to tailor suggestions to your application.
type ErrorMessenger interface {
	// ConfigMessage returns the message and suggestion for configuration errors.
	ConfigMessage(e *ConfigError) (message, suggestion string)

	// NotFoundMessage returns the message and suggestion for missing templates.
	NotFoundMessage(e *NotFoundError) (message, suggestion string)

	// UndefinedMessage returns the message and suggestion for unbound variables.
	UndefinedMessage(e *UndefinedError) (message, suggestion string)

	// SyntaxMessage returns the message and suggestion for malformed templates.
	SyntaxMessage(e *SyntaxError) (message, suggestion string)
}

// DefaultMessenger provides default error messages.
type DefaultMessenger struct{}

func (m DefaultMessenger) ConfigMessage(e *ConfigError) (string, string) {
	if e.Key != "" {
		return fmt.Sprintf("Invalid setting %q.", e.Key),
			"Fix the value in your config file or environment."
	}
	return fmt.Sprintf("Cannot use prompts directory %s.", e.Path),
		"Check that the directory exists and is readable."
}

func (m DefaultMessenger) NotFoundMessage(e *NotFoundError) (string, string) {
	return fmt.Sprintf("Prompt template %q was not found.", e.Name),
		"Template paths are relative to the prompts directory, e.g. \"tasks/code_review.md\"."
}

func (m DefaultMessenger) UndefinedMessage(e *UndefinedError) (string, string) {
	return fmt.Sprintf("Template %q needs a value for %q.", templateName(e.Template), e.Name),
		fmt.Sprintf("Pass %q in the variables, or give it a default: {{ %s|default(\"...\") }}.", e.Name, e.Name)
}

func (m DefaultMessenger) SyntaxMessage(e *SyntaxError) (string, string) {
	return fmt.Sprintf("Template %q has invalid syntax.", templateName(e.Template)),
		"Check that every {{, {% and {# tag is closed and every block has its end tag."
}

// WrapConfig configures error wrapping behavior.
type WrapConfig struct {
	Messenger ErrorMessenger
}

// Option configures WrapConfig.
type Option func(*WrapConfig)

// WithMessenger sets a custom error messenger.
func WithMessenger(m ErrorMessenger) Option {
	return func(c *WrapConfig) {
		c.Messenger = m
	}
}

func getMessenger(opts []Option) ErrorMessenger {
	cfg := &WrapConfig{
		Messenger: DefaultMessenger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg.Messenger
}

// Describe wraps a loader error with a readable message and a suggestion.
// Errors outside the taxonomy are returned unchanged.
func Describe(err error, opts ...Option) error {
	if err == nil {
		return nil
	}

	messenger := getMessenger(opts)

	var (
		cfgErr *ConfigError
		nfErr  *NotFoundError
		udErr  *UndefinedError
		snErr  *SyntaxError
	)

	switch {
	case errors.As(err, &cfgErr):
		msg, suggestion := messenger.ConfigMessage(cfgErr)
		return &CLIError{Err: err, Message: msg, Details: cfgErr.Error(), Suggestion: suggestion}
	case errors.As(err, &nfErr):
		msg, suggestion := messenger.NotFoundMessage(nfErr)
		details := ""
		if len(nfErr.Tried) > 0 {
			details = "Looked in:\n  - " + strings.Join(nfErr.Tried, "\n  - ")
		}
		return &CLIError{Err: err, Message: msg, Details: details, Suggestion: suggestion}
	case errors.As(err, &udErr):
		msg, suggestion := messenger.UndefinedMessage(udErr)
		return &CLIError{Err: err, Message: msg, Details: udErr.Error(), Suggestion: suggestion}
	case errors.As(err, &snErr):
		msg, suggestion := messenger.SyntaxMessage(snErr)
		return &CLIError{Err: err, Message: msg, Details: snErr.Error(), Suggestion: suggestion}
	}

	return err
}
