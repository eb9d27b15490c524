package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per failure kind.
var (
	// ErrInvalidConfig indicates a prompts directory or setting is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTemplateNotFound indicates a template reference matched no file.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrUndefinedVariable indicates a template used an unbound variable.
	ErrUndefinedVariable = errors.New("undefined variable")

	// ErrTemplateSyntax indicates malformed template markup.
	ErrTemplateSyntax = errors.New("template syntax error")

	// ErrRender indicates a runtime failure while executing a template,
	// such as iterating over a number.
	ErrRender = errors.New("template render error")

	// ErrInvalidPattern indicates a glob pattern could not be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// ConfigError reports an unusable prompts directory or configuration value.
type ConfigError struct {
	Path   string // Offending path, absolute when it could be resolved
	Key    string // Configuration key, empty for directory errors
	Reason string // What is wrong
	Err    error  // Underlying error, may be nil
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Reason)
	switch {
	case e.Key != "" && e.Path != "":
		fmt.Fprintf(&sb, ": %s (%s)", e.Key, e.Path)
	case e.Key != "":
		fmt.Fprintf(&sb, ": %s", e.Key)
	case e.Path != "":
		fmt.Fprintf(&sb, ": %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}

// NotFoundError reports a template reference that resolved to no file.
type NotFoundError struct {
	Name   string   // Template reference as given by the caller
	Tried  []string // Locations that were checked, in order
	Reason string   // Set when the reference itself is unusable
}

func (e *NotFoundError) Error() string {
	msg := "prompt template not found: " + e.Name
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if len(e.Tried) > 0 {
		msg += "\nexpected location: " + strings.Join(e.Tried, ", ")
	}
	return msg
}

func (e *NotFoundError) Unwrap() error {
	return ErrTemplateNotFound
}

// UndefinedError reports a variable that was used while unbound.
type UndefinedError struct {
	Name     string // Variable or attribute name
	Template string // Template where the use happened
	Line     int    // 1-based line, 0 when unknown
	Hint     string // Engine description, e.g. "'dict object' has no attribute 'x'"
}

func (e *UndefinedError) Error() string {
	detail := e.Hint
	if detail == "" {
		detail = fmt.Sprintf("'%s' is undefined", e.Name)
	}
	if e.Line > 0 {
		return fmt.Sprintf("missing required variable in template '%s' (line %d): %s",
			templateName(e.Template), e.Line, detail)
	}
	return fmt.Sprintf("missing required variable in template '%s': %s",
		templateName(e.Template), detail)
}

func (e *UndefinedError) Unwrap() error {
	return ErrUndefinedVariable
}

// SyntaxError reports malformed template markup.
type SyntaxError struct {
	Template string
	Line     int // 1-based
	Column   int // 1-based, 0 when unknown
	Message  string
}

func (e *SyntaxError) Error() string {
	loc := templateName(e.Template)
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("template syntax error in %s: %s", loc, e.Message)
}

func (e *SyntaxError) Unwrap() error {
	return ErrTemplateSyntax
}

// RenderError reports a runtime failure that is not an undefined variable.
type RenderError struct {
	Template string
	Line     int
	Message  string
}

func (e *RenderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("render %s (line %d): %s", templateName(e.Template), e.Line, e.Message)
	}
	return fmt.Sprintf("render %s: %s", templateName(e.Template), e.Message)
}

func (e *RenderError) Unwrap() error {
	return ErrRender
}

func templateName(name string) string {
	if name == "" {
		return "<string>"
	}
	return name
}
