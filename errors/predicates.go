package errors

import "errors"

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsNotFound reports whether err is a missing template.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsUndefined reports whether err is an unbound variable.
func IsUndefined(err error) bool {
	return errors.Is(err, ErrUndefinedVariable)
}

// IsSyntaxError reports whether err is malformed template markup.
func IsSyntaxError(err error) bool {
	return errors.Is(err, ErrTemplateSyntax)
}

// IsRenderError reports whether err is a runtime template failure.
func IsRenderError(err error) bool {
	return errors.Is(err, ErrRender)
}
