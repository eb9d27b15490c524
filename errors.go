package promptly

import perrors "github.com/randalmurphal/promptly/errors"

// Sentinel errors, matched with errors.Is.
var (
	ErrInvalidConfig     = perrors.ErrInvalidConfig
	ErrTemplateNotFound  = perrors.ErrTemplateNotFound
	ErrUndefinedVariable = perrors.ErrUndefinedVariable
	ErrTemplateSyntax    = perrors.ErrTemplateSyntax
	ErrRender            = perrors.ErrRender
	ErrInvalidPattern    = perrors.ErrInvalidPattern
)

// Error types, matched with errors.As.
type (
	ConfigError    = perrors.ConfigError
	NotFoundError  = perrors.NotFoundError
	UndefinedError = perrors.UndefinedError
	SyntaxError    = perrors.SyntaxError
	RenderError    = perrors.RenderError
)
