package prompt

import "context"

type loaderContextKey struct{}

// WithLoader adds a Loader to the context.
func WithLoader(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, loaderContextKey{}, l)
}

// FromContext extracts the Loader from the context, or nil.
func FromContext(ctx context.Context) *Loader {
	if l, ok := ctx.Value(loaderContextKey{}).(*Loader); ok {
		return l
	}
	return nil
}

// MustFromContext extracts the Loader or panics.
func MustFromContext(ctx context.Context) *Loader {
	l := FromContext(ctx)
	if l == nil {
		panic("promptly/prompt: Loader not found in context")
	}
	return l
}
