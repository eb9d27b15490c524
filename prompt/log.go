package prompt

import (
	"log/slog"

	"github.com/randalmurphal/promptly/jinja"
)

// loggingLoader reports template loads. The environment only calls it on a
// cache miss, so each entry is a compile.
type loggingLoader struct {
	next    jinja.Loader
	primary string
	logger  *slog.Logger
}

func (l *loggingLoader) GetSource(name string) (*jinja.Source, error) {
	src, err := l.next.GetSource(name)
	if err != nil {
		return nil, err
	}
	if src.Root != l.primary {
		l.logger.Debug("prompt served from fallback",
			slog.String("name", name),
			slog.String("root", src.Root))
	} else {
		l.logger.Debug("prompt loaded",
			slog.String("name", name),
			slog.String("file", src.Filename))
	}
	return src, nil
}
