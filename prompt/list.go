package prompt

import (
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	perrors "github.com/randalmurphal/promptly/errors"
)

// DefaultPattern matches every file.
const DefaultPattern = "**"

// List returns the templates in the primary directory whose relative path
// matches pattern, sorted and slash-separated. An empty pattern lists
// everything. The fallback root is never listed.
//
// Pattern syntax: "*" and "?" stay within one path segment, "**" crosses
// segments, and "**/" also matches no directory at all, so "**/*.md"
// includes top-level files. Braces and character classes are supported.
func (l *Loader) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matchers, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	fsys := l.listRoot.FS
	matches := []string{}
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectories are skipped, not fatal.
			l.logger.Debug("skipping unreadable path",
				slog.String("path", p),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() && p != "." {
				return fs.SkipDir
			}
			return nil
		}
		if p == "." || d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := fs.Stat(fsys, p)
			if err != nil || info.IsDir() {
				return nil
			}
		}
		for _, m := range matchers {
			if m.Match(p) {
				matches = append(matches, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list prompts in %s: %w", l.listRoot.Label, err)
	}

	sort.Strings(matches)
	return matches, nil
}

// compilePattern compiles every expansion of pattern.
func compilePattern(pattern string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, p := range expandDoubleStar(pattern) {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", perrors.ErrInvalidPattern, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// expandDoubleStar returns pattern plus every variant with one or more "**/"
// segments removed. gobwas/glob requires "**/" to match at least a
// separator; removing the segment covers the zero-directory case.
func expandDoubleStar(pattern string) []string {
	seen := map[string]bool{pattern: true}
	out := []string{pattern}
	for i := 0; i < len(out); i++ {
		p := out[i]
		for idx := 0; ; {
			j := strings.Index(p[idx:], "**/")
			if j < 0 {
				break
			}
			j += idx
			if j == 0 || p[j-1] == '/' {
				v := p[:j] + p[j+3:]
				if !seen[v] {
					seen[v] = true
					out = append(out, v)
				}
			}
			idx = j + 3
		}
	}
	return out
}
