package jinja

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/parser"

	perrors "github.com/randalmurphal/promptly/errors"
)

// gonja reports failures as wrapped strings, and flattens errors that
// pass through a filter. These patterns recover the undefined name and the
// template line from them.
var (
	undefinedName = regexp.MustCompile(`Unable to evaluate name "([^"]+)"`)
	undefinedAttr = regexp.MustCompile(`Unable to evaluate (\S+): attribute '([^']+)' not found`)
	undefinedItem = regexp.MustCompile(`unable to evaluate (\S+?)\[\S*\]: item '+(.+?)'+ not found`)
	operatorCall  = regexp.MustCompile(`invalid call to filter '\(\*{0,2}[+-]?\)': `)
	atLine        = regexp.MustCompile(`^Unable to (?:render expression|render condition|evaluation condition as boolean|execute controlStructure) at line (\d+)`)
)

// chain lists err and everything it wraps, outermost first. gonja's
// *exec.Value carries errors without an Unwrap method.
func chain(err error) []error {
	var out []error
	for err != nil && len(out) < 512 {
		out = append(out, err)
		if v, ok := err.(*exec.Value); ok {
			inner, _ := v.Interface().(error)
			err = inner
			continue
		}
		err = errors.Unwrap(err)
	}
	return out
}

// typed returns the first error in errs that is already one of ours.
func typed(errs []error) error {
	for _, err := range errs {
		switch err.(type) {
		case *perrors.NotFoundError, *perrors.UndefinedError, *perrors.SyntaxError, *perrors.RenderError:
			return err
		}
	}
	return nil
}

// compileError maps a gonja parse failure onto the error taxonomy.
func compileError(name string, src *sourceLoader, err error) error {
	errs := chain(err)
	if t := typed(errs); t != nil {
		return t
	}
	if src.err != nil {
		if t := typed(chain(src.err)); t != nil {
			return t
		}
	}

	for _, e := range errs {
		var syn *parser.SyntaxError
		if errors.As(e, &syn) {
			return &perrors.SyntaxError{Template: name, Line: syn.Line, Column: syn.Column, Message: syn.Message}
		}
	}
	return &perrors.SyntaxError{Template: name, Message: errs[len(errs)-1].Error()}
}

// renderError maps a gonja render failure onto the error taxonomy. The
// line is taken from the innermost node that reported one.
func renderError(name string, err error) error {
	errs := chain(err)
	if t := typed(errs); t != nil {
		return t
	}

	line := 0
	for _, e := range errs {
		if m := atLine.FindStringSubmatch(e.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
	}

	root := operatorCall.ReplaceAllString(errs[len(errs)-1].Error(), "")
	if m := undefinedName.FindStringSubmatch(root); m != nil {
		return &perrors.UndefinedError{Name: m[1], Template: name, Line: line}
	}
	if m := undefinedAttr.FindStringSubmatch(root); m != nil {
		obj := strings.TrimSuffix(m[1], "."+m[2])
		return &perrors.UndefinedError{Name: m[2], Template: name, Line: line,
			Hint: "'" + obj + "' has no attribute '" + m[2] + "'"}
	}
	if m := undefinedItem.FindStringSubmatch(root); m != nil {
		key := m[2]
		return &perrors.UndefinedError{Name: key, Template: name, Line: line,
			Hint: "'" + m[1] + "' has no item '" + key + "'"}
	}
	return &perrors.RenderError{Template: name, Line: line, Message: root}
}
