package jinja

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/parser"
	"github.com/nikolalohinski/gonja/v2/tokens"

	perrors "github.com/randalmurphal/promptly/errors"
)

// The statements below replace gonja's builtins of the same name. Their
// fields stay visible to the analyzer, includes and imports go through the
// environment's cache with root-relative names, and failures keep their
// typed errors.

// depthKey holds the include depth in the render context. It is not a
// valid identifier, so templates cannot read or shadow it.
const depthKey = "(include depth)"

func (e *Environment) statements() map[string]parser.ControlStructureParser {
	return map[string]parser.ControlStructureParser{
		"include": e.parseInclude,
		"import":  e.parseImport,
		"from":    e.parseFromImport,
		"set":     parseSet,
		"with":    parseWith,
		"filter":  parseFilterBlock,
	}
}

// tagPosition returns the first argument token, which sits on the tag's
// own line.
func tagPosition(p, args *parser.Parser) *tokens.Token {
	if tok := args.Current(); tok != nil && tok.Line > 0 {
		return tok
	}
	return p.Current()
}

type includeStatement struct {
	env           *Environment
	location      *tokens.Token
	template      nodes.Expression
	ignoreMissing bool
	withContext   bool
}

func (s *includeStatement) Position() *tokens.Token { return s.location }

func (s *includeStatement) String() string {
	return fmt.Sprintf("include(%s)", s.template)
}

func (s *includeStatement) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	v := r.Eval(s.template)
	if v.IsError() {
		return fmt.Errorf("evaluate include target: %w", v)
	}
	names, err := templateNames(v)
	if err != nil {
		return err
	}

	depth := renderDepth(r)
	if depth >= maxIncludeDepth {
		return fmt.Errorf("include depth exceeds %d, check for recursive includes", maxIncludeDepth)
	}

	tmpl, err := s.env.firstTemplate(names)
	if err != nil {
		var nf *perrors.NotFoundError
		if s.ignoreMissing && errors.As(err, &nf) {
			return nil
		}
		return err
	}

	sub := r.Inherit()
	if !s.withContext {
		sub.Environment.Context = s.env.exec.Context.Inherit()
	}
	sub.Environment.Context.Set(depthKey, depth+1)

	child := exec.NewRenderer(sub.Environment, r.Output, r.Config.Inherit(), r.Loader, tmpl.compiled)
	if err := child.Execute(); err != nil {
		return renderError(tmpl.name, err)
	}
	return nil
}

func renderDepth(r *exec.Renderer) int {
	v, _ := r.Environment.Context.Get(depthKey)
	depth, _ := v.(int)
	return depth
}

// templateNames accepts a name or a list of candidate names.
func templateNames(v *exec.Value) ([]string, error) {
	if v.IsString() {
		return []string{v.String()}, nil
	}
	if !v.IsList() {
		return nil, fmt.Errorf("expected a template name, got %s", v.String())
	}
	names := make([]string, 0, v.Len())
	for i := range v.Len() {
		item := v.Index(i)
		if !item.IsString() {
			return nil, fmt.Errorf("expected a template name, got %s", item.String())
		}
		names = append(names, item.String())
	}
	return names, nil
}

// firstTemplate returns the first of names that exists.
func (e *Environment) firstTemplate(names []string) (*Template, error) {
	var tried []string
	for _, name := range names {
		t, err := e.GetTemplate(name)
		if err == nil {
			return t, nil
		}
		var nf *perrors.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
		tried = append(tried, nf.Tried...)
	}
	return nil, &perrors.NotFoundError{Name: strings.Join(names, ", "), Tried: tried}
}

func (e *Environment) parseInclude(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	s := &includeStatement{env: e, location: tagPosition(p, args), withContext: true}

	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	s.template = template

	if args.MatchName("ignore") != nil {
		if args.MatchName("missing") == nil {
			return nil, args.Error("Expected 'missing' after 'ignore'.", args.Current())
		}
		s.ignoreMissing = true
	}
	if tok := args.MatchName("with", "without"); tok != nil {
		if args.MatchName("context") == nil {
			return nil, args.Error("Expected 'context'.", args.Current())
		}
		s.withContext = tok.Val == "with"
	}

	if !args.End() {
		return nil, args.Error("Malformed 'include'-tag args.", args.Current())
	}
	return s, nil
}

// importStatement covers both "import x as y" and "from x import a, b as c".
type importStatement struct {
	env      *Environment
	location *tokens.Token
	template nodes.Expression
	alias    string            // import ... as alias
	names    map[string]string // from ... import: alias -> macro name
}

func (s *importStatement) Position() *tokens.Token { return s.location }

func (s *importStatement) String() string {
	return fmt.Sprintf("import(%s)", s.template)
}

func (s *importStatement) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	v := r.Eval(s.template)
	if v.IsError() {
		return fmt.Errorf("evaluate import target: %w", v)
	}
	if !v.IsString() {
		return fmt.Errorf("expected a template name, got %s", v.String())
	}
	tmpl, err := s.env.GetTemplate(v.String())
	if err != nil {
		return err
	}
	macros := tmpl.compiled.Macros()

	if s.alias != "" {
		fns := make(map[string]exec.Macro, len(macros))
		for name, m := range macros {
			fn, err := exec.MacroNodeToFunc(m, r)
			if err != nil {
				return fmt.Errorf("import macro %s: %w", name, err)
			}
			fns[name] = fn
		}
		r.Environment.Context.Set(s.alias, fns)
		return nil
	}

	for alias, name := range s.names {
		m, ok := macros[name]
		if !ok {
			return fmt.Errorf("template '%s' has no macro named '%s'", tmpl.name, name)
		}
		fn, err := exec.MacroNodeToFunc(m, r)
		if err != nil {
			return fmt.Errorf("import macro %s: %w", name, err)
		}
		r.Environment.Context.Set(alias, fn)
	}
	return nil
}

func (e *Environment) parseImport(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	s := &importStatement{env: e, location: tagPosition(p, args)}

	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	s.template = template

	if args.MatchName("as") == nil {
		return nil, args.Error(`Expected "as" keyword.`, args.Current())
	}
	alias := args.Match(tokens.Name)
	if alias == nil {
		return nil, args.Error("Expected an identifier after 'as'.", args.Current())
	}
	s.alias = alias.Val

	skipContextClause(args)
	if !args.End() {
		return nil, args.Error("Malformed 'import'-tag args.", args.Current())
	}
	return s, nil
}

func (e *Environment) parseFromImport(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	s := &importStatement{env: e, location: tagPosition(p, args), names: map[string]string{}}

	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	s.template = template

	if args.MatchName("import") == nil {
		return nil, args.Error(`Expected "import" keyword.`, args.Current())
	}
	for {
		if skipContextClause(args) {
			break
		}
		name := args.Match(tokens.Name)
		if name == nil {
			return nil, args.Error("Expected a macro name.", args.Current())
		}
		alias := name
		if args.MatchName("as") != nil {
			if alias = args.Match(tokens.Name); alias == nil {
				return nil, args.Error("Expected an identifier after 'as'.", args.Current())
			}
		}
		s.names[alias.Val] = name.Val
		if args.Match(tokens.Comma) == nil {
			skipContextClause(args)
			break
		}
	}

	if len(s.names) == 0 {
		return nil, args.Error("Expected at least one macro to import.", args.Current())
	}
	if !args.End() {
		return nil, args.Error("Malformed 'from'-tag args.", args.Current())
	}
	return s, nil
}

// skipContextClause consumes a trailing "with context" or "without
// context". Imported macros always see the importing context.
func skipContextClause(args *parser.Parser) bool {
	if args.CurrentName("with", "without") == nil || args.Peek(tokens.Name) == nil || args.Peek().Val != "context" {
		return false
	}
	args.Consume()
	args.Consume()
	return true
}

type setStatement struct {
	location    *tokens.Token
	targets     []nodes.Expression
	value       nodes.Expression
	condition   nodes.Expression
	alternative nodes.Expression
	body        *nodes.Wrapper      // block form
	filters     []*nodes.FilterCall // block form
}

func (s *setStatement) Position() *tokens.Token { return s.location }

func (s *setStatement) String() string {
	return fmt.Sprintf("set(%v)", s.targets)
}

func (s *setStatement) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	value, err := s.evaluate(r)
	if err != nil {
		return err
	}

	if len(s.targets) == 1 {
		return assign(r, s.targets[0], value)
	}
	if !value.IsList() || value.Len() != len(s.targets) {
		return fmt.Errorf("cannot unpack %s into %d names", value.String(), len(s.targets))
	}
	for i, target := range s.targets {
		if err := assign(r, target, value.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *setStatement) evaluate(r *exec.Renderer) (*exec.Value, error) {
	if s.body != nil {
		var buf bytes.Buffer
		sub := r.Inherit()
		sub.Output = &buf
		if err := sub.ExecuteWrapper(s.body); err != nil {
			return nil, err
		}
		value := exec.AsSafeValue(buf.String())
		for _, call := range s.filters {
			value = r.Evaluator().ExecuteFilter(call, value)
			if value.IsError() {
				return nil, fmt.Errorf("apply filter %s: %w", call.Name, value)
			}
		}
		return value, nil
	}

	expr := s.value
	if s.condition != nil {
		cond := r.Eval(s.condition)
		if cond.IsError() {
			return nil, cond
		}
		if !cond.IsTrue() {
			expr = s.alternative
		}
	}
	value := r.Eval(expr)
	if value.IsError() {
		return nil, value
	}
	return value, nil
}

func assign(r *exec.Renderer, target nodes.Expression, value *exec.Value) error {
	switch t := target.(type) {
	case *nodes.Name:
		r.Environment.Context.Set(t.Name.Val, value.Interface())
		return nil
	case *nodes.GetAttribute:
		obj := r.Eval(t.Node)
		if obj.IsError() {
			return fmt.Errorf("evaluate %s: %w", t.Node, obj)
		}
		return obj.Set(exec.AsValue(t.Attribute), value.Interface())
	case *nodes.GetItem:
		obj := r.Eval(t.Node)
		if obj.IsError() {
			return fmt.Errorf("evaluate %s: %w", t.Node, obj)
		}
		key := r.Eval(t.Arg)
		if key.IsError() {
			return fmt.Errorf("evaluate %s: %w", t.Arg, key)
		}
		return obj.Set(key, value.Interface())
	}
	return fmt.Errorf("cannot assign to %s", target)
}

func parseSet(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	s := &setStatement{location: tagPosition(p, args)}

	target, err := args.ParseVariableOrLiteral()
	if err != nil {
		return nil, err
	}
	switch target.(type) {
	case *nodes.Name, *nodes.GetAttribute, *nodes.GetItem:
	default:
		return nil, args.Error(fmt.Sprintf("Cannot assign to %s.", target), target.Position())
	}
	s.targets = []nodes.Expression{target}
	for args.Match(tokens.Comma) != nil {
		name := args.Match(tokens.Name)
		if name == nil {
			return nil, args.Error("Expected an identifier after ','.", args.Current())
		}
		s.targets = append(s.targets, &nodes.Name{Name: name})
	}
	if len(s.targets) > 1 {
		if _, ok := target.(*nodes.Name); !ok {
			return nil, args.Error("Only plain names can be unpacked into.", target.Position())
		}
	}

	if args.Match(tokens.Assign) == nil {
		if len(s.targets) > 1 {
			return nil, args.Error("Expected '='.", args.Current())
		}
		for args.Match(tokens.Pipe) != nil {
			call, err := args.ParseFilter()
			if err != nil {
				return nil, err
			}
			s.filters = append(s.filters, call)
		}
		if !args.End() {
			return nil, args.Error("Expected '=' or end of tag.", args.Current())
		}
		body, endargs, err := p.WrapUntil("endset")
		if err != nil {
			return nil, err
		}
		if !endargs.End() {
			return nil, endargs.Error("'endset' takes no arguments.", endargs.Current())
		}
		s.body = body
		return s, nil
	}

	if s.value, err = args.ParseExpression(); err != nil {
		return nil, err
	}
	s.condition, s.alternative, err = args.ParseCondition()
	if err != nil {
		return nil, err
	}
	if s.condition != nil && s.alternative == nil {
		return nil, args.Error("Expected 'else' in conditional 'set'.", args.Current())
	}
	if !args.End() {
		return nil, args.Error("Malformed 'set'-tag args.", args.Current())
	}
	return s, nil
}

type withStatement struct {
	location *tokens.Token
	names    []string
	values   []nodes.Expression
	body     *nodes.Wrapper
}

func (s *withStatement) Position() *tokens.Token { return s.location }

func (s *withStatement) String() string {
	return fmt.Sprintf("with(%s)", strings.Join(s.names, ", "))
}

func (s *withStatement) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	sub := r.Inherit()
	for i, name := range s.names {
		v := r.Eval(s.values[i])
		if v.IsError() {
			return fmt.Errorf("evaluate %s: %w", name, v)
		}
		sub.Environment.Context.Set(name, v.Interface())
	}
	return sub.ExecuteWrapper(s.body)
}

func parseWith(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	s := &withStatement{location: tagPosition(p, args)}

	for !args.End() {
		name := args.Match(tokens.Name)
		if name == nil {
			return nil, args.Error("Expected an identifier.", args.Current())
		}
		if args.Match(tokens.Assign) == nil {
			return nil, args.Error("Expected '='.", args.Current())
		}
		value, err := args.ParseExpression()
		if err != nil {
			return nil, err
		}
		s.names = append(s.names, name.Val)
		s.values = append(s.values, value)
		if args.Match(tokens.Comma) == nil {
			break
		}
	}
	if !args.End() {
		return nil, args.Error("Malformed 'with'-tag args.", args.Current())
	}

	body, endargs, err := p.WrapUntil("endwith")
	if err != nil {
		return nil, err
	}
	if !endargs.End() {
		return nil, endargs.Error("'endwith' takes no arguments.", endargs.Current())
	}
	s.body = body
	return s, nil
}

type filterBlock struct {
	location *tokens.Token
	filters  []*nodes.FilterCall
	body     *nodes.Wrapper
}

func (s *filterBlock) Position() *tokens.Token { return s.location }

func (s *filterBlock) String() string {
	names := make([]string, len(s.filters))
	for i, f := range s.filters {
		names[i] = f.Name
	}
	return fmt.Sprintf("filter(%s)", strings.Join(names, "|"))
}

func (s *filterBlock) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	var buf strings.Builder
	sub := r.Inherit()
	sub.Output = &buf
	if err := sub.ExecuteWrapper(s.body); err != nil {
		return err
	}

	value := exec.AsValue(buf.String())
	for _, call := range s.filters {
		value = r.Evaluator().ExecuteFilter(call, value)
		if value.IsError() {
			return fmt.Errorf("apply filter %s: %w", call.Name, value)
		}
	}
	_, err := io.WriteString(r.Output, value.String())
	return err
}

func parseFilterBlock(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	s := &filterBlock{location: tagPosition(p, args)}

	for !args.End() {
		call, err := args.ParseFilter()
		if err != nil {
			return nil, err
		}
		s.filters = append(s.filters, call)
		if args.Match(tokens.Pipe) == nil {
			break
		}
	}
	if len(s.filters) == 0 || !args.End() {
		return nil, args.Error("Malformed 'filter'-tag args.", args.Current())
	}

	body, _, err := p.WrapUntil("endfilter")
	if err != nil {
		return nil, err
	}
	s.body = body
	return s, nil
}
