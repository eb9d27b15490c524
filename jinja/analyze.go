package jinja

import (
	"fmt"
	"maps"
	"slices"

	cs "github.com/nikolalohinski/gonja/v2/builtins/control_structures"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/tokens"

	perrors "github.com/randalmurphal/promptly/errors"
)

// children returns the direct sub-nodes of n in source order. Keyword
// arguments are visited sorted by name.
func children(n nodes.Node) []nodes.Node {
	var out []nodes.Node
	add := func(ns ...nodes.Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	addExprs := func(es []nodes.Expression) {
		for _, e := range es {
			add(e)
		}
	}
	addKwargs := func(kw map[string]nodes.Expression) {
		for _, k := range slices.Sorted(maps.Keys(kw)) {
			add(kw[k])
		}
	}
	addWrapper := func(w *nodes.Wrapper) {
		if w != nil {
			add(w)
		}
	}

	switch n := n.(type) {
	case *nodes.Output:
		add(n.Expression, n.Condition, n.Alternative)
	case *nodes.FilteredExpression:
		add(n.Expression)
		for _, f := range n.Filters {
			addExprs(f.Args)
			addKwargs(f.Kwargs)
		}
	case *nodes.TestExpression:
		add(n.Expression)
		if n.Test != nil {
			addExprs(n.Test.Args)
			addKwargs(n.Test.Kwargs)
		}
	case *nodes.List:
		addExprs(n.Val)
	case *nodes.Tuple:
		addExprs(n.Val)
	case *nodes.Dict:
		for _, p := range n.Pairs {
			add(p.Key, p.Value)
		}
	case *nodes.Call:
		add(n.Func)
		addExprs(n.Args)
		addKwargs(n.Kwargs)
	case *nodes.GetItem:
		add(n.Node, n.Arg)
	case *nodes.GetSlice:
		add(n.Node, n.Start, n.End, n.Step)
	case *nodes.GetAttribute:
		add(n.Node)
	case *nodes.Negation:
		add(n.Term)
	case *nodes.UnaryExpression:
		add(n.Term)
	case *nodes.BinaryExpression:
		add(n.Left, n.Right)
	case *nodes.Wrapper:
		add(n.Nodes...)
	case *nodes.ControlStructureBlock:
		add(n.ControlStructure)

	case *cs.IfControlStructure:
		for i, cond := range n.Conditions {
			add(cond)
			if i < len(n.Wrappers) {
				addWrapper(n.Wrappers[i])
			}
		}
		if len(n.Wrappers) > len(n.Conditions) {
			addWrapper(n.Wrappers[len(n.Wrappers)-1])
		}
	case *cs.ForControlStructure:
		add(n.ObjectEvaluator, n.IfCondition)
		addWrapper(n.BodyWrapper)
		addWrapper(n.EmptyWrapper)
	case *cs.MacroControlStructure:
		for _, p := range n.Kwargs {
			add(p.Value)
		}
		addWrapper(n.Wrapper)
	case *cs.CallControlStructure:
		if n.Call != nil {
			add(n.Call)
		}
		addWrapper(n.Body)
	case *cs.DoControlStructure:
		add(n.Expression)
	case *cs.AutoescapeControlStructure:
		addWrapper(n.Wrapper)
	case *cs.TransControlStructure:
		addKwargs(n.Variables)
		addWrapper(n.SingularBody)
		addWrapper(n.PluralBody)

	case *includeStatement:
		add(n.template)
	case *importStatement:
		add(n.template)
	case *setStatement:
		addExprs(n.targets)
		add(n.value, n.condition, n.alternative)
		addWrapper(n.body)
		for _, f := range n.filters {
			addExprs(f.Args)
			addKwargs(f.Kwargs)
		}
	case *withStatement:
		addExprs(n.values)
		addWrapper(n.body)
	case *filterBlock:
		for _, f := range n.filters {
			addExprs(f.Args)
			addKwargs(f.Kwargs)
		}
		addWrapper(n.body)
	}
	return out
}

// inspect calls fn for n and everything below it, depth first.
func inspect(n nodes.Node, fn func(nodes.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range children(n) {
		inspect(c, fn)
	}
}

// templateNodes lists the top-level nodes of root followed by its block
// bodies, which the parser keeps out of the main node list.
func templateNodes(root *nodes.Template) []nodes.Node {
	out := slices.Clone(root.Nodes)
	for _, name := range slices.Sorted(maps.Keys(root.Blocks)) {
		if w := root.Blocks[name]; w != nil {
			out = append(out, w)
		}
	}
	return out
}

// lowerTemplate rewrites + - * and ** into calls of the operator filters,
// in root and every template it extends.
func lowerTemplate(root *nodes.Template) {
	seen := map[*nodes.Template]bool{}
	for t := root; t != nil && !seen[t]; t = t.Parent {
		seen[t] = true
		for _, n := range templateNodes(t) {
			lower(n)
		}
	}
}

// lower rewrites the tree below n in place and returns the node that
// replaces n itself. Only binary expressions are replaced.
func lower(n nodes.Node) nodes.Node {
	switch n := n.(type) {
	case nil:
		return nil
	case *nodes.BinaryExpression:
		n.Left = lower(n.Left)
		n.Right = lower(n.Right)
		if n.Operator == nil || n.Operator.Token == nil {
			return n
		}
		name, ok := operatorFilters[n.Operator.Token.Type]
		if !ok {
			return n
		}
		return &nodes.FilteredExpression{
			Expression: n.Left,
			Filters: []*nodes.FilterCall{{
				Token:  n.Operator.Token,
				Name:   name,
				Args:   []nodes.Expression{n.Right},
				Kwargs: map[string]nodes.Expression{},
			}},
		}
	case *nodes.Output:
		n.Expression = lower(n.Expression)
		n.Condition = lowerExpr(n.Condition)
		n.Alternative = lowerExpr(n.Alternative)
	case *nodes.FilteredExpression:
		n.Expression = lower(n.Expression)
		for _, f := range n.Filters {
			lowerArgs(f.Args, f.Kwargs)
		}
	case *nodes.TestExpression:
		n.Expression = lower(n.Expression)
		if n.Test != nil {
			lowerArgs(n.Test.Args, n.Test.Kwargs)
		}
	case *nodes.List:
		lowerArgs(n.Val, nil)
	case *nodes.Tuple:
		lowerArgs(n.Val, nil)
	case *nodes.Dict:
		for _, p := range n.Pairs {
			p.Key = lower(p.Key)
			p.Value = lower(p.Value)
		}
	case *nodes.Call:
		n.Func = lower(n.Func)
		lowerArgs(n.Args, n.Kwargs)
		// Method calls evaluate their receiver through Parent.
		if attr, ok := n.Func.(*nodes.GetAttribute); ok && n.Parent != nil {
			n.Parent = attr.Node
		}
	case *nodes.GetItem:
		n.Node = lower(n.Node)
		n.Arg = lower(n.Arg)
	case *nodes.GetSlice:
		n.Node = lower(n.Node)
		n.Start = lower(n.Start)
		n.End = lower(n.End)
		n.Step = lower(n.Step)
	case *nodes.GetAttribute:
		n.Node = lower(n.Node)
	case *nodes.Negation:
		n.Term = lower(n.Term)
	case *nodes.UnaryExpression:
		n.Term = lower(n.Term)
	case *nodes.Wrapper:
		lowerWrapper(n)
	case *nodes.ControlStructureBlock:
		lower(n.ControlStructure)

	case *cs.IfControlStructure:
		lowerArgs(n.Conditions, nil)
		for _, w := range n.Wrappers {
			lowerWrapper(w)
		}
	case *cs.ForControlStructure:
		n.ObjectEvaluator = lowerExpr(n.ObjectEvaluator)
		n.IfCondition = lowerExpr(n.IfCondition)
		lowerWrapper(n.BodyWrapper)
		lowerWrapper(n.EmptyWrapper)
	case *cs.MacroControlStructure:
		for _, p := range n.Kwargs {
			p.Value = lower(p.Value)
		}
		lowerWrapper(n.Wrapper)
	case *cs.CallControlStructure:
		if n.Call != nil {
			lower(n.Call)
		}
		lowerWrapper(n.Body)
	case *cs.DoControlStructure:
		n.Expression = lowerExpr(n.Expression)
	case *cs.AutoescapeControlStructure:
		lowerWrapper(n.Wrapper)
	case *cs.TransControlStructure:
		lowerArgs(nil, n.Variables)
		lowerWrapper(n.SingularBody)
		lowerWrapper(n.PluralBody)

	case *includeStatement:
		n.template = lowerExpr(n.template)
	case *importStatement:
		n.template = lowerExpr(n.template)
	case *setStatement:
		lowerArgs(n.targets, nil)
		n.value = lowerExpr(n.value)
		n.condition = lowerExpr(n.condition)
		n.alternative = lowerExpr(n.alternative)
		lowerWrapper(n.body)
		for _, f := range n.filters {
			lowerArgs(f.Args, f.Kwargs)
		}
	case *withStatement:
		lowerArgs(n.values, nil)
		lowerWrapper(n.body)
	case *filterBlock:
		for _, f := range n.filters {
			lowerArgs(f.Args, f.Kwargs)
		}
		lowerWrapper(n.body)
	}
	return n
}

func lowerExpr(e nodes.Expression) nodes.Expression {
	if e == nil {
		return nil
	}
	return lower(e)
}

func lowerArgs(args []nodes.Expression, kwargs map[string]nodes.Expression) {
	for i, a := range args {
		args[i] = lowerExpr(a)
	}
	for k, v := range kwargs {
		kwargs[k] = lowerExpr(v)
	}
}

func lowerWrapper(w *nodes.Wrapper) {
	if w == nil {
		return
	}
	for i, n := range w.Nodes {
		w.Nodes[i] = lower(n)
	}
}

// checkNames rejects filters and tests the environment does not know, at
// compile time as Jinja does.
func (e *Environment) checkNames(name string, root *nodes.Template) error {
	var err error
	seen := map[*nodes.Template]bool{}
	for t := root; t != nil && !seen[t] && err == nil; t = t.Parent {
		seen[t] = true
		tmplName := name
		if t != root {
			tmplName = t.Identifier
		}
		check := func(filters []*nodes.FilterCall) {
			for _, f := range filters {
				if err == nil && !e.exec.Filters.Exists(f.Name) {
					err = unknownName(tmplName, "filter", f.Name, f.Token)
				}
			}
		}
		for _, n := range templateNodes(t) {
			inspect(n, func(n nodes.Node) {
				switch n := n.(type) {
				case *nodes.FilteredExpression:
					check(n.Filters)
				case *setStatement:
					check(n.filters)
				case *filterBlock:
					check(n.filters)
				case *nodes.TestExpression:
					if err == nil && n.Test != nil && !e.exec.Tests.Exists(n.Test.Name) {
						err = unknownName(tmplName, "test", n.Test.Name, n.Test.Token)
					}
				}
			})
		}
	}
	return err
}

func unknownName(template, kind, name string, tok *tokens.Token) error {
	err := &perrors.SyntaxError{Template: template, Message: fmt.Sprintf("no %s named '%s'", kind, name)}
	if tok != nil {
		err.Line, err.Column = tok.Line, tok.Col
	}
	return err
}

// Include is a statically known include target.
type Include struct {
	Names         []string
	IgnoreMissing bool
}

// UndeclaredVariables returns the sorted names the template reads but
// neither sets nor gets from the environment's globals. Includes and
// extended templates are not followed. Like Jinja's
// meta.find_undeclared_variables, a name guarded by "is defined" or
// "|default" is still reported.
func (t *Template) UndeclaredVariables() []string {
	t.analyze()
	return t.variables
}

// Includes returns the include statements whose target is a string or a
// list of strings, in source order.
func (t *Template) Includes() []Include {
	t.analyze()
	return t.includes
}

func (t *Template) analyze() {
	t.analyzeOnce.Do(func() {
		root := t.compiled.Root()

		a := &analyzer{env: t.env, found: map[string]bool{}}
		top := scope{"self": true}
		a.body(root.Nodes, top)
		// Block bodies live outside the node list. They are analyzed with
		// every top-level name bound, wherever the block sits.
		for _, name := range slices.Sorted(maps.Keys(root.Blocks)) {
			if w := root.Blocks[name]; w != nil {
				a.body(w.Nodes, top.with("super"))
			}
		}
		t.variables = slices.Sorted(maps.Keys(a.found))
		if t.variables == nil {
			t.variables = []string{}
		}

		for _, n := range templateNodes(root) {
			inspect(n, func(n nodes.Node) {
				if inc, ok := n.(*includeStatement); ok {
					if names := literalNames(inc.template); names != nil {
						t.includes = append(t.includes, Include{Names: names, IgnoreMissing: inc.ignoreMissing})
					}
				}
			})
		}
	})
}

// literalNames returns the names of a constant include target.
func literalNames(e nodes.Expression) []string {
	var items []nodes.Expression
	switch e := e.(type) {
	case *nodes.String:
		return []string{e.Val}
	case *nodes.List:
		items = e.Val
	case *nodes.Tuple:
		items = e.Val
	default:
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(*nodes.String)
		if !ok {
			return nil
		}
		names = append(names, s.Val)
	}
	return names
}

type scope map[string]bool

func (s scope) with(names ...string) scope {
	out := maps.Clone(s)
	for _, n := range names {
		if n != "" {
			out[n] = true
		}
	}
	return out
}

type analyzer struct {
	env   *Environment
	found map[string]bool
}

func (a *analyzer) body(ns []nodes.Node, bound scope) {
	for _, n := range ns {
		a.node(n, bound)
	}
}

func (a *analyzer) wrapper(w *nodes.Wrapper, bound scope) {
	if w != nil {
		a.body(w.Nodes, bound)
	}
}

// expr records every free name read by n.
func (a *analyzer) expr(n nodes.Node, bound scope) {
	inspect(n, func(n nodes.Node) {
		if name, ok := n.(*nodes.Name); ok {
			a.use(name.Name.Val, bound)
		}
	})
}

func (a *analyzer) use(name string, bound scope) {
	if !bound[name] && !a.env.IsGlobal(name) {
		a.found[name] = true
	}
}

// node analyzes one statement-level node. Names it binds are added to
// bound, which is why bound is shared with the caller.
func (a *analyzer) node(n nodes.Node, bound scope) {
	switch n := n.(type) {
	case *nodes.Output:
		a.expr(n, bound)
	case *nodes.ControlStructureBlock:
		a.statement(n.ControlStructure, bound)
	}
}

func (a *analyzer) statement(s nodes.ControlStructure, bound scope) {
	switch s := s.(type) {
	case *cs.IfControlStructure:
		var branches []scope
		for i, cond := range s.Conditions {
			a.expr(cond, bound)
			branch := bound.with()
			if i < len(s.Wrappers) {
				a.wrapper(s.Wrappers[i], branch)
			}
			branches = append(branches, branch)
		}
		elseBranch := bound.with()
		if len(s.Wrappers) > len(s.Conditions) {
			a.wrapper(s.Wrappers[len(s.Wrappers)-1], elseBranch)
		}
		branches = append(branches, elseBranch)
		// Only names set on every path stay bound after the if.
		for name := range branches[0] {
			every := true
			for _, b := range branches[1:] {
				every = every && b[name]
			}
			if every {
				bound[name] = true
			}
		}

	case *cs.ForControlStructure:
		a.expr(s.ObjectEvaluator, bound)
		inner := bound.with(s.Key, s.Value)
		if s.IfCondition != nil {
			a.expr(s.IfCondition, inner)
		}
		a.wrapper(s.BodyWrapper, inner.with("loop"))
		a.wrapper(s.EmptyWrapper, bound.with())

	case *cs.MacroControlStructure:
		inner := bound.with(s.VarArgsName, s.KwArgsName, "caller", "varargs", "kwargs")
		for _, p := range s.Kwargs {
			if _, ok := p.Value.(*nodes.Error); !ok {
				a.expr(p.Value, bound)
			}
			if key, ok := p.Key.(*nodes.String); ok {
				inner[key.Val] = true
			}
		}
		a.wrapper(s.Wrapper, inner)
		bound[s.Name] = true

	case *cs.CallControlStructure:
		if s.Call != nil {
			a.expr(s.Call, bound)
		}
		a.wrapper(s.Body, bound.with())

	case *cs.DoControlStructure:
		a.expr(s.Expression, bound)

	case *cs.AutoescapeControlStructure:
		a.wrapper(s.Wrapper, bound)

	case *cs.TransControlStructure:
		names := make([]string, 0, len(s.Variables))
		for _, name := range slices.Sorted(maps.Keys(s.Variables)) {
			a.expr(s.Variables[name], bound)
			names = append(names, name)
		}
		inner := bound.with(names...)
		a.wrapper(s.SingularBody, inner)
		a.wrapper(s.PluralBody, inner)

	case *includeStatement:
		a.expr(s.template, bound)

	case *importStatement:
		a.expr(s.template, bound)
		if s.alias != "" {
			bound[s.alias] = true
		}
		for alias := range s.names {
			bound[alias] = true
		}

	case *setStatement:
		if s.body != nil {
			a.wrapper(s.body, bound.with())
			for _, f := range s.filters {
				a.filterArgs(f, bound)
			}
		} else {
			a.expr(s.value, bound)
			if s.condition != nil {
				a.expr(s.condition, bound)
				a.expr(s.alternative, bound)
			}
		}
		for _, target := range s.targets {
			switch target := target.(type) {
			case *nodes.Name:
				bound[target.Name.Val] = true
			default:
				// ns.attr and ns[key] read the namespace they write into.
				a.expr(target, bound)
			}
		}

	case *withStatement:
		for _, v := range s.values {
			a.expr(v, bound)
		}
		a.wrapper(s.body, bound.with(s.names...))

	case *filterBlock:
		for _, f := range s.filters {
			a.filterArgs(f, bound)
		}
		a.wrapper(s.body, bound.with())
	}
}

func (a *analyzer) filterArgs(f *nodes.FilterCall, bound scope) {
	for _, arg := range f.Args {
		a.expr(arg, bound)
	}
	for _, k := range slices.Sorted(maps.Keys(f.Kwargs)) {
		a.expr(f.Kwargs[k], bound)
	}
}
