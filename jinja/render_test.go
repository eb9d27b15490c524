package jinja

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	perrors "github.com/randalmurphal/promptly/errors"
)

func newTestEnv(files map[string]string, opts ...Option) *Environment {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	all := append([]Option{WithTrimBlocks(true), WithLstripBlocks(true)}, opts...)
	return NewEnvironment(NewFSLoader(Root{Label: "/prompts", FS: fsys}), all...)
}

func renderString(t *testing.T, src string, vars map[string]any) string {
	t.Helper()
	tmpl, err := newTestEnv(nil).FromString(src)
	require.NoError(t, err)
	out, err := tmpl.Render(vars)
	require.NoError(t, err)
	return out
}

func renderErr(t *testing.T, src string, vars map[string]any) error {
	t.Helper()
	tmpl, err := newTestEnv(nil).FromString(src)
	require.NoError(t, err)
	out, err := tmpl.Render(vars)
	require.Error(t, err)
	assert.Empty(t, out)
	return err
}

func TestRender_Variables(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
		want string
	}{
		{"simple", "Hello {{ name }}!", map[string]any{"name": "World"}, "Hello World!"},
		{"multiple", "{{ name }} is {{ age }} years old", map[string]any{"name": "Alice", "age": 30}, "Alice is 30 years old"},
		{"static", "No variables here.", nil, "No variables here."},
		{"float", "{{ x }}", map[string]any{"x": 2.0}, "2.0"},
		{"bool", "{{ ok }}", map[string]any{"ok": true}, "True"},
		{"list repr", "{{ items }}", map[string]any{"items": []string{"a", "b"}}, "['a', 'b']"},
		{"attribute", "{{ user.name }}", map[string]any{"user": map[string]any{"name": "Bob"}}, "Bob"},
		{"subscript", "{{ user['name'] }}", map[string]any{"user": map[string]string{"name": "Bob"}}, "Bob"},
		{"index", "{{ items[1] }}", map[string]any{"items": []int{1, 2, 3}}, "2"},
		{"concat", `{{ "a" ~ 1 }}`, nil, "a1"},
		{"inline if", `{{ "yes" if flag else "no" }}`, map[string]any{"flag": false}, "no"},
		{"join", "{{ items|join(', ') }}", map[string]any{"items": []string{"a", "b"}}, "a, b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderString(t, tt.src, tt.vars))
		})
	}
}

func TestRender_Arithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"{{ 1 + 2 * 3 }}", "7"},
		{"{{ (1 + 2) * 3 }}", "9"},
		{"{{ 10 - 4 - 3 }}", "3"},
		{"{{ 2 ** 10 }}", "1024"},
		{"{{ 1.5 + 1 }}", "2.5"},
		{"{{ 'ab' * 3 }}", "ababab"},
		{"{{ 3 * 'ab' }}", "ababab"},
		{"{{ 'ab' * 0 }}|{{ 'ab' * -2 }}", "|"},
		{"{{ [1, 2] + [3] }}", "[1, 2, 3]"},
		{"{{ ([0] * 3)|length }}", "3"},
		{"{{ 'a' + 'b' }}", "ab"},
		{"{{ (2 ** 100) > 0 }}", "True"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, renderString(t, tt.src, nil))
		})
	}
}

func TestRender_IntegerOverflow(t *testing.T) {
	vars := map[string]any{"big": math.MaxInt64}

	tests := []struct {
		name string
		src  string
	}{
		{"add", "{{ big + big > 0 }}"},
		{"subtract", "{{ 0 - big - big < 0 }}"},
		{"multiply", "{{ big * 2 > 0 }}"},
		{"power", "{{ 2 ** 64 > big }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "True", renderString(t, tt.src, vars))
		})
	}
}

func TestOperators_PromoteOnOverflow(t *testing.T) {
	big := exec.AsValue(math.MaxInt64)

	sum, err := add(big, exec.AsValue(1))
	require.NoError(t, err)
	assert.True(t, sum.IsFloat())
	assert.InDelta(t, 9.223372036854775808e18, sum.Float(), 1e4)

	diff, err := subtract(exec.AsValue(math.MinInt64), exec.AsValue(1))
	require.NoError(t, err)
	assert.True(t, diff.IsFloat())

	prod, err := multiply(big, exec.AsValue(2))
	require.NoError(t, err)
	assert.True(t, prod.IsFloat())

	pow, err := power(exec.AsValue(2), exec.AsValue(100))
	require.NoError(t, err)
	assert.True(t, pow.IsFloat())
	assert.Equal(t, math.Pow(2, 100), pow.Float())

	pow, err = power(exec.AsValue(-1), exec.AsValue(7))
	require.NoError(t, err)
	assert.Equal(t, -1, pow.Integer())

	prod, err = multiply(exec.AsValue(3), exec.AsValue(4))
	require.NoError(t, err)
	assert.True(t, prod.IsInteger())
	assert.Equal(t, 12, prod.Integer())
}

func TestRender_RepeatLimit(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"string", "{{ 'a' * 99999999999 }}"},
		{"string reversed", "{{ 99999999999 * 'a' }}"},
		{"list", "{{ [1, 2] * 99999999999 }}"},
		{"just over", "{{ 'ab' * 524289 }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := renderErr(t, tt.src, nil)
			assert.True(t, errors.Is(err, perrors.ErrRender), "got %v", err)
			assert.Contains(t, err.Error(), "exceeds the limit")
		})
	}

	assert.Len(t, renderString(t, "{{ 'ab' * 524288 }}", nil), maxRepeat)
}

func TestRender_RangeLimit(t *testing.T) {
	assert.Equal(t, "[0, 1, 2] [2, 4] [3, 2, 1]",
		renderString(t, "{{ range(3)|list }} {{ range(2, 6, 2)|list }} {{ range(3, 0, -1)|list }}", nil))
	assert.Equal(t, "100000", renderString(t, "{{ range(100000)|length }}", nil))

	err := renderErr(t, "{% for i in range(1000000000) %}{% endfor %}", nil)
	assert.True(t, errors.Is(err, perrors.ErrRender), "got %v", err)
	assert.Contains(t, err.Error(), "exceeds the limit")

	err = renderErr(t, "{{ range(1, 2, 0)|list }}", nil)
	assert.Contains(t, err.Error(), "step must not be zero")
}

func TestRangeLen(t *testing.T) {
	assert.Equal(t, uint64(3), rangeLen(0, 3, 1))
	assert.Equal(t, uint64(2), rangeLen(2, 6, 2))
	assert.Equal(t, uint64(3), rangeLen(3, 0, -1))
	assert.Equal(t, uint64(0), rangeLen(3, 3, 1))
	assert.Equal(t, uint64(0), rangeLen(0, 3, -1))
	assert.Equal(t, uint64(math.MaxUint64), rangeLen(math.MinInt64, math.MaxInt64, 1))
	assert.Equal(t, uint64(2), rangeLen(math.MaxInt64, math.MinInt64, math.MinInt64))
}

func TestRender_FloatFilter(t *testing.T) {
	assert.Equal(t, "True", renderString(t, "{{ ('1e400'|float) > 1000000.0 }}", nil))
	assert.Equal(t, "True", renderString(t, "{{ ('-1e400'|float) < -1000000.0 }}", nil))
	assert.Equal(t, "1.5", renderString(t, "{{ '1.5'|float }}", nil))

	v := filterFloat(nil, exec.AsValue("1e400"), exec.NewVarArgs())
	assert.True(t, math.IsInf(v.Float(), 1))
}

func TestRender_ConcurrentCaseFilters(t *testing.T) {
	tmpl, err := newTestEnv(nil).FromString("{{ s|title }} / {{ s|capitalize }}")
	require.NoError(t, err)

	var g errgroup.Group
	for i := range 64 {
		g.Go(func() error {
			s := fmt.Sprintf("hello world %d", i)
			out, err := tmpl.Render(map[string]any{"s": s})
			if err != nil {
				return err
			}
			if want := fmt.Sprintf("Hello World %d / Hello world %d", i, i); out != want {
				return fmt.Errorf("rendered %q, want %q", out, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestRender_Conditionals(t *testing.T) {
	t.Run("if else", func(t *testing.T) {
		src := "{% if admin %}Admin{% else %}User{% endif %}"
		assert.Equal(t, "Admin", renderString(t, src, map[string]any{"admin": true}))
		assert.Equal(t, "User", renderString(t, src, map[string]any{"admin": false}))
	})

	t.Run("elif", func(t *testing.T) {
		src := "{% if score >= 90 %}A{% elif score >= 80 %}B{% else %}F{% endif %}"
		for score, want := range map[int]string{95: "A", 85: "B", 10: "F"} {
			assert.Equal(t, want, renderString(t, src, map[string]any{"score": score}), "score %d", score)
		}
	})

	t.Run("logic", func(t *testing.T) {
		src := "{% if a and b %}both{% endif %}{% if a or c %} either{% endif %}{% if not c %} notc{% endif %}"
		assert.Equal(t, "both either notc", renderString(t, src, map[string]any{"a": true, "b": true, "c": false}))
	})

	t.Run("in", func(t *testing.T) {
		assert.Equal(t, "True", renderString(t, "{{ 'b' in items }}", map[string]any{"items": []string{"a", "b"}}))
	})

	t.Run("truthiness", func(t *testing.T) {
		src := "{% if items %}has{% else %}empty{% endif %}"
		assert.Equal(t, "empty", renderString(t, src, map[string]any{"items": []string{}}))
		assert.Equal(t, "has", renderString(t, src, map[string]any{"items": []string{"x"}}))
	})
}

func TestRender_Loops(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		out := renderString(t, "{% for item in items %}{{ item }} {% endfor %}", map[string]any{"items": []string{"a", "b", "c"}})
		assert.Equal(t, "a b c ", out)
	})

	t.Run("loop index", func(t *testing.T) {
		src := "{% for item in items %}\n{{ loop.index }}. {{ item }}\n{% endfor %}"
		out := renderString(t, src, map[string]any{"items": []string{"first", "second"}})
		assert.Equal(t, "1. first\n2. second\n", out)
	})

	t.Run("else", func(t *testing.T) {
		out := renderString(t, "{% for i in items %}{{ i }}{% else %}none{% endfor %}", map[string]any{"items": []string{}})
		assert.Equal(t, "none", out)
	})

	t.Run("arithmetic in body", func(t *testing.T) {
		out := renderString(t, "{% for i in range(3) %}{{ i * 2 + 1 }}{% endfor %}", nil)
		assert.Equal(t, "135", out)
	})
}

func TestRender_Assignments(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"set", "{% set greeting = 'Hi' %}{{ greeting }}", "Hi"},
		{"set expression", "{% set n = 2 * 3 %}{{ n }}", "6"},
		{"set conditional", "{% set v = 'a' if flag else 'b' %}{{ v }}", "b"},
		{"set unpack", "{% set a, b = [1, 2] %}{{ b }}{{ a }}", "21"},
		{"set block", "{% set body %}text{% endset %}{{ body }}", "text"},
		{"set block filtered", "{% set body | upper %}text{% endset %}{{ body }}", "TEXT"},
		{"namespace", "{% set ns = namespace(count=0) %}{% for i in range(3) %}{% set ns.count = ns.count + 1 %}{% endfor %}{{ ns.count }}", "3"},
		{"with", "{% with a = 1, b = 2 %}{{ a + b }}{% endwith %}{{ a is defined }}", "3False"},
		{"filter block", "{% filter upper %}abc{% endfilter %}", "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderString(t, tt.src, map[string]any{"flag": false}))
		})
	}
}

func TestRender_Macros(t *testing.T) {
	t.Run("call", func(t *testing.T) {
		src := "{% macro greet(name, punct='!') %}Hi {{ name }}{{ punct }}{% endmacro %}{{ greet('Bo') }} {{ greet('Al', punct='?') }}"
		assert.Equal(t, "Hi Bo! Hi Al?", renderString(t, src, nil))
	})

	t.Run("arithmetic default", func(t *testing.T) {
		src := "{% macro pad(n=2 + 1) %}{{ '-' * n }}{% endmacro %}{{ pad() }}"
		assert.Equal(t, "---", renderString(t, src, nil))
	})

	t.Run("import", func(t *testing.T) {
		env := newTestEnv(map[string]string{
			"macros.md": "{% macro bold(s) %}**{{ s }}**{% endmacro %}",
			"alias.md":  "{% import 'macros.md' as m %}{{ m.bold('x') }}",
			"from.md":   "{% from 'macros.md' import bold as b %}{{ b('y') }}",
		})
		for name, want := range map[string]string{"alias.md": "**x**", "from.md": "**y**"} {
			tmpl, err := env.GetTemplate(name)
			require.NoError(t, err)
			out, err := tmpl.Render(nil)
			require.NoError(t, err)
			assert.Equal(t, want, out, name)
		}
	})

	t.Run("import missing macro", func(t *testing.T) {
		env := newTestEnv(map[string]string{
			"macros.md": "{% macro bold(s) %}{{ s }}{% endmacro %}",
			"main.md":   "{% from 'macros.md' import italic %}",
		})
		tmpl, err := env.GetTemplate("main.md")
		require.NoError(t, err)
		_, err = tmpl.Render(nil)
		assert.True(t, errors.Is(err, perrors.ErrRender), "got %v", err)
		assert.Contains(t, err.Error(), "no macro named 'italic'")
	})
}

func TestRender_Extends(t *testing.T) {
	env := newTestEnv(map[string]string{
		"base.md":   "<{% block body %}default{% endblock %}>",
		"child.md":  "{% extends 'base.md' %}{% block body %}{{ 'x' * 2 }}{% endblock %}",
		"plain.md":  "{% extends 'base.md' %}",
		"orphan.md": "{% extends 'missing.md' %}",
		"loop_a.md": "{% extends 'loop_b.md' %}",
		"loop_b.md": "{% extends 'loop_a.md' %}",
	})

	for name, want := range map[string]string{"child.md": "<xx>", "plain.md": "<default>"} {
		tmpl, err := env.GetTemplate(name)
		require.NoError(t, err)
		out, err := tmpl.Render(nil)
		require.NoError(t, err)
		assert.Equal(t, want, out, name)
	}

	_, err := env.GetTemplate("orphan.md")
	var nf *perrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing.md", nf.Name)
	assert.Equal(t, []string{"/prompts/missing.md"}, nf.Tried)

	_, err = env.GetTemplate("loop_a.md")
	require.Error(t, err)
	assert.True(t, IsTemplateError(err), "got %v", err)
}

func TestRender_ExtendsParentChange(t *testing.T) {
	fsys := fstest.MapFS{
		"base.md":  {Data: []byte("v1 {% block b %}{% endblock %}")},
		"child.md": {Data: []byte("{% extends 'base.md' %}{% block b %}c{% endblock %}")},
	}
	env := NewEnvironment(NewFSLoader(Root{Label: "mem", FS: fsys}))

	tmpl, err := env.GetTemplate("child.md")
	require.NoError(t, err)
	out, err := tmpl.Render(nil)
	require.NoError(t, err)
	assert.Equal(t, "v1 c", out)

	fsys["base.md"] = &fstest.MapFile{Data: []byte("version two {% block b %}{% endblock %}")}

	tmpl, err = env.GetTemplate("child.md")
	require.NoError(t, err)
	out, err = tmpl.Render(nil)
	require.NoError(t, err)
	assert.Equal(t, "version two c", out)
}

func TestRender_Whitespace(t *testing.T) {
	t.Run("trim and lstrip blocks", func(t *testing.T) {
		src := "Header\n    {% if True %}\nLine with content\n    {% endif %}\nFooter"
		assert.Equal(t, "Header\nLine with content\nFooter", renderString(t, src, nil))
	})

	t.Run("minus strips", func(t *testing.T) {
		assert.Equal(t, "ab", renderString(t, "a   {{- 'b' -}}   ", nil))
	})

	t.Run("variable tags keep newline", func(t *testing.T) {
		assert.Equal(t, "a\nb", renderString(t, "{{ 'a' }}\n{{ 'b' }}", nil))
	})

	t.Run("crlf normalized", func(t *testing.T) {
		assert.Equal(t, "a\nb", renderString(t, "a\r\nb", nil))
	})
}

func TestRender_Comments(t *testing.T) {
	assert.Equal(t, "Hello World", renderString(t, "Hello{# comment #} World", nil))
	assert.Equal(t, "{{ not_a_var }}", renderString(t, "{% raw %}{{ not_a_var }}{% endraw %}", nil))
}

func TestRender_Include(t *testing.T) {
	env := newTestEnv(map[string]string{
		"header.md":        "# {{ title }}",
		"main.md":          "{% include 'header.md' %}\n\nBody",
		"optional.md":      "{% include 'missing.md' ignore missing %}done",
		"list.md":          "{% include ['missing.md', 'header.md'] %}",
		"without.md":       "{% include 'header.md' without context %}",
		"loop.md":          "{% for title in ['a', 'b'] %}{% include 'header.md' %}{% endfor %}",
		"self.md":          "{% include 'self.md' %}",
		"dynamic.md":       "{% include name %}",
		"broken_parent.md": "{% include 'missing.md' %}",
	})

	render := func(name string, vars map[string]any) (string, error) {
		tmpl, err := env.GetTemplate(name)
		if err != nil {
			return "", err
		}
		return tmpl.Render(vars)
	}

	out, err := render("main.md", map[string]any{"title": "Intro"})
	require.NoError(t, err)
	assert.Equal(t, "# Intro\nBody", out)

	out, err = render("optional.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	out, err = render("list.md", map[string]any{"title": "T"})
	require.NoError(t, err)
	assert.Equal(t, "# T", out)

	out, err = render("loop.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "# a# b", out)

	out, err = render("dynamic.md", map[string]any{"name": "header.md", "title": "D"})
	require.NoError(t, err)
	assert.Equal(t, "# D", out)

	_, err = render("without.md", map[string]any{"title": "hidden"})
	var undef *perrors.UndefinedError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, "title", undef.Name)
	assert.Equal(t, "header.md", undef.Template)

	_, err = render("self.md", nil)
	assert.True(t, errors.Is(err, perrors.ErrRender))
	assert.Contains(t, err.Error(), "include depth")

	_, err = render("broken_parent.md", nil)
	var nf *perrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing.md", nf.Name)
	assert.Equal(t, []string{"/prompts/missing.md"}, nf.Tried)
}

func TestRender_StrictUndefined(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		vars     map[string]any
		wantName string
		wantLine int
	}{
		{"print", "Hello {{ name }}", nil, "name", 1},
		{"line", "a\nb\n{{ missing }}", nil, "missing", 3},
		{"attribute of missing", "{{ user.name }}", nil, "user", 1},
		{"missing attribute", "{{ user.name }}", map[string]any{"user": map[string]any{}}, "name", 1},
		{"missing item", "{{ user['name'] }}", map[string]any{"user": map[string]any{}}, "name", 1},
		{"iterate", "{% for x in items %}{% endfor %}", nil, "items", 1},
		{"if", "{% if flag %}{% endif %}", nil, "flag", 1},
		{"compare", "{{ x == 1 }}", nil, "x", 1},
		{"arith left", "{{ x + 1 }}", nil, "x", 1},
		{"arith right", "{{ 1 * x }}", nil, "x", 1},
		{"filter", "{{ x|upper }}", nil, "x", 1},
		{"set", "{% set y = x %}", nil, "x", 1},
		{"one of several", "{{ a }} {{ b }}", map[string]any{"a": 1}, "b", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := renderErr(t, tt.src, tt.vars)
			assert.True(t, errors.Is(err, perrors.ErrUndefinedVariable), "got %v", err)
			var undef *perrors.UndefinedError
			require.ErrorAs(t, err, &undef)
			assert.Equal(t, tt.wantName, undef.Name)
			assert.Equal(t, tt.wantLine, undef.Line)
		})
	}
}

func TestRender_UndefinedMessage(t *testing.T) {
	err := renderErr(t, "{{ user.name }}", map[string]any{"user": map[string]any{}})
	assert.Contains(t, err.Error(), "missing required variable")
	assert.Contains(t, err.Error(), "'user' has no attribute 'name'")
}

func TestRender_UndefinedSafeUses(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`{{ name|default("User") }}`, "User"},
		{`{{ name|d("User") }}`, "User"},
		{"{% if name is defined %}{{ name }}{% else %}anon{% endif %}", "anon"},
		{"{{ user.name|default('x') }}", "x"},
		{"{% if name is defined and name %}yes{% else %}no{% endif %}", "no"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			vars := map[string]any{"user": map[string]any{}}
			assert.Equal(t, tt.want, renderString(t, tt.src, vars))
		})
	}
}

func TestRender_RuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not callable", "{{ x() }}"},
		{"unpack mismatch", "{% set a, b = [1, 2, 3] %}"},
		{"include non-string", "{% include 5 %}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := renderErr(t, tt.src, map[string]any{"x": 1})
			assert.True(t, errors.Is(err, perrors.ErrRender), "got %v", err)
			assert.False(t, errors.Is(err, perrors.ErrUndefinedVariable))
		})
	}
}

func TestRender_NoPartialOutput(t *testing.T) {
	tmpl, err := newTestEnv(nil).FromString("start {{ ok }} then {{ missing }}")
	require.NoError(t, err)

	var sb strings.Builder
	err = tmpl.Execute(&sb, map[string]any{"ok": "fine"})
	require.Error(t, err)
	assert.Empty(t, sb.String())
}

func TestRender_VarsNotMutated(t *testing.T) {
	vars := map[string]any{"x": 1}
	renderString(t, "{% set x = 2 %}{% set y = 3 %}{{ x }}", vars)
	assert.Equal(t, map[string]any{"x": 1}, vars)
}
