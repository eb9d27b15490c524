package jinja

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/tokens"
)

// Arithmetic on + - * and ** is lowered at compile time into calls of the
// operator filters below. gonja's own operators wrap on int overflow and
// repeat strings without bound, which lets a template exhaust memory.

const (
	// maxRange caps range(), as Jinja's sandbox does.
	maxRange = 100_000

	// maxRepeat caps the length of a repeated string (bytes) or list
	// (items).
	maxRepeat = 1 << 20
)

// operatorFilters maps an operator token to the filter computing it.
// The names are not identifiers, so templates cannot call them directly.
var operatorFilters = map[tokens.Type]string{
	tokens.Addition:    "(+)",
	tokens.Subtraction: "(-)",
	tokens.Multiply:    "(*)",
	tokens.Power:       "(**)",
}

var builtinFloat, _ = builtins.Filters.Get("float")

func defaultFilters() map[string]Filter {
	return map[string]Filter{
		"(+)":   binaryFilter(add),
		"(-)":   binaryFilter(subtract),
		"(*)":   binaryFilter(multiply),
		"(**)":  binaryFilter(power),
		"float": filterFloat,
	}
}

func binaryFilter(op func(l, r *exec.Value) (*exec.Value, error)) Filter {
	return func(_ *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		if in.IsError() {
			return in
		}
		if len(params.Args) != 1 {
			return exec.AsValue(fmt.Errorf("operator takes 2 operands, got %d", len(params.Args)+1))
		}
		out, err := op(in, params.Args[0])
		if err != nil {
			return exec.AsValue(err)
		}
		return out
	}
}

func add(l, r *exec.Value) (*exec.Value, error) {
	switch {
	case l.IsList():
		if !r.IsList() {
			return nil, fmt.Errorf("can only concatenate list (not %s) to list", r.String())
		}
		if l.Len()+r.Len() > maxRepeat {
			return nil, fmt.Errorf("list of %d items exceeds the limit of %d", l.Len()+r.Len(), maxRepeat)
		}
		return exec.AsValue(append(items(l), items(r)...)), nil
	case l.IsString() || r.IsString():
		return exec.AsValue(l.String() + r.String()), nil
	case l.IsFloat() || r.IsFloat():
		return exec.AsValue(l.Float() + r.Float()), nil
	}
	a, b := l.Integer(), r.Integer()
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return exec.AsValue(float64(a) + float64(b)), nil
	}
	return exec.AsValue(sum), nil
}

func subtract(l, r *exec.Value) (*exec.Value, error) {
	if l.IsFloat() || r.IsFloat() {
		return exec.AsValue(l.Float() - r.Float()), nil
	}
	a, b := l.Integer(), r.Integer()
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return exec.AsValue(float64(a) - float64(b)), nil
	}
	return exec.AsValue(diff), nil
}

func multiply(l, r *exec.Value) (*exec.Value, error) {
	switch {
	case l.IsString() && r.IsInteger():
		return repeatString(l.String(), r.Integer())
	case l.IsInteger() && r.IsString():
		return repeatString(r.String(), l.Integer())
	case l.IsList() && r.IsInteger():
		return repeatList(l, r.Integer())
	case l.IsInteger() && r.IsList():
		return repeatList(r, l.Integer())
	case l.IsFloat() || r.IsFloat():
		return exec.AsValue(l.Float() * r.Float()), nil
	}
	a, b := l.Integer(), r.Integer()
	if p, ok := mulInt(a, b); ok {
		return exec.AsValue(p), nil
	}
	return exec.AsValue(float64(a) * float64(b)), nil
}

// power keeps int ** non-negative int an int, as Jinja does.
func power(l, r *exec.Value) (*exec.Value, error) {
	if l.IsInteger() && r.IsInteger() && r.Integer() >= 0 {
		base, exp := l.Integer(), r.Integer()
		result := 1
		for ; exp > 0; exp-- {
			var ok bool
			if result, ok = mulInt(result, base); !ok {
				return exec.AsValue(math.Pow(float64(base), float64(r.Integer()))), nil
			}
			if result == 0 || result == 1 {
				break
			}
		}
		if result == 1 && base == -1 && r.Integer()%2 == 1 {
			result = -1
		}
		return exec.AsValue(result), nil
	}
	return exec.AsValue(math.Pow(l.Float(), r.Float())), nil
}

func mulInt(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt) || (b == -1 && a == math.MinInt) {
		return 0, false
	}
	return p, true
}

func repeatString(s string, n int) (*exec.Value, error) {
	if n <= 0 || s == "" {
		return exec.AsValue(""), nil
	}
	if n > maxRepeat/len(s) {
		return nil, fmt.Errorf("repeating a %d-byte string %d times exceeds the limit of %d bytes", len(s), n, maxRepeat)
	}
	return exec.AsValue(strings.Repeat(s, n)), nil
}

func repeatList(l *exec.Value, n int) (*exec.Value, error) {
	src := items(l)
	if n <= 0 || len(src) == 0 {
		return exec.AsValue([]any{}), nil
	}
	if n > maxRepeat/len(src) {
		return nil, fmt.Errorf("repeating a %d-item list %d times exceeds the limit of %d items", len(src), n, maxRepeat)
	}
	out := make([]any, 0, len(src)*n)
	for range n {
		out = append(out, src...)
	}
	return exec.AsValue(out), nil
}

func items(v *exec.Value) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

// filterFloat returns inf for out-of-range input where gonja's float
// falls back to the default.
func filterFloat(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if in.IsString() {
		f, err := strconv.ParseFloat(strings.TrimSpace(in.String()), 64)
		if errors.Is(err, strconv.ErrRange) {
			return exec.AsValue(f)
		}
	}
	return builtinFloat(e, in, params)
}

// boundedRange is range() materialized as a slice and capped at maxRange
// items. gonja's version streams from an unbounded goroutine.
func boundedRange(_ *exec.Evaluator, params *exec.VarArgs) ([]int, error) {
	if len(params.KwArgs) > 0 {
		return nil, errors.New("range takes no keyword arguments")
	}
	bounds := make([]int, len(params.Args))
	for i, arg := range params.Args {
		if !arg.IsInteger() {
			return nil, fmt.Errorf("range expects integers, got %s", arg.String())
		}
		bounds[i] = arg.Integer()
	}

	start, stop, step := 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	default:
		return nil, fmt.Errorf("range expects 1 to 3 arguments, got %d", len(bounds))
	}
	if step == 0 {
		return nil, errors.New("range step must not be zero")
	}

	n := rangeLen(start, stop, step)
	if n > maxRange {
		return nil, fmt.Errorf("range of %d items exceeds the limit of %d", n, maxRange)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out, nil
}

// rangeLen counts the items of range(start, stop, step) without
// overflowing.
func rangeLen(start, stop, step int) uint64 {
	var span, stride uint64
	switch {
	case step > 0 && start < stop:
		span, stride = uint64(stop)-uint64(start), uint64(step)
	case step < 0 && start > stop:
		span, stride = uint64(start)-uint64(stop), uint64(-(step+1))+1
	default:
		return 0
	}
	return (span-1)/stride + 1
}
