package rules

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/wonny/tradeflow/internal/marketdata"
)

var (
	// ErrEmptyExpression is returned for a blank rule
	ErrEmptyExpression = errors.New("rule expression cannot be empty")
	// ErrUnsupportedSyntax is returned for anything outside the rule grammar
	ErrUnsupportedSyntax = errors.New("unsupported rule syntax")
	// ErrUnknownIdentifier is returned when a rule references a missing column
	ErrUnknownIdentifier = errors.New("unknown identifier in expression")
	// ErrTypeMismatch is returned when an operator cannot apply to its operand types
	ErrTypeMismatch = errors.New("type mismatch in expression")
)

// Evaluator is a parsed, immutable rule expression
// ⭐ SSOT: 규칙 문자열은 여기서만 해석
type Evaluator struct {
	expression string
	root       Node
	names      []string
}

// New parses expr; syntax errors surface here, never during evaluation
func New(expr string) (*Evaluator, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}
	root, err := parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid rule expression %q: %w", expr, err)
	}
	return &Evaluator{
		expression: expr,
		root:       root,
		names:      names(root, map[string]bool{}, nil),
	}, nil
}

// Expression returns the trimmed source text
func (e *Evaluator) Expression() string {
	return e.expression
}

// Names returns the referenced column names in first-seen order
func (e *Evaluator) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// AST returns the parsed tree
func (e *Evaluator) AST() Node {
	return e.root
}

// Evaluate runs the expression over every row of frame
//
// The result has frame.Len() rows. An empty frame yields an empty bool series.
func (e *Evaluator) Evaluate(frame marketdata.Frame) (Series, error) {
	if frame.Empty() {
		return BoolSeries(nil), nil
	}
	env := &env{n: frame.Len(), columns: frame.Columns}
	v, err := env.eval(e.root)
	if err != nil {
		return Series{}, fmt.Errorf("evaluate %q: %w", e.expression, err)
	}
	if v.isStr {
		return Series{}, fmt.Errorf("evaluate %q: %w: expression yields a string", e.expression, ErrTypeMismatch)
	}
	return v.series, nil
}

type env struct {
	n       int
	columns map[string][]float64
}

func (en *env) eval(node Node) (value, error) {
	switch n := node.(type) {
	case *Name:
		col, ok := en.columns[n.ID]
		if !ok {
			return value{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.ID)
		}
		return value{series: FloatSeries(append([]float64(nil), col...))}, nil

	case *Constant:
		switch n.Kind {
		case KindBool:
			return value{series: broadcastBool(en.n, n.Bool)}, nil
		case KindString:
			return value{str: n.Str, isStr: true}, nil
		default:
			return value{series: broadcastFloat(en.n, n.Num)}, nil
		}

	case *UnaryOp:
		operand, err := en.eval(n.Operand)
		if err != nil {
			return value{}, err
		}
		return en.unary(n.Op, operand)

	case *BinaryOp:
		left, err := en.eval(n.Left)
		if err != nil {
			return value{}, err
		}
		right, err := en.eval(n.Right)
		if err != nil {
			return value{}, err
		}
		return en.arith(n.Op, left, right)

	case *Compare:
		return en.compareChain(n)

	case *BoolOp:
		return en.boolOp(n)
	}
	return value{}, fmt.Errorf("%w: %T", ErrUnsupportedSyntax, node)
}

func (en *env) unary(op string, v value) (value, error) {
	if v.isStr {
		return value{}, fmt.Errorf("%w: unary %s on string", ErrTypeMismatch, op)
	}
	switch op {
	case "not":
		out := make([]bool, en.n)
		for i := range out {
			out[i] = !v.series.Bool(i)
		}
		return value{series: BoolSeries(out)}, nil
	case "-":
		out := make([]float64, en.n)
		for i := range out {
			out[i] = -v.series.Float(i)
		}
		return value{series: FloatSeries(out)}, nil
	case "+":
		if v.series.Kind() == KindBool {
			return value{series: FloatSeries(v.series.Floats())}, nil
		}
		return v, nil
	}
	return value{}, fmt.Errorf("%w: unary %s", ErrUnsupportedSyntax, op)
}

func (en *env) arith(op string, left, right value) (value, error) {
	if left.isStr || right.isStr {
		return value{}, fmt.Errorf("%w: %s on string", ErrTypeMismatch, op)
	}
	fn, ok := arithmetic[op]
	if !ok {
		return value{}, fmt.Errorf("%w: operator %s", ErrUnsupportedSyntax, op)
	}
	out := make([]float64, en.n)
	for i := range out {
		out[i] = fn(left.series.Float(i), right.series.Float(i))
	}
	return value{series: FloatSeries(out)}, nil
}

var arithmetic = map[string]func(a, b float64) float64{
	"+":  func(a, b float64) float64 { return a + b },
	"-":  func(a, b float64) float64 { return a - b },
	"*":  func(a, b float64) float64 { return a * b },
	"/":  func(a, b float64) float64 { return a / b },
	"%":  floorMod,
	"**": math.Pow,
}

// floorMod takes the sign of the divisor; x % 0 is NaN
func floorMod(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// compareChain evaluates a < b < c as (a < b) and (b < c), each operand once
func (en *env) compareChain(n *Compare) (value, error) {
	left, err := en.eval(n.Left)
	if err != nil {
		return value{}, err
	}
	result := broadcastBool(en.n, true).bools
	for i, op := range n.Ops {
		right, err := en.eval(n.Comparators[i])
		if err != nil {
			return value{}, err
		}
		cmp, err := en.compare(op, left, right)
		if err != nil {
			return value{}, err
		}
		for r := range result {
			result[r] = result[r] && cmp[r]
		}
		left = right
	}
	return value{series: BoolSeries(result)}, nil
}

func (en *env) compare(op string, left, right value) ([]bool, error) {
	out := make([]bool, en.n)
	if left.isStr || right.isStr {
		if !left.isStr || !right.isStr {
			return nil, fmt.Errorf("%w: %s between string and number", ErrTypeMismatch, op)
		}
		var eq bool
		switch op {
		case "==":
			eq = left.str == right.str
		case "!=":
			eq = left.str != right.str
		default:
			return nil, fmt.Errorf("%w: %s on strings", ErrTypeMismatch, op)
		}
		for i := range out {
			out[i] = eq
		}
		return out, nil
	}

	fn, ok := comparisons[op]
	if !ok {
		return nil, fmt.Errorf("%w: comparator %s", ErrUnsupportedSyntax, op)
	}
	for i := range out {
		out[i] = fn(left.series.Float(i), right.series.Float(i))
	}
	return out, nil
}

// NaN compares false except for !=
var comparisons = map[string]func(a, b float64) bool{
	"==": func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
}

func (en *env) boolOp(n *BoolOp) (value, error) {
	var result []bool
	for idx, node := range n.Values {
		v, err := en.eval(node)
		if err != nil {
			return value{}, err
		}
		if v.isStr {
			return value{}, fmt.Errorf("%w: %s on string", ErrTypeMismatch, n.Op)
		}
		if idx == 0 {
			result = v.series.Bools()
			continue
		}
		for i := range result {
			if n.Op == "and" {
				result[i] = result[i] && v.series.Bool(i)
			} else {
				result[i] = result[i] || v.series.Bool(i)
			}
		}
	}
	return value{series: BoolSeries(result)}, nil
}
