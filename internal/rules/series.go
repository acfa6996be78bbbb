package rules

import "math"

// Kind is the element type of a value
type Kind int

const (
	KindFloat Kind = iota
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "float"
	}
}

// Series is the row-aligned result of evaluating an expression
//
// A float series carries NaN for missing values; a bool series has none.
type Series struct {
	kind   Kind
	floats []float64
	bools  []bool
}

// FloatSeries wraps float values
func FloatSeries(values []float64) Series {
	return Series{kind: KindFloat, floats: values}
}

// BoolSeries wraps bool values
func BoolSeries(values []bool) Series {
	return Series{kind: KindBool, bools: values}
}

// Kind returns the element type
func (s Series) Kind() Kind {
	return s.kind
}

// Len returns the number of rows
func (s Series) Len() int {
	if s.kind == KindBool {
		return len(s.bools)
	}
	return len(s.floats)
}

// Float returns row i as a number; true=1, false=0
func (s Series) Float(i int) float64 {
	if s.kind == KindBool {
		if s.bools[i] {
			return 1
		}
		return 0
	}
	return s.floats[i]
}

// Bool returns the truthiness of row i; NaN and zero are false
func (s Series) Bool(i int) bool {
	if s.kind == KindBool {
		return s.bools[i]
	}
	return truthy(s.floats[i])
}

// Last returns the truthiness of the last row, false when empty
func (s Series) Last() bool {
	if s.Len() == 0 {
		return false
	}
	return s.Bool(s.Len() - 1)
}

// LastFloat returns the last row as a number, NaN when empty
func (s Series) LastFloat() float64 {
	if s.Len() == 0 {
		return math.NaN()
	}
	return s.Float(s.Len() - 1)
}

// Bools returns the truthiness of every row
func (s Series) Bools() []bool {
	out := make([]bool, s.Len())
	for i := range out {
		out[i] = s.Bool(i)
	}
	return out
}

// Floats returns every row as a number
func (s Series) Floats() []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = s.Float(i)
	}
	return out
}

func truthy(v float64) bool {
	return v != 0 && !math.IsNaN(v)
}

// value is an operand during evaluation: a series or a broadcast string
type value struct {
	series Series
	str    string
	isStr  bool
}

func broadcastFloat(n int, v float64) Series {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return FloatSeries(out)
}

func broadcastBool(n int, v bool) Series {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return BoolSeries(out)
}
