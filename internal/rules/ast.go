package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a parsed expression node
type Node interface {
	String() string
}

// Name references a frame column
type Name struct {
	ID string
}

// Constant is a literal number, bool or string
type Constant struct {
	Kind  Kind
	Num   float64
	Bool  bool
	Str   string
	Token string
}

// UnaryOp is +x, -x or not x
type UnaryOp struct {
	Op      string
	Operand Node
}

// BinaryOp is an arithmetic operation
type BinaryOp struct {
	Op          string
	Left, Right Node
}

// Compare is a (possibly chained) comparison: Left Ops[0] Comparators[0] Ops[1] ...
type Compare struct {
	Left        Node
	Ops         []string
	Comparators []Node
}

// BoolOp is an and/or over two or more operands
type BoolOp struct {
	Op     string
	Values []Node
}

func (n *Name) String() string { return n.ID }

func (n *Constant) String() string {
	switch n.Kind {
	case KindBool:
		if n.Bool {
			return "True"
		}
		return "False"
	case KindString:
		return strconv.Quote(n.Str)
	default:
		if n.Token != "" {
			return n.Token
		}
		return strconv.FormatFloat(n.Num, 'g', -1, 64)
	}
}

func (n *UnaryOp) String() string {
	if n.Op == "not" {
		return fmt.Sprintf("(not %s)", n.Operand)
	}
	return fmt.Sprintf("(%s%s)", n.Op, n.Operand)
}

func (n *BinaryOp) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *Compare) String() string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(n.Left.String())
	for i, op := range n.Ops {
		fmt.Fprintf(&b, " %s %s", op, n.Comparators[i])
	}
	b.WriteString(")")
	return b.String()
}

func (n *BoolOp) String() string {
	parts := make([]string, len(n.Values))
	for i, v := range n.Values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, " "+n.Op+" ") + ")"
}

// names collects referenced column names in first-seen order
func names(node Node, seen map[string]bool, out []string) []string {
	switch n := node.(type) {
	case *Name:
		if !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n.ID)
		}
	case *UnaryOp:
		out = names(n.Operand, seen, out)
	case *BinaryOp:
		out = names(n.Left, seen, out)
		out = names(n.Right, seen, out)
	case *Compare:
		out = names(n.Left, seen, out)
		for _, c := range n.Comparators {
			out = names(c, seen, out)
		}
	case *BoolOp:
		for _, v := range n.Values {
			out = names(v, seen, out)
		}
	}
	return out
}
