package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// keywords that parse as operators or constants
var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "True": true, "False": true,
}

// reserved words that are valid identifiers in no rule
var reserved = map[string]bool{
	"None": true, "in": true, "is": true, "if": true, "else": true, "lambda": true,
	"for": true, "await": true, "yield": true, "import": true, "def": true,
}

// lex splits an expression into tokens
func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			word := string(runes[start:i])
			if reserved[word] {
				return nil, fmt.Errorf("%w: %q at position %d", ErrUnsupportedSyntax, word, start)
			}
			if keywords[word] {
				tokens = append(tokens, token{kind: tokOp, text: word, pos: start})
			} else {
				tokens = append(tokens, token{kind: tokName, text: word, pos: start})
			}

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
					i = j
				}
			}
			text := string(runes[start:i])
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at position %d", ErrUnsupportedSyntax, text, start)
			}
			if i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i])) {
				return nil, fmt.Errorf("%w: bad number %q at position %d", ErrUnsupportedSyntax, text+string(runes[i]), start)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num, pos: start})

		case r == '"' || r == '\'':
			start := i
			s, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			i = next
			tokens = append(tokens, token{kind: tokString, text: s, pos: start})

		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++

		default:
			op, ok := matchOperator(runes[i:])
			if !ok {
				return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrUnsupportedSyntax, r, i)
			}
			tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
			i += len([]rune(op))
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}

// operators, longest first
var operators = []string{"**", "==", "!=", "<=", ">=", "+", "-", "*", "/", "%", "<", ">"}

// unsupported two-character operators that would otherwise lex as two valid ones
var rejected = []string{"//", "<<", ">>", "<>", ":=", "->", "**="}

func matchOperator(rest []rune) (string, bool) {
	s := string(rest)
	for _, op := range rejected {
		if strings.HasPrefix(s, op) {
			return "", false
		}
	}
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op, true
		}
	}
	return "", false
}

func lexString(runes []rune, i int) (string, int, error) {
	quote := runes[i]
	start := i
	i++
	var b strings.Builder
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == quote:
			return b.String(), i + 1, nil
		case r == '\\' && i+1 < len(runes):
			i++
			switch runes[i] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(runes[i])
			}
		default:
			b.WriteRune(r)
		}
		i++
	}
	return "", 0, fmt.Errorf("%w: unterminated string at position %d", ErrUnsupportedSyntax, start)
}
