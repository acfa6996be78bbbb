package rules

import "fmt"

// parser is a recursive-descent parser over the token stream
//
// Precedence, loosest first:
//
//	or < and < not < comparison chain < + - < * / % < unary + - < ** < atom
type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (Node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected(tok)
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(texts ...string) bool {
	tok := p.peek()
	if tok.kind != tokOp {
		return false
	}
	for _, t := range texts {
		if tok.text == t {
			return true
		}
	}
	return false
}

func (p *parser) unexpected(tok token) error {
	if tok.kind == tokEOF {
		return fmt.Errorf("%w: unexpected end of expression", ErrUnsupportedSyntax)
	}
	return fmt.Errorf("%w: unexpected %q at position %d", ErrUnsupportedSyntax, tok.text, tok.pos)
}

func (p *parser) parseOr() (Node, error) {
	return p.parseBoolOp("or", p.parseAnd)
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseBoolOp("and", p.parseNot)
}

func (p *parser) parseBoolOp(op string, operand func() (Node, error)) (Node, error) {
	first, err := operand()
	if err != nil {
		return nil, err
	}
	values := []Node{first}
	for p.isOp(op) {
		p.next()
		v, err := operand()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if len(values) == 1 {
		return first, nil
	}
	return &BoolOp{Op: op, Values: values}, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.isOp("not") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	var cmp *Compare
	for p.isOp("==", "!=", "<", "<=", ">", ">=") {
		op := p.next().text
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		if cmp == nil {
			cmp = &Compare{Left: left}
		}
		cmp.Ops = append(cmp.Ops, op)
		cmp.Comparators = append(cmp.Comparators, right)
	}
	if cmp == nil {
		return left, nil
	}
	return cmp, nil
}

func (p *parser) parseArith() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "%") {
		op := p.next().text
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (Node, error) {
	if p.isOp("+", "-") {
		op := p.next().text
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: op, Operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower is right-associative; the exponent may carry its own unary sign
func (p *parser) parsePower() (Node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: "**", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokName:
		if p.peek().kind == tokLParen {
			return nil, fmt.Errorf("%w: function call %s() at position %d", ErrUnsupportedSyntax, tok.text, tok.pos)
		}
		return &Name{ID: tok.text}, nil
	case tokNumber:
		return &Constant{Kind: KindFloat, Num: tok.num, Token: tok.text}, nil
	case tokString:
		return &Constant{Kind: KindString, Str: tok.text}, nil
	case tokOp:
		switch tok.text {
		case "True":
			return &Constant{Kind: KindBool, Bool: true}, nil
		case "False":
			return &Constant{Kind: KindBool, Bool: false}, nil
		}
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.unexpected(closing)
		}
		return inner, nil
	}
	return nil, p.unexpected(tok)
}
