package odata

import (
	"fmt"
	"strconv"
	"strings"

	"datagate/internal/apierr"
)

var comparisonOps = map[string]BinaryOp{
	"eq": OpEq, "ne": OpNe, "gt": OpGt, "ge": OpGe, "lt": OpLt, "le": OpLe,
}

var typedPrefixes = map[string]Kind{
	"geography": KindGeography,
	"geometry":  KindGeometry,
	"guid":      KindGuid,
	"datetime":  KindDateTimeOffset,
	"date":      KindDate,
	"duration":  KindDuration,
	"binary":    KindBinary,
	"x":         KindBinary,
}

type parser struct {
	toks []token
	pos  int
}

// ParseFilter parses a $filter expression.
func ParseFilter(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, apierr.New(apierr.BadRequest, "$filter query parameter is not well formed.")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.BadRequest, "$filter query parameter is not well formed.")
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err == nil && p.peek().kind != tokEOF {
		err = fmt.Errorf("syntax error: unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	if err != nil {
		return nil, apierr.Wrap(err, apierr.BadRequest, "$filter query parameter is not well formed.")
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokIdent {
		if op, ok := comparisonOps[strings.ToLower(t.text)]; ok {
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &BinaryNode{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.keyword("not") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: OpNot, Operand: operand}, nil
	}
	if p.peek().kind == tokMinus {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: OpNegate, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("syntax error: ')' expected at position %d", t.pos)
		}
		return n, nil
	case tokString:
		return &ConstantNode{Kind: KindString, Raw: t.text}, nil
	case tokNumber:
		return &ConstantNode{Kind: numberKind(t.text), Raw: t.text}, nil
	case tokLiteral:
		return &ConstantNode{Kind: t.lit, Raw: t.text}, nil
	case tokTyped:
		k, ok := typedPrefixes[t.prefix]
		if !ok {
			return nil, fmt.Errorf("syntax error: unknown literal prefix %q", t.prefix)
		}
		return &ConstantNode{Kind: k, Raw: t.text}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "null":
			return &ConstantNode{Kind: KindNull, Raw: "null"}, nil
		case "true", "false":
			return &ConstantNode{Kind: KindBoolean, Raw: strings.ToLower(t.text)}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t.text)
		}
		return &FieldNode{Name: t.text}, nil
	}
	return nil, fmt.Errorf("syntax error: unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) parseCall(name string) (Node, error) {
	p.next() // (
	fn := &FunctionNode{Name: strings.ToLower(name)}
	if p.peek().kind == tokRParen {
		p.next()
		return fn, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		fn.Args = append(fn.Args, arg)
		t := p.next()
		if t.kind == tokRParen {
			return fn, nil
		}
		if t.kind != tokComma {
			return nil, fmt.Errorf("syntax error: ',' or ')' expected at position %d", t.pos)
		}
	}
}

func numberKind(s string) Kind {
	last := s[len(s)-1]
	switch last {
	case 'm', 'M':
		return KindDecimal
	case 'd', 'D', 'f', 'F':
		return KindDouble
	case 'l', 'L':
		return KindInt64
	}
	if strings.ContainsAny(s, "eE") {
		return KindDouble
	}
	if strings.Contains(s, ".") {
		return KindDecimal
	}
	if _, err := strconv.ParseInt(s, 10, 32); err == nil {
		return KindInt32
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return KindInt64
	}
	return KindDecimal
}

// ParseOrderBy parses "field [asc|desc], ...".
func ParseOrderBy(src string) ([]OrderByItem, error) {
	bad := func(err error) error {
		return apierr.Wrap(err, apierr.BadRequest, "OrderBy property is not well formed.")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, bad(err)
	}
	var out []OrderByItem
	p := &parser{toks: toks}
	for {
		t := p.next()
		if t.kind != tokIdent {
			return nil, bad(fmt.Errorf("field name expected at position %d", t.pos))
		}
		item := OrderByItem{Field: t.text}
		if p.keyword("desc") {
			item.Desc = true
		} else {
			p.keyword("asc")
		}
		out = append(out, item)
		switch p.next().kind {
		case tokEOF:
			return out, nil
		case tokComma:
		default:
			return nil, bad(fmt.Errorf("',' expected after %s", item.Field))
		}
	}
}
