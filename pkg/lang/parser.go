package lang

import (
	"fmt"
	"strconv"
)

// ParseError reports a parse failure together with the offending token's
// byte offset, so callers can render a caret into the source.
type ParseError struct {
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lang: parse error at byte %d: %s", e.Pos, e.Message)
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, &ParseError{Pos: t.pos, Message: fmt.Sprintf("expected %s, found %q", what, t)}
	}
	return t, nil
}

func (p *parser) expectAtom(text string) error {
	t := p.next()
	if t.kind != tokAtom || t.text != text {
		return &ParseError{Pos: t.pos, Message: fmt.Sprintf("expected %q, found %q", text, t)}
	}
	return nil
}

// Parse turns DSL source into a Program: a flat set of declarations
// followed by one or more (when ...) events.
func Parse(src []byte) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	decls, err := p.parseDefs()
	if err != nil {
		return nil, err
	}

	var events []Event
	for p.peek().kind != tokEOF {
		ev, err := p.parseEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if len(events) == 0 {
		return nil, &ParseError{Pos: p.peek().pos, Message: "program must contain at least one (when ...) event"}
	}

	prog := &Program{Decls: decls, Events: events}
	for i := range prog.Events {
		prog.Events[i].Flag.desugar()
		for _, b := range prog.Events[i].Body {
			b.desugar()
		}
	}
	return prog, nil
}

// parseDefs parses the single leading (def <decl>... (Report <decl>...)?
// <decl>...) block.
func (p *parser) parseDefs() ([]Decl, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	if err := p.expectAtom("def"); err != nil {
		return nil, err
	}

	var decls []Decl
	for p.peek().kind == tokLParen {
		if p.isReportBlock() {
			reportDecls, err := p.parseReportBlock()
			if err != nil {
				return nil, err
			}
			decls = append(decls, reportDecls...)
			continue
		}
		d, err := p.parseDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, *d)
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return decls, nil
}

// isReportBlock peeks past the open paren to see if the next atom is
// "Report", without consuming tokens.
func (p *parser) isReportBlock() bool {
	return p.i+1 < len(p.toks) && p.toks[p.i+1].kind == tokAtom && p.toks[p.i+1].text == "Report"
}

func (p *parser) parseReportBlock() ([]Decl, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	if err := p.expectAtom("Report"); err != nil {
		return nil, err
	}
	var decls []Decl
	for p.peek().kind == tokLParen {
		d, err := p.parseDecl()
		if err != nil {
			return nil, err
		}
		d.Report = true
		d.Name = "Report." + d.Name
		decls = append(decls, *d)
	}
	if len(decls) == 0 {
		return nil, &ParseError{Pos: p.peek().pos, Message: "(Report ...) block requires at least one declaration"}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return decls, nil
}

// parseDecl parses (<name> <literal>) or (volatile <name> <literal>).
func (p *parser) parseDecl() (*Decl, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	d := &Decl{}
	if p.peek().kind == tokAtom && p.peek().text == "volatile" {
		p.next()
		d.Volatile = true
	}
	nameTok, err := p.expect(tokAtom, "identifier")
	if err != nil {
		return nil, err
	}
	if err := checkName(nameTok.text); err != nil {
		return nil, &ParseError{Pos: nameTok.pos, Message: err.Error()}
	}
	d.Name = nameTok.text

	litTok, err := p.expect(tokAtom, "literal")
	if err != nil {
		return nil, err
	}
	switch litTok.text {
	case "true":
		d.IsBool, d.BoolInit = true, true
	case "false":
		d.IsBool, d.BoolInit = true, false
	case "+infinity":
		d.NumInit = maxImmediate
	default:
		n, err := strconv.ParseUint(litTok.text, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: litTok.pos, Message: fmt.Sprintf("expected a literal, found %q", litTok.text)}
		}
		d.NumInit = n
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return d, nil
}

// maxImmediate is the u64 value +infinity desugars to, mirroring
// ir.ImmInfinity without importing pkg/ir from the grammar layer.
const maxImmediate = ^uint64(0)

// parseEvent parses (when <flag-expr> <body-expr>...).
func (p *parser) parseEvent() (*Event, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	if err := p.expectAtom("when"); err != nil {
		return nil, err
	}
	flag, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var body []*Expr
	for p.peek().kind != tokRParen {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		body = append(body, e)
	}
	if len(body) == 0 {
		return nil, &ParseError{Pos: p.peek().pos, Message: "(when ...) requires at least one body expression"}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return &Event{Flag: flag, Body: body}, nil
}

// parseExpr parses a single atom, command, or operator application.
func (p *parser) parseExpr() (*Expr, error) {
	t := p.peek()
	if t.kind != tokLParen {
		return p.parseAtom()
	}
	// Look ahead to distinguish (fallthrough)/(report) commands from
	// operator applications.
	if p.i+1 < len(p.toks) && p.toks[p.i+1].kind == tokAtom {
		switch p.toks[p.i+1].text {
		case "fallthrough":
			p.next()
			p.next()
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return &Expr{Kind: exprFallthrough}, nil
		case "report":
			p.next()
			p.next()
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return &Expr{Kind: exprReport}, nil
		}
	}
	return p.parseSexp()
}

func (p *parser) parseSexp() (*Expr, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	opTok, err := p.expect(tokAtom, "operator")
	if err != nil {
		return nil, err
	}
	op, ok := astOpSpellings[opTok.text]
	if !ok {
		return nil, &ParseError{Pos: opTok.pos, Message: fmt.Sprintf("unexpected token %q", opTok.text)}
	}
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	if op != astBind && (isConditional(left)) {
		return nil, &ParseError{Pos: opTok.pos, Message: fmt.Sprintf("conditional cannot be bound to temp register: %v", left)}
	}
	return sexp(op, left, right), nil
}

func isConditional(e *Expr) bool {
	return e.Kind == exprSexp && (e.Op == astIf || e.Op == astNotIf)
}

func (p *parser) parseAtom() (*Expr, error) {
	t, err := p.expect(tokAtom, "atom")
	if err != nil {
		return nil, err
	}
	switch t.text {
	case "true":
		return atomBool(true), nil
	case "false":
		return atomBool(false), nil
	case "+infinity":
		return atomNum(maxImmediate), nil
	}
	if n, err := strconv.ParseUint(t.text, 10, 64); err == nil {
		return atomNum(n), nil
	}
	if err := checkName(t.text); err != nil {
		return nil, &ParseError{Pos: t.pos, Message: err.Error()}
	}
	return atomName(t.text), nil
}
