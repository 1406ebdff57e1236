// Package lang implements the s-expression datapath-program language: a
// lexer, parser, and compiler that turns source text into a compiled
// ir.Bin and the ir.Scope it was compiled against.
package lang

import "fmt"

type tokenKind uint8

const (
	tokLParen tokenKind = iota
	tokRParen
	tokAtom
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset, for error messages
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "<eof>"
	}
	return t.text
}

// lex splits src into tokens: parens, and maximal runs of non-space,
// non-paren characters as atoms. A `#` begins a line comment that runs to
// the next newline, matching the comment rule of the original grammar.
func lex(src []byte) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '#':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			start := i
			for i < n && !isSpace(src[i]) && src[i] != '(' && src[i] != ')' && src[i] != '#' {
				i++
			}
			toks = append(toks, token{kind: tokAtom, text: string(src[start:i]), pos: start})
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: n})
	return toks, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// checkName validates an identifier: alphanumerics, '.', '_' only, and
// rejects the `__`-reserved prefix, which names the internal registers
// only (report)/(fallthrough) may write to.
func checkName(s string) error {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_') {
			return fmt.Errorf("lang: invalid character %q in identifier %q", r, s)
		}
	}
	if len(s) >= 2 && s[0] == '_' && s[1] == '_' {
		return fmt.Errorf("lang: names beginning with \"__\" are reserved for internal use: %q", s)
	}
	return nil
}
