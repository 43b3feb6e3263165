// Package visibility implements access-control labels for graph elements:
// boolean expressions over authorization terms, the authorization sets that
// evaluate them, and the VisibilityJSON metadata used for workspace sandboxing.
package visibility

import (
	"fmt"
	"strings"
	"sync"
)

// Visibility is an expression such as "secret&(ops|WORKSPACE_1)".
// The empty visibility is readable by everyone.
type Visibility string

func (v Visibility) String() string {
	return string(v)
}

func (v Visibility) IsEmpty() bool {
	return strings.TrimSpace(string(v)) == ""
}

// CanRead reports whether auths satisfies the expression. Malformed
// expressions are never readable.
func (v Visibility) CanRead(auths Authorizations) bool {
	if v.IsEmpty() {
		return true
	}
	node, err := parseCached(string(v))
	if err != nil {
		return false
	}
	return node.eval(auths)
}

// HasTerm reports whether term appears in the expression, whatever the
// operators around it.
func (v Visibility) HasTerm(term string) bool {
	if v.IsEmpty() {
		return false
	}
	node, err := parseCached(string(v))
	if err != nil {
		return false
	}
	return node.hasTerm(term)
}

// And joins two visibilities so that both must be satisfied.
func And(a, b Visibility) Visibility {
	switch {
	case a.IsEmpty():
		return b
	case b.IsEmpty():
		return a
	}
	return Visibility(wrap(string(a)) + "&" + wrap(string(b)))
}

func wrap(expr string) string {
	if strings.ContainsAny(expr, "&|") {
		return "(" + expr + ")"
	}
	return expr
}

// Parse validates an expression.
func Parse(expr string) (Visibility, error) {
	if strings.TrimSpace(expr) == "" {
		return "", nil
	}
	if _, err := parse(expr); err != nil {
		return "", err
	}
	return Visibility(expr), nil
}

// ParseError describes where an expression failed to parse.
type ParseError struct {
	Expr    string
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("visibility %q at offset %d: %s", e.Expr, e.Offset, e.Message)
}

var cache sync.Map // string -> *node

func parseCached(expr string) (*node, error) {
	if cached, ok := cache.Load(expr); ok {
		return cached.(*node), nil
	}
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	cache.Store(expr, n)
	return n, nil
}

type nodeKind int

const (
	nodeTerm nodeKind = iota
	nodeAnd
	nodeOr
)

type node struct {
	kind     nodeKind
	term     string
	children []*node
}

func (n *node) eval(auths Authorizations) bool {
	switch n.kind {
	case nodeTerm:
		return auths.Contains(n.term)
	case nodeAnd:
		for _, child := range n.children {
			if !child.eval(auths) {
				return false
			}
		}
		return true
	default:
		for _, child := range n.children {
			if child.eval(auths) {
				return true
			}
		}
		return false
	}
}

func (n *node) hasTerm(term string) bool {
	if n.kind == nodeTerm {
		return n.term == term
	}
	for _, child := range n.children {
		if child.hasTerm(term) {
			return true
		}
	}
	return false
}

type tokenType int

const (
	tokEOF tokenType = iota
	tokTerm
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	typ    tokenType
	lit    string
	offset int
}

func lex(expr string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '&':
			tokens = append(tokens, token{typ: tokAnd, offset: i})
			i++
		case c == '|':
			tokens = append(tokens, token{typ: tokOr, offset: i})
			i++
		case c == '(':
			tokens = append(tokens, token{typ: tokLParen, offset: i})
			i++
		case c == ')':
			tokens = append(tokens, token{typ: tokRParen, offset: i})
			i++
		case isTermChar(c):
			start := i
			for i < len(expr) && isTermChar(expr[i]) {
				i++
			}
			tokens = append(tokens, token{typ: tokTerm, lit: expr[start:i], offset: start})
		default:
			return nil, &ParseError{Expr: expr, Offset: i, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	tokens = append(tokens, token{typ: tokEOF, offset: len(expr)})
	return tokens, nil
}

func isTermChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == ':' || c == '/' || c == '#'
}

type parser struct {
	expr   string
	tokens []token
	pos    int
}

func parse(expr string) (*node, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.current(); t.typ != tokEOF {
		return nil, p.errorf(t, "unexpected trailing tokens")
	}
	return n, nil
}

func (p *parser) current() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Expr: p.expr, Offset: t.offset, Message: fmt.Sprintf(format, args...)}
}

// or binds looser than and.
func (p *parser) parseOr() (*node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.current().typ != tokOr {
		return left, nil
	}
	n := &node{kind: nodeOr, children: []*node{left}}
	for p.current().typ == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, right)
	}
	return n, nil
}

func (p *parser) parseAnd() (*node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.current().typ != tokAnd {
		return left, nil
	}
	n := &node{kind: nodeAnd, children: []*node{left}}
	for p.current().typ == tokAnd {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, right)
	}
	return n, nil
}

func (p *parser) parsePrimary() (*node, error) {
	t := p.next()
	switch t.typ {
	case tokTerm:
		return &node{kind: nodeTerm, term: t.lit}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.typ != tokRParen {
			return nil, p.errorf(closing, "expected ')'")
		}
		return inner, nil
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	default:
		return nil, p.errorf(t, "expected term or '('")
	}
}
