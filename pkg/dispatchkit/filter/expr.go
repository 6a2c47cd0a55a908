package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
)

// Expression is a compiled boolean expression over a variable map.
//
// Grammar:
//
//	expr    := or
//	or      := and (("or" | "||") and)*
//	and     := unary (("and" | "&&") unary)*
//	unary   := ("not" | "!") unary | primary
//	primary := "(" expr ")" | operand (op operand)?
//	op      := "==" | "!=" | "<" | "<=" | ">" | ">=" |
//	           "contains" | "startsWith" | "endsWith" | "matches"
//	operand := 'string' | "string" | number | true | false | null | path
//
// A path is a dotted identifier such as event.key or payload.user.id,
// resolved through nested map[string]any values. Unknown paths resolve
// to nil. A bare operand is tested for truthiness.
type Expression struct {
	src  string
	root node
}

// Compile parses src once. Syntax errors and invalid regular
// expressions are configuration errors.
func Compile(src string) (*Expression, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, dkerrors.Configuration("filter.compile", err)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, dkerrors.Configuration("filter.compile", fmt.Errorf("%q: %w", src, err))
	}
	if !p.done() {
		return nil, dkerrors.Configuration("filter.compile",
			fmt.Errorf("%q: unexpected %q", src, p.peek().text))
	}
	return &Expression{src: src, root: root}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expression) String() string { return e.src }

// Eval evaluates the expression against vars.
func (e *Expression) Eval(vars map[string]any) bool {
	return e.root.eval(vars)
}

// FromExpression adapts e into a predicate, using vars to expose the
// subject as a variable map.
func FromExpression[S any](e *Expression, vars func(S) map[string]any) Predicate[S] {
	return func(_ context.Context, subject S) (bool, error) {
		return e.Eval(vars(subject)), nil
	}
}

// Lookup resolves a dotted path through nested maps.
func Lookup(vars map[string]any, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// IsTruthy reports whether v counts as true: nil, false, "", and zero
// numbers are false; everything else is true.
func IsTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		if f, ok := toFloat64(v); ok {
			return f != 0
		}
		return true
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equal(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	lf, lok := toFloat64(l)
	rf, rok := toFloat64(r)
	if lok && rok {
		return lf == rf
	}
	return fmt.Sprint(l) == fmt.Sprint(r)
}

// node is a compiled expression tree node.
type node interface {
	eval(vars map[string]any) bool
}

type orNode struct{ left, right node }

func (n orNode) eval(vars map[string]any) bool { return n.left.eval(vars) || n.right.eval(vars) }

type andNode struct{ left, right node }

func (n andNode) eval(vars map[string]any) bool { return n.left.eval(vars) && n.right.eval(vars) }

type notNode struct{ inner node }

func (n notNode) eval(vars map[string]any) bool { return !n.inner.eval(vars) }

type truthNode struct{ operand operand }

func (n truthNode) eval(vars map[string]any) bool { return IsTruthy(n.operand.value(vars)) }

type compareNode struct {
	op          string
	left, right operand
	re          *regexp.Regexp
}

func (n compareNode) eval(vars map[string]any) bool {
	l, r := n.left.value(vars), n.right.value(vars)
	switch n.op {
	case "==":
		return equal(l, r)
	case "!=":
		return !equal(l, r)
	case "<", "<=", ">", ">=":
		lf, lok := toFloat64(l)
		rf, rok := toFloat64(r)
		if !lok || !rok {
			return false
		}
		switch n.op {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		default:
			return lf >= rf
		}
	case "contains":
		if l == nil || r == nil {
			return false
		}
		if items, ok := l.([]any); ok {
			for _, item := range items {
				if equal(item, r) {
					return true
				}
			}
			return false
		}
		return strings.Contains(fmt.Sprint(l), fmt.Sprint(r))
	case "startsWith":
		return l != nil && r != nil && strings.HasPrefix(fmt.Sprint(l), fmt.Sprint(r))
	case "endsWith":
		return l != nil && r != nil && strings.HasSuffix(fmt.Sprint(l), fmt.Sprint(r))
	case "matches":
		if l == nil {
			return false
		}
		re := n.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(fmt.Sprint(r)); err != nil {
				return false
			}
		}
		return re.MatchString(fmt.Sprint(l))
	}
	return false
}

// operand is either a literal or a variable path.
type operand struct {
	literal any
	path    string
}

func (o operand) value(vars map[string]any) any {
	if o.path == "" {
		return o.literal
	}
	v, _ := Lookup(vars, o.path)
	return v
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"contains": true, "startsWith": true, "endsWith": true, "matches": true,
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == '\'' || c == '"':
			j := i + 1
			var sb strings.Builder
			for j < len(rs) && rs[j] != c {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j + 1
		case strings.ContainsRune("=!<>&|", c):
			j := i + 1
			if j < len(rs) && strings.ContainsRune("=&|", rs[j]) {
				j++
			}
			op := string(rs[i:j])
			switch op {
			case "==", "!=", "<", "<=", ">", ">=", "!", "&&", "||":
			default:
				return nil, fmt.Errorf("unknown operator %q at offset %d", op, i)
			}
			toks = append(toks, token{kind: tokOp, text: op})
			i = j
		case c == '-' || unicode.IsDigit(c):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j])})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			word := string(rs[i:j])
			switch word {
			case "and":
				toks = append(toks, token{kind: tokOp, text: "&&"})
			case "or":
				toks = append(toks, token{kind: tokOp, text: "||"})
			case "not":
				toks = append(toks, token{kind: tokOp, text: "!"})
			default:
				if comparisonOps[word] {
					toks = append(toks, token{kind: tokOp, text: word})
				} else {
					toks = append(toks, token{kind: tokIdent, text: word})
				}
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) acceptOp(op string) bool {
	if !p.done() && p.toks[p.pos].kind == tokOp && p.toks[p.pos].text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.acceptOp("!") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.done() {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	if p.peek().kind == tokLParen {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	if p.done() || tok.kind != tokOp || !comparisonOps[tok.text] {
		return truthNode{operand: left}, nil
	}
	p.pos++

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	n := compareNode{op: tok.text, left: left, right: right}
	if tok.text == "matches" && right.path == "" {
		re, err := regexp.Compile(fmt.Sprint(right.literal))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		n.re = re
	}
	return n, nil
}

func (p *parser) parseOperand() (operand, error) {
	if p.done() {
		return operand{}, fmt.Errorf("expected operand, got end of expression")
	}
	tok := p.toks[p.pos]
	p.pos++

	switch tok.kind {
	case tokString:
		return operand{literal: tok.text}, nil
	case tokNumber:
		num := json.Number(tok.text)
		if i, err := num.Int64(); err == nil {
			return operand{literal: i}, nil
		}
		f, err := num.Float64()
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q", tok.text)
		}
		return operand{literal: f}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return operand{literal: true}, nil
		case "false":
			return operand{literal: false}, nil
		case "null", "nil":
			return operand{literal: nil}, nil
		}
		return operand{path: tok.text}, nil
	default:
		return operand{}, fmt.Errorf("expected operand, got %q", tok.text)
	}
}
