package expr

import (
	"sort"
	"strconv"
	"strings"

	"alarmcore/internal/domain"
)

type shape uint8

const (
	shapeScalar shape = iota
	shapeSingle
	shapeSeries
)

type node interface {
	shape() shape
}

type numberNode struct {
	value float64
}

type labelSelector struct {
	key    string
	values []string
}

type metricNode struct {
	name      string
	def       MetricDef
	selectors []labelSelector
}

type aggregateNode struct {
	fn  string
	arg node
}

type trendNode struct {
	fn     string
	metric *metricNode
	span   int
}

type negateNode struct {
	arg node
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

func (numberNode) shape() shape    { return shapeScalar }
func (*metricNode) shape() shape   { return shapeSeries }
func (aggregateNode) shape() shape { return shapeSingle }
func (trendNode) shape() shape     { return shapeSeries }
func (n negateNode) shape() shape  { return n.arg.shape() }
func (n binaryNode) shape() shape {
	if n.left.shape() > n.right.shape() {
		return n.left.shape()
	}
	return n.right.shape()
}

func (n binaryNode) isComparison() bool {
	switch n.op {
	case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
		return true
	}
	return false
}

var aggregateFuncs = map[string]struct{}{
	"sum":   {},
	"avg":   {},
	"max":   {},
	"min":   {},
	"count": {},
}

var trendFuncs = map[string]struct{}{
	"increase": {},
	"rate":     {},
}

// Expression is a compiled alarm expression.
// Params: produced by Compile only.
// Returns: evaluator bound to referenced metric definitions.
type Expression struct {
	text     string
	root     binaryNode
	metrics  []string
	defs     map[string]MetricDef
	scope    domain.Scope
	lookback int
}

// Compile parses and validates expression against catalog.
// Params: expression text and metric catalog.
// Returns: compiled expression or *CompileError wrapping one sentinel.
func Compile(text string, catalog Catalog) (*Expression, error) {
	if strings.TrimSpace(text) == "" {
		return nil, syntaxError(text, 0, "empty expression")
	}
	if catalog == nil {
		catalog = StaticCatalog{}
	}
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, tokens: tokens, catalog: catalog, defs: make(map[string]MetricDef)}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxError(text, tok.pos, "unexpected %q", tok.text)
	}
	if len(p.defs) == 0 {
		return nil, compileError(text, ErrNoMetric, "no metric referenced")
	}

	cmp, ok := root.(binaryNode)
	if !ok || !cmp.isComparison() {
		return nil, compileError(text, ErrNonBooleanRoot, "root operator is not a comparison")
	}
	if cmp.shape() == shapeSeries {
		return nil, compileError(text, ErrNonBooleanRoot, "comparison is evaluated per minute; wrap the series in an aggregation such as sum(...)")
	}

	names := make([]string, 0, len(p.defs))
	for name := range p.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	scope := p.defs[names[0]].Scope
	for _, name := range names[1:] {
		if p.defs[name].Scope != scope {
			return nil, compileError(text, ErrScopeMismatch, "%s is %s but %s is %s", names[0], scope, name, p.defs[name].Scope)
		}
	}

	return &Expression{
		text:     text,
		root:     cmp,
		metrics:  names,
		defs:     p.defs,
		scope:    scope,
		lookback: p.lookback,
	}, nil
}

// Text returns original expression text.
func (e *Expression) Text() string { return e.text }

// Metrics returns sorted referenced metric names.
func (e *Expression) Metrics() []string { return append([]string(nil), e.metrics...) }

// Scope returns the common scope of referenced metrics.
func (e *Expression) Scope() domain.Scope { return e.scope }

// AdditionalPeriod returns extra minutes of lookback required by trend functions.
func (e *Expression) AdditionalPeriod() int { return e.lookback }

// ReadsMetric reports whether metric participates in expression.
func (e *Expression) ReadsMetric(name string) bool {
	_, ok := e.defs[name]
	return ok
}

type parser struct {
	text     string
	tokens   []token
	pos      int
	catalog  Catalog
	defs     map[string]MetricDef
	lookback int
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

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		if tok.kind == tokEOF {
			return tok, syntaxError(p.text, tok.pos, "expected %s, got end of expression", what)
		}
		return tok, syntaxError(p.text, tok.pos, "expected %s, got %q", what, tok.text)
	}
	return tok, nil
}

// parseExpr parses one optional comparison between two additive operands.
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
		op := p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		switch tok := p.peek(); tok.kind {
		case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
			return nil, syntaxError(p.text, tok.pos, "chained comparison is not supported")
		}
		return binaryNode{op: op.kind, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		kind := p.peek().kind
		if kind != tokPlus && kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: kind, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		kind := p.peek().kind
		if kind != tokStar && kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: kind, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if num, ok := arg.(numberNode); ok {
			return numberNode{value: -num.value}, nil
		}
		return negateNode{arg: arg}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, syntaxError(p.text, tok.pos, "invalid number %q", tok.text)
		}
		return numberNode{value: value}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}
		return p.parseMetric(tok)
	case tokEOF:
		return nil, syntaxError(p.text, tok.pos, "unexpected end of expression")
	default:
		return nil, syntaxError(p.text, tok.pos, "unexpected %q", tok.text)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn := strings.ToLower(name.text)
	p.next()
	if _, ok := aggregateFuncs[fn]; ok {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		if arg.shape() == shapeScalar {
			return nil, syntaxError(p.text, name.pos, "%s() needs a metric operand", fn)
		}
		return aggregateNode{fn: fn, arg: arg}, nil
	}
	if _, ok := trendFuncs[fn]; ok {
		metricTok, err := p.expect(tokIdent, "metric name")
		if err != nil {
			return nil, err
		}
		if p.peek().kind == tokLParen {
			return nil, syntaxError(p.text, metricTok.pos, "%s() takes a metric, not a function", fn)
		}
		metric, err := p.parseMetric(metricTok)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, err
		}
		spanTok, err := p.expect(tokNumber, "trend range in minutes")
		if err != nil {
			return nil, err
		}
		span, convErr := strconv.Atoi(spanTok.text)
		if convErr != nil || span <= 0 {
			return nil, syntaxError(p.text, spanTok.pos, "trend range must be a positive integer, got %q", spanTok.text)
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		if span > p.lookback {
			p.lookback = span
		}
		return trendNode{fn: fn, metric: metric, span: span}, nil
	}
	return nil, syntaxError(p.text, name.pos, "unknown function %q", name.text)
}

func (p *parser) parseMetric(name token) (*metricNode, error) {
	def, ok := p.catalog.Lookup(name.text)
	if !ok {
		return nil, compileError(p.text, ErrUnknownMetric, "metric %q is not in the catalog", name.text)
	}
	switch def.Kind {
	case KindCommon, KindLabeled:
	default:
		return nil, compileError(p.text, ErrUnsupportedMetricKind, "metric %q has kind %q; only common and labeled values can be used", name.text, def.Kind)
	}
	if def.Name == "" {
		def.Name = name.text
	}
	p.defs[name.text] = def
	metric := &metricNode{name: name.text, def: def}
	if p.peek().kind != tokLBrace {
		return metric, nil
	}

	brace := p.next()
	if def.Kind != KindLabeled {
		return nil, syntaxError(p.text, brace.pos, "label selector on non-labeled metric %q", name.text)
	}
	for {
		key, err := p.expect(tokIdent, "label name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokAssign, "'='"); err != nil {
			return nil, err
		}
		raw, err := p.expect(tokString, "quoted label values")
		if err != nil {
			return nil, err
		}
		selector := labelSelector{key: key.text}
		for _, value := range strings.Split(raw.text, ",") {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				selector.values = append(selector.values, trimmed)
			}
		}
		if len(selector.values) > 0 {
			metric.selectors = append(metric.selectors, selector)
		}
		tok := p.next()
		if tok.kind == tokRBrace {
			return metric, nil
		}
		if tok.kind != tokComma {
			return nil, syntaxError(p.text, tok.pos, "expected ',' or '}' in label selector")
		}
	}
}
