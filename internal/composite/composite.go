package composite

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/internal/metrics"
	"alarmcore/internal/templatefmt"

	"github.com/google/uuid"
)

// ErrIllegalExpression marks a composite expression that cannot be parsed.
var ErrIllegalExpression = errors.New("illegal composite expression")

// Rule is one compiled composite rule.
// Params: built by Compile from a composite rule definition.
// Returns: immutable boolean function over base rule names.
type Rule struct {
	name    string
	text    string
	root    node
	refs    []string
	message *templatefmt.MessageTemplate
	tags    []domain.Tag
	hooks   []string
}

// Compile parses composite expression.
// Params: composite rule with expression over rule names joined by && and ||.
// Returns: compiled rule or error wrapping ErrIllegalExpression.
func Compile(rule config.CompositeRule) (*Rule, error) {
	tokens, err := lex(rule.Expression)
	if err != nil {
		return nil, fmt.Errorf("composite rule %q: %w", rule.Name, err)
	}
	p := parser{tokens: tokens, refs: make(map[string]struct{})}
	root, err := p.parseExpr()
	if err == nil && p.pos < len(p.tokens) {
		err = fmt.Errorf("%w: unexpected %q", ErrIllegalExpression, p.tokens[p.pos].text)
	}
	if err != nil {
		return nil, fmt.Errorf("composite rule %q: %w", rule.Name, err)
	}

	refs := make([]string, 0, len(p.refs))
	for name := range p.refs {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return &Rule{
		name:    rule.Name,
		text:    rule.Expression,
		root:    root,
		refs:    refs,
		message: templatefmt.Compile(rule.Message),
		tags:    domain.TagsFromMap(rule.Tags),
		hooks:   append([]string(nil), rule.Hooks...),
	}, nil
}

// Name returns composite rule name.
func (r *Rule) Name() string { return r.name }

// Expression returns original expression text.
func (r *Rule) Expression() string { return r.text }

// References returns sorted base rule names used by expression.
func (r *Rule) References() []string { return append([]string(nil), r.refs...) }

// Matches evaluates expression against the set of rules firing for one entity.
// Params: rule names firing for the entity this tick.
// Returns: expression value; names absent from the set are false.
func (r *Rule) Matches(firing map[string]struct{}) bool {
	return r.root.eval(firing)
}

// Evaluator derives composite alarms from one tick of firing messages.
type Evaluator struct {
	logger *slog.Logger
	newID  func() string
}

// NewEvaluator creates composite evaluator.
// Params: logger for contained evaluation failures.
// Returns: stateless evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger, newID: uuid.NewString}
}

// group is every base rule firing for one entity during a tick.
type group struct {
	entity domain.AlarmEntity
	rules  map[string]struct{}
	first  domain.AlarmMessage
}

// Evaluate emits one message per (composite rule, entity) whose expression holds.
// Params: compiled composite rules, firing messages of the tick, and tick time.
// Returns: composite messages ordered by rule then entity; a failing rule yields none.
func (e *Evaluator) Evaluate(rules []*Rule, firing []domain.AlarmMessage, now time.Time) []domain.AlarmMessage {
	if len(rules) == 0 || len(firing) == 0 {
		return nil
	}
	groups := groupByEntity(firing)

	var out []domain.AlarmMessage
	for _, rule := range rules {
		out = append(out, e.evaluateRule(rule, groups, now)...)
	}
	return out
}

func (e *Evaluator) evaluateRule(rule *Rule, groups []group, now time.Time) (out []domain.AlarmMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.EvaluationFailures.WithLabelValues("composite").Inc()
			e.logger.Error("composite evaluation failed", "rule", rule.name, "error", fmt.Sprint(recovered))
			out = nil
		}
	}()

	for _, g := range groups {
		if !rule.Matches(g.rules) {
			continue
		}
		msg := domain.AlarmMessage{
			ID:         e.newID(),
			RuleName:   rule.name,
			Scope:      g.entity.Scope,
			ScopeID:    g.entity.Scope.ID(),
			Name:       g.first.Name,
			ID0:        g.entity.ID0,
			ID1:        g.entity.ID1,
			Message:    rule.message.Format(g.first.Name, g.entity.ID0),
			Expression: rule.text,
			StartTime:  now.UTC(),
		}
		if len(rule.tags) > 0 {
			msg.Tags = append([]domain.Tag(nil), rule.tags...)
		}
		if len(rule.hooks) > 0 {
			msg.Hooks = append([]string(nil), rule.hooks...)
		}
		out = append(out, msg)
	}
	return out
}

func groupByEntity(firing []domain.AlarmMessage) []group {
	index := make(map[domain.AlarmEntity]int)
	var groups []group
	for _, msg := range firing {
		entity := msg.Entity()
		pos, ok := index[entity]
		if !ok {
			pos = len(groups)
			index[entity] = pos
			groups = append(groups, group{entity: entity, rules: make(map[string]struct{}), first: msg})
		}
		groups[pos].rules[msg.RuleName] = struct{}{}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].entity.String() < groups[j].entity.String() })
	return groups
}

type node interface {
	eval(firing map[string]struct{}) bool
}

type refNode string

func (n refNode) eval(firing map[string]struct{}) bool {
	_, ok := firing[string(n)]
	return ok
}

type binaryNode struct {
	and         bool
	left, right node
}

func (n binaryNode) eval(firing map[string]struct{}) bool {
	if n.and {
		return n.left.eval(firing) && n.right.eval(firing)
	}
	return n.left.eval(firing) || n.right.eval(firing)
}

type tokenKind uint8

const (
	tokName tokenKind = iota
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(text string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(text); {
		ch := text[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case strings.HasPrefix(text[i:], "&&"):
			tokens = append(tokens, token{kind: tokAnd, text: "&&"})
			i += 2
		case strings.HasPrefix(text[i:], "||"):
			tokens = append(tokens, token{kind: tokOr, text: "||"})
			i += 2
		case ch == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case isNameChar(ch):
			start := i
			for i < len(text) && isNameChar(text[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokName, text: text[start:i]})
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrIllegalExpression, ch, i)
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrIllegalExpression)
	}
	return tokens, nil
}

func isNameChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '_' || ch == '-' || ch == '.'
}

// parser reads operand (op operand)* with && and || of equal precedence, left to right.
type parser struct {
	tokens []token
	pos    int
	refs   map[string]struct{}
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) {
		op := p.tokens[p.pos]
		if op.kind != tokAnd && op.kind != tokOr {
			break
		}
		p.pos++
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		left = binaryNode{and: op.kind == tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrIllegalExpression)
	}
	tok := p.tokens[p.pos]
	p.pos++
	switch tok.kind {
	case tokName:
		p.refs[tok.text] = struct{}{}
		return refNode(tok.text), nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokRParen {
			return nil, fmt.Errorf("%w: missing )", ErrIllegalExpression)
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrIllegalExpression, tok.text)
	}
}
