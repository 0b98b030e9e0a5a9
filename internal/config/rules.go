package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultRulePeriod = 10

var (
	// ErrInvalidRule marks a rule entry rejected before expression compilation.
	ErrInvalidRule = errors.New("invalid alarm rule")
	// ErrMalformedRules marks a document that is not valid YAML for the rules schema.
	ErrMalformedRules = errors.New("malformed rules document")
)

// RulesDocument is one parsed alarm settings document.
// Params: rules, composite rules, and webhook hook groups.
// Returns: declarative rule set handed to the rules watcher.
type RulesDocument struct {
	Rules          []AlarmRule
	CompositeRules []CompositeRule
	Webhooks       []WebhookGroup
	// Rejected lists rule names that failed validation; running versions of them are kept.
	Rejected []string
}

// AlarmRule describes one threshold rule.
// Params: expression, window sizing, timers, name filters, and message decoration.
// Returns: rule definition compiled into a running rule.
type AlarmRule struct {
	Name                      string
	Expression                string
	IncludeMetrics            []string
	Period                    int
	SilencePeriod             int
	RecoveryObservationPeriod int
	Message                   string
	IncludeNames              []string
	ExcludeNames              []string
	IncludeNamesRegex         string
	ExcludeNamesRegex         string
	Tags                      map[string]string
	Hooks                     []string
	OnlyAsCondition           bool
}

// CompositeRule combines other rules with && and ||.
type CompositeRule struct {
	Name       string
	Expression string
	Message    string
	Tags       map[string]string
	Hooks      []string
}

// WebhookGroup is one named set of webhook URLs from `hooks.webhook.<name>`.
type WebhookGroup struct {
	Name      string
	IsDefault bool
	URLs      []string
}

// HookName returns the reference used in rule hooks lists.
func (g WebhookGroup) HookName() string {
	return "webhook." + g.Name
}

type rawRulesDocument struct {
	Rules          map[string]rawAlarmRule     `yaml:"rules"`
	CompositeRules map[string]rawCompositeRule `yaml:"composite-rules"`
	Hooks          rawHooks                    `yaml:"hooks"`
}

type rawAlarmRule struct {
	Expression                string            `yaml:"expression"`
	IncludeMetrics            []string          `yaml:"include-metrics"`
	Period                    int               `yaml:"period"`
	SilencePeriod             *int              `yaml:"silence-period"`
	RecoveryObservationPeriod int               `yaml:"recovery-observation-period"`
	Message                   string            `yaml:"message"`
	IncludeNames              []string          `yaml:"include-names"`
	ExcludeNames              []string          `yaml:"exclude-names"`
	IncludeNamesRegex         string            `yaml:"include-names-regex"`
	ExcludeNamesRegex         string            `yaml:"exclude-names-regex"`
	Tags                      map[string]string `yaml:"tags"`
	Hooks                     []string          `yaml:"hooks"`
	OnlyAsCondition           bool              `yaml:"only-as-condition"`
}

type rawCompositeRule struct {
	Expression string            `yaml:"expression"`
	Message    string            `yaml:"message"`
	Tags       map[string]string `yaml:"tags"`
	Hooks      []string          `yaml:"hooks"`
}

type rawHooks struct {
	Webhook map[string]rawWebhookGroup `yaml:"webhook"`
}

type rawWebhookGroup struct {
	IsDefault bool     `yaml:"is-default"`
	URLs      []string `yaml:"urls"`
}

// LoadRulesFile reads and parses one YAML rules document.
// Params: document path.
// Returns: parsed document (valid part on rule errors) or read/parse error.
func LoadRulesFile(path string) (RulesDocument, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return RulesDocument{}, fmt.Errorf("read rules file %q: %w", path, err)
	}
	doc, err := ParseRules(body)
	if err != nil {
		return doc, fmt.Errorf("rules file %q: %w", path, err)
	}
	return doc, nil
}

// ParseRules decodes a YAML rules document with strict field checking.
// Params: raw document body; blank body yields an empty document.
// Returns: valid rules sorted by name with defaults applied, plus joined per-rule errors.
func ParseRules(body []byte) (RulesDocument, error) {
	var raw rawRulesDocument
	decoder := yaml.NewDecoder(bytes.NewReader(body))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return RulesDocument{}, fmt.Errorf("%w: %v", ErrMalformedRules, err)
	}

	var (
		doc  RulesDocument
		errs []error
	)
	for _, name := range sortedKeys(raw.Rules) {
		rule, err := normalizeAlarmRule(name, raw.Rules[name])
		if err != nil {
			errs = append(errs, err)
			doc.Rejected = append(doc.Rejected, name)
			continue
		}
		doc.Rules = append(doc.Rules, rule)
	}
	for _, name := range sortedKeys(raw.CompositeRules) {
		body := raw.CompositeRules[name]
		if strings.TrimSpace(body.Expression) == "" {
			errs = append(errs, fmt.Errorf("composite rule %q: %w: expression is required", name, ErrInvalidRule))
			doc.Rejected = append(doc.Rejected, name)
			continue
		}
		if _, clash := raw.Rules[name]; clash {
			errs = append(errs, fmt.Errorf("composite rule %q: %w: name is already used by a rule", name, ErrInvalidRule))
			doc.Rejected = append(doc.Rejected, name)
			continue
		}
		doc.CompositeRules = append(doc.CompositeRules, CompositeRule{
			Name:       name,
			Expression: strings.TrimSpace(body.Expression),
			Message:    messageOrDefault(name, body.Message),
			Tags:       body.Tags,
			Hooks:      body.Hooks,
		})
	}
	for _, name := range sortedKeys(raw.Hooks.Webhook) {
		group := raw.Hooks.Webhook[name]
		doc.Webhooks = append(doc.Webhooks, WebhookGroup{Name: name, IsDefault: group.IsDefault, URLs: group.URLs})
	}
	if err := errors.Join(errs...); err != nil {
		return doc, err
	}
	return doc, nil
}

// normalizeAlarmRule applies defaults and validates one rule body.
func normalizeAlarmRule(name string, body rawAlarmRule) (AlarmRule, error) {
	fail := func(format string, args ...any) (AlarmRule, error) {
		return AlarmRule{}, fmt.Errorf("rule %q: %w: %s", name, ErrInvalidRule, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(name) == "" {
		return fail("name is required")
	}
	if strings.TrimSpace(body.Expression) == "" {
		return fail("expression is required")
	}
	if body.Period < 0 {
		return fail("period must be >=0")
	}
	if body.RecoveryObservationPeriod < 0 {
		return fail("recovery-observation-period must be >=0")
	}
	period := body.Period
	if period == 0 {
		period = defaultRulePeriod
	}
	silence := period
	if body.SilencePeriod != nil {
		if *body.SilencePeriod < 0 {
			return fail("silence-period must be >=0")
		}
		silence = *body.SilencePeriod
	}
	for field, pattern := range map[string]string{
		"include-names-regex": body.IncludeNamesRegex,
		"exclude-names-regex": body.ExcludeNamesRegex,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fail("%s is invalid: %v", field, err)
		}
	}
	return AlarmRule{
		Name:                      name,
		Expression:                strings.TrimSpace(body.Expression),
		IncludeMetrics:            body.IncludeMetrics,
		Period:                    period,
		SilencePeriod:             silence,
		RecoveryObservationPeriod: body.RecoveryObservationPeriod,
		Message:                   messageOrDefault(name, body.Message),
		IncludeNames:              body.IncludeNames,
		ExcludeNames:              body.ExcludeNames,
		IncludeNamesRegex:         body.IncludeNamesRegex,
		ExcludeNamesRegex:         body.ExcludeNamesRegex,
		Tags:                      body.Tags,
		Hooks:                     body.Hooks,
		OnlyAsCondition:           body.OnlyAsCondition,
	}, nil
}

func messageOrDefault(name, message string) string {
	if strings.TrimSpace(message) == "" {
		return "Alarm caused by Rule " + name
	}
	return message
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
