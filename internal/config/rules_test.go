package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleRules = `
rules:
  endpoint_percent_rule:
    expression: sum(endpoint_percent < 75) >= 3
    period: 15
    silence-period: 0
    message: Successful rate of endpoint {name} is lower than 75%
    exclude-names: [Service_123]
    tags:
      level: WARNING
    hooks: [webhook.ops]
  service_resp_time_rule:
    expression: avg(service_resp_time) > 1000
composite-rules:
  comp_rule:
    expression: endpoint_percent_rule && service_resp_time_rule
    tags:
      level: CRITICAL
hooks:
  webhook:
    ops:
      urls: [http://127.0.0.1:8080/ops]
    default:
      is-default: true
      urls: [http://127.0.0.1:8080/alarm]
`

func TestParseRulesAppliesDefaults(t *testing.T) {
	t.Parallel()

	doc, err := ParseRules([]byte(sampleRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(doc.Rules))
	}

	endpoint := doc.Rules[0]
	if endpoint.Name != "endpoint_percent_rule" || endpoint.Period != 15 || endpoint.SilencePeriod != 0 {
		t.Fatalf("unexpected endpoint rule %+v", endpoint)
	}
	if !reflect.DeepEqual(endpoint.ExcludeNames, []string{"Service_123"}) || endpoint.Tags["level"] != "WARNING" {
		t.Fatalf("unexpected filters/tags %+v", endpoint)
	}

	service := doc.Rules[1]
	if service.Period != 10 || service.SilencePeriod != 10 {
		t.Fatalf("period must default to 10 and silence to period, got %+v", service)
	}
	if service.Message != "Alarm caused by Rule service_resp_time_rule" {
		t.Fatalf("unexpected default message %q", service.Message)
	}

	if len(doc.CompositeRules) != 1 || doc.CompositeRules[0].Message != "Alarm caused by Rule comp_rule" {
		t.Fatalf("unexpected composite rules %+v", doc.CompositeRules)
	}
	if len(doc.Webhooks) != 2 || doc.Webhooks[0].Name != "default" || !doc.Webhooks[0].IsDefault {
		t.Fatalf("unexpected webhooks %+v", doc.Webhooks)
	}
	if doc.Webhooks[1].HookName() != "webhook.ops" {
		t.Fatalf("unexpected hook name %q", doc.Webhooks[1].HookName())
	}
}

func TestParseRulesEmptyDocument(t *testing.T) {
	t.Parallel()

	doc, err := ParseRules([]byte("  \n"))
	if err != nil {
		t.Fatalf("empty document must parse, got %v", err)
	}
	if len(doc.Rules) != 0 || len(doc.CompositeRules) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestParseRulesRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := ParseRules([]byte("rules:\n  a_rule:\n    expression: sum(x) > 1\n    silence: 3\n"))
	if !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected malformed document error, got %v", err)
	}
}

func TestParseRulesKeepsValidRulesOnError(t *testing.T) {
	t.Parallel()

	doc, err := ParseRules([]byte(`
rules:
  good_rule:
    expression: sum(x) > 1
  empty_rule:
    period: 3
  negative_rule:
    expression: sum(x) > 1
    silence-period: -1
  regex_rule:
    expression: sum(x) > 1
    include-names-regex: "Service_(("
composite-rules:
  good_rule:
    expression: good_rule || good_rule
`))
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Name != "good_rule" {
		t.Fatalf("valid rules must survive, got %+v", doc.Rules)
	}
	want := []string{"empty_rule", "negative_rule", "regex_rule", "good_rule"}
	if !reflect.DeepEqual(doc.Rejected, want) {
		t.Fatalf("unexpected rejected list %v", doc.Rejected)
	}
}

func TestLoadRulesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarm-settings.yml")
	writeConfigFile(t, path, sampleRules)
	doc, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("load rules file: %v", err)
	}
	if len(doc.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(doc.Rules))
	}
	if _, err := LoadRulesFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected read error")
	}
}
