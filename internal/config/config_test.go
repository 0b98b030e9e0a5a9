package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alarmcore/internal/domain"
	"alarmcore/internal/expr"
)

const (
	httpEnabled = `[http]
enabled = true
listen = "127.0.0.1:18081"`
	rulesFromFile = `[rules]
source = "file"
file = "alarm-settings.yml"`
	endpointMetrics = `[metric.endpoint_percent]
scope = "Endpoint"

[metric.endpoint_labeled]
scope = "endpoint"
kind = "labeled"`
)

func TestLoadSnapshotDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfigFile(t, path, joinSections(httpEnabled, rulesFromFile, endpointMetrics))

	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if cfg.Service.Name != "alarmcore" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.Service.TickIntervalSec != 10 || cfg.Service.TickOffsetSec != 15 || cfg.Service.TickTimeoutSec != 30 {
		t.Fatalf("unexpected tick defaults %+v", cfg.Service)
	}
	if cfg.HTTP.MetricsPath != "/metrics" || cfg.HTTP.IngestPath != "/ingest" {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if cfg.Rules.File != filepath.Join(dir, "alarm-settings.yml") {
		t.Fatalf("rules file must resolve relative to config file, got %q", cfg.Rules.File)
	}
	if cfg.Rules.PollIntervalSec != 5 {
		t.Fatalf("unexpected poll interval %d", cfg.Rules.PollIntervalSec)
	}
	if len(cfg.Metric) != 2 || cfg.Metric[0].Name != "endpoint_labeled" || cfg.Metric[1].Kind != "common" {
		t.Fatalf("unexpected metrics %+v", cfg.Metric)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("console log must be enabled when no sink is configured")
	}
}

func TestLoadSnapshotDerivesNATSURLs(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		httpEnabled,
		`[ingest.nats]
enabled = true
url = [" nats://10.0.0.1:4222 "]`,
		`[rules]
source = "NATS_KV"`,
		`[hooks.nats]
enabled = true`,
		endpointMetrics,
	))
	if got := cfg.Rules.NATS.URL; len(got) != 1 || got[0] != "nats://10.0.0.1:4222" {
		t.Fatalf("rules nats url must derive from ingest, got %v", got)
	}
	if got := cfg.Hooks.NATS.URL; len(got) != 1 || got[0] != "nats://10.0.0.1:4222" {
		t.Fatalf("hook nats url must derive from ingest, got %v", got)
	}
	if cfg.Rules.Source != RulesSourceNATSKV || cfg.Rules.NATS.Bucket != "alarm_rules" || cfg.Rules.NATS.Key != "alarm-settings" {
		t.Fatalf("unexpected rules source %+v", cfg.Rules)
	}
	if cfg.Hooks.NATS.Subject != "alarmcore.alarms" || cfg.Hooks.NATS.Stream != "ALARMCORE_ALARMS" {
		t.Fatalf("unexpected hook defaults %+v", cfg.Hooks.NATS)
	}
}

func TestLoadSnapshotFromDirMergesFragments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfigFile(t, filepath.Join(dir, "10-base.toml"), joinSections(httpEnabled, rulesFromFile, `[metric.endpoint_percent]
scope = "Endpoint"`))
	writeConfigFile(t, filepath.Join(dir, "20-more.toml"), joinSections(`[service]
tick_offset_sec = 20`, `[metric.service_sla]
scope = "SERVICE"`))
	writeConfigFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Service.TickOffsetSec != 20 {
		t.Fatalf("later fragment must override service section, got %+v", cfg.Service)
	}
	if len(cfg.Metric) != 2 {
		t.Fatalf("metric tables must be appended across fragments, got %+v", cfg.Metric)
	}
	if cfg.Rules.File != filepath.Join(dir, "alarm-settings.yml") {
		t.Fatalf("rules file must resolve relative to config dir, got %q", cfg.Rules.File)
	}

	writeConfigFile(t, filepath.Join(dir, "30-dup.toml"), `[metric.service_sla]
scope = "Service"`)
	if _, err := LoadSnapshot(ConfigSource{Dir: dir}); err == nil || !strings.Contains(err.Error(), "duplicate metric name") {
		t.Fatalf("expected duplicate metric error, got %v", err)
	}
}

func TestLoadSnapshotValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no metrics",
			content: joinSections(httpEnabled, rulesFromFile),
			want:    "at least one [metric.<name>]",
		},
		{
			name:    "bad scope",
			content: joinSections(httpEnabled, rulesFromFile, "[metric.x]\nscope = \"Galaxy\""),
			want:    "metric.x.scope",
		},
		{
			name:    "bad kind",
			content: joinSections(httpEnabled, rulesFromFile, "[metric.x]\nscope = \"Service\"\nkind = \"histogram\""),
			want:    "metric.x.kind",
		},
		{
			name:    "no ingest",
			content: joinSections(rulesFromFile, endpointMetrics),
			want:    "at least one of http.enabled or ingest.nats.enabled",
		},
		{
			name:    "missing rules file",
			content: joinSections(httpEnabled, endpointMetrics),
			want:    "rules.file is required",
		},
		{
			name:    "bad source",
			content: joinSections(httpEnabled, endpointMetrics, "[rules]\nsource = \"consul\""),
			want:    "rules.source",
		},
		{
			name:    "bad offset",
			content: joinSections(httpEnabled, rulesFromFile, endpointMetrics, "[service]\ntick_offset_sec = 75"),
			want:    "service.tick_offset_sec",
		},
		{
			name:    "duplicate paths",
			content: joinSections(httpEnabled+"\nready_path = \"/healthz\"", rulesFromFile, endpointMetrics),
			want:    "duplicates",
		},
		{
			name:    "webhook url",
			content: joinSections(httpEnabled, rulesFromFile, endpointMetrics, "[hooks.webhook]\nenabled = true\nurls = [\"ftp://x\"]"),
			want:    "hooks.webhook.urls[0]",
		},
		{
			name:    "kafka brokers",
			content: joinSections(httpEnabled, rulesFromFile, endpointMetrics, "[hooks.kafka]\nenabled = true"),
			want:    "hooks.kafka.brokers",
		},
		{
			name:    "log file path",
			content: joinSections(httpEnabled, rulesFromFile, endpointMetrics, "[log.file]\nenabled = true"),
			want:    "log.file.path",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tc.content)
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error for empty source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error for both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v err=%v", src, err)
	}
}

func TestBuildCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := BuildCatalog([]MetricConfig{
		{Name: "endpoint_percent", Scope: "endpoint", Kind: "common"},
		{Name: "endpoint_labeled", Scope: "Endpoint", Kind: "LABELED"},
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	def, ok := catalog.Lookup("endpoint_labeled")
	if !ok || def.Scope != domain.ScopeEndpoint || def.Kind != expr.KindLabeled {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()
	cfg, err := loadSnapshotFromContent(t, content)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func loadSnapshotErr(t *testing.T, content string) error {
	t.Helper()
	_, err := loadSnapshotFromContent(t, content)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}

func loadSnapshotFromContent(t *testing.T, content string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	return LoadSnapshot(ConfigSource{File: path})
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		nonEmpty = append(nonEmpty, trimmed)
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
