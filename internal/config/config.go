package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName        = "alarmcore"
	defaultTickIntervalSec    = 10
	defaultTickOffsetSec      = 15
	defaultTickTimeoutSec     = 30
	defaultCallbackTimeoutSec = 10
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultIngestPath         = "/ingest"
	defaultMetricsPath        = "/metrics"
	defaultMaxBodyBytes       = 2 << 20
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultIngestSubject      = "alarmcore.metrics"
	defaultIngestStream       = "ALARMCORE_METRICS"
	defaultIngestConsumer     = "alarmcore-ingest"
	defaultIngestGroup        = "alarmcore-workers"
	defaultNATSIngestWorkers  = 1
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultRulesPollSec       = 5
	defaultRulesBucket        = "alarm_rules"
	defaultRulesKey           = "alarm-settings"
	defaultAlarmSubject       = "alarmcore.alarms"
	defaultAlarmStream        = "ALARMCORE_ALARMS"
	defaultKafkaTopic         = "alarmcore-alarms"
	defaultWebhookTimeoutMS   = 5000
	defaultKafkaBatchMS       = 100

	// RulesSourceFile polls a YAML rules document on disk.
	RulesSourceFile = "file"
	// RulesSourceNATSKV watches one key of a JetStream KV bucket.
	RulesSourceNATSKV = "nats_kv"
)

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig  `toml:"service"`
	Log     LogConfig      `toml:"log"`
	HTTP    HTTPConfig     `toml:"http"`
	Ingest  IngestConfig   `toml:"ingest"`
	Rules   RulesConfig    `toml:"rules"`
	Hooks   HooksConfig    `toml:"hooks"`
	Metric  []MetricConfig `toml:"-"`
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: raw metric map keyed by metric name.
type rawConfig struct {
	Service ServiceConfig              `toml:"service"`
	Log     LogConfig                  `toml:"log"`
	HTTP    HTTPConfig                 `toml:"http"`
	Ingest  IngestConfig               `toml:"ingest"`
	Rules   RulesConfig                `toml:"rules"`
	Hooks   HooksConfig                `toml:"hooks"`
	Metric  map[string]rawMetricConfig `toml:"metric"`
}

// rawMetricConfig stores one `[metric.<name>]` table.
type rawMetricConfig struct {
	Scope string `toml:"scope"`
	Kind  string `toml:"kind"`
}

// ServiceConfig contains process-level scheduler settings.
// Params: name, tick cadence, minute offset, and timeouts.
// Returns: scheduler behavior defaults.
type ServiceConfig struct {
	Name               string `toml:"name"`
	TickIntervalSec    int    `toml:"tick_interval_sec"`
	TickOffsetSec      int    `toml:"tick_offset_sec"`
	TickTimeoutSec     int    `toml:"tick_timeout_sec"`
	CallbackTimeoutSec int    `toml:"callback_timeout_sec"`
}

// TickInterval returns scheduler ticker period.
func (s ServiceConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSec) * time.Second
}

// TickTimeout returns upper bound for one evaluation pass.
func (s ServiceConfig) TickTimeout() time.Duration {
	return time.Duration(s.TickTimeoutSec) * time.Second
}

// CallbackTimeout returns upper bound for one callback delivery.
func (s ServiceConfig) CallbackTimeout() time.Duration {
	return time.Duration(s.CallbackTimeoutSec) * time.Second
}

// HTTPConfig configures the API listener.
// Params: enable flag, listen address, endpoint paths, and body size limit.
// Returns: HTTP surface behavior.
type HTTPConfig struct {
	Enabled       bool   `toml:"enabled"`
	Listen        string `toml:"listen"`
	HealthPath    string `toml:"health_path"`
	ReadyPath     string `toml:"ready_path"`
	IngestPath    string `toml:"ingest_path"`
	MetricsPath   string `toml:"metrics_path"`
	StatusEnabled bool   `toml:"status_enabled"`
	MaxBodyBytes  int64  `toml:"max_body_bytes"`
}

// IngestConfig defines inbound snapshot feeds besides HTTP.
type IngestConfig struct {
	NATS NATSIngestConfig `toml:"nats"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection, stream routing, and worker/ack/redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	Workers       int      `toml:"workers"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// RulesConfig selects where the YAML rules document comes from.
// Params: source kind plus file or NATS KV location.
// Returns: rule feed settings.
type RulesConfig struct {
	Source          string          `toml:"source"`
	File            string          `toml:"file"`
	PollIntervalSec int             `toml:"poll_interval_sec"`
	NATS            RulesNATSConfig `toml:"nats"`
}

// RulesNATSConfig locates the rules document in JetStream KV.
type RulesNATSConfig struct {
	URL          []string `toml:"url"`
	Bucket       string   `toml:"bucket"`
	Key          string   `toml:"key"`
	CreateBucket bool     `toml:"create_bucket"`
}

// HooksConfig defines outbound alarm callbacks.
// Params: per-transport sections.
// Returns: callback set to register on the core.
type HooksConfig struct {
	Webhook WebhookHookConfig `toml:"webhook"`
	NATS    NATSHookConfig    `toml:"nats"`
	Kafka   KafkaHookConfig   `toml:"kafka"`
	Log     LogHookConfig     `toml:"log"`
}

// WebhookHookConfig configures HTTP POST delivery of alarm lists.
// Params: static URLs used when the rules document declares none.
// Returns: webhook callback settings.
type WebhookHookConfig struct {
	Enabled   bool        `toml:"enabled"`
	URLs      []string    `toml:"urls"`
	TimeoutMS int         `toml:"timeout_ms"`
	Retry     RetryConfig `toml:"retry"`
}

// NATSHookConfig configures JetStream publishing of alarm messages.
type NATSHookConfig struct {
	Enabled bool        `toml:"enabled"`
	URL     []string    `toml:"url"`
	Subject string      `toml:"subject"`
	Stream  string      `toml:"stream"`
	Retry   RetryConfig `toml:"retry"`
}

// KafkaHookConfig configures Kafka publishing of alarm messages.
type KafkaHookConfig struct {
	Enabled        bool     `toml:"enabled"`
	Brokers        []string `toml:"brokers"`
	Topic          string   `toml:"topic"`
	BatchTimeoutMS int      `toml:"batch_timeout_ms"`
	MaxAttempts    int      `toml:"max_attempts"`
}

// LogHookConfig enables structured-log delivery of alarm messages.
type LogHookConfig struct {
	Enabled bool `toml:"enabled"`
}

// RetryConfig configures outbound delivery retries.
// Params: retry toggle, exponential backoff bounds, attempt limit, and logging.
// Returns: retry policy for one callback.
type RetryConfig struct {
	Enabled        bool `toml:"enabled"`
	InitialMS      int  `toml:"initial_ms"`
	MaxMS          int  `toml:"max_ms"`
	MaxAttempts    int  `toml:"max_attempts"`
	LogEachAttempt bool `toml:"log_each_attempt"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// MetricConfig declares one metric available to alarm expressions.
// Params: metric name from table key, scope, and storage kind.
// Returns: catalog entry.
type MetricConfig struct {
	Name  string
	Scope string
	Kind  string
}

// ConfigSource defines where configuration is loaded from.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	if src.Dir != "" && cfg.Rules.File != "" && !filepath.IsAbs(cfg.Rules.File) {
		cfg.Rules.File = filepath.Join(src.Dir, cfg.Rules.File)
	} else if src.File != "" && cfg.Rules.File != "" && !filepath.IsAbs(cfg.Rules.File) {
		cfg.Rules.File = filepath.Join(filepath.Dir(src.File), cfg.Rules.File)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: normalized config snapshot with metrics sorted by name.
func normalizeRawConfig(raw rawConfig) Config {
	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		HTTP:    raw.HTTP,
		Ingest:  raw.Ingest,
		Rules:   raw.Rules,
		Hooks:   raw.Hooks,
	}
	if len(raw.Metric) == 0 {
		return cfg
	}
	names := make([]string, 0, len(raw.Metric))
	for name := range raw.Metric {
		names = append(names, name)
	}
	sort.Strings(names)
	cfg.Metric = make([]MetricConfig, 0, len(names))
	for _, name := range names {
		body := raw.Metric[name]
		cfg.Metric = append(cfg.Metric, MetricConfig{Name: name, Scope: body.Scope, Kind: body.Kind})
	}
	return cfg
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return normalizeRawConfig(raw), nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination section by section.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.HTTP != (HTTPConfig{}) {
		dst.HTTP = src.HTTP
	}
	if hasNATSIngestConfig(src.Ingest.NATS) {
		dst.Ingest = src.Ingest
	}
	if hasRulesConfig(src.Rules) {
		dst.Rules = src.Rules
	}
	if hasWebhookHookConfig(src.Hooks.Webhook) {
		dst.Hooks.Webhook = src.Hooks.Webhook
	}
	if src.Hooks.NATS.Enabled || len(src.Hooks.NATS.URL) > 0 || src.Hooks.NATS.Subject != "" {
		dst.Hooks.NATS = src.Hooks.NATS
	}
	if src.Hooks.Kafka.Enabled || len(src.Hooks.Kafka.Brokers) > 0 || src.Hooks.Kafka.Topic != "" {
		dst.Hooks.Kafka = src.Hooks.Kafka
	}
	if src.Hooks.Log.Enabled {
		dst.Hooks.Log = src.Hooks.Log
	}
	if len(src.Metric) > 0 {
		dst.Metric = append(dst.Metric, src.Metric...)
	}
}

// applyDefaults fills zero-valued settings.
// Params: cfg pointer updated in place.
// Returns: none.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.TickIntervalSec <= 0 {
		cfg.Service.TickIntervalSec = defaultTickIntervalSec
	}
	if cfg.Service.TickOffsetSec == 0 {
		cfg.Service.TickOffsetSec = defaultTickOffsetSec
	}
	if cfg.Service.TickTimeoutSec <= 0 {
		cfg.Service.TickTimeoutSec = defaultTickTimeoutSec
	}
	if cfg.Service.CallbackTimeoutSec <= 0 {
		cfg.Service.CallbackTimeoutSec = defaultCallbackTimeoutSec
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.HTTP.HealthPath) == "" {
		cfg.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.HTTP.ReadyPath) == "" {
		cfg.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.HTTP.IngestPath) == "" {
		cfg.HTTP.IngestPath = defaultIngestPath
	}
	if strings.TrimSpace(cfg.HTTP.MetricsPath) == "" {
		cfg.HTTP.MetricsPath = defaultMetricsPath
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	natsCfg := &cfg.Ingest.NATS
	natsCfg.URL = normalizeNATSURLs(natsCfg.URL)
	if len(natsCfg.URL) == 0 {
		natsCfg.URL = []string{defaultNATSURL}
	}
	if natsCfg.Subject == "" {
		natsCfg.Subject = defaultIngestSubject
	}
	if natsCfg.Stream == "" {
		natsCfg.Stream = defaultIngestStream
	}
	if natsCfg.ConsumerName == "" {
		natsCfg.ConsumerName = defaultIngestConsumer
	}
	if natsCfg.DeliverGroup == "" {
		natsCfg.DeliverGroup = defaultIngestGroup
	}
	if natsCfg.Workers <= 0 {
		natsCfg.Workers = defaultNATSIngestWorkers
	}
	if natsCfg.AckWaitSec <= 0 {
		natsCfg.AckWaitSec = defaultNATSAckWaitSec
	}
	if natsCfg.NackDelayMS == 0 {
		natsCfg.NackDelayMS = defaultNATSNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultNATSMaxDeliver
	}
	if natsCfg.MaxAckPending <= 0 {
		natsCfg.MaxAckPending = defaultNATSMaxAckPending
	}

	cfg.Rules.Source = strings.ToLower(strings.TrimSpace(cfg.Rules.Source))
	if cfg.Rules.Source == "" {
		cfg.Rules.Source = RulesSourceFile
	}
	if cfg.Rules.PollIntervalSec <= 0 {
		cfg.Rules.PollIntervalSec = defaultRulesPollSec
	}
	cfg.Rules.NATS.URL = normalizeNATSURLs(cfg.Rules.NATS.URL)
	if len(cfg.Rules.NATS.URL) == 0 {
		cfg.Rules.NATS.URL = append([]string(nil), natsCfg.URL...)
	}
	if cfg.Rules.NATS.Bucket == "" {
		cfg.Rules.NATS.Bucket = defaultRulesBucket
	}
	if cfg.Rules.NATS.Key == "" {
		cfg.Rules.NATS.Key = defaultRulesKey
	}

	if cfg.Hooks.Webhook.TimeoutMS <= 0 {
		cfg.Hooks.Webhook.TimeoutMS = defaultWebhookTimeoutMS
	}
	fillRetryDefaults(&cfg.Hooks.Webhook.Retry)
	cfg.Hooks.NATS.URL = normalizeNATSURLs(cfg.Hooks.NATS.URL)
	if len(cfg.Hooks.NATS.URL) == 0 {
		cfg.Hooks.NATS.URL = append([]string(nil), natsCfg.URL...)
	}
	if cfg.Hooks.NATS.Subject == "" {
		cfg.Hooks.NATS.Subject = defaultAlarmSubject
	}
	if cfg.Hooks.NATS.Stream == "" {
		cfg.Hooks.NATS.Stream = defaultAlarmStream
	}
	fillRetryDefaults(&cfg.Hooks.NATS.Retry)
	if cfg.Hooks.Kafka.Topic == "" {
		cfg.Hooks.Kafka.Topic = defaultKafkaTopic
	}
	if cfg.Hooks.Kafka.BatchTimeoutMS <= 0 {
		cfg.Hooks.Kafka.BatchTimeoutMS = defaultKafkaBatchMS
	}
	if cfg.Hooks.Kafka.MaxAttempts <= 0 {
		cfg.Hooks.Kafka.MaxAttempts = 3
	}

	for i := range cfg.Metric {
		if strings.TrimSpace(cfg.Metric[i].Kind) == "" {
			cfg.Metric[i].Kind = "common"
		}
	}
}

// fillRetryDefaults normalizes retry policy fields for one callback.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillRetryDefaults(retry *RetryConfig) {
	if retry == nil {
		return
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if cfg.Service.TickOffsetSec < 0 || cfg.Service.TickOffsetSec >= 60 {
		return errors.New("service.tick_offset_sec must be within [0,59]")
	}
	if cfg.Service.TickIntervalSec > 60 {
		return errors.New("service.tick_interval_sec must be <=60 so every minute is evaluated")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		if strings.TrimSpace(cfg.HTTP.Listen) == "" {
			return errors.New("http.listen is required")
		}
		paths := map[string]string{}
		for name, path := range map[string]string{
			"http.health_path":  cfg.HTTP.HealthPath,
			"http.ready_path":   cfg.HTTP.ReadyPath,
			"http.ingest_path":  cfg.HTTP.IngestPath,
			"http.metrics_path": cfg.HTTP.MetricsPath,
		} {
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("%s must start with '/'", name)
			}
			if other, ok := paths[path]; ok {
				return fmt.Errorf("%s duplicates %s (%q)", name, other, path)
			}
			paths[path] = name
		}
	}
	if !cfg.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
		return errors.New("at least one of http.enabled or ingest.nats.enabled must be true")
	}

	if cfg.Ingest.NATS.Enabled {
		for i, url := range cfg.Ingest.NATS.URL {
			if url == "" {
				return fmt.Errorf("ingest.nats.url[%d] is empty", i)
			}
		}
		if cfg.Ingest.NATS.NackDelayMS < 0 {
			return errors.New("ingest.nats.nack_delay_ms must be >=0")
		}
		if cfg.Ingest.NATS.MaxDeliver < -1 {
			return errors.New("ingest.nats.max_deliver must be -1 or >0")
		}
	}

	switch cfg.Rules.Source {
	case RulesSourceFile:
		if strings.TrimSpace(cfg.Rules.File) == "" {
			return errors.New("rules.file is required when rules.source=file")
		}
	case RulesSourceNATSKV:
		for i, url := range cfg.Rules.NATS.URL {
			if url == "" {
				return fmt.Errorf("rules.nats.url[%d] is empty", i)
			}
		}
	default:
		return fmt.Errorf("rules.source has unsupported value %q", cfg.Rules.Source)
	}

	if cfg.Hooks.Webhook.Enabled {
		for i, url := range cfg.Hooks.Webhook.URLs {
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return fmt.Errorf("hooks.webhook.urls[%d] must be an http(s) URL", i)
			}
		}
		if err := validateRetry("hooks.webhook.retry", cfg.Hooks.Webhook.Retry); err != nil {
			return err
		}
	}
	if cfg.Hooks.NATS.Enabled {
		if strings.ContainsAny(cfg.Hooks.NATS.Subject, "*> ") {
			return errors.New("hooks.nats.subject must be a literal subject")
		}
		if err := validateRetry("hooks.nats.retry", cfg.Hooks.NATS.Retry); err != nil {
			return err
		}
	}
	if cfg.Hooks.Kafka.Enabled && len(cfg.Hooks.Kafka.Brokers) == 0 {
		return errors.New("hooks.kafka.brokers is required when hooks.kafka.enabled=true")
	}

	if len(cfg.Metric) == 0 {
		return errors.New("at least one [metric.<name>] is required")
	}
	seen := make(map[string]struct{}, len(cfg.Metric))
	for _, metric := range cfg.Metric {
		if _, ok := seen[metric.Name]; ok {
			return fmt.Errorf("duplicate metric name %q", metric.Name)
		}
		seen[metric.Name] = struct{}{}
	}
	if _, err := BuildCatalog(cfg.Metric); err != nil {
		return err
	}
	return nil
}

// validateRetry checks one retry policy.
func validateRetry(path string, retry RetryConfig) error {
	if !retry.Enabled {
		return nil
	}
	if retry.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must be >=0", path)
	}
	if retry.MaxMS < retry.InitialMS {
		return fmt.Errorf("%s.max_ms must be >= initial_ms", path)
	}
	return nil
}

// hasNATSIngestConfig reports whether NATS ingest section has explicit values.
// Params: NATS ingest configuration fragment.
// Returns: true when section should be merged.
func hasNATSIngestConfig(cfg NATSIngestConfig) bool {
	return cfg.Enabled ||
		len(cfg.URL) > 0 ||
		cfg.Subject != "" ||
		cfg.Stream != "" ||
		cfg.Workers != 0 ||
		cfg.AckWaitSec != 0 ||
		cfg.NackDelayMS != 0 ||
		cfg.MaxDeliver != 0 ||
		cfg.MaxAckPending != 0
}

// hasRulesConfig reports whether rules section has explicit values.
func hasRulesConfig(cfg RulesConfig) bool {
	return cfg.Source != "" ||
		cfg.File != "" ||
		cfg.PollIntervalSec != 0 ||
		len(cfg.NATS.URL) > 0 ||
		cfg.NATS.Bucket != "" ||
		cfg.NATS.Key != ""
}

// hasWebhookHookConfig reports whether webhook section has explicit values.
func hasWebhookHookConfig(cfg WebhookHookConfig) bool {
	return cfg.Enabled || len(cfg.URLs) > 0 || cfg.TimeoutMS != 0 || cfg.Retry != (RetryConfig{})
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
