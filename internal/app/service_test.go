package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"alarmcore/internal/clock"
	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/test/testutil"
)

const appRules = `
rules:
  percent_rule:
    expression: sum(endpoint_percent < 75) >= 1
    period: 2
composite-rules:
  comp_rule:
    expression: percent_rule
`

func writeServiceConfig(t *testing.T, rules, extra string) config.ConfigSource {
	t.Helper()

	port, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rules.yml"), []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	body := fmt.Sprintf(`
[service]
tick_interval_sec = 1

[log.console]
enabled = true
level = "error"

[http]
enabled = true
listen = "127.0.0.1:%d"

[rules]
file = "rules.yml"

[metric.endpoint_percent]
scope = "Service"
%s
`, port, extra)
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.ConfigSource{File: path}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rules     string
		extra     string
		wantErr   string
		malformed bool
	}{
		{name: "valid", rules: appRules},
		{name: "malformed yaml", rules: "rules: [", malformed: true},
		{name: "unknown metric", rules: "rules:\n  r:\n    expression: sum(missing > 1) >= 1\n    period: 1\n", wantErr: `rule "r"`},
		{name: "composite without references", rules: appRules + "  bad:\n    expression: \"&&\"\n", wantErr: "bad"},
		{name: "invalid config", rules: appRules, extra: "[hooks.kafka]\nenabled = true\n", wantErr: "hooks.kafka.brokers"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Check(writeServiceConfig(t, tt.rules, tt.extra))
			switch {
			case tt.malformed:
				if !errors.Is(err, config.ErrMalformedRules) {
					t.Fatalf("expected malformed rules error, got %v", err)
				}
			case tt.wantErr == "":
				if err != nil {
					t.Fatalf("unexpected check error: %v", err)
				}
			default:
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
			}
		})
	}
}

func TestServiceRunDeliversWebhook(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []domain.AlarmMessage
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []domain.AlarmMessage
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
	}))
	defer receiver.Close()

	source := writeServiceConfig(t, appRules, fmt.Sprintf("[hooks.webhook]\nenabled = true\nurls = [%q]\n", receiver.URL))
	start := time.Date(2018, 8, 30, 14, 40, 5, 0, time.UTC)
	clk := clock.NewManual(start)
	service, err := NewService(source, clk)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !service.Ready() || len(service.Core().RunningRules()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("service did not load rules")
		}
		time.Sleep(10 * time.Millisecond)
	}

	snapshot := domain.MetricSnapshot{
		MetaInAlarm: domain.MetaInAlarm{Scope: domain.ScopeService, Name: "Service_1", MetricName: "endpoint_percent", ID0: "1"},
		TimeBucket:  domain.MinuteBucket(start),
		Value:       domain.NumberValue(50),
	}
	if err := service.Core().Notify(snapshot); err != nil {
		t.Fatalf("notify: %v", err)
	}
	clk.Set(start.Add(15 * time.Second))

	deadline = time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		count := len(received)
		mu.Unlock()
		if count > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("webhook received no alarm")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	names := make([]string, 0, len(received))
	for _, msg := range received {
		names = append(names, msg.RuleName)
	}
	mu.Unlock()
	// comp_rule fires from the same tick, so the batch may carry both.
	if !slices.Contains(names, "percent_rule") {
		t.Fatalf("unexpected webhook rules %v", names)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
}
