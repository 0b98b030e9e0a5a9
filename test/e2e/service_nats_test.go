package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"alarmcore/internal/clock"
	"alarmcore/internal/domain"
	"alarmcore/test/testutil"
)

func natsConfig(port int, natsURL string) string {
	return fmt.Sprintf(`
[service]
tick_interval_sec = 1

[log.console]
enabled = true
level = "error"

[http]
enabled = true
listen = "127.0.0.1:%d"
status_enabled = true

[ingest.nats]
enabled = true
url = [%q]
workers = 2

[rules]
source = "nats_kv"

[rules.nats]
url = [%q]
bucket = "alarm_rules"
key = "alarm-settings"
create_bucket = true

[hooks.nats]
enabled = true
url = [%q]

[metric.endpoint_percent]
scope = "Service"
`, port, natsURL, natsURL, natsURL)
}

func TestServiceNATSRulesIngestAndPublish(t *testing.T) {
	natsURL, stop := testutil.StartLocalNATSServer(t)
	defer stop()

	nc, js := testutil.ConnectJetStream(t, natsURL)
	testutil.AddStream(t, js, "ALARMCORE_METRICS", "alarmcore.metrics")
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "alarm_rules"})
	if err != nil {
		t.Fatalf("create rules bucket: %v", err)
	}
	if _, err := kv.Put("alarm-settings", []byte(smokeRules)); err != nil {
		t.Fatalf("put rules: %v", err)
	}
	alarms, err := nc.SubscribeSync("alarmcore.alarms")
	if err != nil {
		t.Fatalf("subscribe alarms: %v", err)
	}

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	port := freePort(t)
	writeFile(t, configPath, natsConfig(port, natsURL))

	clk := clock.NewManual(testStart.Add(-10 * time.Second))
	service := newServiceFromConfig(t, configPath, clk)
	cancel, done := runService(t, service)
	defer func() {
		cancel()
		waitServiceStop(t, done)
	}()
	waitReady(t, port)

	ruleURL := fmt.Sprintf("http://127.0.0.1:%d/status/alarm/rules/percent_rule", port)
	waitFor(t, 5*time.Second, func() bool {
		response, err := http.Get(ruleURL)
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})

	for _, body := range []string{
		snapshotJSON("endpoint_percent", "1", testStart, 40),
		`{"broken":`,
		snapshotJSON("endpoint_percent", "2", testStart, 95),
	} {
		if _, err := js.Publish("alarmcore.metrics", []byte(body)); err != nil {
			t.Fatalf("publish snapshot: %v", err)
		}
	}
	waitFor(t, 5*time.Second, func() bool {
		response, err := http.Get(ruleURL)
		if err != nil {
			return false
		}
		defer response.Body.Close()
		var detail struct {
			EntityKeys []string `json:"entity_keys"`
		}
		return json.NewDecoder(response.Body).Decode(&detail) == nil && len(detail.EntityKeys) == 2
	})

	clk.Set(testStart)
	msg, err := alarms.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("expected published alarm: %v", err)
	}
	if kind := msg.Header.Get("Alarm-Kind"); kind != "firing" {
		t.Fatalf("expected firing kind header, got %q", kind)
	}
	var alarm domain.AlarmMessage
	if err := json.Unmarshal(msg.Data, &alarm); err != nil {
		t.Fatalf("decode alarm: %v", err)
	}
	if alarm.RuleName != "percent_rule" || alarm.ID0 != "1" {
		t.Fatalf("unexpected alarm %+v", alarm)
	}
	if _, err := alarms.NextMsg(300 * time.Millisecond); err == nil {
		t.Fatalf("healthy entity must not publish an alarm")
	}

	if err := kv.Delete("alarm-settings"); err != nil {
		t.Fatalf("delete rules: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		response, err := http.Get(ruleURL)
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusNotFound
	})
}
