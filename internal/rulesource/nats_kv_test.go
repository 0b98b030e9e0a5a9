package rulesource

import (
	"context"
	"testing"
	"time"

	"alarmcore/internal/config"
	"alarmcore/test/testutil"
)

func waitForEvents(t *testing.T, recorder *eventRecorder, count int) []Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if events := recorder.snapshot(); len(events) >= count {
			return events
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %+v", count, recorder.snapshot())
	return nil
}

func TestKVWatcherFollowsKey(t *testing.T) {
	url, stop := testutil.StartLocalNATSServer(t)
	defer stop()

	cfg := config.RulesNATSConfig{URL: []string{url}, Bucket: "alarm_rules", Key: "alarm-settings", CreateBucket: true}
	seed, err := NewKVWatcher(cfg, testLogger())
	if err != nil {
		t.Fatalf("seed watcher: %v", err)
	}
	defer seed.Close()
	if _, err := seed.Put([]byte("rules: {}\n")); err != nil {
		t.Fatalf("put: %v", err)
	}

	watcher, err := NewKVWatcher(cfg, testLogger())
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer watcher.Close()

	recorder := &eventRecorder{}
	if err := watcher.Start(context.Background(), recorder.handle); err != nil {
		t.Fatalf("start: %v", err)
	}
	events := waitForEvents(t, recorder, 1)
	if events[0].Type != EventModify || string(events[0].Content) != "rules: {}\n" {
		t.Fatalf("expected current value first, got %+v", events[0])
	}

	if _, err := seed.Put([]byte("rules:\n  a: {expression: x}\n")); err != nil {
		t.Fatalf("put update: %v", err)
	}
	if err := seed.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	events = waitForEvents(t, recorder, 3)
	if events[1].Type != EventModify || events[2].Type != EventDelete {
		t.Fatalf("unexpected event sequence %+v", events)
	}
}

func TestKVWatcherRequiresBucket(t *testing.T) {
	url, stop := testutil.StartLocalNATSServer(t)
	defer stop()

	_, err := NewKVWatcher(config.RulesNATSConfig{URL: []string{url}, Bucket: "missing", Key: "k"}, testLogger())
	if err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestNewSelectsSource(t *testing.T) {
	t.Parallel()

	source, err := New(config.RulesConfig{Source: config.RulesSourceFile, File: "rules.yml"}, testLogger())
	if err != nil {
		t.Fatalf("new file source: %v", err)
	}
	if _, ok := source.(*FilePoller); !ok {
		t.Fatalf("expected file poller, got %T", source)
	}
	if _, err := New(config.RulesConfig{Source: "consul"}, testLogger()); err == nil {
		t.Fatalf("expected unsupported source error")
	}
}
