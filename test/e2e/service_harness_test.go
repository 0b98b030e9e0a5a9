package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"alarmcore/internal/app"
	"alarmcore/internal/clock"
	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/test/testutil"
)

var testStart = time.Date(2018, 8, 30, 14, 40, 20, 0, time.UTC)

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle, absolute config path, and clock.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string, clk clock.Clock) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clk)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// waitFor polls condition until it holds or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func freePort(t *testing.T) int {
	t.Helper()
	port, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	return port
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimSpace(body)+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", filepath.Base(path), err)
	}
}

// alarmReceiver records webhook deliveries.
type alarmReceiver struct {
	mu       sync.Mutex
	firing   []domain.AlarmMessage
	recovery []domain.AlarmMessage
}

func (r *alarmReceiver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	var messages []domain.AlarmMessage
	if err := json.NewDecoder(request.Body).Decode(&messages); err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	for _, msg := range messages {
		if msg.RecoveryTime != nil {
			r.recovery = append(r.recovery, msg)
		} else {
			r.firing = append(r.firing, msg)
		}
	}
	r.mu.Unlock()
	writer.WriteHeader(http.StatusOK)
}

func (r *alarmReceiver) snapshot() ([]domain.AlarmMessage, []domain.AlarmMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AlarmMessage(nil), r.firing...), append([]domain.AlarmMessage(nil), r.recovery...)
}

func snapshotJSON(metric, id string, at time.Time, value float64) string {
	return fmt.Sprintf(`{"scope":"Service","name":"Service_%s","metric":"%s","id0":"%s","time_bucket":%d,"value":{"t":"n","n":%g}}`,
		id, metric, id, domain.MinuteBucket(at), value)
}

func postSnapshot(t *testing.T, port int, body string) {
	t.Helper()
	response, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/ingest", port), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post snapshot: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 from ingest, got %d", response.StatusCode)
	}
}
