package testutil

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// natsServerEnv overrides the nats-server binary used by integration tests.
const natsServerEnv = "ALARMCORE_NATS_SERVER"

// FreePort reserves a local TCP port and returns it to the caller.
// Params: none.
// Returns: free port number or error.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// StartLocalNATSServer starts a JetStream-enabled nats-server in a temp store dir.
// Params: test handle; the test is skipped when the binary is unavailable.
// Returns: server URL and idempotent stop callback.
func StartLocalNATSServer(tb testing.TB) (string, func()) {
	tb.Helper()

	binary := os.Getenv(natsServerEnv)
	if binary == "" {
		binary = "nats-server"
	}
	if _, err := exec.LookPath(binary); err != nil {
		tb.Skipf("%s is required for integration test: %v", binary, err)
	}

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}
	cmd := exec.Command(binary, "-js", "-a", "127.0.0.1", "-p", strconv.Itoa(port), "-sd", tb.TempDir())
	if err := cmd.Start(); err != nil {
		tb.Skipf("start %s: %v", binary, err)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { terminate(cmd) })
	}
	tb.Cleanup(stop)

	url := "nats://127.0.0.1:" + strconv.Itoa(port)
	WaitForNATSReady(tb, url, 8*time.Second)
	return url, stop
}

// terminate sends SIGTERM and kills the process when it does not exit in time.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}

// WaitForNATSReady waits until a NATS endpoint accepts connections.
// Params: test handle, nats URL, and timeout.
// Returns: endpoint is reachable or test fails.
func WaitForNATSReady(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		nc, err := nats.Connect(url)
		if err == nil {
			nc.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	tb.Fatalf("nats did not become ready at %s", url)
}

// ConnectJetStream opens a client connection closed on test cleanup.
// Params: test handle and nats URL.
// Returns: connection and JetStream context.
func ConnectJetStream(tb testing.TB, url string) (*nats.Conn, nats.JetStreamContext) {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	tb.Cleanup(nc.Close)
	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream: %v", err)
	}
	return nc, js
}

// AddStream creates a file-backed stream bound to one subject.
// Params: test handle, JetStream context, stream name, and subject.
// Returns: stream exists or test fails.
func AddStream(tb testing.TB, js nats.JetStreamContext, stream, subject string) {
	tb.Helper()

	if _, err := js.AddStream(&nats.StreamConfig{Name: stream, Subjects: []string{subject}}); err != nil {
		tb.Fatalf("add stream %s: %v", stream, err)
	}
}
