package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"alarmcore/internal/domain"
)

type testSink struct {
	mu         sync.Mutex
	single     int
	batchCalls int
	snapshots  []domain.MetricSnapshot
	err        error
}

func (s *testSink) Notify(snapshot domain.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.single++
	if s.err != nil {
		return s.err
	}
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *testSink) NotifyBatch(snapshots []domain.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	if s.err != nil {
		return s.err
	}
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func TestHTTPHandlerAcceptsSingleSnapshot(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	request := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(testSnapshotJSON("1", 70)))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.single != 1 || sink.batchCalls != 0 || len(sink.snapshots) != 1 {
		t.Fatalf("unexpected sink calls single=%d batch=%d", sink.single, sink.batchCalls)
	}
}

func TestHTTPHandlerAcceptsBatch(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	handler := NewBatchHTTPHandler(sink, 1<<20, nil)
	payload := fmt.Sprintf("[%s,%s]", testSnapshotJSON("1", 70), testSnapshotJSON("2", 90))
	request := httptest.NewRequest(http.MethodPost, "/ingest/batch", strings.NewReader(payload))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.single != 0 || sink.batchCalls != 1 || len(sink.snapshots) != 2 {
		t.Fatalf("unexpected sink calls single=%d batch=%d", sink.single, sink.batchCalls)
	}
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		batch    bool
		method   string
		body     string
		sinkErr  error
		maxBody  int64
		wantCode int
	}{
		{name: "wrong method", method: http.MethodGet, wantCode: http.StatusMethodNotAllowed},
		{name: "invalid json", method: http.MethodPost, body: "{", wantCode: http.StatusBadRequest},
		{name: "empty batch", batch: true, method: http.MethodPost, body: "[]", wantCode: http.StatusBadRequest},
		{name: "object on batch endpoint", batch: true, method: http.MethodPost, body: testSnapshotJSON("1", 1), wantCode: http.StatusBadRequest},
		{name: "bad scope", method: http.MethodPost, body: strings.Replace(testSnapshotJSON("1", 1), "SERVICE", "GALAXY", 1), wantCode: http.StatusBadRequest},
		{name: "sink failure", method: http.MethodPost, body: testSnapshotJSON("1", 1), sinkErr: errors.New("sink down"), wantCode: http.StatusServiceUnavailable},
		{name: "body too large", method: http.MethodPost, body: testSnapshotJSON("1", 1), maxBody: 8, wantCode: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			maxBody := tc.maxBody
			if maxBody == 0 {
				maxBody = 1 << 20
			}
			sink := &testSink{err: tc.sinkErr}
			handler := NewHTTPHandler(sink, maxBody, nil)
			if tc.batch {
				handler = NewBatchHTTPHandler(sink, maxBody, nil)
			}
			request := httptest.NewRequest(tc.method, "/ingest", strings.NewReader(tc.body))
			response := httptest.NewRecorder()
			handler.ServeHTTP(response, request)
			if response.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, response.Code)
			}
		})
	}
}

func testSnapshotJSON(id string, value float64) string {
	return fmt.Sprintf(`{"scope":"SERVICE","name":"Service_%s","metric":"endpoint_percent","id0":"%s","time_bucket":201808301440,"value":{"t":"n","n":%g}}`, id, id, value)
}
