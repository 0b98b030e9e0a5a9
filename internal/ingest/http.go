package ingest

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"alarmcore/internal/metrics"
)

// HTTPHandler decodes JSON snapshots and forwards them to sink.
// Params: sink receives validated snapshots, max body limits payload size.
// Returns: HTTP handler for ingest endpoints.
type HTTPHandler struct {
	sink        SnapshotSink
	maxBodySize int64
	batch       bool
	logger      *slog.Logger
}

// NewHTTPHandler creates single-snapshot ingest handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink SnapshotSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// NewBatchHTTPHandler creates handler that requires a JSON array body.
func NewBatchHTTPHandler(sink SnapshotSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	handler := NewHTTPHandler(sink, maxBodySize, logger)
	handler.batch = true
	return handler
}

// ServeHTTP handles one incoming snapshot request.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/push result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.SnapshotsRejected.WithLabelValues("http", "too_large").Inc()
			writer.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		metrics.SnapshotsRejected.WithLabelValues("http", "read").Inc()
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.batch && !looksLikeArray(body) {
		metrics.SnapshotsRejected.WithLabelValues("http", "decode").Inc()
		http.Error(writer, "batch endpoint expects a JSON array", http.StatusBadRequest)
		return
	}
	snapshots, err := decodeSnapshotPayload(body)
	if err != nil {
		metrics.SnapshotsRejected.WithLabelValues("http", "decode").Inc()
		h.logger.Debug("http ingest decode failed", "error", err.Error())
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	if err := pushSnapshots(h.sink, snapshots); err != nil {
		metrics.SnapshotsRejected.WithLabelValues("http", "sink").Inc()
		h.logger.Warn("http ingest push failed", "error", err.Error())
		http.Error(writer, err.Error(), http.StatusServiceUnavailable)
		return
	}
	metrics.SnapshotsReceived.WithLabelValues("http").Add(float64(len(snapshots)))
	writer.WriteHeader(http.StatusAccepted)
}

func looksLikeArray(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
