package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"alarmcore/internal/domain"
)

const maxPooledBatchCapacity = 4096

var errEmptyPayload = errors.New("empty payload")

type decodeScratch struct {
	snapshots []domain.MetricSnapshot
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{snapshots: make([]domain.MetricSnapshot, 0, 16)}
	},
}

// SnapshotSink receives decoded snapshots from ingest interfaces.
// Params: validated snapshot or ordered batch.
// Returns: processing error; a batch error reports the first rejected element.
type SnapshotSink interface {
	Notify(snapshot domain.MetricSnapshot) error
	NotifyBatch(snapshots []domain.MetricSnapshot) error
}

// decodeSingleSnapshot decodes one snapshot and rejects trailing JSON tokens.
func decodeSingleSnapshot(decoder *json.Decoder) (domain.MetricSnapshot, error) {
	var snapshot domain.MetricSnapshot
	if err := decoder.Decode(&snapshot); err != nil {
		return domain.MetricSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return domain.MetricSnapshot{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.MetricSnapshot{}, err
	}
	return snapshot, nil
}

// decodeSnapshotPayload auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated snapshots slice owned by the caller.
func decodeSnapshotPayload(raw []byte) ([]domain.MetricSnapshot, error) {
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	snapshots, err := decodeSnapshotPayloadInto(raw, scratch)
	if err != nil {
		return nil, err
	}
	return append([]domain.MetricSnapshot(nil), snapshots...), nil
}

func decodeSnapshotPayloadInto(raw []byte, scratch *decodeScratch) ([]domain.MetricSnapshot, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errEmptyPayload
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeBatchSnapshotsInto(decoder, scratch)
	}
	snapshot, err := decodeSingleSnapshot(decoder)
	if err != nil {
		return nil, err
	}
	snapshots := scratch.snapshots[:0]
	snapshots = append(snapshots, snapshot)
	scratch.snapshots = snapshots
	return snapshots, nil
}

func decodeBatchSnapshotsInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.MetricSnapshot, error) {
	snapshots := scratch.snapshots[:0]
	if err := decoder.Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("decode snapshot batch: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, errors.New("snapshot batch must contain at least one snapshot")
	}
	for i := range snapshots {
		if err := snapshots[i].Validate(); err != nil {
			return nil, fmt.Errorf("snapshot[%d]: %w", i, err)
		}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.snapshots = snapshots
	return snapshots, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.snapshots {
		scratch.snapshots[i] = domain.MetricSnapshot{}
	}
	if cap(scratch.snapshots) > maxPooledBatchCapacity {
		scratch.snapshots = make([]domain.MetricSnapshot, 0, 16)
	} else {
		scratch.snapshots = scratch.snapshots[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// pushSnapshots sends snapshots to sink.
// Params: snapshot sink and decoded snapshots.
// Returns: sink error or nil.
func pushSnapshots(sink SnapshotSink, snapshots []domain.MetricSnapshot) error {
	switch len(snapshots) {
	case 0:
		return nil
	case 1:
		return sink.Notify(snapshots[0])
	default:
		return sink.NotifyBatch(snapshots)
	}
}
