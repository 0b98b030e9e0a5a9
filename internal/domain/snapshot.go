package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueType identifies the payload carried by MetricValue.
type ValueType string

const (
	// ValueNumber marks one numeric value.
	ValueNumber ValueType = "n"
	// ValueLabeled marks a list of labeled numeric values.
	ValueLabeled ValueType = "l"
	// ValueBool marks one boolean value evaluated as 1 or 0.
	ValueBool ValueType = "b"
)

const timeBucketLayout = "200601021504"

// MetaInAlarm describes the entity and metric an incoming snapshot belongs to.
// Params: scope, display name, metric name, and entity ids resolved upstream.
// Returns: identity descriptor attached to every snapshot.
type MetaInAlarm struct {
	Scope      Scope  `json:"scope"`
	Name       string `json:"name"`
	MetricName string `json:"metric"`
	ID0        string `json:"id0"`
	ID1        string `json:"id1,omitempty"`
}

// ScopeID returns numeric scope id for meta scope.
func (m MetaInAlarm) ScopeID() int {
	return m.Scope.ID()
}

// AlarmEntity is the comparable identity one window is tracked under.
// Params: scope and entity ids; the display name is deliberately not part of the key.
// Returns: map key for per-entity windows.
type AlarmEntity struct {
	Scope Scope
	ID0   string
	ID1   string
}

// EntityOf builds entity identity from meta.
// Params: snapshot meta.
// Returns: comparable entity key.
func EntityOf(meta MetaInAlarm) AlarmEntity {
	return AlarmEntity{Scope: meta.Scope, ID0: meta.ID0, ID1: meta.ID1}
}

// String renders entity in scope/id0/id1 form for logs and status output.
func (e AlarmEntity) String() string {
	if e.ID1 == "" {
		return string(e.Scope) + "/" + e.ID0
	}
	return string(e.Scope) + "/" + e.ID0 + "/" + e.ID1
}

// LabeledValue is one labeled entry of a multi-value metric.
type LabeledValue struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"v"`
}

// LabelKey renders labels in stable k=v,k=v order.
// Params: none.
// Returns: canonical label-set key.
func (l LabeledValue) LabelKey() string {
	return CanonicalLabels(l.Labels)
}

// MetricValue stores one typed metric payload.
// Params: Type selects one payload among N/L/B.
// Returns: immutable value buffered in alarm windows.
type MetricValue struct {
	Type ValueType      `json:"t"`
	N    *float64       `json:"n,omitempty"`
	L    []LabeledValue `json:"l,omitempty"`
	B    *bool          `json:"b,omitempty"`
}

// NumberValue wraps one numeric value.
func NumberValue(v float64) MetricValue {
	return MetricValue{Type: ValueNumber, N: &v}
}

// BoolValue wraps one boolean value.
func BoolValue(v bool) MetricValue {
	return MetricValue{Type: ValueBool, B: &v}
}

// LabeledValues wraps labeled entries.
func LabeledValues(entries ...LabeledValue) MetricValue {
	return MetricValue{Type: ValueLabeled, L: entries}
}

// Scalar returns numeric view of single or boolean value.
// Params: none.
// Returns: value and true when value is not labeled.
func (v MetricValue) Scalar() (float64, bool) {
	switch v.Type {
	case ValueNumber:
		if v.N == nil {
			return 0, false
		}
		return *v.N, true
	case ValueBool:
		if v.B == nil {
			return 0, false
		}
		if *v.B {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Validate validates typed value contract.
// Params: explicit type marker and one value payload.
// Returns: validation error when value is inconsistent.
func (v MetricValue) Validate() error {
	switch v.Type {
	case ValueNumber:
		if v.N == nil {
			return errors.New("n value is required for t=n")
		}
		if v.L != nil || v.B != nil {
			return errors.New("only n must be set for t=n")
		}
	case ValueLabeled:
		if len(v.L) == 0 {
			return errors.New("l value must contain at least one entry for t=l")
		}
		if v.N != nil || v.B != nil {
			return errors.New("only l must be set for t=l")
		}
		for i, entry := range v.L {
			if len(entry.Labels) == 0 {
				return fmt.Errorf("l[%d].labels are required", i)
			}
		}
	case ValueBool:
		if v.B == nil {
			return errors.New("b value is required for t=b")
		}
		if v.N != nil || v.L != nil {
			return errors.New("only b must be set for t=b")
		}
	default:
		return fmt.Errorf("unsupported value type %q", v.Type)
	}
	return nil
}

// MetricSnapshot is one computed metric value for one entity and minute.
// Params: flattened meta, minute time bucket yyyyMMddHHmm, and typed value.
// Returns: ingestion unit routed to running rules.
type MetricSnapshot struct {
	MetaInAlarm
	TimeBucket int64       `json:"time_bucket"`
	Value      MetricValue `json:"value"`
}

// Time converts snapshot time bucket into UTC minute.
// Params: none.
// Returns: minute instant or parse error.
func (s MetricSnapshot) Time() (time.Time, error) {
	return BucketTime(s.TimeBucket)
}

// Validate validates snapshot against ingestion contract.
// Params: snapshot decoded from transport.
// Returns: validation error when schema is violated.
func (s MetricSnapshot) Validate() error {
	if strings.TrimSpace(s.MetricName) == "" {
		return errors.New("metric is required")
	}
	if !s.Scope.Valid() {
		return fmt.Errorf("unsupported scope %q", s.Scope)
	}
	if strings.TrimSpace(s.ID0) == "" {
		return errors.New("id0 is required")
	}
	if _, err := BucketTime(s.TimeBucket); err != nil {
		return err
	}
	if err := s.Value.Validate(); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

// UnmarshalJSON accepts any scope spelling and canonicalizes it.
func (s *MetricSnapshot) UnmarshalJSON(raw []byte) error {
	type plain MetricSnapshot
	var decoded plain
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	if scope, ok := ParseScope(string(decoded.Scope)); ok {
		decoded.Scope = scope
	}
	*s = MetricSnapshot(decoded)
	return nil
}

// DecodeSnapshot decodes and validates one snapshot payload.
// Params: JSON document bytes.
// Returns: validated snapshot or decode/validation error.
func DecodeSnapshot(raw []byte) (MetricSnapshot, error) {
	var snapshot MetricSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return MetricSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return MetricSnapshot{}, err
	}
	return snapshot, nil
}

// DecodeSnapshotsReader decodes and validates one batch of snapshots from stream.
// Params: decoder with one JSON array.
// Returns: validated snapshots or decode/validation error.
func DecodeSnapshotsReader(reader *json.Decoder) ([]MetricSnapshot, error) {
	var snapshots []MetricSnapshot
	if err := reader.Decode(&snapshots); err != nil {
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
	return snapshots, nil
}

// MinuteBucket converts instant into yyyyMMddHHmm minute bucket.
// Params: any instant; converted to UTC.
// Returns: numeric minute bucket.
func MinuteBucket(at time.Time) int64 {
	bucket, _ := strconv.ParseInt(at.UTC().Format(timeBucketLayout), 10, 64)
	return bucket
}

// BucketTime parses yyyyMMddHHmm minute bucket.
// Params: numeric minute bucket.
// Returns: UTC minute instant or error for malformed bucket.
func BucketTime(bucket int64) (time.Time, error) {
	text := strconv.FormatInt(bucket, 10)
	if len(text) != len(timeBucketLayout) {
		return time.Time{}, fmt.Errorf("time_bucket %d must use yyyyMMddHHmm", bucket)
	}
	at, err := time.ParseInLocation(timeBucketLayout, text, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("time_bucket %d: %w", bucket, err)
	}
	return at, nil
}

// CanonicalLabels renders label map in sorted k=v,k=v form.
// Params: label map, may be empty.
// Returns: stable key; empty string for no labels.
func CanonicalLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(labels[key])
	}
	return b.String()
}
