package engine

import (
	"sync"
	"time"

	"alarmcore/internal/clock"
	"alarmcore/internal/domain"
	"alarmcore/internal/expr"
)

// Outcome is the notification-worthy result of one window check.
type Outcome uint8

const (
	// OutcomeNone means no message for this check.
	OutcomeNone Outcome = iota
	// OutcomeFire means the entity entered FIRING and needs a firing message.
	OutcomeFire
	// OutcomeRecover means the entity entered RECOVERED and needs a recovery message.
	OutcomeRecover
)

// Timers holds the tick counts driving the alarm state machine.
// Params: silence ticks after each firing and observation ticks before recovery.
// Returns: per-check state machine configuration.
type Timers struct {
	Silence     int
	Observation int
}

// evalFunc evaluates one frame; matched label keys are kept for status queries.
type evalFunc func(expr.Frame) (bool, []string, error)

// Window is the minute-aligned buffer and alarm state machine of one (rule, entity).
// Params: created lazily by RunningRule on the first admitted snapshot.
// Returns: bounded slot buffer, cursor time, and state machine.
type Window struct {
	mu     sync.Mutex
	entity domain.AlarmEntity
	name   string

	// slots[len-1] holds endTime; slots[0] holds endTime-(len-1) minutes.
	slots   []map[string]domain.MetricValue
	endTime time.Time

	state            domain.AlarmState
	silenceRemaining int
	observed         int
	dirty            bool
	checked          bool
	lastAlarm        *domain.AlarmMessage
	matchedLabels    []string
}

// NewWindow allocates an empty window.
// Params: entity identity, display name, and capacity in minutes (period + lookback).
// Returns: window in NORMAL state.
func NewWindow(entity domain.AlarmEntity, name string, size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		entity: entity,
		name:   name,
		slots:  make([]map[string]domain.MetricValue, size),
		state:  domain.AlarmStateNormal,
	}
}

// Add stores one metric value in its minute slot.
// Params: metric name, minute bucket time, and value.
// Returns: false when bucket is older than the window capacity.
func (w *Window) Add(metric string, bucket time.Time, value domain.MetricValue) bool {
	bucket = clock.TruncateMinute(bucket)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.endTime.IsZero() {
		w.endTime = bucket
	}
	minutes := int(w.endTime.Sub(bucket) / time.Minute)
	if minutes < 0 {
		w.moveToLocked(bucket)
		minutes = 0
	}
	if minutes >= len(w.slots) {
		return false
	}
	index := len(w.slots) - minutes - 1
	if w.slots[index] == nil {
		w.slots[index] = make(map[string]domain.MetricValue, 1)
	}
	w.slots[index][metric] = value
	w.dirty = true
	return true
}

// MoveTo advances the window cursor, evicting slots that fall out of capacity.
// Params: target time, truncated to minute; earlier or equal targets are ignored.
// Returns: none.
func (w *Window) MoveTo(target time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.moveToLocked(clock.TruncateMinute(target))
}

func (w *Window) moveToLocked(target time.Time) {
	if w.endTime.IsZero() {
		w.endTime = target
		w.dirty = true
		return
	}
	minutes := int(target.Sub(w.endTime) / time.Minute)
	if minutes <= 0 {
		return
	}
	if minutes >= len(w.slots) {
		clear(w.slots)
	} else {
		copy(w.slots, w.slots[minutes:])
		clear(w.slots[len(w.slots)-minutes:])
	}
	w.endTime = target
	w.dirty = true
}

// check evaluates the buffer and advances the state machine.
// Params: state machine timers and evaluator; caller holds the rule write lock.
// Returns: outcome requiring a message, or evaluator error with state untouched.
func (w *Window) check(timers Timers, evaluate evalFunc) (Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == domain.AlarmStateRecovered {
		w.state = domain.AlarmStateNormal
	}
	if w.checked && !w.dirty {
		return OutcomeNone, nil
	}

	matched, labels, err := evaluate(expr.Frame{Slots: w.slots})
	if err != nil {
		return OutcomeNone, err
	}
	w.checked = true
	w.dirty = false
	w.matchedLabels = labels

	if matched {
		return w.onMatch(timers), nil
	}
	return w.onMismatch(timers), nil
}

func (w *Window) onMatch(timers Timers) Outcome {
	switch w.state {
	case domain.AlarmStateFiring, domain.AlarmStateSilenced, domain.AlarmStateObservingRecovery:
		w.observed = 0
		if w.silenceRemaining > 0 {
			w.silenceRemaining--
			w.state = domain.AlarmStateSilenced
			return OutcomeNone
		}
	}
	w.state = domain.AlarmStateFiring
	w.silenceRemaining = timers.Silence
	w.observed = 0
	return OutcomeFire
}

func (w *Window) onMismatch(timers Timers) Outcome {
	if w.silenceRemaining > 0 {
		w.silenceRemaining--
	}
	switch w.state {
	case domain.AlarmStateFiring, domain.AlarmStateSilenced:
		if timers.Observation <= 0 {
			return w.recover()
		}
		w.state = domain.AlarmStateObservingRecovery
		w.observed = 1
	case domain.AlarmStateObservingRecovery:
		w.observed++
		if w.observed > timers.Observation {
			return w.recover()
		}
	}
	return OutcomeNone
}

func (w *Window) recover() Outcome {
	w.state = domain.AlarmStateRecovered
	w.observed = 0
	w.silenceRemaining = 0
	return OutcomeRecover
}

// expired reports whether every slot is empty.
func (w *Window) expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, slot := range w.slots {
		if slot != nil {
			return false
		}
	}
	return true
}

// State returns current state machine state.
func (w *Window) State() domain.AlarmState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Len returns number of non-empty minute slots.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, slot := range w.slots {
		if slot != nil {
			count++
		}
	}
	return count
}

// Cap returns window capacity in minutes.
func (w *Window) Cap() int {
	return len(w.slots)
}

func (w *Window) rename(name string) {
	w.mu.Lock()
	w.name = name
	w.mu.Unlock()
}

func (w *Window) displayName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

func (w *Window) remember(msg domain.AlarmMessage) {
	w.mu.Lock()
	w.lastAlarm = &msg
	w.mu.Unlock()
}

// takeLastAlarm returns and forgets the firing message a recovery closes.
func (w *Window) takeLastAlarm() *domain.AlarmMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	last := w.lastAlarm
	w.lastAlarm = nil
	return last
}

// WindowStatus is a read-only copy of one window for status queries.
type WindowStatus struct {
	Entity        domain.AlarmEntity   `json:"entity"`
	Name          string               `json:"name"`
	State         domain.AlarmState    `json:"state"`
	EndTime       time.Time            `json:"end_time"`
	Size          int                  `json:"size"`
	Buckets       []BucketStatus       `json:"buckets"`
	MatchedLabels []string             `json:"matched_labels,omitempty"`
	LastAlarm     *domain.AlarmMessage `json:"last_alarm,omitempty"`
}

// BucketStatus is one non-empty minute slot.
type BucketStatus struct {
	TimeBucket int64                         `json:"time_bucket"`
	Values     map[string]domain.MetricValue `json:"values"`
}

// Status copies window contents.
// Params: none.
// Returns: snapshot detached from the live window.
func (w *Window) Status() WindowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := WindowStatus{
		Entity:        w.entity,
		Name:          w.name,
		State:         w.state,
		EndTime:       w.endTime,
		Size:          len(w.slots),
		MatchedLabels: append([]string(nil), w.matchedLabels...),
	}
	if w.lastAlarm != nil {
		last := *w.lastAlarm
		out.LastAlarm = &last
	}
	for i, slot := range w.slots {
		if slot == nil {
			continue
		}
		values := make(map[string]domain.MetricValue, len(slot))
		for name, value := range slot {
			values[name] = value
		}
		at := w.endTime.Add(-time.Duration(len(w.slots)-1-i) * time.Minute)
		out.Buckets = append(out.Buckets, BucketStatus{TimeBucket: domain.MinuteBucket(at), Values: values})
	}
	return out
}
