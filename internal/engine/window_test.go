package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"alarmcore/internal/domain"
	"alarmcore/internal/expr"
)

var windowBase = time.Date(2018, 8, 30, 14, 34, 0, 0, time.UTC)

func testEntity(id string) domain.AlarmEntity {
	return domain.AlarmEntity{Scope: domain.ScopeService, ID0: id}
}

func constEval(matched bool) evalFunc {
	return func(expr.Frame) (bool, []string, error) { return matched, nil, nil }
}

// runScript advances the window one minute per step and checks it with the scripted result.
func runScript(t *testing.T, timers Timers, script []bool) ([]Outcome, []domain.AlarmState) {
	t.Helper()

	window := NewWindow(testEntity("1"), "Service_1", 3)
	outcomes := make([]Outcome, 0, len(script))
	states := make([]domain.AlarmState, 0, len(script))
	for i, matched := range script {
		at := windowBase.Add(time.Duration(i) * time.Minute)
		window.MoveTo(at)
		window.Add("m", at, domain.NumberValue(1))
		outcome, err := window.check(timers, constEval(matched))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		outcomes = append(outcomes, outcome)
		states = append(states, window.State())
	}
	return outcomes, states
}

func TestWindowAddRespectsCapacity(t *testing.T) {
	t.Parallel()

	window := NewWindow(testEntity("1"), "Service_1", 3)
	if !window.Add("m", windowBase, domain.NumberValue(1)) {
		t.Fatalf("first add must anchor the window")
	}
	if !window.Add("m", windowBase.Add(-2*time.Minute), domain.NumberValue(2)) {
		t.Fatalf("oldest slot must be accepted")
	}
	if window.Add("m", windowBase.Add(-3*time.Minute), domain.NumberValue(3)) {
		t.Fatalf("bucket beyond capacity must be dropped")
	}
	if window.Len() != 2 || window.Cap() != 3 {
		t.Fatalf("unexpected len/cap %d/%d", window.Len(), window.Cap())
	}
}

func TestWindowAddNewerBucketShifts(t *testing.T) {
	t.Parallel()

	window := NewWindow(testEntity("1"), "Service_1", 3)
	window.Add("m", windowBase, domain.NumberValue(1))
	window.Add("m", windowBase.Add(2*time.Minute+30*time.Second), domain.NumberValue(2))

	status := window.Status()
	if !status.EndTime.Equal(windowBase.Add(2 * time.Minute)) {
		t.Fatalf("end time must follow newest bucket, got %s", status.EndTime)
	}
	want := []int64{201808301434, 201808301436}
	var got []int64
	for _, bucket := range status.Buckets {
		got = append(got, bucket.TimeBucket)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected buckets %v", got)
	}

	var frame expr.Frame
	window.check(Timers{}, func(f expr.Frame) (bool, []string, error) {
		frame = f
		return false, nil, nil
	})
	if frame.Slots[0] == nil || frame.Slots[1] != nil || frame.Slots[2] == nil {
		t.Fatalf("unexpected slot layout %v", frame.Slots)
	}
}

func TestWindowMoveTo(t *testing.T) {
	t.Parallel()

	window := NewWindow(testEntity("1"), "Service_1", 3)
	window.Add("m", windowBase, domain.NumberValue(1))

	window.MoveTo(windowBase.Add(-5 * time.Minute))
	if window.Len() != 1 {
		t.Fatalf("backward move must be ignored")
	}
	window.MoveTo(windowBase.Add(2 * time.Minute))
	if window.Len() != 1 {
		t.Fatalf("value must survive while inside capacity")
	}
	window.MoveTo(windowBase.Add(3 * time.Minute))
	if window.Len() != 0 || !window.expired() {
		t.Fatalf("value must be evicted once outside capacity")
	}

	window.Add("m", windowBase.Add(3*time.Minute), domain.NumberValue(1))
	window.MoveTo(windowBase.Add(time.Hour))
	if !window.expired() {
		t.Fatalf("large jump must clear every slot")
	}
}

func TestWindowStateMachine(t *testing.T) {
	t.Parallel()

	fire, none, rec := OutcomeFire, OutcomeNone, OutcomeRecover
	cases := []struct {
		name   string
		timers Timers
		script []bool
		want   []Outcome
	}{
		{
			name:   "silence repeats firing every third match",
			timers: Timers{Silence: 2},
			script: []bool{true, true, true, true, true, true, true},
			want:   []Outcome{fire, none, none, fire, none, none, fire},
		},
		{
			name:   "zero silence fires every tick",
			timers: Timers{},
			script: []bool{true, true, true},
			want:   []Outcome{fire, fire, fire},
		},
		{
			name:   "immediate recovery without observation",
			timers: Timers{Silence: 5},
			script: []bool{true, false, false},
			want:   []Outcome{fire, rec, none},
		},
		{
			name:   "observation delays recovery",
			timers: Timers{Observation: 2},
			script: []bool{true, false, false, false, false},
			want:   []Outcome{fire, none, none, rec, none},
		},
		{
			name:   "match during observation fires again",
			timers: Timers{Observation: 2},
			script: []bool{true, false, true, false, false, false},
			want:   []Outcome{fire, none, fire, none, none, rec},
		},
		{
			name:   "match during observation stays silent while silenced",
			timers: Timers{Silence: 3, Observation: 2},
			script: []bool{true, false, true, true, true},
			want:   []Outcome{fire, none, none, none, fire},
		},
		{
			name:   "fire again after recovery",
			timers: Timers{},
			script: []bool{true, false, true},
			want:   []Outcome{fire, rec, fire},
		},
		{
			name:   "mismatch in normal stays quiet",
			timers: Timers{Observation: 1},
			script: []bool{false, false},
			want:   []Outcome{none, none},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _ := runScript(t, tc.timers, tc.script)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("outcomes=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestWindowStatesAlongRecovery(t *testing.T) {
	t.Parallel()

	_, states := runScript(t, Timers{Silence: 1, Observation: 1}, []bool{true, true, false, false, false})
	want := []domain.AlarmState{
		domain.AlarmStateFiring,
		domain.AlarmStateSilenced,
		domain.AlarmStateObservingRecovery,
		domain.AlarmStateRecovered,
		domain.AlarmStateNormal,
	}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states=%v, want %v", states, want)
	}
}

func TestWindowCheckIsIdempotentWithoutNewData(t *testing.T) {
	t.Parallel()

	window := NewWindow(testEntity("1"), "Service_1", 3)
	window.Add("m", windowBase, domain.NumberValue(1))

	calls := 0
	evaluate := func(expr.Frame) (bool, []string, error) {
		calls++
		return true, nil, nil
	}
	first, _ := window.check(Timers{}, evaluate)
	second, _ := window.check(Timers{}, evaluate)
	if first != OutcomeFire || second != OutcomeNone || calls != 1 {
		t.Fatalf("unexpected outcomes %v/%v after %d evaluations", first, second, calls)
	}

	window.MoveTo(windowBase.Add(time.Minute))
	if third, _ := window.check(Timers{}, evaluate); third != OutcomeFire || calls != 2 {
		t.Fatalf("moved window must be evaluated again, got %v after %d", third, calls)
	}
}

func TestWindowCheckErrorKeepsState(t *testing.T) {
	t.Parallel()

	window := NewWindow(testEntity("1"), "Service_1", 3)
	window.Add("m", windowBase, domain.NumberValue(1))

	boom := errors.New("boom")
	outcome, err := window.check(Timers{}, func(expr.Frame) (bool, []string, error) { return false, nil, boom })
	if !errors.Is(err, boom) || outcome != OutcomeNone {
		t.Fatalf("expected evaluator error, got %v %v", outcome, err)
	}
	if window.State() != domain.AlarmStateNormal {
		t.Fatalf("state must be untouched, got %s", window.State())
	}
	if outcome, _ := window.check(Timers{}, constEval(true)); outcome != OutcomeFire {
		t.Fatalf("failed check must not mark window checked, got %v", outcome)
	}
}

func TestWindowStatusIsDetached(t *testing.T) {
	t.Parallel()

	window := NewWindow(testEntity("1"), "Service_1", 2)
	window.Add("m", windowBase, domain.NumberValue(1))
	window.check(Timers{}, func(expr.Frame) (bool, []string, error) { return true, []string{"p=99"}, nil })
	window.remember(domain.AlarmMessage{ID: "x", RuleName: "r"})

	status := window.Status()
	status.Buckets[0].Values["m"] = domain.NumberValue(9)
	status.MatchedLabels[0] = "changed"
	status.LastAlarm.ID = "changed"

	again := window.Status()
	if v, _ := again.Buckets[0].Values["m"].Scalar(); v != 1 {
		t.Fatalf("bucket values must be copied")
	}
	if again.MatchedLabels[0] != "p=99" || again.LastAlarm.ID != "x" {
		t.Fatalf("status must be detached: %+v", again)
	}
	if again.State != domain.AlarmStateFiring || again.Size != 2 {
		t.Fatalf("unexpected status %+v", again)
	}
}
