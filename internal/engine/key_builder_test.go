package engine

import (
	"strings"
	"testing"

	"alarmcore/internal/domain"
)

func TestBuildAlarmKeyDeterministic(t *testing.T) {
	t.Parallel()

	first := domain.AlarmMessage{ID: "a", RuleName: "Service Resp", Scope: domain.ScopeService, ID0: "svc-1"}
	second := first
	second.ID = "b"
	second.Name = "renamed"

	keyA := BuildAlarmKey(first)
	keyB := BuildAlarmKey(second)
	if keyA != keyB {
		t.Fatalf("expected deterministic key, got %q and %q", keyA, keyB)
	}
	if !strings.HasPrefix(keyA, "alarm/service_resp/service/") {
		t.Fatalf("unexpected key format %q", keyA)
	}
}

func TestBuildAlarmKeySeparatesEntities(t *testing.T) {
	t.Parallel()

	base := domain.AlarmMessage{RuleName: "rule", Scope: domain.ScopeEndpointRelation, ID0: "a", ID1: "bc"}
	shifted := base
	shifted.ID0 = "ab"
	shifted.ID1 = "c"
	if BuildAlarmKey(base) == BuildAlarmKey(shifted) {
		t.Fatalf("expected id boundary to be part of the key")
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":           "_",
		"  ":         "_",
		"Rule-A.b_c": "rule-a.b_c",
		"a/b c":      "a_b_c",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q)=%q, want %q", in, got, want)
		}
	}
}
