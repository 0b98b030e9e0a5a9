package engine

import (
	"testing"

	"alarmcore/internal/config"
)

func TestNameFilterAdmit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		rule  config.AlarmRule
		admit map[string]bool
	}{
		{
			name:  "no filters",
			rule:  config.AlarmRule{},
			admit: map[string]bool{"anything": true, "": true},
		},
		{
			name:  "include list",
			rule:  config.AlarmRule{IncludeNames: []string{"Service_123"}},
			admit: map[string]bool{"Service_123": true, "Service_1234": false, "service_123": false},
		},
		{
			name:  "exclude list",
			rule:  config.AlarmRule{ExcludeNames: []string{"Service_123"}},
			admit: map[string]bool{"Service_123": false, "Service_223": true},
		},
		{
			name:  "include regex matches whole name",
			rule:  config.AlarmRule{IncludeNamesRegex: `Service\_1(\d)+`},
			admit: map[string]bool{"Service_123": true, "Service_223": false, "xService_123": false, "Service_12a": false},
		},
		{
			name:  "exclude regex",
			rule:  config.AlarmRule{ExcludeNamesRegex: `Service\_2(\d)+`},
			admit: map[string]bool{"Service_123": true, "Service_223": false},
		},
		{
			name: "include list and exclude regex",
			rule: config.AlarmRule{
				IncludeNames:      []string{"Service_123", "Service_223"},
				ExcludeNamesRegex: `Service\_2(\d)+`,
			},
			admit: map[string]bool{"Service_123": true, "Service_223": false, "Service_323": false},
		},
		{
			name: "exclude wins over include",
			rule: config.AlarmRule{
				IncludeNames: []string{"Service_123"},
				ExcludeNames: []string{"Service_123"},
			},
			admit: map[string]bool{"Service_123": false},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			filter, err := NewNameFilter(tc.rule)
			if err != nil {
				t.Fatalf("new filter: %v", err)
			}
			for name, want := range tc.admit {
				if got := filter.Admit(name); got != want {
					t.Fatalf("Admit(%q)=%v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestNewNameFilterRejectsBadRegex(t *testing.T) {
	t.Parallel()

	if _, err := NewNameFilter(config.AlarmRule{IncludeNamesRegex: "("}); err == nil {
		t.Fatalf("expected include regex error")
	}
	if _, err := NewNameFilter(config.AlarmRule{ExcludeNamesRegex: "[a-"}); err == nil {
		t.Fatalf("expected exclude regex error")
	}
}
