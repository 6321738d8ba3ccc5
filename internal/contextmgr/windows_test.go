package contextmgr

import "testing"

func TestWindowTable_Lookup(t *testing.T) {
	table := WindowTable{
		Exact: map[string]int{
			"claude-sonnet-4": 200000,
			"claude-sonnet":   100000,
			"gpt-4o":          128000,
		},
		Default: 64000,
	}

	cases := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4", 200000},             // exact
		{"claude-sonnet-4-20250514", 200000},    // longest prefix wins over "claude-sonnet"
		{"claude-sonnet-3-legacy", 100000},      // shorter prefix
		{"gpt-4o-mini", 128000},                 // prefix
		{"some-unknown-model", 64000},           // default
	}
	for _, tc := range cases {
		if got := table.Lookup(tc.model); got != tc.want {
			t.Errorf("Lookup(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}
