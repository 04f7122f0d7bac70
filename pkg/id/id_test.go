package id

import (
	"sort"
	"testing"
)

func TestNewUniqueAndSortable(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v := New()
		if len(v) != 26 {
			t.Fatalf("ULID length = %d, want 26", len(v))
		}
		if seen[v] {
			t.Fatalf("duplicate id %s", v)
		}
		seen[v] = true
		ids = append(ids, v)
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("ids generated in sequence should be lexicographically ordered")
	}
}
