package cli

import (
	"testing"
)

func TestExpandPatternExact(t *testing.T) {
	names := []string{"db-prod-01", "db-prod-02", "app-stage-01"}

	matches, err := ExpandPattern("db-prod-01", names)
	if err != nil {
		t.Fatalf("ExpandPattern failed: %v", err)
	}
	if len(matches) != 1 || matches[0] != "db-prod-01" {
		t.Errorf("matches = %v, want [db-prod-01]", matches)
	}

	if _, err := ExpandPattern("missing", names); err == nil {
		t.Error("exact match against missing server should fail")
	}
}

func TestExpandPatternGlob(t *testing.T) {
	names := []string{"db-prod-01", "db-prod-02", "app-stage-01"}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"db-*", []string{"db-prod-01", "db-prod-02"}},
		{"*-01", []string{"db-prod-01", "app-stage-01"}},
		{"db-prod-0?", []string{"db-prod-01", "db-prod-02"}},
		{"*", []string{"db-prod-01", "db-prod-02", "app-stage-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			matches, err := ExpandPattern(tt.pattern, names)
			if err != nil {
				t.Fatalf("ExpandPattern(%q) failed: %v", tt.pattern, err)
			}
			if len(matches) != len(tt.want) {
				t.Fatalf("ExpandPattern(%q) = %v, want %v", tt.pattern, matches, tt.want)
			}
			for i := range matches {
				if matches[i] != tt.want[i] {
					t.Errorf("ExpandPattern(%q)[%d] = %q, want %q", tt.pattern, i, matches[i], tt.want[i])
				}
			}
		})
	}
}

func TestExpandPatternNoMatches(t *testing.T) {
	if _, err := ExpandPattern("web-*", []string{"db-01"}); err == nil {
		t.Error("glob with no matches should fail")
	}
}

func TestExpandPatternInvalid(t *testing.T) {
	if _, err := ExpandPattern("[unclosed", []string{"db-01"}); err == nil {
		t.Error("malformed pattern should fail")
	}
}

func TestExpandPatternsUnique(t *testing.T) {
	names := []string{"db-01", "db-02", "app-01"}

	matches, err := ExpandPatterns([]string{"db-*", "*-01"}, names)
	if err != nil {
		t.Fatalf("ExpandPatterns failed: %v", err)
	}
	// db-01 matches both patterns but appears once
	want := []string{"db-01", "db-02", "app-01"}
	if len(matches) != len(want) {
		t.Fatalf("matches = %v, want %v", matches, want)
	}
	for i := range matches {
		if matches[i] != want[i] {
			t.Errorf("matches[%d] = %q, want %q", i, matches[i], want[i])
		}
	}
}

func TestSortNames(t *testing.T) {
	names := []string{"c", "a", "b"}
	sorted := SortNames(names)

	if sorted[0] != "a" || sorted[1] != "b" || sorted[2] != "c" {
		t.Errorf("SortNames = %v", sorted)
	}
	// Input untouched
	if names[0] != "c" {
		t.Error("SortNames mutated its input")
	}
}
