package uid

import (
	"strings"
	"testing"
)

func TestNewLengthAndCharset(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != idLen {
			t.Fatalf("New() length = %d, want %d (id=%q)", len(id), idLen, id)
		}
		if !Valid(id) {
			t.Fatalf("New() produced invalid id %q", id)
		}
		if seen[id] {
			t.Fatalf("New() produced duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	valid := []string{
		"abc",
		"ABC-123_xyz",
		New(),
		strings.Repeat("a", 64),
	}
	for _, id := range valid {
		if !Valid(id) {
			t.Errorf("Valid(%q) = false, want true", id)
		}
	}

	invalid := []string{
		"",
		"..",
		".",
		"a/b",
		"a\\b",
		"a.b",
		"a b",
		"id\x00",
		"../../etc/passwd",
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		if Valid(id) {
			t.Errorf("Valid(%q) = true, want false", id)
		}
	}
}
