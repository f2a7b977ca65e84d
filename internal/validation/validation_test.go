package validation

import (
	"reflect"
	"strings"
	"testing"
)

func TestTrimAndLimit(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"Trims spaces", "  hello  ", 10, "hello"},
		{"Cuts long text", "hello world", 5, "hello"},
		{"No limit", "  long text  ", 0, "long text"},
		{"Keeps multibyte runes whole", "héllo", 2, "hé"},
		{"Trims after cut", "ab cd", 3, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimAndLimit(tt.input, tt.max)
			if result != tt.expected {
				t.Errorf("TrimAndLimit(%q, %d) = %q, want %q", tt.input, tt.max, result, tt.expected)
			}
		})
	}
}

func TestValidateGroupName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid name", "Weekend plans", true},
		{"Blank name", "   ", false},
		{"Empty name", "", false},
		{"Very long name is cut not rejected", strings.Repeat("a", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateGroupName(tt.input)
			if result != tt.expected {
				t.Errorf("ValidateGroupName(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}

	if got := NormalizeGroupName(strings.Repeat("a", 300)); len(got) != MaxGroupNameLength {
		t.Errorf("NormalizeGroupName length = %d, want %d", len(got), MaxGroupNameLength)
	}
}

func TestUniqueIDs(t *testing.T) {
	got := UniqueIDs([]uint{3, 0, 1, 3, 2, 1})
	want := []uint{3, 1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueIDs = %v, want %v", got, want)
	}
}

func TestWithout(t *testing.T) {
	got := Without([]uint{1, 2, 1, 3}, 1)
	want := []uint{2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Without = %v, want %v", got, want)
	}
}
