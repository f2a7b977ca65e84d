package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"Validation", Validation("bad"), CodeValidation},
		{"NotFound", NotFound("missing"), CodeNotFound},
		{"Forbidden", Forbidden("nope"), CodeForbidden},
		{"Wrapped forbidden", fmt.Errorf("ctx: %w", Forbidden("nope")), CodeForbidden},
		{"Plain error", errors.New("boom"), CodeInternal},
		{"Store failure", Store("insert failed", errors.New("conn reset")), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("resolve: %w", Forbidden("not a member"))
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("errors.Is(err, ErrForbidden) = false, want true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = true, want false")
	}
}

func TestStoreKeepsClassifiedErrors(t *testing.T) {
	nf := NotFound("group not found")
	if got := Store("lookup", nf); got != nf {
		t.Errorf("Store() rewrapped a classified error: %v", got)
	}
	if Store("noop", nil) != nil {
		t.Errorf("Store(nil) should be nil")
	}
}

func TestMessageOfHidesInternalCause(t *testing.T) {
	err := Store("insert message", errors.New("pq: password authentication failed"))
	if got := MessageOf(err); got != "Internal server error" {
		t.Errorf("MessageOf() = %q, want generic message", got)
	}
	if got := MessageOf(Validation("text is required")); got != "text is required" {
		t.Errorf("MessageOf() = %q, want %q", got, "text is required")
	}
}
