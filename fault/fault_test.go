package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	errClosed := New(Timing, "thing: closed")
	wrapped := fmt.Errorf("outer: %w", errClosed)

	if !errors.Is(wrapped, errClosed) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if got := KindOf(wrapped); got != Timing {
		t.Fatalf("expected kind %s, got %s", Timing, got)
	}
	if !Is(wrapped, Timing) || Is(wrapped, Validation) {
		t.Fatalf("Is reported the wrong kind for %v", wrapped)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Fatalf("expected unknown kind, got %s", got)
	}
	if Is(nil, Unknown) {
		t.Fatalf("nil error must not match any kind")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	a := New(Validation, "same text")
	b := New(Validation, "same text")
	if errors.Is(a, b) {
		t.Fatalf("sentinels with equal text must not match each other")
	}
}
