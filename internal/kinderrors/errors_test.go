package kinderrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(OCRTransient, "agents.OCRAgent.download", errors.New("connection reset"))
	wrapped := fmt.Errorf("stage failed: %w", err)

	if !Is(wrapped, OCRTransient) {
		t.Error("expected Is to see through fmt.Errorf wrapping")
	}
	if Is(wrapped, OCRPermanent) {
		t.Error("expected Is to reject the wrong kind")
	}
}

func TestKindOfReturnsEmptyForPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Errorf("KindOf = %q, want empty", got)
	}
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New(NotFound, "storegw.GetDocument", nil)
	got := err.Error()
	if got != "storegw.GetDocument: NotFound" {
		t.Errorf("Error() = %q", got)
	}
}
