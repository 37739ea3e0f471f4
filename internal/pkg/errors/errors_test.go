package errors

import (
	"fmt"
	"testing"
)

func TestPermanentSurvivesWrapping(t *testing.T) {
	base := New("unsupported file type: .docx")
	err := fmt.Errorf("extract: %w", Permanent(base))

	if !IsPermanent(err) {
		t.Fatalf("wrapped permanent error not detected")
	}
	if !Is(err, base) {
		t.Fatalf("permanent error should unwrap to its cause")
	}
	if IsPermanent(fmt.Errorf("timeout: %w", base)) {
		t.Fatalf("plain error reported as permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
}
