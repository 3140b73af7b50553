package signerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(IoFailure, "bundle.SignApp", errors.New("disk full"))
	want := "IoFailure: bundle.SignApp: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := New(CryptoFailure, "op", inner)
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to see through Unwrap to the inner error")
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(MachOMalformed, "opA", errors.New("x"))
	b := New(MachOMalformed, "opB", errors.New("y"))
	c := New(BundleMalformed, "opC", errors.New("z"))

	if !errors.Is(a, b) {
		t.Error("expected two errors with the same Kind to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected errors with different Kinds not to match")
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := New(InvalidInput, "op", errors.New("bad flag"))
	wrapped := fmt.Errorf("context: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected KindOf to find the wrapped *Error")
	}
	if kind != InvalidInput {
		t.Errorf("kind = %v, want InvalidInput", kind)
	}
}

func TestKindOfMiss(t *testing.T) {
	if _, ok := KindOf(errors.New("plain error")); ok {
		t.Error("expected KindOf to report ok=false for a non-signerr error")
	}
}
