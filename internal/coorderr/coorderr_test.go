package coorderr

import (
	"errors"
	"testing"
)

func TestIsClassifiesWrappedError(t *testing.T) {
	base := errors.New("acquire returned false")
	err := New(ClassContention, "putOwnRecord", base)

	if !Is(err, ClassContention) {
		t.Fatalf("expected ClassContention, got class lookup failure")
	}
	if Is(err, ClassTransport) {
		t.Fatalf("did not expect ClassTransport")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to find the wrapped base error")
	}
}

func TestClassOfUnknownError(t *testing.T) {
	_, ok := ClassOf(errors.New("plain"))
	if ok {
		t.Fatalf("expected ok=false for a plain error")
	}
}

func TestNewNilErrReturnsNil(t *testing.T) {
	if New(ClassTransport, "op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := Newf(ClassValidation, "address", "invalid: %s", "10.0.1.1")
	want := "validation: address: invalid: 10.0.1.1"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
