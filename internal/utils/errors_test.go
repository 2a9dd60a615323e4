package utils

import (
	"errors"
	"testing"
)

func TestAppErrorUnwrap(t *testing.T) {
	sentinel := errors.New("Unauthorized")
	err := NewAppError("query.traces", "", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match the wrapped sentinel")
	}
	if err.Error() != "query.traces: Unauthorized" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if PublicMessage(err) != "Unauthorized" {
		t.Fatalf("unexpected public message: %s", PublicMessage(err))
	}
}

func TestPublicMessagePlainError(t *testing.T) {
	if PublicMessage(errors.New("boom")) != "boom" {
		t.Fatalf("expected plain error text")
	}
	if PublicMessage(NewAppError("op", "bad request", nil)) != "bad request" {
		t.Fatalf("expected message without wrapped error")
	}
	if PublicMessage(nil) != "" {
		t.Fatalf("expected empty message for nil error")
	}
}
