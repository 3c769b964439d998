package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NotFound("match not found")

	if err.Kind != ErrNotFound {
		t.Errorf("expected Kind to be ErrNotFound (%d), got %d", ErrNotFound, err.Kind)
	}
	if err.Message != "match not found" {
		t.Errorf("expected Message to be 'match not found', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Errorf("expected Err to be nil, got %v", err.Err)
	}
}

func TestNotFoundf(t *testing.T) {
	err := NotFoundf("player %s not found", "alice")

	if err.Kind != ErrNotFound {
		t.Errorf("expected Kind to be ErrNotFound (%d), got %d", ErrNotFound, err.Kind)
	}
	if err.Message != "player alice not found" {
		t.Errorf("expected formatted message, got '%s'", err.Message)
	}
}

func TestTooLate(t *testing.T) {
	err := TooLate("answer window closed")

	if err.Kind != ErrTooLate {
		t.Errorf("expected Kind to be ErrTooLate (%d), got %d", ErrTooLate, err.Kind)
	}
}

func TestConflict(t *testing.T) {
	err := Conflictf("answer already recorded for round %d", 2)

	if err.Kind != ErrConflict {
		t.Errorf("expected Kind to be ErrConflict (%d), got %d", ErrConflict, err.Kind)
	}
	if err.Message != "answer already recorded for round 2" {
		t.Errorf("unexpected message '%s'", err.Message)
	}
}

func TestUnauthorized(t *testing.T) {
	err := Unauthorized("not a participant")

	if err.Kind != ErrUnauthorized {
		t.Errorf("expected Kind to be ErrUnauthorized (%d), got %d", ErrUnauthorized, err.Kind)
	}
}

func TestInternal_WrapsUnderlying(t *testing.T) {
	underlying := fmt.Errorf("connection refused")
	err := Internal(underlying)

	if err.Kind != ErrInternal {
		t.Errorf("expected Kind to be ErrInternal (%d), got %d", ErrInternal, err.Kind)
	}
	if !errors.Is(err, underlying) {
		t.Error("expected wrapped error to match with errors.Is")
	}
	if err.Error() != "internal error: connection refused" {
		t.Errorf("unexpected error string '%s'", err.Error())
	}
}

func TestWrap_PreservesKindAndUnderlying(t *testing.T) {
	underlying := fmt.Errorf("no rows")
	err := Wrap(underlying, ErrNotFound, "failed to load profile")

	if err.Kind != ErrNotFound {
		t.Errorf("expected Kind to be ErrNotFound (%d), got %d", ErrNotFound, err.Kind)
	}
	if !errors.Is(err, underlying) {
		t.Error("expected wrapped error to match with errors.Is")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(Validation("bad")) != ErrValidation {
		t.Error("expected ErrValidation")
	}
	if KindOf(fmt.Errorf("plain")) != ErrInternal {
		t.Error("expected plain errors to classify as ErrInternal")
	}
}
