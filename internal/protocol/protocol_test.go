package protocol

import (
	"encoding/json"
	"testing"

	"github.com/natefell/quizarena/internal/errors"
)

func TestDecode_ValidFrame(t *testing.T) {
	env, err := Decode([]byte(`{"type":"join_queue","payload":{"category":"science"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != KindJoinQueue {
		t.Errorf("expected type join_queue, got %s", env.Type)
	}

	var p JoinQueuePayload
	if err := json.Unmarshal(env.Raw, &p); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if p.Category != "science" {
		t.Errorf("expected category science, got %s", p.Category)
	}
}

func TestDecode_NoPayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != KindPing {
		t.Errorf("expected type ping, got %s", env.Type)
	}
	if len(env.Raw) != 0 {
		t.Errorf("expected empty raw payload, got %s", env.Raw)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestErrorFrom_MapsKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", errors.NotFound("missing"), CodeMatchNotFound},
		{"validation", errors.Validation("bad"), CodeInvalidMessage},
		{"conflict", errors.Conflict("dup"), CodeAlreadyAnswered},
		{"too late", errors.TooLate("late"), CodeAnswerTooLate},
		{"unauthorized", errors.Unauthorized("nope"), CodeUnauthorized},
		{"internal", errors.Internalf("boom"), CodeServerError},
		{"plain error", json.Unmarshal([]byte("x"), nil), CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ErrorFrom(tt.err)
			if env.Type != KindError {
				t.Fatalf("expected error envelope, got %s", env.Type)
			}
			payload := env.Payload.(ErrorPayload)
			if payload.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, payload.Code)
			}
		})
	}
}

func TestErrorFrom_DoesNotLeakInternals(t *testing.T) {
	env := ErrorFrom(errors.Internal(json.Unmarshal([]byte("x"), nil)))
	payload := env.Payload.(ErrorPayload)
	if payload.Message == "" {
		t.Error("expected a message")
	}
	if payload.Code != CodeServerError {
		t.Errorf("expected server_error, got %s", payload.Code)
	}
}
