package match

import (
	"testing"

	"github.com/natefell/quizarena/pkg/questions"
)

func TestNewRound_ShufflesPerParticipant(t *testing.T) {
	seed := questions.Seed{
		ID:               "q1",
		Text:             "Capital of France?",
		CorrectAnswer:    "Paris",
		IncorrectAnswers: []string{"London", "Berlin", "Madrid"},
	}
	identities := [2]string{"alice", "bob"}

	r := newRound(seed, identities)

	for _, id := range identities {
		answers := r.Answers[id]
		if len(answers) != 4 {
			t.Fatalf("expected 4 answers for %s, got %d", id, len(answers))
		}
		idx := r.CorrectIndex[id]
		if idx < 0 || idx >= len(answers) {
			t.Fatalf("correct index %d out of range for %s", idx, id)
		}
		if answers[idx] != "Paris" {
			t.Errorf("correct index for %s points at %q", id, answers[idx])
		}
		// Every option appears exactly once.
		seen := make(map[string]int)
		for _, a := range answers {
			seen[a]++
		}
		for opt, n := range seen {
			if n != 1 {
				t.Errorf("option %q appears %d times for %s", opt, n, id)
			}
		}
	}
}

func TestSession_EnqueueAfterStopIsDropped(t *testing.T) {
	s := newSession("m1", "science",
		participant{identity: "alice"},
		participant{identity: "bob"},
	)
	go s.run()
	s.stop()

	// Must not block or panic.
	s.enqueue(func() {})
}

func TestSession_Opponent(t *testing.T) {
	s := newSession("m1", "science",
		participant{identity: "alice"},
		participant{identity: "bob"},
	)
	if s.opponent("alice") != "bob" {
		t.Errorf("expected bob, got %s", s.opponent("alice"))
	}
	if s.opponent("bob") != "alice" {
		t.Errorf("expected alice, got %s", s.opponent("bob"))
	}
	if !s.isParticipant("alice") || s.isParticipant("mallory") {
		t.Error("participant check failed")
	}
}
