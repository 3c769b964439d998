package match

import (
	"math/rand"
	"time"

	"github.com/natefell/quizarena/pkg/questions"
)

// State is the match-level lifecycle state
type State string

const (
	StateWaiting  State = "waiting"
	StateStarting State = "starting"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateEnded    State = "ended"
)

// RoundState is the round-level lifecycle state. Transitions are monotonic:
// waiting, active, ended; never reverses.
type RoundState string

const (
	RoundWaiting RoundState = "waiting"
	RoundActive  RoundState = "active"
	RoundEnded   RoundState = "ended"
)

// Submission records one participant's answer for a round. Immutable once
// recorded; at most one per participant per round.
type Submission struct {
	ChosenIndex    int
	ReceivedAt     time.Time
	ResponseTimeMs int64
	Correct        bool
}

// Round is one timed question exchange. Each participant receives an
// independently shuffled answer ordering over the same underlying question,
// so the correct index can differ between the two sides.
type Round struct {
	State        RoundState
	Seed         questions.Seed
	Answers      map[string][]string
	CorrectIndex map[string]int
	Submissions  map[string]*Submission
	Winner       string
	StartedAt    time.Time
	EndsAt       time.Time

	timer *time.Timer
}

// stopTimer clears the round's timeout timer if armed
func (r *Round) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// newRound builds a round from a question seed, shuffling answers
// independently for each participant.
func newRound(seed questions.Seed, identities [2]string) *Round {
	r := &Round{
		State:        RoundWaiting,
		Seed:         seed,
		Answers:      make(map[string][]string, 2),
		CorrectIndex: make(map[string]int, 2),
		Submissions:  make(map[string]*Submission, 2),
	}
	for _, id := range identities {
		answers := make([]string, 0, len(seed.IncorrectAnswers)+1)
		answers = append(answers, seed.CorrectAnswer)
		answers = append(answers, seed.IncorrectAnswers...)
		rand.Shuffle(len(answers), func(i, j int) {
			answers[i], answers[j] = answers[j], answers[i]
		})
		r.Answers[id] = answers
		for i, a := range answers {
			if a == seed.CorrectAnswer {
				r.CorrectIndex[id] = i
				break
			}
		}
	}
	return r
}

// participant is one side of a session
type participant struct {
	identity    string
	displayName string
	rating      int // rating at pairing time
}

// Session owns the round-by-round state for one active pairing. All
// mutation happens on the session's task goroutine; methods on Session are
// only called from tasks.
type Session struct {
	ID           string
	Category     string
	state        State
	participants [2]participant
	scores       map[string]int
	rounds       []*Round
	current      int
	questionBuf  []questions.Seed
	seenIDs      []string
	startedAt    time.Time
	settledAt    time.Time
	settled      bool
	fetching     bool
	disconnected map[string]bool

	tasks chan func()
	done  chan struct{}
}

func newSession(id, category string, a, b participant) *Session {
	return &Session{
		ID:           id,
		Category:     category,
		state:        StateWaiting,
		participants: [2]participant{a, b},
		scores:       map[string]int{a.identity: 0, b.identity: 0},
		disconnected: make(map[string]bool),
		startedAt:    time.Now(),
		tasks:        make(chan func(), 32),
		done:         make(chan struct{}),
	}
}

// run drains the task queue. One goroutine per session guarantees
// submissions and timer callbacks for a match are adjudicated in arrival
// order, never interleaved.
func (s *Session) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			return
		}
	}
}

// enqueue posts a task onto the session's ordered queue. Tasks posted after
// the session is torn down are dropped.
func (s *Session) enqueue(fn func()) {
	select {
	case <-s.done:
	case s.tasks <- fn:
	}
}

// stop tears the task goroutine down
func (s *Session) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// identities returns both participant identities
func (s *Session) identities() [2]string {
	return [2]string{s.participants[0].identity, s.participants[1].identity}
}

// opponent returns the other participant's identity
func (s *Session) opponent(identity string) string {
	if s.participants[0].identity == identity {
		return s.participants[1].identity
	}
	return s.participants[0].identity
}

// isParticipant reports whether the identity belongs to this session
func (s *Session) isParticipant(identity string) bool {
	return s.participants[0].identity == identity || s.participants[1].identity == identity
}

// currentRound returns the live round, or nil before the first round starts
func (s *Session) currentRound() *Round {
	if s.current < 0 || s.current >= len(s.rounds) {
		return nil
	}
	return s.rounds[s.current]
}

// copyScores snapshots the score map for outbound payloads
func (s *Session) copyScores() map[string]int {
	out := make(map[string]int, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}
