// Package match drives a pairing through countdown, timed question rounds,
// adjudication and settlement, tolerating disconnection without losing
// match integrity.
package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/natefell/quizarena/internal/errors"
	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/internal/matchmaking"
	"github.com/natefell/quizarena/internal/models"
	"github.com/natefell/quizarena/internal/protocol"
	"github.com/natefell/quizarena/internal/rating"
	"github.com/natefell/quizarena/internal/repository"
	"github.com/natefell/quizarena/pkg/questions"
)

// Abandonment reasons surfaced in match_abandoned payloads.
const (
	ReasonOpponentLeft = "opponent_left"
	ReasonGraceExpired = "grace_expired"
)

// Config holds the match timing and scoring parameters
type Config struct {
	// WinThreshold is the round wins needed to take the match (best-of-5:
	// first to 3).
	WinThreshold int
	// RoundDuration is the fixed per-round answer window.
	RoundDuration time.Duration
	// Forgiveness extends the answer window for network jitter; submissions
	// beyond RoundDuration+Forgiveness are rejected.
	Forgiveness time.Duration
	// ResultDelay is the pause between a round result and round end.
	ResultDelay time.Duration
	// InterRoundPause separates round end from the next round start (and
	// from settlement).
	InterRoundPause time.Duration
	// CountdownSeconds is the pre-match countdown length.
	CountdownSeconds int
	// CountdownTick is the interval between countdown broadcasts.
	CountdownTick time.Duration
	// InitialBatch questions are fetched at session creation, sized beyond
	// the expected round count to tolerate wrong-answer attrition.
	InitialBatch int
	// RefetchThreshold triggers an async refetch when the buffer drops
	// below it.
	RefetchThreshold int
	// RefetchSize is how many questions each refetch requests.
	RefetchSize int
	// Retention keeps settled sessions in memory for late state-sync
	// requests before eviction.
	Retention time.Duration
}

// DefaultConfig returns production match timings
func DefaultConfig() Config {
	return Config{
		WinThreshold:     3,
		RoundDuration:    10 * time.Second,
		Forgiveness:      1500 * time.Millisecond,
		ResultDelay:      2 * time.Second,
		InterRoundPause:  3 * time.Second,
		CountdownSeconds: 3,
		CountdownTick:    time.Second,
		InitialBatch:     10,
		RefetchThreshold: 2,
		RefetchSize:      5,
		Retention:        5 * time.Minute,
	}
}

// Sender is the connection-layer surface the manager needs. Satisfied by
// *connection.Registry.
type Sender interface {
	Send(identity string, env protocol.Envelope) bool
	GraceDeadline(identity string) (time.Time, bool)
	CancelGrace(identity string)
}

// RematchClearer forgets anti-repeat markers after settlement. Satisfied by
// *matchmaking.Queue.
type RematchClearer interface {
	ClearLastOpponents(a, b string)
}

// Manager owns all active match sessions
type Manager struct {
	log       logger.Logger
	cfg       Config
	sender    Sender
	questions questions.Client
	ratings   repository.RatingStore
	stats     repository.StatisticsStore
	engine    *rating.Engine
	rematch   RematchClearer

	mu         sync.Mutex
	sessions   map[string]*Session
	byIdentity map[string]string // identity -> matchID, active matches only
}

// NewManager creates a manager with injected dependencies. The rematch
// clearer may be nil (tests).
func NewManager(
	log logger.Logger,
	cfg Config,
	sender Sender,
	qc questions.Client,
	ratings repository.RatingStore,
	stats repository.StatisticsStore,
	engine *rating.Engine,
	rematch RematchClearer,
) *Manager {
	return &Manager{
		log:        log,
		cfg:        cfg,
		sender:     sender,
		questions:  qc,
		ratings:    ratings,
		stats:      stats,
		engine:     engine,
		rematch:    rematch,
		sessions:   make(map[string]*Session),
		byIdentity: make(map[string]string),
	}
}

// HandlePairing consumes a pairing event from the matchmaking queue and
// creates the match session. Runs asynchronously: question and profile
// fetches are I/O.
func (m *Manager) HandlePairing(p matchmaking.Pairing) {
	go m.createSession(p)
}

func (m *Manager) createSession(p matchmaking.Pairing) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	profileA, err := m.ratings.GetProfile(ctx, p.A.Identity, p.A.DisplayName)
	if err == nil {
		var profileB *models.PlayerProfile
		profileB, err = m.ratings.GetProfile(ctx, p.B.Identity, p.B.DisplayName)
		if err == nil {
			m.startSession(ctx, p, profileA, profileB)
			return
		}
	}

	// Match creation failure: both participants are told and must re-enter
	// matchmaking; the pairing is not retried here.
	m.log.Error("Failed to create session", "category", p.Category, "error", err)
	m.sender.Send(p.A.Identity, protocol.NewError(protocol.CodeServerError, "failed to create match"))
	m.sender.Send(p.B.Identity, protocol.NewError(protocol.CodeServerError, "failed to create match"))
}

func (m *Manager) startSession(ctx context.Context, p matchmaking.Pairing, profileA, profileB *models.PlayerProfile) {
	seeds, err := m.questions.SelectBatch(ctx, p.Category, nil, m.cfg.InitialBatch)
	if err != nil || len(seeds) == 0 {
		m.log.Error("Question batch fetch failed", "category", p.Category, "error", err)
		m.sender.Send(p.A.Identity, protocol.NewError(protocol.CodeServerError, "failed to create match"))
		m.sender.Send(p.B.Identity, protocol.NewError(protocol.CodeServerError, "failed to create match"))
		return
	}

	s := newSession(uuid.NewString(), p.Category,
		participant{identity: p.A.Identity, displayName: p.A.DisplayName, rating: p.A.Rating},
		participant{identity: p.B.Identity, displayName: p.B.DisplayName, rating: p.B.Rating},
	)
	s.questionBuf = seeds
	s.current = -1

	m.mu.Lock()
	// A participant belongs to at most one active session. Both sides are
	// told so neither waits on a match that will never start.
	if _, busy := m.byIdentity[p.A.Identity]; busy {
		m.mu.Unlock()
		m.sender.Send(p.A.Identity, protocol.NewError(protocol.CodeServerError, "already in a match"))
		m.sender.Send(p.B.Identity, protocol.NewError(protocol.CodeServerError, "opponent is already in a match"))
		return
	}
	if _, busy := m.byIdentity[p.B.Identity]; busy {
		m.mu.Unlock()
		m.sender.Send(p.A.Identity, protocol.NewError(protocol.CodeServerError, "opponent is already in a match"))
		m.sender.Send(p.B.Identity, protocol.NewError(protocol.CodeServerError, "already in a match"))
		return
	}
	m.sessions[s.ID] = s
	m.byIdentity[p.A.Identity] = s.ID
	m.byIdentity[p.B.Identity] = s.ID
	m.mu.Unlock()

	go s.run()

	m.sender.Send(p.A.Identity, protocol.Envelope{Type: protocol.KindMatchFound, Payload: protocol.MatchFoundPayload{
		MatchID:  s.ID,
		Category: p.Category,
		Opponent: protocol.OpponentProfile{
			Identity:    profileB.Identity,
			DisplayName: profileB.DisplayName,
			Rating:      profileB.Rating,
			Tier:        profileB.Tier,
		},
	}})
	m.sender.Send(p.B.Identity, protocol.Envelope{Type: protocol.KindMatchFound, Payload: protocol.MatchFoundPayload{
		MatchID:  s.ID,
		Category: p.Category,
		Opponent: protocol.OpponentProfile{
			Identity:    profileA.Identity,
			DisplayName: profileA.DisplayName,
			Rating:      profileA.Rating,
			Tier:        profileA.Tier,
		},
	}})

	m.log.Info("Match created", "match", s.ID, "category", p.Category,
		"player_a", p.A.Identity, "player_b", p.B.Identity)

	s.enqueue(func() {
		s.state = StateStarting
		m.countdown(s, m.cfg.CountdownSeconds)
	})
}

// countdown broadcasts the pre-match countdown, then starts round 0. A
// pause mid-countdown halts the chain; resume restarts it from the top.
func (m *Manager) countdown(s *Session, remaining int) {
	if s.state != StateStarting {
		return
	}
	if remaining <= 0 {
		s.state = StateActive
		m.broadcast(s, protocol.Envelope{Type: protocol.KindMatchStarted, Payload: protocol.MatchStartedPayload{CurrentRound: 0}})
		m.startRound(s)
		return
	}
	m.broadcast(s, protocol.Envelope{Type: protocol.KindMatchStarting, Payload: protocol.MatchStartingPayload{Countdown: remaining}})
	time.AfterFunc(m.cfg.CountdownTick, func() {
		s.enqueue(func() { m.countdown(s, remaining-1) })
	})
}

// startRound pops the next question and activates a new round. Runs on the
// session goroutine.
func (m *Manager) startRound(s *Session) {
	if s.state != StateActive {
		return
	}
	if len(s.questionBuf) == 0 {
		// Failsafe: the buffer ran dry without a clean winner.
		m.log.Warn("Question buffer exhausted, forcing settlement", "match", s.ID)
		m.settle(s)
		return
	}

	seed := s.questionBuf[0]
	s.questionBuf = s.questionBuf[1:]
	s.seenIDs = append(s.seenIDs, seed.ID)

	round := newRound(seed, s.identities())
	s.rounds = append(s.rounds, round)
	s.current = len(s.rounds) - 1
	idx := s.current

	now := time.Now()
	round.StartedAt = now
	round.EndsAt = now.Add(m.cfg.RoundDuration)
	round.State = RoundActive

	for _, id := range s.identities() {
		m.sender.Send(id, protocol.Envelope{Type: protocol.KindRoundStart, Payload: protocol.RoundStartPayload{
			RoundIndex: idx,
			Question:   seed.Text,
			Answers:    round.Answers[id],
			StartTime:  round.StartedAt.UnixMilli(),
			EndTime:    round.EndsAt.UnixMilli(),
		}})
	}

	// The timeout fires after the forgiveness window so submissions that
	// arrive a little past the nominal deadline still adjudicate. Clients
	// see EndsAt as the deadline.
	round.timer = time.AfterFunc(m.cfg.RoundDuration+m.cfg.Forgiveness, func() {
		s.enqueue(func() { m.roundTimeout(s, idx) })
	})

	// Usage reporting is best-effort and never blocks round progression.
	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.questions.MarkUsed(ctx, []string{id}); err != nil {
			m.log.Warn("Failed to mark question used", "question", id, "error", err)
		}
	}(seed.ID)
}

// SubmitAnswer validates and adjudicates one participant's answer. The
// adjudication itself runs on the session's ordered task queue; concurrent
// submissions from both participants never race on round state. Responses
// (including rejections) are delivered on the participant's channel.
func (m *Manager) SubmitAnswer(identity, matchID string, roundIndex, answerIndex int, clientTimestamp int64) error {
	s := m.lookup(matchID)
	if s == nil {
		return errors.NotFound("match not found")
	}
	if !s.isParticipant(identity) {
		return errors.Unauthorized("not a participant in this match")
	}

	s.enqueue(func() {
		m.adjudicate(s, identity, roundIndex, answerIndex)
	})
	return nil
}

// adjudicate runs on the session goroutine
func (m *Manager) adjudicate(s *Session, identity string, roundIndex, answerIndex int) {
	if s.state != StateActive {
		m.sender.Send(identity, protocol.NewError(protocol.CodeNotInMatch, "match is not accepting answers"))
		return
	}
	if roundIndex != s.current {
		m.sender.Send(identity, protocol.NewError(protocol.CodeInvalidRound, "not the current round"))
		return
	}
	round := s.currentRound()
	if round == nil || round.State != RoundActive {
		m.sender.Send(identity, protocol.NewError(protocol.CodeAnswerTooLate, "round already ended"))
		return
	}
	if _, dup := round.Submissions[identity]; dup {
		m.sender.Send(identity, protocol.NewError(protocol.CodeAlreadyAnswered, "answer already submitted for this round"))
		return
	}

	now := time.Now()
	elapsed := now.Sub(round.StartedAt)
	if elapsed > m.cfg.RoundDuration+m.cfg.Forgiveness {
		m.sender.Send(identity, protocol.NewError(protocol.CodeAnswerTooLate, "answer window closed"))
		return
	}

	if answerIndex < 0 || answerIndex >= len(round.Answers[identity]) {
		m.sender.Send(identity, protocol.NewError(protocol.CodeInvalidMessage, "answer index out of range"))
		return
	}

	sub := &Submission{
		ChosenIndex:    answerIndex,
		ReceivedAt:     now,
		ResponseTimeMs: elapsed.Milliseconds(),
		Correct:        answerIndex == round.CorrectIndex[identity],
	}
	round.Submissions[identity] = sub

	m.broadcast(s, protocol.Envelope{Type: protocol.KindRoundAnswer, Payload: protocol.RoundAnswerPayload{
		RoundIndex:  s.current,
		Participant: identity,
		Correct:     sub.Correct,
		ElapsedMs:   sub.ResponseTimeMs,
	}})

	idx := s.current
	if sub.Correct && round.Winner == "" {
		// First chronologically-accepted correct submission wins.
		round.Winner = identity
		s.scores[identity]++
		round.stopTimer()
		time.AfterFunc(m.cfg.ResultDelay, func() {
			s.enqueue(func() { m.endRound(s, idx) })
		})
		return
	}

	if len(round.Submissions) == 2 && round.Winner == "" {
		// Both submitted, neither correct: the round ends early.
		round.stopTimer()
		time.AfterFunc(m.cfg.ResultDelay, func() {
			s.enqueue(func() { m.endRound(s, idx) })
		})
	}
}

// roundTimeout fires when the round duration elapses without a winner.
// Re-validates state: a winning submission may have raced the timer.
func (m *Manager) roundTimeout(s *Session, idx int) {
	if s.state != StateActive || idx != s.current {
		return
	}
	round := s.currentRound()
	if round == nil || round.State != RoundActive || round.Winner != "" {
		return
	}

	for _, id := range s.identities() {
		m.sender.Send(id, protocol.Envelope{Type: protocol.KindRoundTimeout, Payload: protocol.RoundTimeoutPayload{
			RoundIndex:         idx,
			CorrectAnswerIndex: round.CorrectIndex[id],
		}})
	}

	time.AfterFunc(m.cfg.ResultDelay, func() {
		s.enqueue(func() { m.endRound(s, idx) })
	})
}

// endRound closes the round and either starts the next one, schedules
// settlement, or forces settlement if the question buffer ran dry.
func (m *Manager) endRound(s *Session, idx int) {
	if s.state == StateEnded || idx != s.current {
		return
	}
	round := s.currentRound()
	if round == nil || round.State == RoundEnded {
		return
	}
	round.State = RoundEnded
	round.stopTimer()

	for _, id := range s.identities() {
		m.sender.Send(id, protocol.Envelope{Type: protocol.KindRoundEnd, Payload: protocol.RoundEndPayload{
			RoundIndex:         idx,
			Winner:             round.Winner,
			Scores:             s.copyScores(),
			CorrectAnswerIndex: round.CorrectIndex[id],
		}})
	}

	for _, score := range s.scores {
		if score >= m.cfg.WinThreshold {
			time.AfterFunc(m.cfg.InterRoundPause, func() {
				s.enqueue(func() { m.settle(s) })
			})
			return
		}
	}

	if len(s.questionBuf) == 0 && !s.fetching {
		// Nothing left to play even after refetching failed or never ran.
		m.log.Warn("Question buffer exhausted at round end", "match", s.ID)
		time.AfterFunc(m.cfg.InterRoundPause, func() {
			s.enqueue(func() { m.settle(s) })
		})
		return
	}

	if len(s.questionBuf) < m.cfg.RefetchThreshold && !s.fetching {
		s.fetching = true
		go m.refetch(s)
	}

	time.AfterFunc(m.cfg.InterRoundPause, func() {
		s.enqueue(func() {
			if s.state == StateActive && s.current == idx {
				m.startRound(s)
			}
		})
	})
}

// refetch tops the question buffer up without blocking round progression.
// The buffer mutation happens back on the session goroutine.
func (m *Manager) refetch(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exclude := append([]string(nil), s.seenIDs...)
	seeds, err := m.questions.SelectBatch(ctx, s.Category, exclude, m.cfg.RefetchSize)
	s.enqueue(func() {
		s.fetching = false
		if s.state == StateEnded {
			return
		}
		if err != nil {
			m.log.Error("Question refetch failed", "match", s.ID, "error", err)
			return
		}
		s.questionBuf = append(s.questionBuf, seeds...)
	})
}

// HandleDisconnected answers the connection registry's lookup: which match
// (if any) is this identity playing. A non-empty id opens a grace window.
func (m *Manager) HandleDisconnected(identity string) string {
	m.mu.Lock()
	matchID, ok := m.byIdentity[identity]
	m.mu.Unlock()
	if !ok {
		return ""
	}
	return matchID
}

// HandleGraceStarted pauses the match for a disconnected participant
func (m *Manager) HandleGraceStarted(identity, matchID string, deadline time.Time) {
	s := m.lookup(matchID)
	if s == nil {
		return
	}
	s.enqueue(func() {
		if s.state != StateActive && s.state != StateStarting && s.state != StatePaused {
			return
		}
		s.disconnected[identity] = true
		if s.state != StatePaused {
			s.state = StatePaused
			// Clear the in-flight round timer; start/end targets stay
			// recorded so elapsed wall-clock time counts on resume.
			if round := s.currentRound(); round != nil && round.State == RoundActive {
				round.stopTimer()
			}
		}
		m.sender.Send(s.opponent(identity), protocol.Envelope{
			Type:    protocol.KindOpponentDisconnected,
			Payload: protocol.OpponentDisconnectedPayload{GraceDeadline: deadline.UnixMilli()},
		})
		m.log.Info("Match paused", "match", s.ID, "identity", identity)
	})
}

// HandleReconnected resumes the match for a participant that came back
// within grace.
func (m *Manager) HandleReconnected(identity, matchID string) {
	s := m.lookup(matchID)
	if s == nil {
		return
	}
	s.enqueue(func() {
		if s.state != StatePaused || !s.disconnected[identity] {
			return
		}
		delete(s.disconnected, identity)
		m.sender.Send(s.opponent(identity), protocol.Envelope{Type: protocol.KindOpponentReconnected})

		if len(s.disconnected) > 0 {
			// The other participant is still away; stay paused.
			m.syncTo(s, identity)
			return
		}

		if len(s.rounds) == 0 {
			// The match never got past countdown; restart it.
			s.state = StateStarting
			m.countdown(s, m.cfg.CountdownSeconds)
			m.syncTo(s, identity)
			return
		}

		s.state = StateActive
		round := s.currentRound()
		switch {
		case round != nil && round.State == RoundActive && round.Winner == "":
			// Resume from remaining time relative to the original end
			// timestamp; the disconnect counted against the round.
			idx := s.current
			remaining := time.Until(round.EndsAt) + m.cfg.Forgiveness
			if remaining <= 0 {
				s.enqueue(func() { m.roundTimeout(s, idx) })
			} else {
				round.timer = time.AfterFunc(remaining, func() {
					s.enqueue(func() { m.roundTimeout(s, idx) })
				})
			}
		case round != nil && round.State == RoundEnded:
			// Paused between rounds; the inter-round continuation saw the
			// pause and bailed, so restart the cadence here.
			idx := s.current
			time.AfterFunc(m.cfg.InterRoundPause, func() {
				s.enqueue(func() {
					if s.state == StateActive && s.current == idx {
						m.startRound(s)
					}
				})
			})
		}
		m.syncTo(s, identity)
		m.log.Info("Match resumed", "match", s.ID, "identity", identity)
	})
}

// HandleAbandoned ends the match without settlement after grace expiry
func (m *Manager) HandleAbandoned(identity, matchID string) {
	m.abandon(matchID, identity, ReasonGraceExpired)
}

// LeaveMatch handles a voluntary leave_match request
func (m *Manager) LeaveMatch(identity, matchID string) error {
	s := m.lookup(matchID)
	if s == nil {
		return errors.NotFound("match not found")
	}
	if !s.isParticipant(identity) {
		return errors.Unauthorized("not a participant in this match")
	}
	m.abandon(matchID, identity, ReasonOpponentLeft)
	return nil
}

// abandon discards the session without settlement. No rating change is
// applied to either participant.
func (m *Manager) abandon(matchID, leaver, reason string) {
	s := m.lookup(matchID)
	if s == nil {
		return
	}
	s.enqueue(func() {
		if s.state == StateEnded {
			return
		}
		s.state = StateEnded
		if round := s.currentRound(); round != nil {
			round.stopTimer()
		}

		remaining := s.opponent(leaver)
		m.sender.Send(remaining, protocol.Envelope{
			Type:    protocol.KindMatchAbandoned,
			Payload: protocol.MatchAbandonedPayload{Reason: reason},
		})

		m.teardown(s, false)
		m.log.Info("Match abandoned", "match", s.ID, "leaver", leaver, "reason", reason)
	})
}

// settle finalizes a completed match exactly once: rating update,
// statistics, persistence, final notification.
func (m *Manager) settle(s *Session) {
	if s.settled || s.state == StateEnded {
		return
	}
	s.settled = true
	s.state = StateEnded
	s.settledAt = time.Now()
	if round := s.currentRound(); round != nil {
		round.stopTimer()
	}

	a, b := s.participants[0], s.participants[1]
	scoreA, scoreB := s.scores[a.identity], s.scores[b.identity]

	outcomeA := rating.OutcomeDraw
	var winner string
	switch {
	case scoreA > scoreB:
		winner, outcomeA = a.identity, rating.OutcomeWin
	case scoreB > scoreA:
		winner, outcomeA = b.identity, rating.OutcomeLoss
	}

	statsA := m.participantStats(s, a.identity)
	statsB := m.participantStats(s, b.identity)

	// Store round-trips happen off the session goroutine; the session is
	// already marked settled so a racing settlement path is a no-op.
	go m.finishSettlement(s, winner, outcomeA, statsA, statsB)
}

func (m *Manager) finishSettlement(s *Session, winner string, outcomeA float64, statsA, statsB protocol.ParticipantStats) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a, b := s.participants[0], s.participants[1]

	profileA, err := m.ratings.GetProfile(ctx, a.identity, a.displayName)
	if err == nil {
		var profileB *models.PlayerProfile
		profileB, err = m.ratings.GetProfile(ctx, b.identity, b.displayName)
		if err == nil {
			m.applySettlement(ctx, s, winner, outcomeA, profileA, profileB, statsA, statsB)
			return
		}
	}

	m.log.Error("Settlement failed to load profiles", "match", s.ID, "error", err)
	m.sender.Send(a.identity, protocol.NewError(protocol.CodeServerError, "failed to settle match"))
	m.sender.Send(b.identity, protocol.NewError(protocol.CodeServerError, "failed to settle match"))
	s.enqueue(func() { m.teardown(s, true) })
}

func (m *Manager) applySettlement(
	ctx context.Context,
	s *Session,
	winner string,
	outcomeA float64,
	profileA, profileB *models.PlayerProfile,
	statsA, statsB protocol.ParticipantStats,
) {
	a, b := s.participants[0], s.participants[1]

	deltaA := m.engine.Delta(profileA.Rating, profileB.Rating, outcomeA)
	deltaB := m.engine.Delta(profileB.Rating, profileA.Rating, 1-outcomeA)

	newA := m.engine.Apply(profileA.Rating, deltaA)
	newB := m.engine.Apply(profileB.Rating, deltaB)
	tierA := rating.TierOf(newA)
	tierB := rating.TierOf(newB)

	// A dropped rating or stats write would leave a permanently
	// inconsistent record; failures are logged and surfaced to both
	// clients after the final notification.
	var persistErr error
	if err := m.ratings.UpdateAfterMatch(ctx, a.identity, newA, tierA, winner == a.identity); err != nil {
		m.log.Error("Failed to persist rating", "match", s.ID, "identity", a.identity, "error", err)
		persistErr = err
	}
	if err := m.ratings.UpdateAfterMatch(ctx, b.identity, newB, tierB, winner == b.identity); err != nil {
		m.log.Error("Failed to persist rating", "match", s.ID, "identity", b.identity, "error", err)
		persistErr = err
	}

	winnerDelta := deltaA
	if winner == b.identity {
		winnerDelta = deltaB
	}
	record := &models.MatchRecord{
		ID:          s.ID,
		Category:    s.Category,
		Player1:     a.identity,
		Player2:     b.identity,
		Score1:      s.scores[a.identity],
		Score2:      s.scores[b.identity],
		Winner:      winner,
		RatingDelta: winnerDelta,
		StartedAt:   s.startedAt,
		EndedAt:     s.settledAt,
	}
	outcomes := [2]models.ParticipantOutcome{
		{
			Identity:        a.identity,
			Won:             winner == a.identity,
			CorrectAnswers:  statsA.CorrectAnswers,
			TotalAnswers:    statsA.TotalAnswers,
			TotalResponseMs: statsA.AvgResponseMs * int64(statsA.TotalAnswers),
		},
		{
			Identity:        b.identity,
			Won:             winner == b.identity,
			CorrectAnswers:  statsB.CorrectAnswers,
			TotalAnswers:    statsB.TotalAnswers,
			TotalResponseMs: statsB.AvgResponseMs * int64(statsB.TotalAnswers),
		},
	}
	if err := m.stats.RecordMatchOutcome(ctx, record, outcomes); err != nil {
		m.log.Error("Failed to persist match outcome", "match", s.ID, "error", err)
		persistErr = err
	}

	finalScores := s.copyScores()
	m.sender.Send(a.identity, protocol.Envelope{Type: protocol.KindMatchEnd, Payload: protocol.MatchEndPayload{
		Winner:      winner,
		FinalScores: finalScores,
		RatingDelta: deltaA,
		OldRating:   profileA.Rating,
		NewRating:   newA,
		OldTier:     profileA.Tier,
		NewTier:     tierA,
		TierChanged: profileA.Tier != tierA,
		Stats:       statsA,
	}})
	m.sender.Send(b.identity, protocol.Envelope{Type: protocol.KindMatchEnd, Payload: protocol.MatchEndPayload{
		Winner:      winner,
		FinalScores: finalScores,
		RatingDelta: deltaB,
		OldRating:   profileB.Rating,
		NewRating:   newB,
		OldTier:     profileB.Tier,
		NewTier:     tierB,
		TierChanged: profileB.Tier != tierB,
		Stats:       statsB,
	}})

	if persistErr != nil {
		m.sender.Send(a.identity, protocol.NewError(protocol.CodeServerError, "match result may not have been saved"))
		m.sender.Send(b.identity, protocol.NewError(protocol.CodeServerError, "match result may not have been saved"))
	}

	if m.rematch != nil {
		// Permit an immediate rematch.
		m.rematch.ClearLastOpponents(a.identity, b.identity)
	}

	m.log.Info("Match settled", "match", s.ID, "winner", winner,
		"delta_a", deltaA, "delta_b", deltaB)

	s.enqueue(func() { m.teardown(s, true) })
}

// participantStats computes response-time/accuracy statistics from all
// recorded submissions for one participant.
func (m *Manager) participantStats(s *Session, identity string) protocol.ParticipantStats {
	var stats protocol.ParticipantStats
	var totalMs int64
	for _, round := range s.rounds {
		sub, ok := round.Submissions[identity]
		if !ok {
			continue
		}
		stats.TotalAnswers++
		totalMs += sub.ResponseTimeMs
		if sub.Correct {
			stats.CorrectAnswers++
		}
	}
	if stats.TotalAnswers > 0 {
		stats.AvgResponseMs = totalMs / int64(stats.TotalAnswers)
	}
	return stats
}

// teardown releases the identity mappings and either retains the session
// for late sync requests (settled matches) or evicts it immediately.
func (m *Manager) teardown(s *Session, retain bool) {
	m.mu.Lock()
	for _, id := range s.identities() {
		if m.byIdentity[id] == s.ID {
			delete(m.byIdentity, id)
		}
	}
	if !retain {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	for _, id := range s.identities() {
		m.sender.CancelGrace(id)
	}

	if !retain {
		s.stop()
		return
	}

	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
		s.stop()
	})
}

// SyncMatch serves a state-sync request: current phase and, if a round is
// live, the requesting participant's own view of it. Never another
// participant's answer ordering.
func (m *Manager) SyncMatch(identity, matchID string) error {
	s := m.lookup(matchID)
	if s == nil {
		return errors.NotFound("match not found")
	}
	if !s.isParticipant(identity) {
		return errors.Unauthorized("not a participant in this match")
	}
	s.enqueue(func() { m.syncTo(s, identity) })
	return nil
}

// syncTo runs on the session goroutine
func (m *Manager) syncTo(s *Session, identity string) {
	payload := protocol.MatchSyncPayload{
		MatchID:    s.ID,
		Phase:      string(s.state),
		Scores:     s.copyScores(),
		RoundIndex: s.current,
	}
	if round := s.currentRound(); round != nil && round.State == RoundActive {
		payload.Round = &protocol.RoundStartPayload{
			RoundIndex: s.current,
			Question:   round.Seed.Text,
			Answers:    round.Answers[identity],
			StartTime:  round.StartedAt.UnixMilli(),
			EndTime:    round.EndsAt.UnixMilli(),
		}
	}
	m.sender.Send(identity, protocol.Envelope{Type: protocol.KindMatchSync, Payload: payload})
}

// MatchFor returns the active match id for an identity, if any
func (m *Manager) MatchFor(identity string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdentity[identity]
	return id, ok
}

// ActiveCount returns the number of sessions currently held in memory
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) lookup(matchID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[matchID]
}

// broadcast sends an envelope to both participants
func (m *Manager) broadcast(s *Session, env protocol.Envelope) {
	for _, id := range s.identities() {
		m.sender.Send(id, env)
	}
}
