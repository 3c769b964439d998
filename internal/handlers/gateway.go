package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/natefell/quizarena/internal/connection"
	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/internal/match"
	"github.com/natefell/quizarena/internal/matchmaking"
	"github.com/natefell/quizarena/internal/protocol"
	"github.com/natefell/quizarena/internal/repository"
)

// Gateway routes decoded websocket frames to the matchmaking queue and the
// match manager. It implements connection.MessageHandler.
type Gateway struct {
	log     logger.Logger
	queue   *matchmaking.Queue
	manager *match.Manager
	ratings repository.RatingStore
}

// NewGateway creates a gateway with injected dependencies
func NewGateway(log logger.Logger, queue *matchmaking.Queue, manager *match.Manager, ratings repository.RatingStore) *Gateway {
	return &Gateway{log: log, queue: queue, manager: manager, ratings: ratings}
}

// HandleMessage dispatches one inbound frame. Called from the client's read
// pump; anything slow is pushed onto the match layer's own queues.
func (g *Gateway) HandleMessage(c *connection.Client, env protocol.Envelope) {
	switch env.Type {
	case protocol.KindPing:
		c.Send(protocol.Envelope{Type: protocol.KindPong})

	case protocol.KindJoinQueue:
		g.handleJoinQueue(c, env.Raw)

	case protocol.KindCancelQueue:
		g.handleCancelQueue(c, env.Raw)

	case protocol.KindAnswerSubmit:
		g.handleAnswerSubmit(c, env.Raw)

	case protocol.KindLeaveMatch:
		g.handleLeaveMatch(c, env.Raw)

	case protocol.KindSyncMatch:
		g.handleSyncMatch(c, env.Raw)

	default:
		c.SendError(protocol.CodeInvalidMessage, "unknown message type")
	}
}

func (g *Gateway) handleJoinQueue(c *connection.Client, raw json.RawMessage) {
	var p protocol.JoinQueuePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Category == "" {
		c.SendError(protocol.CodeInvalidMessage, "join_queue requires a category")
		return
	}

	// Already in a match: finish or leave it first.
	if _, busy := g.manager.MatchFor(c.Identity()); busy {
		c.SendError(protocol.CodeInvalidMessage, "already in an active match")
		return
	}

	// Match by persisted rating, never the client-supplied one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	profile, err := g.ratings.GetProfile(ctx, c.Identity(), c.DisplayName())
	if err != nil {
		g.log.Error("Failed to load profile for queue join", "identity", c.Identity(), "error", err)
		c.SendError(protocol.CodeServerError, "failed to join queue")
		return
	}

	position := g.queue.Join(c.Identity(), profile.DisplayName, profile.Rating, p.Category)
	c.Send(protocol.Envelope{Type: protocol.KindQueueJoined, Payload: protocol.QueueJoinedPayload{
		Position: position,
		Category: p.Category,
	}})
}

func (g *Gateway) handleCancelQueue(c *connection.Client, raw json.RawMessage) {
	var p protocol.CancelQueuePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Category == "" {
		c.SendError(protocol.CodeInvalidMessage, "cancel_queue requires a category")
		return
	}
	g.queue.Cancel(c.Identity(), p.Category)
	c.Send(protocol.Envelope{Type: protocol.KindQueueLeft})
}

func (g *Gateway) handleAnswerSubmit(c *connection.Client, raw json.RawMessage) {
	var p protocol.AnswerSubmitPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MatchID == "" {
		c.SendError(protocol.CodeInvalidMessage, "answer_submit requires a match id")
		return
	}
	if err := g.manager.SubmitAnswer(c.Identity(), p.MatchID, p.RoundIndex, p.AnswerIndex, p.ClientTimestamp); err != nil {
		c.Send(protocol.ErrorFrom(err))
	}
}

func (g *Gateway) handleLeaveMatch(c *connection.Client, raw json.RawMessage) {
	var p protocol.LeaveMatchPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.SendError(protocol.CodeInvalidMessage, "malformed leave_match payload")
			return
		}
	}
	matchID := p.MatchID
	if matchID == "" {
		matchID, _ = g.manager.MatchFor(c.Identity())
	}
	if matchID == "" {
		c.SendError(protocol.CodeNotInMatch, "no active match")
		return
	}
	if err := g.manager.LeaveMatch(c.Identity(), matchID); err != nil {
		c.Send(protocol.ErrorFrom(err))
	}
}

func (g *Gateway) handleSyncMatch(c *connection.Client, raw json.RawMessage) {
	var p protocol.SyncMatchPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.SendError(protocol.CodeInvalidMessage, "malformed sync_match payload")
			return
		}
	}
	matchID := p.MatchID
	if matchID == "" {
		matchID, _ = g.manager.MatchFor(c.Identity())
	}
	if matchID == "" {
		c.SendError(protocol.CodeNotInMatch, "no active match")
		return
	}
	if err := g.manager.SyncMatch(c.Identity(), matchID); err != nil {
		c.Send(protocol.ErrorFrom(err))
	}
}
