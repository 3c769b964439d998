// Package protocol defines the wire format exchanged with clients over the
// persistent websocket channel. Every frame is a JSON Envelope carrying a
// message kind plus a kind-specific payload.
package protocol

import (
	"encoding/json"

	apperrors "github.com/natefell/quizarena/internal/errors"
)

// Inbound message kinds.
const (
	KindPing         = "ping"
	KindJoinQueue    = "join_queue"
	KindCancelQueue  = "cancel_queue"
	KindAnswerSubmit = "answer_submit"
	KindLeaveMatch   = "leave_match"
	KindSyncMatch    = "sync_match"
)

// Outbound message kinds.
const (
	KindPong                 = "pong"
	KindQueueJoined          = "queue_joined"
	KindQueueLeft            = "queue_left"
	KindMatchFound           = "match_found"
	KindMatchStarting        = "match_starting"
	KindMatchStarted         = "match_started"
	KindRoundStart           = "round_start"
	KindRoundAnswer          = "round_answer"
	KindRoundEnd             = "round_end"
	KindRoundTimeout         = "round_timeout"
	KindMatchEnd             = "match_end"
	KindOpponentDisconnected = "opponent_disconnected"
	KindOpponentReconnected  = "opponent_reconnected"
	KindMatchAbandoned       = "match_abandoned"
	KindMatchSync            = "match_sync"
	KindError                = "error"
)

// Error codes surfaced to clients.
const (
	CodeInvalidMessage  = "invalid_message"
	CodeNotInMatch      = "not_in_match"
	CodeMatchNotFound   = "match_not_found"
	CodeInvalidRound    = "invalid_round"
	CodeAnswerTooLate   = "answer_too_late"
	CodeAlreadyAnswered = "already_answered"
	CodeServerError     = "server_error"
	CodeUnauthorized    = "unauthorized"
	CodeRateLimited     = "rate_limited"
)

// Envelope wraps every frame in a consistent format. Outbound frames set
// Payload to a concrete struct; inbound frames are decoded in two steps via
// Raw.
type Envelope struct {
	Type    string          `json:"type"`
	Payload any             `json:"payload,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// inboundEnvelope is the decode-side view of Envelope.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw frame into an Envelope with Raw holding the
// still-encoded payload.
func Decode(data []byte) (Envelope, error) {
	var in inboundEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: in.Type, Raw: in.Payload}, nil
}

// Inbound payloads.

type JoinQueuePayload struct {
	Category    string `json:"category"`
	Rating      int    `json:"rating"`
	DisplayName string `json:"display_name"`
}

type CancelQueuePayload struct {
	Category string `json:"category"`
}

type AnswerSubmitPayload struct {
	MatchID         string `json:"match_id"`
	RoundIndex      int    `json:"round_index"`
	AnswerIndex     int    `json:"answer_index"`
	ClientTimestamp int64  `json:"client_timestamp"`
}

type LeaveMatchPayload struct {
	MatchID string `json:"match_id"`
}

type SyncMatchPayload struct {
	MatchID string `json:"match_id"`
}

// Outbound payloads.

type QueueJoinedPayload struct {
	Position int    `json:"position"`
	Category string `json:"category"`
}

type OpponentProfile struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Rating      int    `json:"rating"`
	Tier        string `json:"tier"`
}

type MatchFoundPayload struct {
	MatchID  string          `json:"match_id"`
	Opponent OpponentProfile `json:"opponent"`
	Category string          `json:"category"`
}

type MatchStartingPayload struct {
	Countdown int `json:"countdown"`
}

type MatchStartedPayload struct {
	CurrentRound int `json:"current_round"`
}

type RoundStartPayload struct {
	RoundIndex int      `json:"round_index"`
	Question   string   `json:"question"`
	Answers    []string `json:"answers"`
	StartTime  int64    `json:"start_time"`
	EndTime    int64    `json:"end_time"`
}

type RoundAnswerPayload struct {
	RoundIndex  int    `json:"round_index"`
	Participant string `json:"participant"`
	Correct     bool   `json:"correct"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

type RoundEndPayload struct {
	RoundIndex         int            `json:"round_index"`
	Winner             string         `json:"winner,omitempty"`
	Scores             map[string]int `json:"scores"`
	CorrectAnswerIndex int            `json:"correct_answer_index"`
}

type RoundTimeoutPayload struct {
	RoundIndex         int `json:"round_index"`
	CorrectAnswerIndex int `json:"correct_answer_index"`
}

type ParticipantStats struct {
	CorrectAnswers int   `json:"correct_answers"`
	TotalAnswers   int   `json:"total_answers"`
	AvgResponseMs  int64 `json:"avg_response_ms"`
}

type MatchEndPayload struct {
	Winner      string           `json:"winner,omitempty"`
	FinalScores map[string]int   `json:"final_scores"`
	RatingDelta int              `json:"rating_delta"`
	OldRating   int              `json:"old_rating"`
	NewRating   int              `json:"new_rating"`
	OldTier     string           `json:"old_tier"`
	NewTier     string           `json:"new_tier"`
	TierChanged bool             `json:"tier_changed"`
	Stats       ParticipantStats `json:"stats"`
}

type OpponentDisconnectedPayload struct {
	GraceDeadline int64 `json:"grace_deadline"`
}

type MatchAbandonedPayload struct {
	Reason string `json:"reason"`
}

type MatchSyncPayload struct {
	MatchID    string             `json:"match_id"`
	Phase      string             `json:"phase"`
	Scores     map[string]int     `json:"scores"`
	Round      *RoundStartPayload `json:"round,omitempty"`
	RoundIndex int                `json:"round_index"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error envelope with the given wire code.
func NewError(code, message string) Envelope {
	return Envelope{Type: KindError, Payload: ErrorPayload{Code: code, Message: message}}
}

// ErrorFrom maps an application error onto a wire error envelope. Unknown
// error values surface as server_error without leaking internals.
func ErrorFrom(err error) Envelope {
	msg := "internal server error"
	code := CodeServerError
	if appErr, ok := err.(*apperrors.Error); ok {
		msg = appErr.Message
		switch appErr.Kind {
		case apperrors.ErrNotFound:
			code = CodeMatchNotFound
		case apperrors.ErrValidation, apperrors.ErrInvalidInput:
			code = CodeInvalidMessage
		case apperrors.ErrConflict:
			code = CodeAlreadyAnswered
		case apperrors.ErrTooLate:
			code = CodeAnswerTooLate
		case apperrors.ErrUnauthorized:
			code = CodeUnauthorized
		}
	}
	return NewError(code, msg)
}
