package models

import "time"

// PlayerProfile is the persistent rating/profile record for one identity
type PlayerProfile struct {
	Identity      string `json:"identity"`
	DisplayName   string `json:"display_name"`
	Rating        int    `json:"rating"`
	Tier          string `json:"tier"`
	MatchesPlayed int    `json:"matches_played"`
	Wins          int    `json:"wins"`
}

// MatchRecord is a completed match as persisted after settlement
type MatchRecord struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Player1     string    `json:"player1"`
	Player2     string    `json:"player2"`
	Score1      int       `json:"score1"`
	Score2      int       `json:"score2"`
	Winner      string    `json:"winner"`
	RatingDelta int       `json:"rating_delta"` // winner's delta; loser received the negation
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// ParticipantOutcome captures one participant's side of a settled match
type ParticipantOutcome struct {
	Identity       string `json:"identity"`
	Won            bool   `json:"won"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalAnswers   int    `json:"total_answers"`
	TotalResponseMs int64 `json:"total_response_ms"`
}

// PlayerStatistics is the aggregate view served for one identity
type PlayerStatistics struct {
	Identity       string  `json:"identity"`
	MatchesPlayed  int     `json:"matches_played"`
	Wins           int     `json:"wins"`
	WinRate        float64 `json:"win_rate"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalAnswers   int     `json:"total_answers"`
	Accuracy       float64 `json:"accuracy"`
	AvgResponseMs  int64   `json:"avg_response_ms"`
}

// CategoryStats is one identity's record within a single category
type CategoryStats struct {
	Category       string  `json:"category"`
	Played         int     `json:"played"`
	Wins           int     `json:"wins"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalAnswers   int     `json:"total_answers"`
	Accuracy       float64 `json:"accuracy"`
}
