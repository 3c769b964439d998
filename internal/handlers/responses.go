package handlers

import "github.com/natefell/quizarena/internal/models"

// HealthResponse is the body of the liveness probe
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Matches     int    `json:"matches"`
}

// QueueStatsResponse reports waiting-pool metrics for one category
type QueueStatsResponse struct {
	Category   string  `json:"category"`
	Size       int     `json:"size"`
	MeanRating float64 `json:"mean_rating"`
}

// StatisticsResponse combines aggregate and per-category statistics
type StatisticsResponse struct {
	*models.PlayerStatistics
	Categories []models.CategoryStats `json:"categories"`
}

// MatchesResponse is the recent-match history for one identity
type MatchesResponse struct {
	Matches []models.MatchRecord `json:"matches"`
}
