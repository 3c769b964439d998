package repository

import (
	"context"

	"github.com/natefell/quizarena/internal/models"
)

// RatingStore provides read/write access to player rating profiles
type RatingStore interface {
	// GetProfile returns the profile for an identity, creating a default
	// profile (rating 1000) if none exists.
	GetProfile(ctx context.Context, identity, displayName string) (*models.PlayerProfile, error)
	// UpdateAfterMatch persists a post-settlement rating, tier and
	// incremented match counters.
	UpdateAfterMatch(ctx context.Context, identity string, newRating int, newTier string, won bool) error
}

// StatisticsStore persists and serves per-player match statistics
type StatisticsStore interface {
	// RecordMatchOutcome persists the completed match record and both
	// participants' per-category statistics in one transaction.
	RecordMatchOutcome(ctx context.Context, match *models.MatchRecord, outcomes [2]models.ParticipantOutcome) error
	GetStatistics(ctx context.Context, identity string) (*models.PlayerStatistics, error)
	GetCategoryBreakdown(ctx context.Context, identity string) ([]models.CategoryStats, error)
	GetRecentMatches(ctx context.Context, identity string, limit int) ([]models.MatchRecord, error)
}
