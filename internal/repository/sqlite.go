package repository

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/natefell/quizarena/internal/errors"
	"github.com/natefell/quizarena/internal/models"
	"github.com/natefell/quizarena/internal/rating"
)

// DefaultRating is assigned to players on first contact
const DefaultRating = 1000

// Repository provides data access methods
type Repository struct {
	db *sql.DB
}

// New creates a new Repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, err
	}

	return repo, nil
}

// NewWithDB wraps an existing database handle (used by mock-backed tests)
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database connection (for transactions)
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			identity TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL,
			tier TEXT NOT NULL,
			matches_played INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			player1 TEXT NOT NULL,
			player2 TEXT NOT NULL,
			score1 INTEGER NOT NULL,
			score2 INTEGER NOT NULL,
			winner TEXT,
			rating_delta INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player1 ON matches(player1, ended_at)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player2 ON matches(player2, ended_at)`,
		`CREATE TABLE IF NOT EXISTS category_stats (
			identity TEXT NOT NULL,
			category TEXT NOT NULL,
			played INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			correct INTEGER NOT NULL DEFAULT 0,
			answered INTEGER NOT NULL DEFAULT 0,
			total_response_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (identity, category)
		)`,
	}

	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// GetProfile returns the rating profile for an identity, creating a default
// one on first contact. The display name is refreshed when it changed.
func (r *Repository) GetProfile(ctx context.Context, identity, displayName string) (*models.PlayerProfile, error) {
	p := &models.PlayerProfile{Identity: identity}
	err := r.db.QueryRowContext(ctx,
		`SELECT display_name, rating, tier, matches_played, wins FROM players WHERE identity = ?`,
		identity,
	).Scan(&p.DisplayName, &p.Rating, &p.Tier, &p.MatchesPlayed, &p.Wins)

	if err == sql.ErrNoRows {
		p.DisplayName = displayName
		p.Rating = DefaultRating
		p.Tier = rating.TierOf(DefaultRating)
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO players (identity, display_name, rating, tier) VALUES (?, ?, ?, ?)`,
			identity, displayName, p.Rating, p.Tier,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to create player profile")
		}
		return p, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to load player profile")
	}

	if displayName != "" && displayName != p.DisplayName {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE players SET display_name = ?, updated_at = CURRENT_TIMESTAMP WHERE identity = ?`,
			displayName, identity,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to update display name")
		}
		p.DisplayName = displayName
	}
	return p, nil
}

// UpdateAfterMatch persists the post-settlement rating and counters
func (r *Repository) UpdateAfterMatch(ctx context.Context, identity string, newRating int, newTier string, won bool) error {
	winInc := 0
	if won {
		winInc = 1
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE players
		 SET rating = ?, tier = ?, matches_played = matches_played + 1,
		     wins = wins + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE identity = ?`,
		newRating, newTier, winInc, identity,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update player rating")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update player rating")
	}
	if rows == 0 {
		return errors.NotFoundf("player %s not found", identity)
	}
	return nil
}

// RecordMatchOutcome persists the match record and both participants'
// category statistics in a single transaction.
func (r *Repository) RecordMatchOutcome(ctx context.Context, match *models.MatchRecord, outcomes [2]models.ParticipantOutcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO matches (id, category, player1, player2, score1, score2, winner, rating_delta, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		match.ID, match.Category, match.Player1, match.Player2,
		match.Score1, match.Score2, match.Winner, match.RatingDelta,
		match.StartedAt.UTC(), match.EndedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to insert match record")
	}

	for _, o := range outcomes {
		winInc := 0
		if o.Won {
			winInc = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO category_stats (identity, category, played, wins, correct, answered, total_response_ms)
			 VALUES (?, ?, 1, ?, ?, ?, ?)
			 ON CONFLICT (identity, category) DO UPDATE SET
			     played = played + 1,
			     wins = wins + excluded.wins,
			     correct = correct + excluded.correct,
			     answered = answered + excluded.answered,
			     total_response_ms = total_response_ms + excluded.total_response_ms`,
			o.Identity, match.Category, winInc, o.CorrectAnswers, o.TotalAnswers, o.TotalResponseMs,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrInternal, "failed to update category stats")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to commit match outcome")
	}
	return nil
}

// GetStatistics returns the aggregate statistics for one identity
func (r *Repository) GetStatistics(ctx context.Context, identity string) (*models.PlayerStatistics, error) {
	stats := &models.PlayerStatistics{Identity: identity}

	err := r.db.QueryRowContext(ctx,
		`SELECT matches_played, wins FROM players WHERE identity = ?`,
		identity,
	).Scan(&stats.MatchesPlayed, &stats.Wins)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("player %s not found", identity)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to load statistics")
	}

	var totalResponseMs int64
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(correct), 0), COALESCE(SUM(answered), 0), COALESCE(SUM(total_response_ms), 0)
		 FROM category_stats WHERE identity = ?`,
		identity,
	).Scan(&stats.CorrectAnswers, &stats.TotalAnswers, &totalResponseMs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to load answer statistics")
	}

	if stats.MatchesPlayed > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.MatchesPlayed)
	}
	if stats.TotalAnswers > 0 {
		stats.Accuracy = float64(stats.CorrectAnswers) / float64(stats.TotalAnswers)
		stats.AvgResponseMs = totalResponseMs / int64(stats.TotalAnswers)
	}
	return stats, nil
}

// GetCategoryBreakdown returns per-category statistics for one identity
func (r *Repository) GetCategoryBreakdown(ctx context.Context, identity string) ([]models.CategoryStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, played, wins, correct, answered
		 FROM category_stats WHERE identity = ? ORDER BY category`,
		identity,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to load category breakdown")
	}
	defer rows.Close()

	var out []models.CategoryStats
	for rows.Next() {
		var cs models.CategoryStats
		if err := rows.Scan(&cs.Category, &cs.Played, &cs.Wins, &cs.CorrectAnswers, &cs.TotalAnswers); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan category stats")
		}
		if cs.TotalAnswers > 0 {
			cs.Accuracy = float64(cs.CorrectAnswers) / float64(cs.TotalAnswers)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// GetRecentMatches returns the most recent completed matches for an identity
func (r *Repository) GetRecentMatches(ctx context.Context, identity string, limit int) ([]models.MatchRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category, player1, player2, score1, score2, winner, rating_delta, started_at, ended_at
		 FROM matches
		 WHERE player1 = ? OR player2 = ?
		 ORDER BY ended_at DESC
		 LIMIT ?`,
		identity, identity, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to load recent matches")
	}
	defer rows.Close()

	var out []models.MatchRecord
	for rows.Next() {
		var m models.MatchRecord
		var startedAt, endedAt time.Time
		if err := rows.Scan(&m.ID, &m.Category, &m.Player1, &m.Player2,
			&m.Score1, &m.Score2, &m.Winner, &m.RatingDelta, &startedAt, &endedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan match record")
		}
		m.StartedAt = startedAt
		m.EndedAt = endedAt
		out = append(out, m)
	}
	return out, rows.Err()
}
