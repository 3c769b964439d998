// Package rating implements pairwise Elo rating adjustment and tier
// classification. It is pure computation: no I/O, no stored state beyond
// the configured K-factor.
package rating

import "math"

// Outcome values accepted by Delta.
const (
	OutcomeWin  = 1.0
	OutcomeDraw = 0.5
	OutcomeLoss = 0.0
)

// Tier names, ordered from lowest to highest rating band.
const (
	TierBronze  = "bronze"
	TierSilver  = "silver"
	TierGold    = "gold"
	TierDiamond = "diamond"
	TierMaster  = "master"
)

// Tier thresholds. Each band is [lower, next lower); the top band is
// unbounded.
var tierFloors = []struct {
	floor int
	name  string
}{
	{2000, TierMaster},
	{1600, TierDiamond},
	{1200, TierGold},
	{800, TierSilver},
	{0, TierBronze},
}

// Engine computes rating deltas from match outcomes
type Engine struct {
	kFactor float64
}

// NewEngine creates an Engine with the standard K-factor of 32
func NewEngine() *Engine {
	return &Engine{kFactor: 32}
}

// ExpectedScore returns the probability of the first player beating the
// second under the standard logistic Elo model.
func (e *Engine) ExpectedScore(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

// Delta returns the rating adjustment for a player with the given rating
// against an opponent, where outcome is 1 for a win, 0 for a loss and 0.5
// for a draw. The opponent's delta is the same computation with the inverse
// outcome; for decisive results the two deltas are exact negations.
func (e *Engine) Delta(rating, opponentRating int, outcome float64) int {
	expected := e.ExpectedScore(rating, opponentRating)
	return int(math.Round(e.kFactor * (outcome - expected)))
}

// Apply returns the post-match rating after clamping at the zero floor.
func (e *Engine) Apply(rating, delta int) int {
	next := rating + delta
	if next < 0 {
		return 0
	}
	return next
}

// TierOf maps a rating value into its tier band
func TierOf(rating int) string {
	for _, t := range tierFloors {
		if rating >= t.floor {
			return t.name
		}
	}
	return TierBronze
}
