package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleHealth reports process liveness plus basic gauges
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternalServer, "unhealthy")
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: h.Registry.Count(),
		Matches:     h.Manager.ActiveCount(),
	})
}

// handleQueueStats reports the waiting pool for one category
func (h *Handlers) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	size, mean := h.Queue.Stats(category)
	writeJSON(w, http.StatusOK, QueueStatsResponse{
		Category:   category,
		Size:       size,
		MeanRating: mean,
	})
}

// handlePlayerStatistics serves aggregate plus per-category statistics
func (h *Handlers) handlePlayerStatistics(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	stats, err := h.Stats.GetStatistics(r.Context(), identity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	categories, err := h.Stats.GetCategoryBreakdown(r.Context(), identity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatisticsResponse{
		PlayerStatistics: stats,
		Categories:       categories,
	})
}

// handlePlayerMatches serves the recent match history
func (h *Handlers) handlePlayerMatches(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	matches, err := h.Stats.GetRecentMatches(r.Context(), identity, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchesResponse{Matches: matches})
}
