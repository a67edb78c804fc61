package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/eduboard/leaderboard-api/internal/repository"
)

const (
	defaultScoreLimit = 100
	maxScoreLimit     = 500
)

type LeaderboardHandler struct {
	metrics repository.MetricsRepository
}

func NewLeaderboardHandler(metrics repository.MetricsRepository) *LeaderboardHandler {
	return &LeaderboardHandler{metrics: metrics}
}

func (h *LeaderboardHandler) Teachers(w http.ResponseWriter, r *http.Request) {
	limit, ok := scoreLimit(w, r)
	if !ok {
		return
	}

	scores, err := h.metrics.ListTeacherScores(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load teacher leaderboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scores)
}

func (h *LeaderboardHandler) Branches(w http.ResponseWriter, r *http.Request) {
	limit, ok := scoreLimit(w, r)
	if !ok {
		return
	}

	scores, err := h.metrics.ListBranchScores(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load branch leaderboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scores)
}

func scoreLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultScoreLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxScoreLimit {
		http.Error(w, "limit must be an integer between 1 and 500", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}
