package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduboard/leaderboard-api/internal/authz"
	"github.com/eduboard/leaderboard-api/internal/models"
	"github.com/eduboard/leaderboard-api/internal/repository"
	syncsvc "github.com/eduboard/leaderboard-api/internal/sync"
)

const defaultHistoryLimit = 20

// Schedule reports when the next automatic run fires. Nil when no
// scheduler is configured.
type Schedule interface {
	NextRun() (time.Time, bool)
}

type SyncHandler struct {
	service       *syncsvc.Service
	syncLogs      repository.SyncLogRepository
	schedule      Schedule
	staleAfter    time.Duration
	outdatedAfter time.Duration
	logger        zerolog.Logger
}

func NewSyncHandler(service *syncsvc.Service, syncLogs repository.SyncLogRepository, schedule Schedule, staleAfter, outdatedAfter time.Duration, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		service:       service,
		syncLogs:      syncLogs,
		schedule:      schedule,
		staleAfter:    staleAfter,
		outdatedAfter: outdatedAfter,
		logger:        logger,
	}
}

// Trigger starts a sync run in the background and returns immediately.
// A run already in progress yields 409 instead of queueing.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	initiatedBy := "manual"
	if userID, ok := authz.UserIDFromRequest(r); ok {
		initiatedBy = userID
	}

	// The run must outlive the request. TryRun settles the 409 while it
	// holds the lock, so concurrent triggers cannot both get a 202.
	if err := h.service.TryRun(context.Background(), initiatedBy); err != nil {
		http.Error(w, "a sync run is already in progress", http.StatusConflict)
		return
	}
	h.logger.Info().Str("initiated_by", initiatedBy).Msg("sync run accepted")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// Status reports whether a run is active, the last completed run, and how
// fresh its data is.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	last, err := h.syncLogs.LastCompleted(r.Context())
	if err != nil {
		http.Error(w, "failed to load sync status", http.StatusInternalServerError)
		return
	}

	status := models.SyncStatus{
		IsRunning:     h.service.Running(),
		LastSync:      last,
		DataFreshness: h.freshness(last),
	}
	if h.schedule != nil {
		if next, ok := h.schedule.NextRun(); ok {
			status.NextScheduled = &next
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			http.Error(w, "limit must be an integer between 1 and 200", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.syncLogs.History(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load sync history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *SyncHandler) freshness(last *models.SyncLogEntry) models.DataFreshness {
	if last == nil || last.CompletedAt == nil {
		return models.FreshnessOutdated
	}
	age := time.Since(*last.CompletedAt)
	switch {
	case age <= h.staleAfter:
		return models.FreshnessFresh
	case age <= h.outdatedAfter:
		return models.FreshnessStale
	default:
		return models.FreshnessOutdated
	}
}
