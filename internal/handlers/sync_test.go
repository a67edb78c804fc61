package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduboard/leaderboard-api/internal/classify"
	"github.com/eduboard/leaderboard-api/internal/models"
	"github.com/eduboard/leaderboard-api/internal/pyrus"
	syncsvc "github.com/eduboard/leaderboard-api/internal/sync"
)

type fakeSyncLogs struct {
	last    *models.SyncLogEntry
	history []models.SyncLogEntry
}

func (f *fakeSyncLogs) MarkStarted(ctx context.Context, runID, initiatedBy string) (int64, error) {
	return 1, nil
}

func (f *fakeSyncLogs) MarkCompleted(ctx context.Context, logID int64, entry models.SyncLogEntry) error {
	return nil
}

func (f *fakeSyncLogs) LastCompleted(ctx context.Context) (*models.SyncLogEntry, error) {
	return f.last, nil
}

func (f *fakeSyncLogs) History(ctx context.Context, limit int) ([]models.SyncLogEntry, error) {
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

type blockedSource struct{ gate chan struct{} }

func (b *blockedSource) RegisterTasks(ctx context.Context, formID int, opts pyrus.IterOptions) iter.Seq2[pyrus.Task, error] {
	return func(yield func(pyrus.Task, error) bool) { <-b.gate }
}

type nopStore struct{}

func (nopStore) ResolveTeacherIDs(ctx context.Context, names []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (nopStore) UpsertTeacherMetrics(ctx context.Context, rows []models.TeacherMetrics) error {
	return nil
}

func (nopStore) UpsertBranchMetrics(ctx context.Context, rows []models.BranchMetrics) error {
	return nil
}

func (nopStore) RecomputeScores(ctx context.Context) error { return nil }

func newStatusHandler(logs *fakeSyncLogs) *SyncHandler {
	idle := syncsvc.NewService(nil, nil, nil, nil, syncsvc.Config{}, zerolog.Nop())
	return NewSyncHandler(idle, logs, nil, 2*time.Hour, 24*time.Hour, zerolog.Nop())
}

func completedEntry(age time.Duration) *models.SyncLogEntry {
	completed := time.Now().Add(-age)
	return &models.SyncLogEntry{
		ID:          1,
		RunID:       "run-1",
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: &completed,
		Success:     true,
	}
}

func TestSyncStatus(t *testing.T) {
	cases := []struct {
		name string
		last *models.SyncLogEntry
		want models.DataFreshness
	}{
		{"recent run is fresh", completedEntry(30 * time.Minute), models.FreshnessFresh},
		{"older run is stale", completedEntry(5 * time.Hour), models.FreshnessStale},
		{"ancient run is outdated", completedEntry(48 * time.Hour), models.FreshnessOutdated},
		{"no run ever is outdated", nil, models.FreshnessOutdated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newStatusHandler(&fakeSyncLogs{last: tc.last})

			rec := httptest.NewRecorder()
			h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var status models.SyncStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.False(t, status.IsRunning)
			assert.Equal(t, tc.want, status.DataFreshness)
		})
	}
}

func TestSyncTrigger(t *testing.T) {
	gate := make(chan struct{})
	svc := syncsvc.NewService(&blockedSource{gate: gate}, classify.New(classify.Rules{}),
		nopStore{}, &fakeSyncLogs{}, syncsvc.Config{}, zerolog.Nop())
	h := NewSyncHandler(svc, &fakeSyncLogs{}, nil, 2*time.Hour, 24*time.Hour, zerolog.Nop())

	first := httptest.NewRecorder()
	h.Trigger(first, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	// Back to back with no pause: the second caller must see the conflict
	// even though the first run has made no progress yet.
	second := httptest.NewRecorder()
	h.Trigger(second, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusConflict, second.Code)

	close(gate)
	require.Eventually(t, func() bool { return !svc.Running() }, time.Second, time.Millisecond)
}

func TestSyncHistory(t *testing.T) {
	logs := &fakeSyncLogs{history: []models.SyncLogEntry{
		{ID: 3, RunID: "c"}, {ID: 2, RunID: "b"}, {ID: 1, RunID: "a"},
	}}
	h := newStatusHandler(logs)

	t.Run("default limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/api/sync/history", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var entries []models.SyncLogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		assert.Len(t, entries, 3)
	})

	t.Run("explicit limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/api/sync/history?limit=2", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var entries []models.SyncLogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		assert.Len(t, entries, 2)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/api/sync/history?limit=-1", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
