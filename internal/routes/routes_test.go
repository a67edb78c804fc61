package routes

import (
	"context"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduboard/leaderboard-api/internal/classify"
	"github.com/eduboard/leaderboard-api/internal/config"
	"github.com/eduboard/leaderboard-api/internal/handlers"
	"github.com/eduboard/leaderboard-api/internal/models"
	"github.com/eduboard/leaderboard-api/internal/pyrus"
	syncsvc "github.com/eduboard/leaderboard-api/internal/sync"
)

const testSecret = "routes-test-secret"

type stubSource struct{ gate chan struct{} }

func (s *stubSource) RegisterTasks(ctx context.Context, formID int, opts pyrus.IterOptions) iter.Seq2[pyrus.Task, error] {
	return func(yield func(pyrus.Task, error) bool) { <-s.gate }
}

type stubMetrics struct{}

func (stubMetrics) ResolveTeacherIDs(ctx context.Context, names []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (stubMetrics) UpsertTeacherMetrics(ctx context.Context, rows []models.TeacherMetrics) error {
	return nil
}

func (stubMetrics) UpsertBranchMetrics(ctx context.Context, rows []models.BranchMetrics) error {
	return nil
}

func (stubMetrics) RecomputeScores(ctx context.Context) error { return nil }

func (stubMetrics) ListTeacherScores(ctx context.Context, limit int) ([]models.TeacherScore, error) {
	return []models.TeacherScore{}, nil
}

func (stubMetrics) ListBranchScores(ctx context.Context, limit int) ([]models.BranchScore, error) {
	return []models.BranchScore{}, nil
}

type stubSyncLogs struct{}

func (stubSyncLogs) MarkStarted(ctx context.Context, runID, initiatedBy string) (int64, error) {
	return 1, nil
}

func (stubSyncLogs) MarkCompleted(ctx context.Context, logID int64, entry models.SyncLogEntry) error {
	return nil
}

func (stubSyncLogs) LastCompleted(ctx context.Context) (*models.SyncLogEntry, error) {
	return nil, nil
}

func (stubSyncLogs) History(ctx context.Context, limit int) ([]models.SyncLogEntry, error) {
	return nil, nil
}

func newTestRouter(gate chan struct{}) (http.Handler, *syncsvc.Service) {
	cfg := &config.Config{JWTSecret: testSecret}
	svc := syncsvc.NewService(&stubSource{gate: gate}, classify.New(classify.Rules{}),
		stubMetrics{}, stubSyncLogs{}, syncsvc.Config{}, zerolog.Nop())

	auth := handlers.NewAuthHandler(nil, cfg, zerolog.Nop())
	sync := handlers.NewSyncHandler(svc, stubSyncLogs{}, nil, 2*time.Hour, 24*time.Hour, zerolog.Nop())
	leaderboard := handlers.NewLeaderboardHandler(stubMetrics{})

	return NewRouter(auth, sync, leaderboard), svc
}

func signedToken(t *testing.T, role models.UserRole) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "user-1",
		"role":  string(role),
		"roles": []string{string(role)},
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestSyncTriggerRoleGate(t *testing.T) {
	t.Run("rejects anonymous requests", func(t *testing.T) {
		router, _ := newTestRouter(nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects viewers", func(t *testing.T) {
		router, _ := newTestRouter(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, models.RoleViewer))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin token starts a run", func(t *testing.T) {
		gate := make(chan struct{})
		router, svc := newTestRouter(gate)

		req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, models.RoleAdmin))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)

		close(gate)
		require.Eventually(t, func() bool { return !svc.Running() }, time.Second, time.Millisecond)
	})
}

func TestLeaderboardsArePublic(t *testing.T) {
	router, _ := newTestRouter(nil)

	for _, path := range []string{"/api/leaderboard/teachers", "/api/leaderboard/branches"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
