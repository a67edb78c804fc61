package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eduboard/leaderboard-api/internal/authz"
	"github.com/eduboard/leaderboard-api/internal/handlers"
	"github.com/eduboard/leaderboard-api/internal/models"
)

// NewRouter sets up the API routes
func NewRouter(auth *handlers.AuthHandler, sync *handlers.SyncHandler, leaderboard *handlers.LeaderboardHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	// Leaderboards are the public face of the portal
	router.HandleFunc("/api/leaderboard/teachers", leaderboard.Teachers).Methods(http.MethodGet)
	router.HandleFunc("/api/leaderboard/branches", leaderboard.Branches).Methods(http.MethodGet)

	// Authenticated sync endpoints; triggering requires the admin tier
	syncRoutes := router.PathPrefix("/api/sync").Subrouter()
	syncRoutes.Use(auth.JWTMiddleware)
	syncRoutes.Handle("", authz.RequireRoleHandler(models.RoleAdmin, http.HandlerFunc(sync.Trigger))).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/status", sync.Status).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/history", sync.History).Methods(http.MethodGet)

	return router
}
