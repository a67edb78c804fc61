package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/eduboard/leaderboard-api/internal/classify"
	"github.com/eduboard/leaderboard-api/internal/config"
	"github.com/eduboard/leaderboard-api/internal/handlers"
	"github.com/eduboard/leaderboard-api/internal/middleware"
	"github.com/eduboard/leaderboard-api/internal/migration"
	"github.com/eduboard/leaderboard-api/internal/pyrus"
	"github.com/eduboard/leaderboard-api/internal/repository"
	"github.com/eduboard/leaderboard-api/internal/routes"
	syncsvc "github.com/eduboard/leaderboard-api/internal/sync"
	"github.com/eduboard/leaderboard-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Seed the bootstrap administrator when configured; signup only ever
	// creates viewers.
	if cfg.Admin.Enabled() {
		users := repository.NewUserRepository(db)
		if err := users.EnsureAdmin(context.Background(), cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.FullName); err != nil {
			logger.Fatal().Err(err).Msg("Failed to seed admin user")
		}
		logger.Info().Str("email", cfg.Admin.Email).Msg("Admin account ensured")
	}

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	syncService := app.buildSyncService(logger)

	// Start the periodic sync loop.
	scheduler := worker.NewScheduler(syncService, cfg.Sync.Interval, logger)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go func() {
		if err := scheduler.Start(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Scheduler stopped unexpectedly")
		}
	}()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(syncService, scheduler, logger)
	loggedRouter := middleware.Logging(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, stopScheduler, logger)

	logger.Info().Msg("Application terminated.")
}

// buildSyncService wires the remote client, classifier and persistence
// into the aggregation engine.
func (app *application) buildSyncService(logger zerolog.Logger) *syncsvc.Service {
	client := pyrus.NewClient(pyrus.ClientConfig{
		BaseURL:     app.config.Pyrus.APIURL,
		Login:       app.config.Pyrus.Login,
		SecurityKey: app.config.Pyrus.SecurityKey,
		Timeout:     app.config.Pyrus.Timeout,
		MaxRetries:  app.config.Pyrus.MaxRetries,
	}, logger)
	forms := pyrus.NewFormsClient(client, pyrus.PaginationConfig{}, logger)

	classifier := classify.New(app.config.Rules)

	return syncsvc.NewService(
		forms,
		classifier,
		repository.NewMetricsRepository(app.db),
		repository.NewSyncLogRepository(app.db),
		syncsvc.Config{
			Retention: syncsvc.FormConfig{
				ID:      app.config.Forms.Retention.ID,
				Kind:    classify.Retention,
				Mapping: app.config.Forms.Retention.Fields,
			},
			Trial: syncsvc.FormConfig{
				ID:      app.config.Forms.Trial.ID,
				Kind:    classify.Trial,
				Mapping: app.config.Forms.Trial.Fields,
			},
			BatchSize: app.config.Sync.BatchSize,
		},
		logger,
	)
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(syncService *syncsvc.Service, scheduler *worker.Scheduler, logger zerolog.Logger) *mux.Router {
	metricsRepo := repository.NewMetricsRepository(app.db)
	syncLogRepo := repository.NewSyncLogRepository(app.db)

	authHandler := handlers.NewAuthHandler(app.db, app.config, logger)
	syncHandler := handlers.NewSyncHandler(
		syncService,
		syncLogRepo,
		scheduler,
		app.config.Sync.StaleAfter,
		app.config.Sync.OutdatedAfter,
		logger,
	)
	leaderboardHandler := handlers.NewLeaderboardHandler(metricsRepo)

	return routes.NewRouter(authHandler, syncHandler, leaderboardHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, stopScheduler context.CancelFunc, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Stop the periodic sync loop before the server so no new run starts
	// during shutdown.
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
