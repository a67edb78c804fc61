package migration

import (
	"database/sql"
	"embed"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Embed SQL files from the local migrations folder
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS

func RunMigrations(dbURL string, logger zerolog.Logger) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer db.Close()

	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(gooseLogger{logger.With().Str("component", "migration").Logger()})

	if err := goose.Up(db, "migrations"); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	logger.Info().Msg("migrations completed")
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(format, v...)
}
