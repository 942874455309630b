package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/pagelift/pagelift-api/internal/platform/postgres"
)

// runMigrations applies any pending schema migrations from the embedded set.
func runMigrations(db *sql.DB, log *slog.Logger) error {
	goose.SetBaseFS(postgres.MigrationsFS)
	goose.SetLogger(&gooseSlogAdapter{log: log.With(slog.String("component", "migrations"))})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	log.Info("migrations applied", "db_version", version)
	return nil
}

// gooseSlogAdapter routes goose output through slog.
type gooseSlogAdapter struct {
	log *slog.Logger
}

func (a *gooseSlogAdapter) Fatalf(format string, v ...interface{}) {
	a.log.Error(fmt.Sprintf(format, v...))
}

func (a *gooseSlogAdapter) Printf(format string, v ...interface{}) {
	a.log.Info(fmt.Sprintf(format, v...))
}
