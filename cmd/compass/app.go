package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/lager/v3"
	"github.com/spf13/cobra"

	"github.com/soaringjerry/Compass/internal/config"
	"github.com/soaringjerry/Compass/internal/db"
	"github.com/soaringjerry/Compass/internal/metric"
	"github.com/soaringjerry/Compass/internal/services"
)

// app holds what every subcommand shares once the root command has run its
// pre-run hook.
type app struct {
	configPath string
	dbPath     string

	cfg      *config.Config
	logger   lager.Logger
	conn     *sql.DB
	store    *db.SQLiteStore
	migrated int

	assessments *services.AssessmentService
	invitations *services.InvitationService
	analytics   *services.AnalyticsService
}

func logLevel(name string) lager.LogLevel {
	switch name {
	case "debug":
		return lager.DEBUG
	case "error":
		return lager.ERROR
	case "fatal":
		return lager.FATAL
	default:
		return lager.INFO
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	a.cfg = cfg

	logger := lager.NewLogger("compass")
	logger.RegisterSink(lager.NewWriterSink(cmd.ErrOrStderr(), logLevel(cfg.Log.Level)))
	a.logger = logger

	metric.InitOTelMetrics()

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}
	conn, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.conn = conn

	if a.migrated, err = db.RunMigrations(logger, conn, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	store, err := db.NewSQLiteStore(logger, conn)
	if err != nil {
		return fmt.Errorf("init sqlite store: %w", err)
	}
	a.store = store

	a.assessments = services.NewAssessmentService(logger, store, services.EngineConfig{
		MaxUpdateAttempts:    cfg.Engine.MaxUpdateAttempts,
		RetryInitialInterval: cfg.Engine.RetryInitialInterval,
	})
	a.invitations = services.NewInvitationService(logger, store)
	a.analytics = services.NewAnalyticsService(logger, store, cfg.Analytics.Concurrency)
	return nil
}

func (a *app) close() {
	if a.conn == nil {
		return
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed-to-close-db", err)
	}
	a.conn = nil
}
