/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the worktracker service. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve     Run the HTTP API server (default behaviors: probe schema,
            start the weekly report scheduler)
  report    Build and send the weekly report once, then exit. Suitable
            for cron.
  migrate   Apply the sub-day period migration to the configured
            database, then exit.

STARTUP SEQUENCE (serve):
  1. Load configuration (flags, WORKTRACKER_* env, optional file)
  2. Open the store selected by the database.url scheme
  3. Create services and the router
  4. Start server and scheduler with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the report scheduler
  4. Close the database connection

EXAMPLES:
  # Run against a SQLite file
  worktracker serve --database-url=./data/worktracker.db

  # Run against PostgreSQL
  WORKTRACKER_DATABASE_URL=postgres://tracker@db/tracker worktracker serve

  # Send last week's report from cron
  worktracker report

  # Enable sub-day periods
  worktracker migrate

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/indigital/worktracker/api"
	"github.com/indigital/worktracker/config"
	"github.com/indigital/worktracker/logging"
	"github.com/indigital/worktracker/report"
	"github.com/indigital/worktracker/store/postgres"
	"github.com/indigital/worktracker/store/sqlite"
	"github.com/indigital/worktracker/tracker"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "worktracker",
		Short: "Office attendance tracking service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Send the weekly report once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			weekStart, _ := cmd.Flags().GetString("week-start")
			return runReport(cmd.Context(), weekStart)
		},
	}
	reportCmd.Flags().String("week-start", "", "Monday of the week to report (default: previous week)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the sub-day period migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, reportCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-url", defaults.GetString("database.url"), "PostgreSQL URL or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// periodMigrator is satisfied by both store adapters.
type periodMigrator interface {
	EnsurePeriodColumn(ctx context.Context) error
}

func openStore(cfg config.AppConfig) (tracker.Store, error) {
	if cfg.UsePostgres() {
		return postgres.New(cfg.DatabaseURL)
	}
	return sqlite.New(cfg.DatabaseURL)
}

func setup() (config.AppConfig, *zap.Logger, tracker.Store, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return config.AppConfig{}, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	return cfg, logger, store, nil
}

func newMailer(cfg config.AppConfig) report.Mailer {
	return report.NewSMTPMailer(report.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func runServer(ctx context.Context) error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer store.Close()

	svc := tracker.NewService(store, logger)
	reports := report.NewService(store, newMailer(cfg), logger)
	handler := api.NewHandler(svc, reports, cfg.ReportRecipients, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	scheduler := report.NewScheduler(reports, store, cfg.ReportRecipients, logger)
	scheduler.Enabled = cfg.SchedulerEnabled && len(cfg.ReportRecipients) > 0
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("address", cfg.HTTPAddress),
			zap.String("schema", store.Capability(ctx).String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	scheduler.Stop()

	logger.Info("server stopped")
	return nil
}

func runReport(ctx context.Context, weekStart string) error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer store.Close()

	reports := report.NewService(store, newMailer(cfg), logger)
	run, err := reports.Run(ctx, cfg.ReportRecipients, weekStart)
	if err != nil {
		return err
	}

	logger.Info("report dispatched",
		zap.String("week_start", run.WeekStart),
		zap.Int("users", run.UsersReported))
	return nil
}

func runMigrate(ctx context.Context) error {
	_, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer store.Close()

	migrator, ok := store.(periodMigrator)
	if !ok {
		return fmt.Errorf("store does not support the period migration")
	}
	if err := migrator.EnsurePeriodColumn(ctx); err != nil {
		return err
	}

	logger.Info("period migration applied",
		zap.String("schema", store.Capability(ctx).String()))
	return nil
}
