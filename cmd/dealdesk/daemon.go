package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/dealdesk/internal/config"
	"github.com/fentz26/dealdesk/internal/crm"
	"github.com/fentz26/dealdesk/internal/events"
	"github.com/fentz26/dealdesk/internal/logging"
	"github.com/fentz26/dealdesk/internal/metrics"
	"github.com/fentz26/dealdesk/internal/reminder"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/fentz26/dealdesk/internal/store/postgres"
	"github.com/fentz26/dealdesk/internal/store/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr string
	dbPath     string
	dsn        string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the dealdesk daemon",
	Long:  `Starts the dealdesk daemon which owns the store and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string; selects the postgres driver")
}

// loadConfig reads --config, or the home config when the flag is empty.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromHome()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case config.DriverSQLite, "":
		return sqlite.New(cfg.Path)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Store.Driver, cfg.Store.Path = config.DriverSQLite, dbPath
	}
	if dsn != "" {
		cfg.Store.Driver, cfg.Store.DSN = config.DriverPostgres, dsn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, _, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting dealdesk daemon", zap.String("driver", cfg.Store.Driver))
	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := events.NewHub(m)
	service := crm.NewService(s, crm.Options{
		Marker:          cfg.MarkerRune(),
		DefaultAssignee: cfg.DefaultAssignee,
		Logger:          logger,
		Hub:             hub,
		Metrics:         m,
	})
	if err := service.EnsureStages(ctx, cfg.Stages); err != nil {
		s.Close()
		return err
	}
	server := crm.NewServer(service, cfg.Listen, logger)

	if cfg.Reminder.Interval > 0 {
		sweeper := reminder.New(s, hub, m.Overdue, logger, cfg.Reminder.Interval)
		sweeper.Start()
		defer sweeper.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	logger.Info("closing store")
	if err := s.Close(); err != nil {
		logger.Warn("store close error", zap.Error(err))
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", runErr)
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
