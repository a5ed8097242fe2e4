package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"meridianchain/observability/logging"
	telemetry "meridianchain/observability/otel"
	"meridianchain/services/troveindexd/config"
	"meridianchain/services/troveindexd/export"
	"meridianchain/services/troveindexd/indexer"
	"meridianchain/services/troveindexd/models"
	"meridianchain/services/troveindexd/server"
)

const jwtSecretEnv = "TROVEINDEXD_JWT_SECRET"

func main() {
	configFile := flag.String("config", "./troveindexd.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("troveindexd", cfg.Environment)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("auto migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		shutdown, err := telemetry.Init(initCtx, telemetry.Config{
			ServiceName: "troveindexd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		cancel()
		if err != nil {
			logger.Error("telemetry init failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	secret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv(jwtSecretEnv))
	}
	if secret == "" {
		logger.Warn("no JWT secret configured; API requests will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ix := indexer.New(db, cfg.NodeWSURL, logger)
	go ix.Run(ctx)

	srv := server.New(server.Config{
		DB:                db,
		JWTSecret:         secret,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Exporter:          export.New(db, cfg.ExportDir),
		Logger:            logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("troveindexd listening", slog.String("addr", cfg.ListenAddress))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	}
}
