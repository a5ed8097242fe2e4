package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"meridianchain/config"
	"meridianchain/core"
	"meridianchain/observability/logging"
	"meridianchain/observability/otel"
	"meridianchain/rpc"
	"meridianchain/storage"
)

const rpcTokenEnv = "MERIDIAN_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("MERIDIAN_ENV"))
	}
	logger := logging.Setup("meridiand", env)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	params, err := cfg.TroveParams()
	if err != nil {
		logger.Error("invalid protocol parameters", slog.Any("error", err))
		os.Exit(1)
	}

	opts := []core.Option{
		core.WithParams(params),
		core.WithQuoteMaxAge(cfg.QuoteMaxAge()),
		core.WithLogger(logger),
	}
	if cfg.DeployTime != 0 {
		opts = append(opts, core.WithDeployTime(cfg.DeployTime))
	}

	node, err := core.NewNode(db, opts...)
	if err != nil {
		logger.Error("failed to create node", slog.Any("error", err))
		_ = db.Close()
		os.Exit(1)
	}
	defer node.Close()

	if err := seedCollateral(cfg, node, logger); err != nil {
		logger.Error("failed to register genesis collateral", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTelemetry, err := setupTelemetry(cfg, env)
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	if shutdownTelemetry != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	token, err := resolveRPCToken(cfg)
	if err != nil {
		logger.Error("failed to resolve RPC token", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(node, logger)
	if token != "" {
		server.SetAuthToken(token)
	} else {
		logger.Warn("no RPC auth token configured; mutating methods will be rejected")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "meridian.db"))
	case "leveldb":
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	default:
		return nil, fmt.Errorf("unsupported DBBackend %q", cfg.DBBackend)
	}
}

// seedCollateral registers the configured collateral types and publishes any
// initial prices. Registration replaces prior definitions, so the config file
// stays authoritative across restarts.
func seedCollateral(cfg *config.Config, node *core.Node, logger *slog.Logger) error {
	assets, prices, err := cfg.Assets()
	if err != nil {
		return err
	}
	for symbol, price := range prices {
		node.Oracle().Publish(symbol, price, "config")
	}
	for _, asset := range assets {
		if _, err := node.RegisterCollateral(asset); err != nil {
			return fmt.Errorf("register %s: %w", asset.Symbol, err)
		}
		logger.Info("collateral registered", slog.String("symbol", asset.Symbol), slog.Bool("active", asset.Active))
	}
	return nil
}

func setupTelemetry(cfg *config.Config, env string) (func(context.Context) error, error) {
	if !cfg.Telemetry.Metrics && !cfg.Telemetry.Traces {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return otel.Init(ctx, otel.Config{
		ServiceName: "meridiand",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(os.Getenv("MERIDIAN_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
}

// resolveRPCToken prefers the config file, then the environment, then an
// interactive prompt when running on a terminal.
func resolveRPCToken(cfg *config.Config) (string, error) {
	if token := strings.TrimSpace(cfg.RPCAuthToken); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv(rpcTokenEnv)); token != "" {
		return token, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "RPC auth token (empty disables mutating methods): ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
