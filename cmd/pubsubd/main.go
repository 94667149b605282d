// Package main implements the entry point for pubsubd, an OPC UA
// PubSub subscribe-side control plane: it provisions Connections,
// ReaderGroups and DataSetReaders from a static bootstrap document and
// runs the receive pipeline against them until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gauravks/open62541/eventloop"
	"github.com/gauravks/open62541/metric"
	"github.com/gauravks/open62541/natsclient"
	"github.com/gauravks/open62541/pubsub"
	"github.com/gauravks/open62541/security"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "pubsubd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("pubsubd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	ctx := context.Background()
	natsClient, metricsRegistry, err := createCoreDependencies(cfg)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	if err := connectToNATS(ctx, natsClient); err != nil {
		return err
	}

	loop := eventloop.New(0, eventloop.WithMetrics(metricsRegistry.CoreMetrics()))
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start event loop: %w", err)
	}
	defer loop.Stop(cliCfg.ShutdownTimeout)

	mgr := pubsub.NewManager(loop,
		pubsub.WithMetrics(metricsRegistry.CoreMetrics()),
		pubsub.WithLogger(logger),
		pubsub.WithStateChangeCallback(stateChangeLogger(logger)),
	)

	sksClient, err := setupSKS(ctx, natsClient, cfg, mgr, logger)
	if err != nil {
		return err
	}
	defer sksClient.Stop()

	if err := provision(mgr, cfg, logger); err != nil {
		return fmt.Errorf("provision pubsub graph: %w", err)
	}
	slog.Info("provisioned pubsub graph", "connections", len(cfg.Connections))

	if cliCfg.MetricsPort != 0 {
		metricsServer := metric.NewServer(cliCfg.MetricsPort, cfg.Metrics.Path, metricsRegistry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		defer metricsServer.Stop()
	}

	return runWithSignalHandling(ctx, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging.
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting pubsubd", "version", Version, "build_time", BuildTime, "config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates the bootstrap document.
func initializeConfiguration(cliCfg *CLIConfig) (*Config, error) {
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// createCoreDependencies wires the NATS client and metrics registry.
func createCoreDependencies(cfg *Config) (*natsclient.Client, *metric.MetricsRegistry, error) {
	natsClient, err := natsclient.NewClient(cfg.NATS.URL, natsclient.WithName(appName))
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}
	return natsClient, metric.NewMetricsRegistry(), nil
}

func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("connecting to NATS", "url", natsClient.URL())
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// setupSKS opens the security-group key-value bucket and starts
// watching it for rollovers, fanning each update out to every
// ReaderGroup sharing that security group.
func setupSKS(ctx context.Context, natsClient *natsclient.Client, cfg *Config, mgr *pubsub.Manager, logger *slog.Logger) (*security.SKSClient, error) {
	bucket, err := natsClient.GetKeyValueBucket(ctx, cfg.NATS.SecurityBucket)
	if err != nil {
		return nil, fmt.Errorf("open security bucket %q: %w", cfg.NATS.SecurityBucket, err)
	}

	kv := natsClient.NewKVStore(bucket)
	sksClient := security.NewSKSClient(kv, mgr.ActivateKeyRollover, logger)
	if err := sksClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("start security key watcher: %w", err)
	}
	return sksClient, nil
}

// stateChangeLogger adapts pubsub's StateChangeCallback to structured
// logging and state-transition metrics already recorded inside Manager.
func stateChangeLogger(logger *slog.Logger) pubsub.StateChangeCallback {
	return func(id pubsub.Identifier, kind pubsub.EntityKind, state pubsub.State, cause pubsub.Cause) {
		logger.Info("state transition", "entity", id.String(), "kind", kind, "state", state.String(), "cause", cause)
	}
}

// runWithSignalHandling blocks until SIGINT/SIGTERM, then returns so
// deferred shutdown in run() can unwind every dependency in reverse
// order.
func runWithSignalHandling(ctx context.Context, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("pubsubd started", "shutdown_timeout", shutdownTimeout)
	<-signalCtx.Done()
	slog.Info("received shutdown signal")
	return nil
}
