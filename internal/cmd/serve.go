package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/treeaudit/internal/config"
	"github.com/3leaps/treeaudit/internal/observability"
	"github.com/3leaps/treeaudit/internal/server"
	"github.com/3leaps/treeaudit/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management server",
	Long: `Run the HTTP management server for the audit job.

Endpoints:
  GET  /audit/status    status line and counters
  GET  /audit/running   whether a run is in progress
  POST /audit/start     start a run: {"root", "username", "password", "repair"}
  POST /audit/stop      request the current run to stop
  GET  /health, /health/live, /health/ready, /health/startup
  GET  /version
  GET  /metrics         Prometheus metrics (metrics.enabled)

On SIGINT or SIGTERM a running audit is stopped, its repairs committed, and
the server shuts down within server.shutdown_timeout.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default: server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server.host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = servePort
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open content store", err)
	}
	defer closeStore(store)

	job, err := newJob(store, cfg, logger.Named("audit"), cmd.OutOrStdout())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid audit configuration", err)
	}

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		if reg, err = observability.NewRegistry(observability.NewAuditCollector(job)); err != nil {
			return exitError(exitFailure, "Failed to register metrics", err)
		}
	}

	handlers.InitHealthManager(versionInfo.Version)
	health := handlers.GetHealthManager()
	id := GetAppIdentity()
	if id == nil {
		id = &config.DefaultIdentity
	}
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("metrics", metricsHealthChecker{registry: reg})
	}
	if cfg.Health.Enabled {
		health.RegisterChecker("audit", handlers.AuditHealthChecker{Job: job})
	}

	opts := []server.Option{
		server.WithLogger(logger.Named("http")),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
		server.WithAudit(handlers.NewAuditHandler(job, handlers.AuditDefaults{
			Root:        cfg.Audit.Root,
			Credentials: cfg.Audit.Credentials(),
		})),
	}
	if reg != nil {
		opts = append(opts, server.WithMetrics(reg))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		job.Stop()
		if err := job.Wait(shutdownCtx); err != nil {
			logger.Warn("Audit did not finish before shutdown timeout", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

type metricsHealthChecker struct {
	registry *prometheus.Registry
}

func (c metricsHealthChecker) CheckHealth(context.Context) error {
	if c.registry == nil {
		return errors.New("metrics registry not initialized")
	}
	if _, err := c.registry.Gather(); err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	return nil
}
