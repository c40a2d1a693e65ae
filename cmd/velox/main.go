package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/wku/velox-orchestrator/internal/acme"
	"github.com/wku/velox-orchestrator/internal/api"
	"github.com/wku/velox-orchestrator/internal/config"
	"github.com/wku/velox-orchestrator/internal/deploy"
	"github.com/wku/velox-orchestrator/internal/dockerd"
	"github.com/wku/velox-orchestrator/internal/eventbus"
	"github.com/wku/velox-orchestrator/internal/health"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/metrics"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/storage/cache"
	"github.com/wku/velox-orchestrator/internal/storage/pg"
	"github.com/wku/velox-orchestrator/internal/webhook"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "velox",
	Short: "Velox - single-host application orchestrator",
	Long: `Velox deploys applications from git repositories onto a single
Docker host: it builds images, runs containers, issues ACME certificates,
and routes traffic by host and path, all driven by a REST API and
provider webhooks.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Velox version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Velox control plane",
	Long: `Start the REST API, the Docker container discovery loop, the
deploy engine's webhook listener, the ACME renewal cron, and the
per-route upstream health monitor. Blocks until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("postgres", false, "initializing")
	metrics.RegisterComponent("redis", false, "initializing")
	metrics.RegisterComponent("docker", false, "initializing")

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("postgres", true, "ready")

	redisCache := cache.New(cfg.RedisAddr(), cfg.RedisPassword, 0)
	defer redisCache.Close()
	metrics.RegisterComponent("redis", true, "ready")

	bus := eventbus.New()
	reg := registry.New(store, redisCache, bus)

	docker, err := dockerd.NewManager(cfg.DockerSocket, reg)
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer docker.Close()
	metrics.RegisterComponent("docker", true, "ready")

	provider, err := dockerd.NewProvider(cfg.DockerSocket, reg, bus, cfg.LabelPrefix, cfg.ProxyNetwork)
	if err != nil {
		return fmt.Errorf("start docker discovery: %w", err)
	}

	dockerCli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost("unix://"+cfg.DockerSocket),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("connect deploy engine to docker: %w", err)
	}
	defer dockerCli.Close()

	engine := deploy.New(dockerCli, reg, bus, cfg)
	wh := webhook.New(reg, bus)
	acmeClient := acme.New(reg, cfg.ACMEDirectoryURL(), cfg.ACMEEmail, cfg.CertsPath)
	monitor := health.NewMonitor(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := provider.Start(ctx); err != nil {
		return fmt.Errorf("sync existing containers: %w", err)
	}
	defer provider.Stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start deploy engine: %w", err)
	}
	defer engine.Stop()

	if err := acmeClient.Start(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("acme client failed to start, certificate issuance unavailable")
	} else {
		acmeClient.StartRenewalLoop(ctx, cfg.CertRenewalDays)
	}
	defer acmeClient.Stop()

	go monitor.Run(ctx)

	collector := metrics.NewCollector(reg)
	collector.Start()
	defer collector.Stop()

	srv := api.NewServer(cfg, reg, docker, engine, acmeClient, wh)
	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("api server error, shutting down")
	}

	cancel()
	if err := srv.Shutdown(10 * time.Second); err != nil {
		log.Logger.Error().Err(err).Msg("error during api shutdown")
	}
	log.Logger.Info().Msg("shutdown complete")
	return nil
}
