package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	cluelog "goa.design/clue/log"

	swarmconfig "github.com/corvus-labs/swarmd/runtime/agent/config"
	"github.com/corvus-labs/swarmd/runtime/agent/httpapi"
	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/model/anthropicclient"
	"github.com/corvus-labs/swarmd/runtime/agent/model/bedrockclient"
	"github.com/corvus-labs/swarmd/runtime/agent/model/openaiclient"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry/redisstore"
	"github.com/corvus-labs/swarmd/runtime/agent/scheduler"
	"github.com/corvus-labs/swarmd/runtime/agent/telemetry"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to an optional YAML config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "include error details in HTTP responses")
	return cmd
}

// runServe loads configuration, wires the orchestration core to a
// provider-backed model client, and serves the HTTP API until SIGINT or
// SIGTERM, then drains in-flight requests before exiting.
func runServe(ctx context.Context, configPath string, debugFlag bool) error {
	cfg, err := swarmconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debugFlag {
		cfg.Debug = true
	}

	client, err := buildModelClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	store, err := buildRunStore(cfg)
	if err != nil {
		return fmt.Errorf("build run store: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Debug mode trades the Clue/OTEL observability stack for no-ops so
	// local troubleshooting isn't drowned in structured log output;
	// everywhere else (the normal production path) gets real logging,
	// metrics, and tracing.
	var (
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	)
	if cfg.Debug {
		logger = telemetry.NewNoopLogger()
		metrics = telemetry.NewNoopMetrics()
		tracer = telemetry.NewNoopTracer()
	} else {
		format := cluelog.FormatJSON
		if cluelog.IsTerminal() {
			format = cluelog.FormatTerminal
		}
		ctx = cluelog.Context(ctx, cluelog.WithFormat(format))
		logger = telemetry.NewClueLogger()
		metrics = telemetry.NewClueMetrics()
		tracer = telemetry.NewClueTracer()
	}

	registry := runregistry.New(store, cfg.RunRetention)
	registry.StartSweeper(ctx, time.Minute)
	defer registry.Stop()

	sched := scheduler.New(registry, scheduler.Defaults{
		MaxConcurrentRuns:       cfg.MaxConcurrentRuns,
		MaxConcurrentModelCalls: cfg.MaxConcurrentModelCalls,
	}, logger, metrics, tracer)

	server, err := httpapi.New(httpapi.Options{
		Builder:   topology.NewBuilder(),
		Scheduler: sched,
		Registry:  registry,
		Client:    client,
		Debug:     cfg.Debug,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("swarmd listening", "addr", cfg.Addr(), "provider", string(cfg.Provider))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("swarmd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildModelClient constructs the model.Client adapter named by
// cfg.Provider. Anthropic and OpenAI authenticate with an API key; Bedrock
// resolves credentials from the ambient AWS chain (env vars, shared config,
// instance role), scoped to cfg.AWSRegion when set.
func buildModelClient(ctx context.Context, cfg swarmconfig.Config) (model.Client, error) {
	switch cfg.Provider {
	case swarmconfig.ProviderOpenAI:
		return openaiclient.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.DefaultModel)
	case swarmconfig.ProviderBedrock:
		var optFns []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			optFns = append(optFns, config.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrockclient.New(bedrockruntime.NewFromConfig(awsCfg), cfg.DefaultModel)
	case swarmconfig.ProviderAnthropic, "":
		return anthropicclient.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.DefaultModel)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// buildRunStore constructs the in-memory store, or a Redis-backed one when
// cfg.RedisAddr is set.
func buildRunStore(cfg swarmconfig.Config) (runregistry.Store, error) {
	if cfg.RedisAddr == "" {
		return inmem.New(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return redisstore.New(rdb, "swarmd:run")
}
