package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/casve/internal/adapters/http/api"
	"github.com/okian/casve/internal/adapters/http/swagger"
	"github.com/okian/casve/internal/adapters/llm"
	"github.com/okian/casve/internal/adapters/repository"
	app "github.com/okian/casve/internal/app"
	"github.com/okian/casve/internal/config"
	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/tracer"
	"github.com/okian/casve/pkg/logger"
	"github.com/okian/casve/pkg/metrics"
	"github.com/okian/casve/pkg/retry"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	writeTimeoutMargin        = 10 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "casve",
		Short:        "CASVE decision worksheet backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newPromptCmd(), newCheckCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Default Go collectors are replaced by the custom system metrics below.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logOpts []logger.Option
	if cfg.AppLogFile != "" {
		logOpts = append(logOpts, logger.WithFile(cfg.AppLogFile))
	}
	if err := logger.Init(logOpts...); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracer, err := tracer.Init(ctx, tracer.Config{Enabled: cfg.OTelEnabled, Endpoint: cfg.OTelEndpoint, Insecure: true}, log.Named("tracer"))
	if err != nil {
		log.Warn(ctx, "tracing unavailable", logger.Error(err))
	}

	svc := app.New(serviceOptions(ctx, cfg, log)...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, cfg, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn(ctx, "tracer shutdown failed", logger.Error(err))
		}
		log.Info(ctx, "server stopped")
		return nil
	})
	return g.Wait()
}

// serviceOptions maps configuration onto the service. A provider that cannot
// be configured leaves generation failing with upstream_unavailable instead of
// blocking startup.
func serviceOptions(ctx context.Context, cfg *config.Config, log logger.Logger) []app.Option {
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.LLMMaxRetries

	opts := []app.Option{
		app.WithLogger(log),
		app.WithStoreConfig(repository.Config{
			Backend:   cfg.StoreBackend,
			Path:      cfg.StorePath,
			RedisAddr: cfg.RedisAddr,
		}, repository.WithTTL(cfg.SessionTTL())),
		app.WithLogDir(cfg.LogDir),
		app.WithJournalQueueSize(cfg.JournalQueueSize),
		app.WithDedupeTTL(cfg.DedupeTTL()),
		app.WithGeneratorOptions(
			generation.WithTimeout(cfg.LLMTimeout()),
			generation.WithRetry(rc),
			generation.WithSampling(float32(cfg.LLMTemperature), cfg.LLMMaxTokens),
		),
	}

	completer, model, err := llm.New(llm.Config{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
	}, log.Named("llm"))
	if err != nil {
		log.Warn(ctx, "llm provider not configured", logger.String("provider", cfg.LLMProvider), logger.Error(err))
		return opts
	}
	return append(opts, app.WithCompleter(completer, model))
}

// newHandler registers every route and wraps the mux with CORS.
func newHandler(ctx context.Context, cfg *config.Config, svc *app.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, log.Named("api")).Register(ctx, mux)
	return api.CORS(cfg.AllowedOrigin, mux)
}

// writeTimeout leaves room for every upstream attempt of one generation.
func writeTimeout(cfg *config.Config) time.Duration {
	return cfg.LLMTimeout()*time.Duration(cfg.LLMMaxRetries+1) + writeTimeoutMargin
}

// startSystemMetricsUpdater updates system metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
