package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mesura-ai/mesura/db"
	"github.com/mesura-ai/mesura/internal/analysis"
	"github.com/mesura-ai/mesura/internal/api"
	"github.com/mesura-ai/mesura/internal/chat"
	"github.com/mesura-ai/mesura/internal/config"
	"github.com/mesura-ai/mesura/internal/files"
	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be wired before Genkit so its TracerProvider picks up
	// the span processor.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	a.Store = store.New(pool, logger)

	storage, err := files.NewStorage(files.StorageConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage: %w", err)
	}
	a.Storage = storage

	analysisClient, err := analysis.NewClient(cfg.AnalysisBaseURL, cfg.AnalysisAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("creating analysis client: %w", err)
	}
	a.Analysis = analysisClient

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Orchestrator = provideOrchestrator(a)

	server, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: a.Orchestrator,
		Store:        a.Store,
		Users:        a.Store,
		Pool:         pool,
		CORSOrigins:  cfg.CORSOrigins,
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization. An empty endpoint disables export entirely.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	// Export to a local collector over plain HTTP. The collector handles
	// authentication and forwarding.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the Gemini provider. The
// googlegenai plugin reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	logger.Info("initialized Genkit",
		"model", cfg.FullModelName(),
		"moderation_model", cfg.FullModerationModelName(),
	)
	return g, nil
}

// provideOrchestrator assembles the chat pipeline: moderator, analysis
// tool coordinator, generation engine and the orchestrator on top.
func provideOrchestrator(a *App) *chat.Orchestrator {
	cfg := a.Config

	moderator := chat.NewModerator(a.Genkit, cfg.FullModerationModelName())

	coordinator := chat.NewCoordinator(a.Analysis, a.Store, chat.DefaultRetryOptions(), a.Logger)

	engine := chat.NewEngine(a.Genkit, chat.EngineConfig{
		Model:       cfg.FullModelName(),
		MaxTurns:    cfg.MaxTurns,
		Temperature: cfg.Temperature,
	}, coordinator)

	fileCtx := files.NewContextBuilder(a.Store, a.Storage, a.Logger)

	titles := chat.NewTitleGenerator(a.Genkit, cfg.FullModerationModelName())

	return chat.NewOrchestrator(a.Store, moderator, fileCtx, engine, titles, cfg.MaxHistoryMessages, a.Logger)
}
