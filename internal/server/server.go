// Package server assembles the research service from configuration and owns
// its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/aggregate"
	"github.com/JakeFAU/company-research/internal/api"
	"github.com/JakeFAU/company-research/internal/cache"
	memorycache "github.com/JakeFAU/company-research/internal/cache/memory"
	rediscache "github.com/JakeFAU/company-research/internal/cache/redis"
	"github.com/JakeFAU/company-research/internal/clock/system"
	"github.com/JakeFAU/company-research/internal/config"
	"github.com/JakeFAU/company-research/internal/executor"
	"github.com/JakeFAU/company-research/internal/id/uuid"
	"github.com/JakeFAU/company-research/internal/metrics"
	"github.com/JakeFAU/company-research/internal/orchestrator"
	"github.com/JakeFAU/company-research/internal/pipeline"
	"github.com/JakeFAU/company-research/internal/policy/ratelimit"
	"github.com/JakeFAU/company-research/internal/progress"
	progresssinks "github.com/JakeFAU/company-research/internal/progress/sinks"
	"github.com/JakeFAU/company-research/internal/providers/knowledgegraph"
	"github.com/JakeFAU/company-research/internal/providers/llm"
	"github.com/JakeFAU/company-research/internal/providers/location"
	"github.com/JakeFAU/company-research/internal/providers/portfolio"
	"github.com/JakeFAU/company-research/internal/providers/rdap"
	"github.com/JakeFAU/company-research/internal/providers/websearch"
	memorypublisher "github.com/JakeFAU/company-research/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/company-research/internal/publisher/pubsub"
	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/session"
	"github.com/JakeFAU/company-research/internal/source"
	"github.com/JakeFAU/company-research/internal/storage"
	"github.com/JakeFAU/company-research/internal/storage/postgres"
	"github.com/JakeFAU/company-research/internal/telemetry"
	"github.com/JakeFAU/company-research/internal/usage"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	registerer   prometheus.Registerer
	apiServer    *api.Server
	orchestrator *orchestrator.Orchestrator
	sessions     *session.Registry
	quota        *usage.Tracker
	progressHub  *progress.Hub
	backend      *storage.Backend
	redis        *rediscache.Cache
	reports      *cache.Reports
	pubsub       *gcppublisher.Publisher
	telemetry    *telemetry.Providers
	readiness    []api.ReadinessCheck
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer sends the service's own collectors to reg instead of the
// global Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		if reg != nil {
			a.registerer = reg
		}
	}
}

// Build creates the application's dependencies. On error every component
// opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
	)

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.Background())
			app.closeObservability(context.Background())
		}
	}()

	metrics.Init()
	var err error
	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		Exporter:    cfg.Telemetry.Exporter,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Registerer:  app.registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	clock := system.New()
	sources, synth := buildSources(cfg, clock, logger.Named("source"))
	registry, err := source.NewRegistry(sources...)
	if err != nil {
		return nil, fmt.Errorf("source registry init failed: %w", err)
	}
	table, err := pipeline.FromConfig(cfg.Pipeline.Depths)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	exec := executor.New(
		executor.FromRegistry(registry),
		executor.Config{RequestTimeout: cfg.Research.RequestTimeout},
		clock,
		logger.Named("executor"),
	)

	app.sessions = session.NewRegistry(
		session.WithGracePeriod(cfg.Research.GracePeriod),
		session.WithClock(clock),
		session.WithLogger(logger.Named("session")),
	)
	app.quota = usage.NewTracker(
		usage.Limits{Free: cfg.Usage.FreeDailyLimit, Premium: cfg.Usage.PremiumDailyLimit},
		clock,
		logger.Named("usage"),
	)

	if err = setupStorage(ctx, app); err != nil {
		return nil, err
	}
	if err = setupCache(ctx, app, clock); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupProgress(app); err != nil {
		return nil, err
	}

	app.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Table:            table,
		Sources:          registry,
		Executor:         exec,
		Synthesizer:      synth,
		Sessions:         app.sessions,
		Quota:            app.quota,
		Reports:          app.backend.Reports,
		Publisher:        publisher,
		Topic:            cfg.PubSub.TopicName,
		Events:           app.progressHub,
		IDs:              uuid.New(),
		Clock:            clock,
		Logger:           logger.Named("orchestrator"),
		ReferenceCompany: cfg.Research.ReferenceCompany,
		ReferenceDomain:  cfg.Research.ReferenceDomain,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	apiDeps := api.Deps{
		Research: app.orchestrator,
		Runs:     app.backend.Runs,
		Ready:    app.readiness,
		Clock:    clock,
		Logger:   logger.Named("api"),
	}
	if app.reports != nil {
		apiDeps.Cache = app.reports
	}
	app.apiServer = api.NewServer(apiDeps, cfg)

	built = true
	logger.Info("application built",
		zap.Int("sources", len(sources)),
		zap.Strings("depths", table.Depths()),
		zap.Bool("ai_synthesis", synth != nil),
	)
	return app, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(err, closeErr)
	default:
		return closeErr
	}
}

// Close waits for in-flight research, then releases every component.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.orchestrator != nil {
		if cerr := a.orchestrator.Close(ctx); cerr != nil {
			a.logger.Warn("orchestrator close failed", zap.Error(cerr))
			err = cerr
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.sessions != nil {
		a.sessions.Close()
		a.sessions = nil
	}
	if a.quota != nil {
		a.quota.Close()
		a.quota = nil
	}
	if a.backend != nil {
		a.backend.Close()
		a.backend = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
		a.telemetry = nil
	}
	_ = a.logger.Sync()
}

// buildSources wraps every enabled provider in a source.Source. The AI
// provider is returned separately because it also synthesizes reports.
func buildSources(cfg config.Config, clock research.Clock, logger *zap.Logger) ([]*source.Source, aggregate.Synthesizer) {
	pc := cfg.Providers
	var (
		sources []*source.Source
		synth   aggregate.Synthesizer
	)
	add := func(prober source.Prober, kind research.SourceKind, throttled bool) {
		sc := pc.For(kind)
		callTimeout := cfg.Research.CallTimeout
		if sc.Timeout > callTimeout {
			callTimeout = sc.Timeout
		}
		srcCfg := source.Config{
			MaxAttempts:      cfg.Research.MaxAttempts,
			RetryDelayBase:   cfg.Research.RetryDelayBase,
			CallTimeout:      callTimeout,
			FailureThreshold: sc.FailureThreshold,
		}
		if throttled {
			srcCfg.RateLimit = sc.RateLimit
			srcCfg.RateBurst = sc.RateBurst
		}
		sources = append(sources, source.New(prober, srcCfg,
			source.WithClock(clock),
			source.WithLogger(logger),
		))
		logger.Info("source enabled",
			zap.String("source", string(kind)),
			zap.Float64("cost", prober.CostEstimate()),
			zap.Bool("credentials", prober.HasCredentials()),
		)
	}

	if pc.DomainRegistry.Enabled {
		add(rdap.New(rdap.Config{
			BaseURL:   pc.DomainRegistry.BaseURL,
			UserAgent: pc.UserAgent,
		}), research.SourceDomainRegistry, true)
	}
	if pc.WebSearch.Enabled {
		add(websearch.New(websearch.Config{
			BaseURL:        pc.WebSearch.BaseURL,
			APIKey:         pc.WebSearch.APIKey,
			SearchEngineID: pc.WebSearch.SearchEngineID,
			Cost:           pc.WebSearch.Cost,
			UserAgent:      pc.UserAgent,
		}), research.SourceWebSearch, true)
	}
	if pc.KnowledgeGraph.Enabled {
		add(knowledgegraph.New(knowledgegraph.Config{
			BaseURL:   pc.KnowledgeGraph.BaseURL,
			APIKey:    pc.KnowledgeGraph.APIKey,
			UserAgent: pc.UserAgent,
		}), research.SourceKnowledgeGraph, true)
	}
	if pc.AIAnalysis.Enabled {
		provider := llm.New(llm.Config{
			BaseURL: pc.AIAnalysis.BaseURL,
			APIKey:  pc.AIAnalysis.APIKey,
			Model:   pc.AIAnalysis.Model,
			Cost:    pc.AIAnalysis.Cost,
			Timeout: pc.AIAnalysis.Timeout,
		})
		add(provider, research.SourceAIAnalysis, true)
		synth = provider
	}
	if pc.LocationVerification.Enabled {
		add(location.New(location.Config{
			NominatimURL: pc.LocationVerification.BaseURL,
			PlacesURL:    pc.LocationVerification.PlacesURL,
			PlacesAPIKey: pc.LocationVerification.PlacesAPIKey,
			UserAgent:    pc.UserAgent,
		}), research.SourceLocationVerification, true)
	}
	if pc.PortfolioResearch.Enabled {
		// The scraper throttles per host instead of per provider.
		add(portfolio.New(portfolio.Config{
			UserAgent:     pc.UserAgent,
			Timeout:       pc.PortfolioResearch.Timeout,
			MaxPages:      pc.PortfolioResearch.MaxPages,
			Cost:          pc.PortfolioResearch.Cost,
			RespectRobots: pc.PortfolioResearch.RespectRobots,
			Limiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:   pc.PortfolioResearch.RateLimit,
				DefaultBurst: pc.PortfolioResearch.RateBurst,
				Label:        string(research.SourcePortfolioResearch),
			}),
		}), research.SourcePortfolioResearch, false)
	}
	return sources, synth
}

func setupStorage(ctx context.Context, app *App) error {
	sc := app.cfg.Storage
	backend, err := storage.Open(ctx, storage.Config{
		Backend: sc.Backend,
		Postgres: postgres.Config{
			DSN:          sc.DSN,
			ReportsTable: sc.ReportsTable,
			MaxConns:     sc.MaxConns,
		},
		Migrate:       sc.Migrate,
		Bucket:        sc.Bucket,
		Prefix:        sc.Prefix,
		ArchiveBucket: sc.ArchiveBucket,
	}, app.logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	app.backend = backend
	app.logger.Info("storage backend ready",
		zap.String("backend", sc.Backend),
		zap.Bool("run_history", backend.Runs != nil),
		zap.Bool("archive", sc.ArchiveBucket != ""),
	)
	return nil
}

func setupCache(ctx context.Context, app *App, clock research.Clock) error {
	cc := app.cfg.Cache
	if !cc.Enabled {
		app.logger.Info("report cache disabled")
		return nil
	}
	var backend research.Cache
	if cc.RedisAddr != "" {
		redis, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cc.RedisAddr,
			Password: cc.Password,
			DB:       cc.DB,
			Prefix:   cc.Prefix,
		})
		if err != nil {
			return fmt.Errorf("redis cache init failed: %w", err)
		}
		app.redis = redis
		app.readiness = append(app.readiness, redis.Ping)
		backend = redis
		app.logger.Info("using redis report cache", zap.String("addr", cc.RedisAddr))
	} else {
		backend = memorycache.New(clock)
		app.logger.Info("using in-memory report cache")
	}
	app.reports = cache.NewReports(backend, cc.TTL, app.logger.Named("cache"))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (research.Publisher, error) {
	ps := app.cfg.PubSub
	if ps.ProjectID == "" || ps.TopicName == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, ps.ProjectID, ps.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	app.pubsub = publisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return publisher, nil
}

func setupProgress(app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	}
	if app.backend.Runs != nil {
		sinks = append(sinks, progresssinks.NewStoreSink(app.backend.Runs, app.logger.Named("progress_store")))
	}
	// Sinks outlive the request contexts, so the hub runs on a background
	// context and is drained explicitly on Close.
	app.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.Background(),
		Logger:      app.logger.Named("progress_hub"),
	}, sinks...)
	app.logger.Info("progress hub initialized", zap.Int("sinks", len(sinks)))
	return nil
}
