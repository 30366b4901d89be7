// Package ashnlp is the public API for embedding the crisis-detection
// ensemble scoring service.
//
// Callers construct and run the service without forking it:
//
//	app, err := ashnlp.New(
//	    ashnlp.WithVersion(version),
//	    ashnlp.WithLogger(logger),
//	    ashnlp.WithClassifier("bart", myInProcessBart{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: ashnlp (root) imports
// internal/*, but internal/* never imports ashnlp (root). Public types
// (ClassifierResult, AlertEvent) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package ashnlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/api"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/alerting"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/cache"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/decision"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/mcp"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/requestadapter"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/server"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/telemetry"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/wrapper"
)

// App is the ash-nlp server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	view         *config.View
	breaker      *fallback.Controller
	alertHook    *alerting.Hook
	wrappers     map[model.ModelName]*wrapper.Wrapper
	srv          *server.Server
	otelShutdown func(context.Context) error
	ready        atomic.Bool
	logger       *slog.Logger
	version      string
}

// New initializes the ensemble scoring service: it loads configuration,
// builds the Wrapper pool, Fallback Controller, Response Cache, Alerting
// Hook, and Decision Engine, then wires the HTTP and MCP surfaces. It does
// NOT warm up models, start the Alerting Hook, or accept HTTP connections —
// call Run(). The only background work it starts is the Response Cache's
// expiry sweep (and the OTEL exporters, when an endpoint is configured).
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("ash-nlp starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Alerting Hook — delivers breaker state-transition events. External
	// override takes priority over the default log-based sink.
	var sink alerting.Sink = alerting.LogSink{Logger: logger}
	if o.alertSink != nil {
		sink = &alertSinkAdapter{sink: o.alertSink}
	}
	hook := alerting.NewHook(cfg.AlertQueueCapacity, sink, logger)

	breakerThresholds := fallback.DefaultThresholds()
	breakerThresholds.TripThreshold = cfg.BreakerFailureThreshold
	breakerThresholds.Cooldown = cfg.BreakerCooldown
	breakerThresholds.HalfOpenProbes = cfg.BreakerHalfOpenProbes
	breakerThresholds.RetryMax = cfg.RetryMax
	breakerThresholds.RetryBaseDelay = cfg.RetryBaseDelay
	breaker := fallback.NewController(breakerThresholds, hook)

	respCache := cache.New(cfg.CacheCapacity, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	wrappers := map[model.ModelName]*wrapper.Wrapper{
		model.ModelBart:      buildWrapper(model.ModelBart, "bart", cfg.BartEndpoint, cfg, o),
		model.ModelSentiment: buildWrapper(model.ModelSentiment, "sentiment", cfg.SentimentEndpoint, cfg, o),
		model.ModelIrony:     buildWrapper(model.ModelIrony, "irony", cfg.IronyEndpoint, cfg, o),
		model.ModelEmotions:  buildWrapper(model.ModelEmotions, "emotions", cfg.EmotionsEndpoint, cfg, o),
	}

	view := config.NewView(config.ViewFromConfig(cfg))

	engine := decision.New(wrappers, breaker, respCache, hook, breakerThresholds, view, cfg.RequestTimeout)

	adapterOpts := requestadapter.Options{
		PlatformCharCap: cfg.UpstreamPlatformCharCap,
		HardFailOnCap:   cfg.HardFailOnPlatformCap,
		DefaultTimezone: cfg.DefaultTimezone,
	}

	startedAt := time.Now()
	mcpSrv := mcp.New(engine, breaker, view, logger, version, startedAt, adapterOpts)

	a := &App{
		cfg:          cfg,
		view:         view,
		breaker:      breaker,
		alertHook:    hook,
		wrappers:     wrappers,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrars {
		fn := fn
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux) { fn(mux) })
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	a.srv = server.New(server.ServerConfig{
		Engine:              engine,
		Breaker:             breaker,
		View:                view,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		StartedAt:           startedAt,
		ReadinessCheck:      a.isReady,
		AdapterOptions:      adapterOpts,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
		OpenAPISpec:         api.OpenAPISpec,
	})

	return a, nil
}

// Run warms up every Wrapper concurrently, starts the Alerting Hook and the
// HTTP server, then blocks until ctx is cancelled or a fatal server error
// occurs. On return, Shutdown is called automatically — callers should not
// call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.alertHook.Start(ctx)
	go a.warmup(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a two-phase graceful shutdown: stop accepting HTTP
// requests and drain in-flight, then drain the Alerting Hook's queue. It
// then shuts down the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("ash-nlp shutting down")

	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	hookCtx, hookCancel := context.WithTimeout(ctx, 5*time.Second)
	a.alertHook.Stop(hookCtx)
	hookCancel()

	_ = a.otelShutdown(context.Background())

	a.logger.Info("ash-nlp stopped")
	return nil
}

// warmup primes every Wrapper's underlying classifier concurrently. A
// failed warmup is logged and leaves the model to be retried on its first
// real request through the normal retry/breaker path — it does not block
// readiness indefinitely.
func (a *App) warmup(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for name, w := range a.wrappers {
		name, w := name, w
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(gctx, a.cfg.PerModelTimeout*2)
			defer cancel()
			if err := w.Warmup(wctx); err != nil {
				a.logger.Warn("model warmup failed, will retry on first request", "model", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	a.ready.Store(true)
	a.logger.Info("model warmup complete")
}

func (a *App) isReady() bool { return a.ready.Load() }

// buildWrapper constructs the Wrapper for one model role. A caller-supplied
// Classifier (WithClassifier) takes priority over the default HTTP
// classifier pointed at the model's configured endpoint.
func buildWrapper(name model.ModelName, key, endpoint string, cfg config.Config, o resolvedOptions) *wrapper.Wrapper {
	if c, ok := o.classifiers[key]; ok {
		return wrapper.New(name, &classifierAdapter{c: c}, cfg.PerModelTimeout)
	}
	client := &http.Client{Timeout: cfg.PerModelTimeout}
	return wrapper.New(name, wrapper.NewHTTPClassifier(endpoint, client), cfg.PerModelTimeout)
}

// ── Adapters (defined here because this file imports both sides) ───────────

// classifierAdapter wraps a public Classifier to satisfy wrapper.Classifier.
type classifierAdapter struct {
	c Classifier
}

func (a *classifierAdapter) Classify(ctx context.Context, text string) (wrapper.RawResult, error) {
	r, err := a.c.Classify(ctx, text)
	if err != nil {
		return wrapper.RawResult{}, err
	}
	return wrapper.RawResult{Label: r.Label, AllScores: r.Scores}, nil
}

// alertSinkAdapter wraps a public AlertSink to satisfy alerting.Sink.
type alertSinkAdapter struct {
	sink AlertSink
}

func (a *alertSinkAdapter) Deliver(ctx context.Context, e alerting.Event) error {
	return a.sink.Deliver(ctx, AlertEvent{Model: string(e.ModelName), Kind: e.Kind, At: e.At})
}
