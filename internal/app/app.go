// Package app wires all Sonalign subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avennor/sonalign/internal/config"
	"github.com/avennor/sonalign/internal/eval"
	"github.com/avennor/sonalign/internal/feedback"
	"github.com/avennor/sonalign/internal/health"
	"github.com/avennor/sonalign/internal/history"
	"github.com/avennor/sonalign/internal/httpapi"
	"github.com/avennor/sonalign/internal/observe"
	"github.com/avennor/sonalign/internal/phoneme"
	"github.com/avennor/sonalign/internal/resilience"
	"github.com/avennor/sonalign/pkg/provider/llm"
	"github.com/avennor/sonalign/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM generates enhanced feedback text. Nil keeps template feedback.
	LLM llm.Provider

	// STT transcribes uploaded audio. Nil disables the audio endpoint.
	STT stt.Transcriber
}

// App owns all subsystem lifetimes and serves the evaluation API.
type App struct {
	providers *Providers

	// mu guards cfg and the engine rebuild during hot reload.
	mu  sync.Mutex
	cfg *config.Config

	level *slog.LevelVar

	// conv is swapped atomically on hot reload; the readiness checker reads
	// it without taking mu.
	conv atomic.Pointer[phoneme.Converter]

	store   history.Store
	pool    *pgxpool.Pool
	metrics *observe.Metrics
	api     *httpapi.Server
	srv     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(st history.Store) Option {
	return func(a *App) { a.store = st }
}

// WithMetrics injects a metrics instance instead of using the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// log_level changes apply on config reload.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: phonemizer warmup, history
// store connection, engine construction, and HTTP route registration.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	wrapProviders(providers)
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Phonemizer ────────────────────────────────────────────────────
	conv := phoneme.New(phoneme.WithLanguage(cfg.Eval.Language))
	conv.Warmup()
	a.conv.Store(conv)

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 4. Evaluation engine + API ───────────────────────────────────────
	apiOpts := []httpapi.Option{
		httpapi.WithHistory(a.store),
		httpapi.WithMetrics(a.metrics),
	}
	if providers.STT != nil {
		apiOpts = append(apiOpts, httpapi.WithTranscriber(providers.STT))
	}
	a.api = httpapi.New(a.buildEngine(cfg.Eval), apiOpts...)

	// ── 5. HTTP server ───────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.api.Register(mux)
	health.New("sonalign", a.checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// wrapProviders puts each configured provider behind a circuit breaker so a
// flapping backend is skipped quickly: feedback falls back to templates, audio
// requests fail fast instead of queueing on a dead transcriber.
func wrapProviders(p *Providers) {
	breaker := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  3,
		},
	}
	if p.LLM != nil {
		p.LLM = resilience.NewLLMFallback(p.LLM, "llm", breaker)
	}
	if p.STT != nil {
		p.STT = resilience.NewSTTFallback(p.STT, "stt", breaker)
	}
}

// initHistory connects the PostgreSQL store when a DSN is configured and
// falls back to the bounded in-memory store otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		slog.Info("no postgres_dsn configured, keeping history in memory")
		a.store = &history.MemStore{MaxRecords: a.cfg.History.MaxRecords}
		return nil
	}

	store, pool, err := history.NewPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// buildEngine constructs an evaluation engine from the eval section. Called
// at startup and again on hot reload when the section changes.
func (a *App) buildEngine(ec config.EvalConfig) *eval.Engine {
	opts := []eval.Option{}
	if ec.FeedbackTimeout > 0 {
		opts = append(opts, eval.WithEnhanceTimeout(ec.FeedbackTimeout))
	}
	if ec.TopErrors > 0 {
		opts = append(opts, eval.WithTopErrors(ec.TopErrors))
	}
	if a.providers.LLM != nil {
		var fbOpts []feedback.Option
		if ec.FeedbackTemperature > 0 {
			fbOpts = append(fbOpts, feedback.WithTemperature(ec.FeedbackTemperature))
		}
		if ec.FeedbackMaxTokens > 0 {
			fbOpts = append(fbOpts, feedback.WithMaxTokens(ec.FeedbackMaxTokens))
		}
		opts = append(opts, eval.WithEnhancer(&instrumentedEnhancer{
			inner:   feedback.New(a.providers.LLM, fbOpts...),
			metrics: a.metrics,
		}))
	}
	return eval.New(a.conv.Load(), opts...)
}

// instrumentedEnhancer records feedback latency and counts evaluations that
// fell back to template feedback because the enhancer failed.
type instrumentedEnhancer struct {
	inner   eval.Enhancer
	metrics *observe.Metrics
}

func (ie *instrumentedEnhancer) Enhance(ctx context.Context, res *eval.Result) (string, error) {
	start := time.Now()
	text, err := ie.inner.Enhance(ctx, res)
	ie.metrics.FeedbackDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		ie.metrics.FeedbackFallbacks.Add(ctx, 1)
	}
	return text, err
}

// checkers builds the readiness checks for the health endpoint. The postgres
// check only exists when a pool was created.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "phonemizer",
		Check: func(context.Context) error {
			if tokens := a.conv.Load().Sentence("hello"); len(tokens) == 0 {
				return errors.New("phonemizer returned no tokens")
			}
			return nil
		},
	}}
	if a.pool != nil {
		checks = append(checks, health.Checker{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return a.pool.Ping(ctx) },
		})
	}
	return checks
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig reacts to a config file change. Only the log level and the eval
// section apply without a restart; provider and server changes are logged and
// ignored. Safe to call from the watcher goroutine.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	a.mu.Lock()
	defer a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EvalChanged {
		if d.NewEval.Language != a.cfg.Eval.Language {
			conv := phoneme.New(phoneme.WithLanguage(d.NewEval.Language))
			conv.Warmup()
			a.conv.Store(conv)
		}
		a.api.SetEngine(a.buildEngine(d.NewEval))
		slog.Info("evaluation settings reloaded",
			"language", d.NewEval.Language, "top_errors", d.NewEval.TopErrors)
	}
	a.cfg = new
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// When ctx is done, Run returns context.Canceled; call Shutdown to stop the
// server gracefully.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	addr := a.cfg.Server.ListenAddr
	tlsCfg := a.cfg.Server.TLS
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg != nil {
			err = a.srv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("app running", "addr", addr, "tls", tlsCfg != nil,
		"audio", a.providers.STT != nil, "llm_feedback", a.providers.LLM != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first, draining in-flight ones.
		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
