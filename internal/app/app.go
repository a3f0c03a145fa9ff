// Package app wires all dictum subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from configuration, Run serves the HTTP API until the context
// is cancelled, and Shutdown drains connections and tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithPublisher, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/dictumlabs/dictum/internal/api"
	"github.com/dictumlabs/dictum/internal/chunking"
	"github.com/dictumlabs/dictum/internal/config"
	"github.com/dictumlabs/dictum/internal/health"
	"github.com/dictumlabs/dictum/internal/lexicon"
	"github.com/dictumlabs/dictum/internal/location"
	"github.com/dictumlabs/dictum/internal/observe"
	"github.com/dictumlabs/dictum/internal/pipeline"
	"github.com/dictumlabs/dictum/internal/publish"
	"github.com/dictumlabs/dictum/internal/resilience"
	"github.com/dictumlabs/dictum/internal/review"
	"github.com/dictumlabs/dictum/internal/store"
	"github.com/dictumlabs/dictum/internal/store/postgres"
	"github.com/dictumlabs/dictum/internal/symbols"
	"github.com/dictumlabs/dictum/internal/transcribe"
	"github.com/dictumlabs/dictum/pkg/provider/embeddings"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main via the config registry.
type Providers struct {
	Oracle     llm.Provider
	Speech     speech.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the dictum review API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// current is the live configuration; ApplyConfig swaps it on reload.
	// New recordings read their defaults from here.
	current atomic.Pointer[config.Config]

	// logLevel is swapped on reload when main wired one in.
	logLevel *slog.LevelVar

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics   *observe.Metrics
	store     store.Store
	guard     *review.StoreGuard
	pipe      *pipeline.Pipeline
	builder   *location.Builder
	selector  *location.Selector
	manager   *review.Manager
	publisher *publish.Publisher
	server    *http.Server
	listener  net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session and comment store instead of creating one
// from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithPublisher injects a comment publisher instead of creating one from
// the configured GitHub token.
func WithPublisher(p *publish.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithListener serves on l instead of binding the configured listen
// address. The caller keeps ownership of the address, Run still closes the
// listener through the server.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLogControl hands the app the level var behind the process logger so
// configuration reloads can change verbosity.
func WithLogControl(lvl *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lvl }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// An oracle and a speech provider are required; embeddings are optional and
// enable semantic chunking and similarity search when present.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	a.current.Store(cfg)
	for _, o := range opts {
		o(a)
	}

	if providers.Oracle == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	if providers.Speech == nil {
		return nil, errors.New("app: a speech provider is required")
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m

	// ── 2. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Oracle pipeline ───────────────────────────────────────────────
	a.pipe = pipeline.New(providers.Oracle, pipelineConfig(cfg.Pipeline, a.metrics))

	// ── 4. Comment placement ─────────────────────────────────────────────
	if err := a.initLocation(ctx); err != nil {
		return nil, fmt.Errorf("app: init location: %w", err)
	}

	// ── 5. Review manager ────────────────────────────────────────────────
	a.initReview()

	// ── 6. Publisher ─────────────────────────────────────────────────────
	if err := a.initPublisher(); err != nil {
		return nil, fmt.Errorf("app: init publisher: %w", err)
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore sets up the PostgreSQL store, or a memory store when no DSN is
// configured, and wraps it in the guard that keeps recordings alive through
// storage outages.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
			dims := a.cfg.Store.EmbeddingDimensions
			if dims == 0 && a.providers.Embeddings != nil {
				dims = a.providers.Embeddings.Dimensions()
			}
			if dims == 0 {
				dims = 1536 // OpenAI text-embedding-3-small
			}
			pg, err := postgres.NewStore(ctx, dsn, dims)
			if err != nil {
				return err
			}
			a.store = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			slog.Info("postgres store connected", "embedding_dimensions", dims)
		} else {
			slog.Warn("no postgres_dsn configured, sessions and comments are memory-only")
			a.store = store.NewMemStore()
		}
	}

	a.guard = review.NewStoreGuard(a.store)
	return nil
}

// initLocation sets up the document source, symbol resolution, candidate
// builder, and the placement selector.
func (a *App) initLocation(ctx context.Context) error {
	docs := &location.FileSource{Root: a.cfg.Location.WorkspaceRoot}

	var resolver location.SymbolResolver = symbols.NewScanner(docs)
	if sc := a.cfg.Location.Symbols; sc.Command != "" || sc.URL != "" {
		lang, err := symbols.Connect(ctx, symbols.Config{
			Command: sc.Command,
			URL:     sc.URL,
			Tool:    sc.Tool,
		})
		if err != nil {
			return fmt.Errorf("connect language-tools server: %w", err)
		}
		a.closers = append(a.closers, lang.Close)
		// The scanner stays as the fallback when the server cannot answer.
		resolver = symbols.Chain{lang, symbols.NewScanner(docs)}
		slog.Info("language-tools resolver connected",
			"command", sc.Command, "url", sc.URL)
	}

	bopts := []location.BuilderOption{location.WithSymbolResolver(resolver)}
	if n := a.cfg.Location.MaxCandidates; n > 0 {
		bopts = append(bopts, location.WithMaxCandidates(n))
	}
	if n := a.cfg.Location.CursorPadding; n > 0 {
		bopts = append(bopts, location.WithCursorPadding(n))
	}
	if n := a.cfg.Location.SymbolPadding; n > 0 {
		bopts = append(bopts, location.WithSymbolPadding(n))
	}
	a.builder = location.NewBuilder(docs, bopts...)

	a.selector = location.NewSelector(a.providers.Oracle,
		location.WithSelectorRetry(retryConfig(a.cfg.Pipeline.Retry)),
	)
	return nil
}

// initReview assembles the processing chain and the session manager.
func (a *App) initReview() {
	var popts []review.ProcessorOption
	if !a.cfg.Transcription.DisableCorrection {
		popts = append(popts, review.WithCorrector(lexicon.NewCorrector(lexicon.NewMatcher())))
	}
	if cc := a.cfg.Transcription.Chunking; cc.Enabled {
		if a.providers.Embeddings == nil {
			slog.Warn("semantic chunking enabled without an embeddings provider, keeping speaker grouping")
		} else {
			var copts []chunking.Option
			if cc.SimilarityThreshold > 0 {
				copts = append(copts, chunking.WithThreshold(cc.SimilarityThreshold))
			}
			popts = append(popts, review.WithChunker(chunking.New(a.providers.Embeddings, copts...)))
		}
	}

	var topts []transcribe.Option
	if d, ok := a.providers.Speech.(speech.Diarizer); ok {
		topts = append(topts, transcribe.WithDiarizer(d))
	}

	processor := review.NewProcessor(
		transcribe.New(a.providers.Speech, topts...),
		a.pipe,
		a.builder,
		a.selector,
		popts...,
	)

	var mopts []review.ManagerOption
	if a.providers.Embeddings != nil {
		mopts = append(mopts, review.WithEmbeddings(a.providers.Embeddings))
	}
	if mb := a.cfg.Review.MaxAudioMB; mb > 0 {
		mopts = append(mopts, review.WithMaxAudioBytes(mb<<20))
	}
	a.manager = review.NewManager(a.guard, processor, mopts...)
}

// initPublisher creates the GitHub publisher when a token is configured.
func (a *App) initPublisher() error {
	if a.publisher != nil || a.cfg.GitHub.Token == "" {
		return nil
	}
	var popts []publish.Option
	if a.cfg.GitHub.BaseURL != "" {
		popts = append(popts, publish.WithBaseURL(a.cfg.GitHub.BaseURL))
	}
	p, err := publish.New(a.cfg.GitHub.Token, popts...)
	if err != nil {
		return err
	}
	a.publisher = p
	return nil
}

// initHTTP assembles the full request surface: the review API, health
// probes, the Prometheus scrape endpoint, and the tracing middleware.
func (a *App) initHTTP() {
	apiOpts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithSessionDefaults(a.sessionDefaults),
	}
	if a.publisher != nil {
		apiOpts = append(apiOpts, api.WithPublisher(a.publisher))
	}
	if a.providers.Embeddings != nil {
		apiOpts = append(apiOpts, api.WithEmbeddings(a.providers.Embeddings))
	}

	mux := http.NewServeMux()
	api.NewServer(a.pipe, a.selector, a.manager, a.guard, apiOpts...).Register(mux)

	health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if a.guard.IsDegraded() {
				return errors.New("last store operation failed")
			}
			return nil
		},
		// The guard keeps recordings alive through storage outages, so a
		// degraded store must not pull the instance out of rotation.
		Optional: true,
	}).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	// No absolute read or write timeouts: a finish call blocks on oracle
	// round trips and an ingest socket stays open for a whole recording.
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. When ctx is done, Run returns ctx.Err(); call Shutdown afterwards
// to drain connections and release subsystems.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.server.Addr, err)
		}
		a.listener = ln
	}

	errCh := make(chan error, 1)
	go func() {
		if tc := a.cfg.Server.TLS; tc != nil {
			errCh <- a.server.ServeTLS(a.listener, tc.CertFile, tc.KeyFile)
		} else {
			errCh <- a.server.Serve(a.listener)
		}
	}()

	slog.Info("app running",
		"addr", a.listener.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the address the server listens on. Before Run binds the
// listener it reports the configured address.
func (a *App) Addr() string {
	if a.listener == nil {
		return a.cfg.Server.ListenAddr
	}
	return a.listener.Addr().String()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies a changed configuration. The log level and the
// transcription defaults for new recordings take effect immediately;
// everything else binds at startup, so those sections are reported and left
// alone. The signature matches the [config.Watcher] callback.
func (a *App) ApplyConfig(_, cfg *config.Config, d config.Diff) {
	a.current.Store(cfg)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscriptionChanged {
		slog.Info("transcription defaults updated for new recordings")
	}
	if len(d.RestartNeeded) > 0 {
		slog.Warn("config sections changed that only apply after a restart",
			"sections", d.RestartNeeded)
	}
}

// sessionDefaults reads the recording defaults from the live configuration.
func (a *App) sessionDefaults() api.SessionDefaults {
	c := a.current.Load()
	return api.SessionDefaults{
		Language: c.Transcription.Language,
		Keywords: c.Transcription.Keywords,
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the HTTP server, then runs subsystem closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "error", err)
			}
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
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// pipelineConfig maps the YAML pipeline section onto the pipeline's own
// config struct.
func pipelineConfig(pc config.PipelineConfig, obs pipeline.StageObserver) pipeline.Config {
	return pipeline.Config{
		Mode:           pc.Mode,
		Parallel:       pc.Parallel,
		ClassifyBatch:  pc.ClassifyBatch,
		SplitBatch:     pc.SplitBatch,
		TransformBatch: pc.TransformBatch,
		UnifiedBatch:   pc.UnifiedBatch,
		ContextRadius:  pc.ContextRadius,
		Temperature:    pc.Temperature,
		MaxInFlight:    pc.MaxInFlight,
		Retry:          retryConfig(pc.Retry),
		Observer:       obs,
	}
}

// retryConfig converts the millisecond YAML fields into durations.
func retryConfig(rc config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   time.Duration(rc.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(rc.MaxDelayMS) * time.Millisecond,
	}
}
