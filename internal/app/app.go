// Package app wires the voxturn subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the backend breaker,
// the normalizer, the session manager and the HTTP surface; Run serves calls
// and watches the config file; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithChannelFactory,
// WithMetrics, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Askhat-cmd/voxturn/internal/channel"
	"github.com/Askhat-cmd/voxturn/internal/config"
	"github.com/Askhat-cmd/voxturn/internal/gateway"
	"github.com/Askhat-cmd/voxturn/internal/health"
	"github.com/Askhat-cmd/voxturn/internal/observe"
	"github.com/Askhat-cmd/voxturn/internal/resilience"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxNormalizeBody  = 64 << 10
)

// App owns all subsystem lifetimes.
type App struct {
	reg       *config.Registry
	level     *slog.LevelVar
	log       *slog.Logger
	providers *observe.Providers
	metrics   *observe.Metrics
	breaker   *resilience.Breaker
	sessions  *SessionManager
	channels  ChannelFactory
	watcher   *config.Watcher
	listener  net.Listener
	handler   http.Handler

	// backend is fixed at startup; changing it needs a restart.
	backend config.BackendConfig

	configPath  string
	watchPeriod time.Duration

	mu  sync.Mutex
	cfg *config.Config
	srv *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithLevelVar makes log level changes from config reloads apply to lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithProviders serves /metrics from p and records through its meter
// provider. The app shuts p down last.
func WithProviders(p *observe.Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithMetrics overrides the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithChannelFactory replaces the backend WebSocket dialer.
func WithChannelFactory(f ChannelFactory) Option {
	return func(a *App) { a.channels = f }
}

// WithConfigPath enables hot reload from path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithWatchInterval sets the config poll interval. Default: 5s.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchPeriod = d }
}

// WithListener makes Run serve on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App from cfg. reg resolves the configured normalizer.
//
// Initialisation order:
//  1. Metrics
//  2. Backend circuit breaker
//  3. Normalizer
//  4. Session manager
//  5. Config watcher (when a config path is set)
//  6. HTTP routes
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	if reg == nil {
		reg = config.DefaultRegistry()
	}
	a := &App{cfg: cfg, reg: reg, backend: cfg.Backend}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	// 1. Metrics.
	if a.metrics == nil {
		if a.providers != nil {
			m, err := observe.NewMetrics(a.providers.Meter)
			if err != nil {
				return nil, fmt.Errorf("app: create metrics: %w", err)
			}
			a.metrics = m
		} else {
			a.metrics = observe.DefaultMetrics()
		}
	}

	// 2. Backend circuit breaker, shared by every session's channel.
	bc := cfg.Backend.Breaker
	a.breaker = resilience.New(resilience.Config{
		Name:         "backend",
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		HalfOpenMax:  bc.HalfOpenMax,
		OnStateChange: func(from, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), to.String())
		},
		Logger: a.log,
	})
	if a.channels == nil {
		a.channels = a.dialBackend
	}

	// 3. Normalizer.
	norm, err := reg.CreateNormalizer(cfg.Normalizer)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// 4. Session manager.
	a.sessions = NewSessionManager(SessionManagerConfig{
		Settings: SettingsFrom(cfg, norm),
		Channels: a.channels,
		Metrics:  a.metrics,
		Logger:   a.log,
	})

	// 5. Config watcher.
	if a.configPath != "" {
		wopts := []config.WatcherOption{config.WithLogger(a.log)}
		if a.watchPeriod > 0 {
			wopts = append(wopts, config.WithInterval(a.watchPeriod))
		}
		w, err := config.NewWatcher(a.configPath, a.reload, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	// 6. HTTP routes.
	a.handler = a.routes()

	if a.providers != nil {
		a.closers = append(a.closers, a.providers.Shutdown)
	}

	a.log.InfoContext(ctx, "app initialised",
		"normalizer", cfg.Normalizer.Name,
		"barge_in_policy", cfg.Turn.BargeInPolicy,
		"max_sessions", cfg.Sessions.MaxSessions,
	)
	return a, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /call", gateway.New(gateway.Config{
		Manager:          a.sessions,
		HandshakeTimeout: a.cfg.Sessions.HandshakeTimeout,
		Logger:           a.log,
	}))
	mux.HandleFunc("POST /api/normalize", a.handleNormalize)
	mux.HandleFunc("GET /api/sessions", a.handleSessions)

	health.New([]health.Checker{
		{Name: "config", Check: a.checkConfig},
		{Name: "backend", Check: a.checkBackend},
	}, health.WithSessionCount(a.sessions.Count)).Register(mux)

	if a.providers != nil {
		mux.Handle("GET /metrics", a.providers.MetricsHandler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) dialBackend(callerID string, ev channel.Events) (Backend, error) {
	bc := a.backend
	conn, err := channel.New(channel.Config{
		URL:         bc.URL,
		CallerID:    callerID,
		Events:      ev,
		Breaker:     a.breaker,
		MaxRetries:  bc.MaxRetries,
		Backoff:     bc.Backoff,
		MaxBackoff:  bc.MaxBackoff,
		DialTimeout: bc.DialTimeout,
		Metrics:     a.metrics,
		Logger:      a.log,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Run serves HTTP and watches the config file until ctx is cancelled or the
// server fails, then shuts down within server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	a.mu.Lock()
	a.srv = srv
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown closes every live call, stops the HTTP server and releases the
// telemetry providers. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.sessions.Count())
		var errs []error
		if err := a.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.mu.Lock()
		srv := a.srv
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}
		for _, c := range a.closers {
			if err := c(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// reload applies a changed config file. Session settings affect calls
// admitted afterwards.
func (a *App) reload(old, cfg *config.Config) {
	d := config.Diff(old, cfg)
	for _, key := range d.RestartRequired {
		a.log.Warn("config change needs a restart", "setting", key)
	}
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	set := a.sessions.Settings()
	norm := set.Normalizer
	if d.NormalizerChanged {
		n, err := a.reg.CreateNormalizer(cfg.Normalizer)
		if err != nil {
			a.log.Error("normalizer reload failed, keeping the previous one", "err", err)
		} else {
			norm = n
		}
	}
	a.sessions.Apply(SettingsFrom(cfg, norm))

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	a.log.Info("config reloaded",
		"turn", d.TurnChanged,
		"voice", d.VoiceChanged,
		"capabilities", d.CapabilitiesChanged,
		"phrase_hints", d.PhraseHintsChanged,
		"normalizer", d.NormalizerChanged,
		"max_sessions", d.MaxSessionsChanged,
	)
}

func (a *App) checkConfig(context.Context) error {
	if a.Config() == nil {
		return errors.New("no configuration loaded")
	}
	return nil
}

func (a *App) checkBackend(context.Context) error {
	if a.breaker.State() == resilience.StateOpen {
		return errors.New("backend circuit open")
	}
	return nil
}

type normalizeRequest struct {
	Text string `json:"text"`
}

type normalizeResponse struct {
	Normalized  string `json:"normalized"`
	Informative bool   `json:"informative"`
}

// handleNormalize runs the configured normalizer and gate on one text.
func (a *App) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNormalizeBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	n := a.sessions.Settings().Normalizer
	out := n.Normalize(req.Text)
	writeJSON(w, http.StatusOK, normalizeResponse{
		Normalized:  out,
		Informative: n.IsInformative(out),
	})
}

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Active())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
