// Package channel is the duplex connection from a call session to the
// dialogue backend.
//
// A [Conn] dials the backend over WebSocket with the caller identifier in
// the query string, forwards finalized utterances as text frames and hands
// every received text frame to [Events.OnFragment]. When the connection
// drops it reconnects with exponential backoff. Dials go through a shared
// [resilience.Breaker] so a backend outage trips one circuit for the whole
// process.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Askhat-cmd/voxturn/internal/observe"
	"github.com/Askhat-cmd/voxturn/internal/resilience"
)

// Default connection parameters.
const (
	defaultMaxRetries   = 10
	defaultBackoff      = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultOutboxSize   = 16
	defaultReadLimit    = 1 << 20
)

// ErrRetriesExhausted is returned by [Conn.Run] when a reconnect cycle used
// up every attempt.
var ErrRetriesExhausted = errors.New("channel: reconnect retries exhausted")

// Events receives the lifecycle of a [Conn]. Methods are called from the
// Run goroutine and must not block. *turn.Session implements it.
type Events interface {
	// OnReady is called after every successful dial.
	OnReady()

	// OnFragment is called for every text frame from the backend.
	OnFragment(text string)

	// OnClosed is called when an established connection ends for any
	// reason other than [Conn.Close].
	OnClosed(err error)
}

// Config configures a [Conn].
type Config struct {
	// URL is the backend WebSocket endpoint. Required.
	URL string

	// CallerID is sent as the callerId query parameter.
	CallerID string

	// Events receives connection lifecycle callbacks. Required.
	Events Events

	// Breaker guards dials. Nil dials unguarded.
	Breaker *resilience.Breaker

	// MaxRetries bounds the attempts of one reconnect cycle. Default: 10.
	MaxRetries int

	// Backoff is the first wait between attempts. It doubles up to
	// MaxBackoff. Defaults: 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// DialTimeout bounds a single dial. Default: 10s.
	DialTimeout time.Duration

	// OutboxSize is the number of frames buffered for the writer. Default: 16.
	OutboxSize int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Conn is a reconnecting backend connection. Send and Close are safe for
// concurrent use; Run must be called once.
type Conn struct {
	url          string
	events       Events
	breaker      *resilience.Breaker
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
	dialTimeout  time.Duration
	outboxSize   int
	metrics      *observe.Metrics
	log          *slog.Logger
	life         context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	writeTimeout time.Duration

	mu  sync.Mutex
	out chan string // non-nil while a connection is established
}

// BuildURL appends callerId to base, keeping any query parameters base
// already carries.
func BuildURL(base, callerID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("channel: parse backend url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("channel: unsupported backend url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("callerId", callerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// New validates cfg and returns an idle connection. Nothing is dialed until
// [Conn.Run].
func New(cfg Config) (*Conn, error) {
	if cfg.Events == nil {
		return nil, errors.New("channel: events are required")
	}
	u, err := BuildURL(cfg.URL, cfg.CallerID)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:          u,
		events:       cfg.Events,
		breaker:      cfg.Breaker,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		dialTimeout:  cfg.DialTimeout,
		outboxSize:   cfg.OutboxSize,
		metrics:      cfg.Metrics,
		log:          cfg.Logger.With("caller_id", cfg.CallerID),
		life:         life,
		cancel:       cancel,
		writeTimeout: defaultWriteTimeout,
	}, nil
}

// URL returns the dialed endpoint including the callerId parameter.
func (c *Conn) URL() string { return c.url }

// Ready reports whether a connection is established.
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out != nil
}

// Send queues text for the backend. It never fails: a frame that cannot be
// queued is dropped with a warning and counted.
func (c *Conn) Send(text string) {
	status := c.enqueue(text)
	c.metrics.RecordChannelSend(context.Background(), status)
	if status != "sent" {
		c.log.Warn("channel: utterance dropped", "status", status, "category", "transient")
	}
}

func (c *Conn) enqueue(text string) string {
	if c.life.Err() != nil {
		return "closed"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return "not_ready"
	}
	select {
	case c.out <- text:
		return "sent"
	default:
		return "overflow"
	}
}

// Close stops the connection and any pending reconnect. It does not wait
// for Run to return. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.log.Debug("channel: closed")
	})
	return nil
}

// Run dials the backend and keeps the connection alive until ctx is
// cancelled or [Conn.Close] is called, in which case it returns nil. It
// returns [ErrRetriesExhausted] when a reconnect cycle fails.
func (c *Conn) Run(ctx context.Context) error {
	if c.life.Err() != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	for {
		ws, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.serve(ctx, ws)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("channel: connection lost", "err", err, "category", "transient")
		c.events.OnClosed(err)
	}
}

// connect runs one dial cycle with exponential backoff.
func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ws, err := c.dial(ctx)
		if err == nil {
			c.metrics.RecordReconnect(ctx, "ok")
			if attempt > 1 {
				c.log.Info("channel: reconnected", "attempt", attempt)
			}
			return ws, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.metrics.RecordReconnect(ctx, "failed")
		c.log.Warn("channel: dial failed",
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"backoff", wait,
			"err", err,
		)

		if attempt == c.maxRetries {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}

	c.metrics.RecordReconnect(ctx, "exhausted")
	c.log.Error("channel: giving up", "max_retries", c.maxRetries, "err", lastErr)
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	dial := func(ctx context.Context) error {
		dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
		conn, _, err := websocket.Dial(dctx, c.url, nil)
		if err != nil {
			return fmt.Errorf("channel: dial: %w", err)
		}
		ws = conn
		return nil
	}
	if c.breaker == nil {
		return ws, dial(ctx)
	}
	return ws, c.breaker.Do(ctx, dial)
}

// serve runs one established connection until it fails or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	defer ws.CloseNow()
	ws.SetReadLimit(defaultReadLimit)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan string, c.outboxSize)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	c.events.OnReady()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(connCtx, cancel, ws, out)
	}()

	err := c.readLoop(connCtx, ws)

	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
	cancel()
	wg.Wait()
	return err
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.log.Debug("channel: binary frame ignored", "bytes", len(data), "category", "malformed")
			continue
		}
		c.events.OnFragment(string(data))
	}
}

func (c *Conn) writeLoop(ctx context.Context, fail context.CancelFunc, ws *websocket.Conn, out <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-out:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, []byte(text))
			cancel()
			if err != nil {
				c.log.Warn("channel: write failed", "err", err, "category", "transient")
				fail()
				return
			}
		}
	}
}
