package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Askhat-cmd/voxturn/internal/channel"
	"github.com/Askhat-cmd/voxturn/internal/config"
	"github.com/Askhat-cmd/voxturn/internal/gateway"
	"github.com/Askhat-cmd/voxturn/internal/normalize"
	"github.com/Askhat-cmd/voxturn/internal/observe"
	"github.com/Askhat-cmd/voxturn/internal/turn"
)

// Errors returned by [SessionManager.Start].
var (
	ErrTooManySessions  = fmt.Errorf("%w: too many sessions", gateway.ErrRejected)
	ErrShuttingDown     = fmt.Errorf("%w: server shutting down", gateway.ErrRejected)
	ErrDuplicateSession = errors.New("app: duplicate session id")
)

// Backend is the dialogue backend connection of one session.
type Backend interface {
	turn.Outbound

	// Run keeps the connection up until it is closed or gives up.
	Run(ctx context.Context) error
}

// ChannelFactory opens the backend connection for a caller. The connection
// reports to events, which is the session itself.
type ChannelFactory func(callerID string, events channel.Events) (Backend, error)

// Settings are the values a new session is built from. Live sessions keep
// the settings they started with.
type Settings struct {
	Turn         config.TurnConfig
	Voice        turn.Voice
	Capabilities turn.Capabilities
	PhraseHints  []string
	Normalizer   normalize.Normalizer
	MaxSessions  int
}

// SettingsFrom extracts the session settings from cfg.
func SettingsFrom(cfg *config.Config, n normalize.Normalizer) Settings {
	return Settings{
		Turn:         cfg.Turn,
		Voice:        cfg.Voice.Turn(),
		Capabilities: cfg.Capabilities.Turn(),
		PhraseHints:  slices.Clone(cfg.ASR.PhraseHints),
		Normalizer:   n,
		MaxSessions:  cfg.Sessions.MaxSessions,
	}
}

// SessionInfo describes a live call.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	CallID    string    `json:"call_id"`
	CallerID  string    `json:"caller_id"`
	StartedAt time.Time `json:"started_at"`
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Settings Settings

	// Channels opens backend connections. Required.
	Channels ChannelFactory

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// NewID generates session identifiers. Default: random UUIDs.
	NewID func() string
}

// SessionManager owns the live call sessions. It implements
// [gateway.Manager].
type SessionManager struct {
	channels ChannelFactory
	metrics  *observe.Metrics
	log      *slog.Logger
	newID    func() string

	mu       sync.Mutex
	settings Settings
	sessions map[string]*liveSession
	closing  bool
	wg       sync.WaitGroup
}

type liveSession struct {
	info SessionInfo
	sess *turn.Session
}

var _ gateway.Manager = (*SessionManager)(nil)

// NewSessionManager creates a SessionManager with the given configuration.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &SessionManager{
		channels: cfg.Channels,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		newID:    cfg.NewID,
		settings: cfg.Settings,
		sessions: make(map[string]*liveSession),
	}
}

// Start creates a session for call, opens its backend connection and starts
// both. The returned session plays through player.
func (sm *SessionManager) Start(ctx context.Context, call gateway.CallInfo, player turn.Player) (gateway.Admission, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closing {
		return gateway.Admission{}, ErrShuttingDown
	}
	set := sm.settings
	if set.MaxSessions > 0 && len(sm.sessions) >= set.MaxSessions {
		return gateway.Admission{}, ErrTooManySessions
	}
	id := sm.newID()
	if _, ok := sm.sessions[id]; ok {
		return gateway.Admission{}, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	caps := set.Capabilities
	if call.Capabilities != nil {
		caps = *call.Capabilities
	}

	// The session outlives the admitting request; it ends on Stop or
	// Shutdown.
	sctx, span := observe.StartSessionSpan(context.WithoutCancel(ctx), id, call.CallerID)
	log := observe.WithTrace(sctx, sm.log).With("call_id", call.CallID)

	sess := turn.New(turn.Config{
		ID:               id,
		CallerID:         call.CallerID,
		Capabilities:     caps,
		Voice:            set.Voice,
		InputSilence:     set.Turn.InputSilence,
		TailFlush:        set.Turn.TailFlush,
		BargeInGuard:     set.Turn.BargeInGuard,
		SpeakingDebounce: set.Turn.SpeakingDebounce,
		Policy:           set.Turn.BargeInPolicy,
		Delimiter:        set.Turn.Delimiter,
		Normalizer:       set.Normalizer,
		Player:           player,
		Context:          sctx,
		Logger:           log,
		Recorder:         sm.metrics,
	})

	backend, err := sm.channels(call.CallerID, sess)
	if err != nil {
		span.End()
		return gateway.Admission{}, fmt.Errorf("app: open backend channel: %w", err)
	}
	sess.Bind(backend)

	sm.sessions[id] = &liveSession{
		info: SessionInfo{
			SessionID: id,
			CallID:    call.CallID,
			CallerID:  call.CallerID,
			StartedAt: time.Now().UTC(),
		},
		sess: sess,
	}
	sm.metrics.SessionStarted(sctx)

	runCtx, cancel := context.WithCancel(sctx)
	sm.wg.Add(3)
	go func() {
		defer sm.wg.Done()
		sess.Run(runCtx)
	}()
	go func() {
		defer sm.wg.Done()
		if err := backend.Run(runCtx); err != nil {
			// The session stays up; utterances are dropped as not ready.
			log.Error("backend channel gave up", "err", err, "category", "transient")
		}
	}()
	go func() {
		defer sm.wg.Done()
		<-sess.Done()
		cancel()
		sm.forget(id)
		sm.metrics.SessionEnded(sctx)
		span.End()
	}()

	log.Info("session started",
		"session_id", id,
		"caller_id", call.CallerID,
		"active", len(sm.sessions),
	)
	return gateway.Admission{
		Session:     sess,
		PhraseHints: slices.Clone(set.PhraseHints),
		Voice:       set.Voice,
	}, nil
}

func (sm *SessionManager) forget(id string) {
	sm.mu.Lock()
	delete(sm.sessions, id)
	sm.mu.Unlock()
}

// Stop closes the session with the given ID. Unknown IDs are ignored.
func (sm *SessionManager) Stop(id, reason string) {
	sm.mu.Lock()
	ls, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return
	}
	ls.sess.Close(reason)
}

// Session returns the live session with the given ID.
func (sm *SessionManager) Session(id string) (*turn.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ls, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	return ls.sess, true
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Active lists the live sessions, oldest first.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, ls := range sm.sessions {
		out = append(out, ls.info)
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.SessionID < b.SessionID {
			return -1
		}
		if a.SessionID > b.SessionID {
			return 1
		}
		return 0
	})
	return out
}

// Settings returns the settings new sessions are built from.
func (sm *SessionManager) Settings() Settings {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.settings
}

// Apply replaces the settings for sessions admitted from now on.
func (sm *SessionManager) Apply(s Settings) {
	sm.mu.Lock()
	sm.settings = s
	sm.mu.Unlock()
}

// Shutdown refuses new calls, closes every live session and waits until
// their goroutines have exited or ctx is done.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closing = true
	live := make([]*liveSession, 0, len(sm.sessions))
	for _, ls := range sm.sessions {
		live = append(live, ls)
	}
	sm.mu.Unlock()

	var g errgroup.Group
	for _, ls := range live {
		g.Go(func() error {
			ls.sess.Close("shutdown")
			select {
			case <-ls.sess.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("app: session %s: %w", ls.info.SessionID, ctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	waited := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		if len(live) > 0 {
			sm.log.Info("sessions closed", "count", len(live))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: waiting for session goroutines: %w", ctx.Err())
	}
}
