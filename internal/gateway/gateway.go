// Package gateway serves the per-call WebSocket used by telephony adapters.
//
// Each connection carries one call. The adapter opens with call.accepted,
// then streams recognizer events and playback notifications; voxturn answers
// with session.ready and drives playback with playback.start and
// playback.stop. The wire format lives in pkg/callproto.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Askhat-cmd/voxturn/internal/observe"
	"github.com/Askhat-cmd/voxturn/internal/turn"
	"github.com/Askhat-cmd/voxturn/pkg/callproto"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
	outboxSize              = 64
	readLimit               = 64 << 10
)

// ErrRejected marks an admission refusal that the adapter may retry later,
// such as the session limit. Managers wrap it.
var ErrRejected = errors.New("gateway: call rejected")

// CallInfo is the content of call.accepted.
type CallInfo struct {
	CallID   string
	CallerID string

	// Capabilities is nil when the adapter did not declare any.
	Capabilities *turn.Capabilities
}

// Admission is an accepted call.
type Admission struct {
	Session     *turn.Session
	PhraseHints []string
	Voice       turn.Voice
}

// Manager creates and destroys sessions for the gateway.
type Manager interface {
	Start(ctx context.Context, call CallInfo, player turn.Player) (Admission, error)
	Stop(id, reason string)
}

// Config configures a [Handler].
type Config struct {
	Manager Manager

	// HandshakeTimeout bounds the wait for call.accepted. Default 10s.
	HandshakeTimeout time.Duration

	// AcceptOptions are passed to websocket.Accept.
	AcceptOptions *websocket.AcceptOptions

	Logger *slog.Logger
}

// Handler is the /call endpoint.
type Handler struct {
	mgr       Manager
	handshake time.Duration
	accept    *websocket.AcceptOptions
	log       *slog.Logger
}

// New returns a call handler.
func New(cfg Config) *Handler {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		mgr:       cfg.Manager,
		handshake: cfg.HandshakeTimeout,
		accept:    cfg.AcceptOptions,
		log:       cfg.Logger,
	}
}

// ServeHTTP upgrades the request and runs the call until either side ends it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.log.Warn("gateway: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.WithTrace(ctx, h.log).With("remote", r.RemoteAddr)

	call, err := h.handshakeCall(ctx, ws)
	if err != nil {
		log.Warn("gateway: handshake failed", "err", err, "category", "malformed")
		_ = ws.Close(websocket.StatusPolicyViolation, "expected call.accepted")
		return
	}
	log = log.With("call_id", call.CallID, "caller_id", call.CallerID)

	player := newCallPlayer(outboxSize, log)
	defer player.close()

	adm, err := h.mgr.Start(ctx, call, player)
	if err != nil {
		log.Warn("gateway: call not admitted", "err", err)
		writeNow(ctx, ws, callproto.Error(err.Error()))
		status := websocket.StatusInternalError
		if errors.Is(err, ErrRejected) {
			status = websocket.StatusTryAgainLater
		}
		_ = ws.Close(status, "call not admitted")
		return
	}
	sess := adm.Session
	log = log.With("session_id", sess.ID())

	// session.ready goes out before any frame the session queued meanwhile.
	ready := callproto.SessionReady(sess.ID(), adm.PhraseHints, callproto.Voice{
		Name:        adm.Voice.Name,
		Language:    adm.Voice.Language,
		Progressive: adm.Voice.Progressive,
	})
	if err := writeNow(ctx, ws, ready); err != nil {
		log.Warn("gateway: session.ready not delivered", "err", err, "category", "transient")
		h.mgr.Stop(sess.ID(), "adapter unreachable")
		return
	}
	log.Info("gateway: call started")

	go h.writeLoop(ctx, cancel, ws, player.out, log)
	go func() {
		select {
		case <-sess.Done():
			_ = ws.Close(websocket.StatusNormalClosure, "session closed")
		case <-ctx.Done():
		}
	}()

	reason := h.readLoop(ctx, ws, sess, player, log)
	h.mgr.Stop(sess.ID(), reason)
	log.Info("gateway: call ended", "reason", reason)
}

func (h *Handler) handshakeCall(ctx context.Context, ws *websocket.Conn) (CallInfo, error) {
	hctx, cancel := context.WithTimeout(ctx, h.handshake)
	defer cancel()

	typ, data, err := ws.Read(hctx)
	if err != nil {
		return CallInfo{}, err
	}
	if typ != websocket.MessageText {
		return CallInfo{}, errors.New("gateway: binary handshake frame")
	}
	msg, err := callproto.Decode(data)
	if err != nil {
		return CallInfo{}, err
	}
	if msg.Type != callproto.TypeCallAccepted {
		return CallInfo{}, errors.New("gateway: first message is " + msg.Type)
	}

	call := CallInfo{CallID: msg.CallID, CallerID: msg.CallerID}
	if c := msg.Capabilities; c != nil {
		call.Capabilities = &turn.Capabilities{
			CaptureStarted: c.CaptureStarted,
			InterimResult:  c.InterimResult,
			CaptureStopped: c.CaptureStopped,
		}
	}
	return call, nil
}

// readLoop dispatches adapter frames until the call ends and returns the
// teardown reason.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *turn.Session, player *callPlayer, log *slog.Logger) string {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return "adapter closed"
			}
			log.Debug("gateway: read ended", "err", err)
			return "connection lost"
		}
		if typ != websocket.MessageText {
			log.Warn("gateway: binary frame skipped", "category", "malformed")
			continue
		}
		msg, err := callproto.Decode(data)
		if err != nil {
			log.Warn("gateway: malformed frame skipped", "err", err, "category", "malformed")
			continue
		}

		switch msg.Type {
		case callproto.TypeASRPartial:
			sess.PartialResult(msg.Text)
		case callproto.TypeASRInterim:
			sess.Interim(msg.Text)
		case callproto.TypeCaptureStarted:
			sess.CaptureStarted()
		case callproto.TypeCaptureStopped:
			sess.CaptureStopped()
		case callproto.TypePlaybackEvent:
			if err := player.event(msg.PlaybackID, msg.Event); err != nil {
				log.Debug("gateway: playback event ignored", "playback_id", msg.PlaybackID, "err", err)
			}
		case callproto.TypeCallDisconnected:
			return "caller disconnected"
		case callproto.TypeCallAccepted:
			log.Warn("gateway: repeated call.accepted ignored", "category", "malformed")
		default:
			log.Debug("gateway: unknown message type", "type", msg.Type)
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, fail context.CancelFunc, ws *websocket.Conn, out <-chan []byte, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Warn("gateway: write failed", "err", err, "category", "transient")
				fail()
				return
			}
		}
	}
}

func writeNow(ctx context.Context, ws *websocket.Conn, m callproto.Message) error {
	data, err := callproto.Encode(m)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
