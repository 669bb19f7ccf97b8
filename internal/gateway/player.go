package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Askhat-cmd/voxturn/internal/turn"
	"github.com/Askhat-cmd/voxturn/pkg/callproto"
)

// Errors returned by the call player's Start.
var (
	ErrCallClosed  = errors.New("gateway: call connection closed")
	ErrOutboxFull  = errors.New("gateway: outbound frame queue full")
	errUnknownPlay = errors.New("gateway: unknown playback")
)

// callPlayer is the playback driver of one call. It turns Start and Stop
// into playback.start and playback.stop commands and routes the adapter's
// playback.event messages back to the matching handle.
type callPlayer struct {
	out chan []byte
	log *slog.Logger

	mu     sync.Mutex
	live   map[string]*callPlayback
	closed bool
}

var _ turn.Player = (*callPlayer)(nil)

func newCallPlayer(outbox int, log *slog.Logger) *callPlayer {
	return &callPlayer{
		out:  make(chan []byte, outbox),
		log:  log,
		live: make(map[string]*callPlayback),
	}
}

// Start implements turn.Player.
func (p *callPlayer) Start(text string, voice turn.Voice, notify func(turn.PlaybackEvent)) (turn.Playback, error) {
	pb := &callPlayback{id: uuid.NewString(), player: p, notify: notify}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrCallClosed
	}
	p.live[pb.id] = pb
	p.mu.Unlock()

	msg := callproto.PlaybackStart(pb.id, text, callproto.Voice{
		Name:        voice.Name,
		Language:    voice.Language,
		Progressive: voice.Progressive,
	})
	if err := p.send(msg); err != nil {
		p.forget(pb.id)
		return nil, err
	}
	return pb, nil
}

// send queues one frame for the writer without blocking.
func (p *callPlayer) send(m callproto.Message) error {
	data, err := callproto.Encode(m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrCallClosed
	}
	select {
	case p.out <- data:
		return nil
	default:
		return ErrOutboxFull
	}
}

// event delivers an adapter notification to its playback.
func (p *callPlayer) event(id, name string) error {
	ev, err := parseEvent(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	pb, ok := p.live[id]
	if ok && ev.Terminal() {
		delete(p.live, id)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", errUnknownPlay, id)
	}
	pb.notify(ev)
	return nil
}

func (p *callPlayer) isLive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[id]
	return ok
}

func (p *callPlayer) forget(id string) {
	p.mu.Lock()
	delete(p.live, id)
	p.mu.Unlock()
}

// close rejects further playback. Live handles are dropped without
// notification because their session is being torn down.
func (p *callPlayer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	clear(p.live)
}

type callPlayback struct {
	id     string
	player *callPlayer
	notify func(turn.PlaybackEvent)

	mu       sync.Mutex
	stopSent bool
}

func (pb *callPlayback) ID() string { return pb.id }

// Stop sends playback.stop once, and only while the playback is live. A stop
// that could not be queued is retried on the next call.
func (pb *callPlayback) Stop() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.stopSent || !pb.player.isLive(pb.id) {
		return
	}
	if err := pb.player.send(callproto.PlaybackStop(pb.id)); err != nil {
		pb.player.log.Warn("gateway: playback.stop not sent",
			"playback_id", pb.id, "err", err, "category", "playback")
		return
	}
	pb.stopSent = true
}

func parseEvent(name string) (turn.PlaybackEvent, error) {
	switch name {
	case callproto.EventStarted:
		return turn.PlaybackStarted, nil
	case callproto.EventFinished:
		return turn.PlaybackFinished, nil
	case callproto.EventStopped:
		return turn.PlaybackStopped, nil
	case callproto.EventFailed:
		return turn.PlaybackFailed, nil
	default:
		return 0, fmt.Errorf("gateway: unknown playback event %q", name)
	}
}
