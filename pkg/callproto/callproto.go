// Package callproto defines the JSON messages exchanged between a telephony
// adapter and voxturn over the per-call WebSocket.
//
// Every frame is a single JSON object with a "type" field. Fields that do not
// apply to a type are omitted. The adapter must open every connection with a
// [TypeCallAccepted] message; voxturn answers with [TypeSessionReady].
package callproto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Adapter → voxturn message types.
const (
	TypeCallAccepted     = "call.accepted"
	TypeASRPartial       = "asr.partial"
	TypeASRInterim       = "asr.interim"
	TypeCaptureStarted   = "asr.capture_started"
	TypeCaptureStopped   = "asr.capture_stopped"
	TypePlaybackEvent    = "playback.event"
	TypeCallDisconnected = "call.disconnected"
)

// voxturn → adapter message types.
const (
	TypeSessionReady  = "session.ready"
	TypePlaybackStart = "playback.start"
	TypePlaybackStop  = "playback.stop"
	TypeError         = "error"
)

// Playback event names carried in [Message.Event].
const (
	EventStarted  = "started"
	EventFinished = "finished"
	EventStopped  = "stopped"
	EventFailed   = "failed"
)

// ErrMissingType is returned by [Decode] for a frame without a type.
var ErrMissingType = errors.New("callproto: missing message type")

// Capabilities declares the optional recognizer events an adapter emits.
type Capabilities struct {
	CaptureStarted bool `json:"capture_started"`
	InterimResult  bool `json:"interim_result"`
	CaptureStopped bool `json:"capture_stopped"`
}

// Voice describes the synthesis voice for playback.
type Voice struct {
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
	Progressive bool   `json:"progressive,omitempty"`
}

// Message is the envelope for every frame in either direction.
type Message struct {
	Type string `json:"type"`

	// call.accepted
	CallID       string        `json:"call_id,omitempty"`
	CallerID     string        `json:"caller_id,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`

	// asr.partial, asr.interim, playback.start
	Text string `json:"text,omitempty"`

	// playback.*
	PlaybackID string `json:"playback_id,omitempty"`
	Event      string `json:"event,omitempty"`

	// session.ready
	SessionID   string   `json:"session_id,omitempty"`
	PhraseHints []string `json:"phrase_hints,omitempty"`
	Voice       *Voice   `json:"voice,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Decode parses one frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("callproto: decode: %w", err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("callproto: encode %s: %w", m.Type, err)
	}
	return data, nil
}

// SessionReady builds the handshake reply.
func SessionReady(sessionID string, hints []string, v Voice) Message {
	return Message{Type: TypeSessionReady, SessionID: sessionID, PhraseHints: hints, Voice: &v}
}

// PlaybackStart builds a command to speak text.
func PlaybackStart(id, text string, v Voice) Message {
	return Message{Type: TypePlaybackStart, PlaybackID: id, Text: text, Voice: &v}
}

// PlaybackStop builds a command to interrupt a playback.
func PlaybackStop(id string) Message {
	return Message{Type: TypePlaybackStop, PlaybackID: id}
}

// Error builds an error notification.
func Error(msg string) Message {
	return Message{Type: TypeError, Message: msg}
}
