// Package config provides the configuration schema, loader, hot-reload
// watcher and normalizer registry for voxturn.
package config

import (
	"log/slog"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/normalize"
	"github.com/Askhat-cmd/voxturn/internal/turn"
)

// LogLevel controls log verbosity for the voxturn server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxSessions      = 200
	DefaultNormalizer       = "lexicon"
	DefaultLanguage         = "ru-RU"
)

// Config is the root configuration structure for voxturn.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Backend      BackendConfig      `yaml:"backend"`
	Turn         TurnConfig         `yaml:"turn"`
	Voice        VoiceConfig        `yaml:"voice"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Normalizer   NormalizerConfig   `yaml:"normalizer"`
	ASR          ASRConfig          `yaml:"asr"`
	Sessions     SessionsConfig     `yaml:"sessions"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendConfig locates the dialogue backend and tunes its connection.
type BackendConfig struct {
	// URL is the backend WebSocket endpoint. Each session appends
	// callerId to it. Required.
	URL string `yaml:"url"`

	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker shared by all backend dials.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TurnConfig holds the turn-taking timings. They apply to sessions created
// after a reload.
type TurnConfig struct {
	InputSilence     time.Duration `yaml:"input_silence"`
	TailFlush        time.Duration `yaml:"tail_flush"`
	BargeInGuard     time.Duration `yaml:"barge_in_guard"`
	SpeakingDebounce time.Duration `yaml:"speaking_debounce"`
	BargeInPolicy    turn.Policy   `yaml:"barge_in_policy"`
	Delimiter        string        `yaml:"delimiter"`
}

// VoiceConfig is the synthesis voice sent with every playback.
type VoiceConfig struct {
	Name        string `yaml:"name"`
	Language    string `yaml:"language"`
	Progressive bool   `yaml:"progressive"`
}

// Turn converts v to the engine's voice type.
func (v VoiceConfig) Turn() turn.Voice {
	return turn.Voice{Name: v.Name, Language: v.Language, Progressive: v.Progressive}
}

// CapabilitiesConfig is used for calls whose call.accepted message does not
// declare recognizer capabilities.
type CapabilitiesConfig struct {
	CaptureStarted bool `yaml:"capture_started"`
	InterimResult  bool `yaml:"interim_result"`
	CaptureStopped bool `yaml:"capture_stopped"`
}

// Turn converts c to the engine's capability type.
func (c CapabilitiesConfig) Turn() turn.Capabilities {
	return turn.Capabilities{
		CaptureStarted: c.CaptureStarted,
		InterimResult:  c.InterimResult,
		CaptureStopped: c.CaptureStopped,
	}
}

// NormalizerConfig selects and tunes the text normalizer.
type NormalizerConfig struct {
	// Name selects a factory in the [Registry]. Default "lexicon".
	Name string `yaml:"name"`

	// ExtraRules run before the built-in rule table.
	ExtraRules []RuleConfig `yaml:"extra_rules"`

	// Fillers and Keywords replace the gate's built-in lists when set.
	Fillers   []string `yaml:"fillers"`
	Keywords  []string `yaml:"keywords"`
	MinTokens int      `yaml:"min_tokens"`

	// Vocabulary enables snapping of misrecognized tokens.
	Vocabulary    []string `yaml:"vocabulary"`
	SnapThreshold float64  `yaml:"snap_threshold"`
	SnapMinLength int      `yaml:"snap_min_length"`
}

// RuleConfig is one extra rewrite rule.
type RuleConfig struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
	Word    bool   `yaml:"word"`
}

// Rule converts r to a normalizer rule.
func (r RuleConfig) Rule() normalize.Rule {
	return normalize.Rule{Pattern: r.Pattern, Replace: r.Replace, Word: r.Word}
}

// ASRConfig holds hints for the adapter's recognizer.
type ASRConfig struct {
	// PhraseHints are sent in session.ready. Default: the built-in product
	// names and units.
	PhraseHints []string `yaml:"phrase_hints"`
}

// SessionsConfig bounds the call sessions.
type SessionsConfig struct {
	// MaxSessions caps concurrent calls. Default 200.
	MaxSessions int `yaml:"max_sessions"`

	// HandshakeTimeout is how long a new call connection may take to send
	// call.accepted. Default 10s.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// ApplyDefaults fills every zero value that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Turn.InputSilence == 0 {
		cfg.Turn.InputSilence = turn.DefaultInputSilence
	}
	if cfg.Turn.TailFlush == 0 {
		cfg.Turn.TailFlush = turn.DefaultTailFlush
	}
	if cfg.Turn.BargeInGuard == 0 {
		cfg.Turn.BargeInGuard = turn.DefaultBargeInGuard
	}
	if cfg.Turn.SpeakingDebounce == 0 {
		cfg.Turn.SpeakingDebounce = turn.DefaultSpeakingDebounce
	}
	if cfg.Turn.BargeInPolicy == "" {
		cfg.Turn.BargeInPolicy = turn.PolicyGuard
	}
	if cfg.Turn.Delimiter == "" {
		cfg.Turn.Delimiter = turn.DefaultDelimiter
	}

	if cfg.Voice.Language == "" {
		cfg.Voice.Language = DefaultLanguage
	}
	if cfg.Normalizer.Name == "" {
		cfg.Normalizer.Name = DefaultNormalizer
	}
	if cfg.ASR.PhraseHints == nil {
		cfg.ASR.PhraseHints = normalize.DefaultPhraseHints()
	}

	if cfg.Sessions.MaxSessions == 0 {
		cfg.Sessions.MaxSessions = DefaultMaxSessions
	}
	if cfg.Sessions.HandshakeTimeout == 0 {
		cfg.Sessions.HandshakeTimeout = DefaultHandshakeTimeout
	}
}
