package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Backend
	errs = append(errs, validateBackend(&cfg.Backend)...)

	// Turn
	t := cfg.Turn
	for _, d := range []struct {
		name string
		v    int64
	}{
		{"turn.input_silence", int64(t.InputSilence)},
		{"turn.tail_flush", int64(t.TailFlush)},
		{"turn.barge_in_guard", int64(t.BargeInGuard)},
		{"turn.speaking_debounce", int64(t.SpeakingDebounce)},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if t.BargeInPolicy != "" && !t.BargeInPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("turn.barge_in_policy %q is invalid; valid values: guard, speaking_debounce, strict", t.BargeInPolicy))
	}
	if strings.TrimSpace(t.Delimiter) != t.Delimiter {
		errs = append(errs, fmt.Errorf("turn.delimiter %q must not contain surrounding whitespace", t.Delimiter))
	}
	if t.InputSilence > 0 && t.InputSilence < t.TailFlush {
		slog.Warn("turn.input_silence is shorter than turn.tail_flush; reply tails may be cleared by the next finalize",
			"input_silence", t.InputSilence,
			"tail_flush", t.TailFlush,
		)
	}

	// Normalizer
	n := cfg.Normalizer
	for i, r := range n.ExtraRules {
		prefix := fmt.Sprintf("normalizer.extra_rules[%d]", i)
		if r.Pattern == "" {
			errs = append(errs, fmt.Errorf("%s.pattern is required", prefix))
			continue
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s.pattern: %w", prefix, err))
		}
	}
	if n.MinTokens < 0 {
		errs = append(errs, fmt.Errorf("normalizer.min_tokens %d must not be negative", n.MinTokens))
	}
	if n.SnapThreshold < 0 || n.SnapThreshold > 1 {
		errs = append(errs, fmt.Errorf("normalizer.snap_threshold %.2f is out of range [0, 1]", n.SnapThreshold))
	}
	if n.SnapMinLength < 0 {
		errs = append(errs, fmt.Errorf("normalizer.snap_min_length %d must not be negative", n.SnapMinLength))
	}

	// Sessions
	if cfg.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must not be negative", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("sessions.handshake_timeout %v must not be negative", cfg.Sessions.HandshakeTimeout))
	}

	return errors.Join(errs...)
}

func validateBackend(b *BackendConfig) []error {
	var errs []error
	if b.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	} else if u, err := url.Parse(b.URL); err != nil {
		errs = append(errs, fmt.Errorf("backend.url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("backend.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if b.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("backend.max_retries %d must not be negative", b.MaxRetries))
	}
	if b.Backoff < 0 || b.MaxBackoff < 0 || b.DialTimeout < 0 {
		errs = append(errs, errors.New("backend durations must not be negative"))
	}
	if b.Backoff > 0 && b.MaxBackoff > 0 && b.Backoff > b.MaxBackoff {
		errs = append(errs, fmt.Errorf("backend.backoff %v exceeds backend.max_backoff %v", b.Backoff, b.MaxBackoff))
	}
	if b.Breaker.MaxFailures < 0 || b.Breaker.HalfOpenMax < 0 || b.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("backend.breaker values must not be negative"))
	}
	return errs
}
