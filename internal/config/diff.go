package config

import "slices"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without a restart are tracked. Turn, voice, capability,
// hint and normalizer changes affect sessions created after the reload;
// live calls keep the settings they started with.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TurnChanged         bool
	VoiceChanged        bool
	CapabilitiesChanged bool
	PhraseHintsChanged  bool
	NormalizerChanged   bool
	MaxSessionsChanged  bool

	// RestartRequired lists settings that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TurnChanged || d.VoiceChanged ||
		d.CapabilitiesChanged || d.PhraseHintsChanged || d.NormalizerChanged ||
		d.MaxSessionsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.TurnChanged = old.Turn != new.Turn
	d.VoiceChanged = old.Voice != new.Voice
	d.CapabilitiesChanged = old.Capabilities != new.Capabilities
	d.PhraseHintsChanged = !slices.Equal(old.ASR.PhraseHints, new.ASR.PhraseHints)
	d.NormalizerChanged = !normalizerEqual(old.Normalizer, new.Normalizer)
	d.MaxSessionsChanged = old.Sessions.MaxSessions != new.Sessions.MaxSessions

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	return d
}

func normalizerEqual(a, b NormalizerConfig) bool {
	return a.Name == b.Name &&
		slices.Equal(a.ExtraRules, b.ExtraRules) &&
		slices.Equal(a.Fillers, b.Fillers) &&
		slices.Equal(a.Keywords, b.Keywords) &&
		a.MinTokens == b.MinTokens &&
		slices.Equal(a.Vocabulary, b.Vocabulary) &&
		a.SnapThreshold == b.SnapThreshold &&
		a.SnapMinLength == b.SnapMinLength
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
