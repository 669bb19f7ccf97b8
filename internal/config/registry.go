package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Askhat-cmd/voxturn/internal/normalize"
)

// ErrNormalizerNotRegistered is returned by [Registry.CreateNormalizer] when
// no factory has been registered under the requested name.
var ErrNormalizerNotRegistered = errors.New("config: normalizer not registered")

// NormalizerFactory builds a normalizer from its configuration block.
type NormalizerFactory func(NormalizerConfig) (normalize.Normalizer, error)

// Registry maps normalizer names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	normalizers map[string]NormalizerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[string]NormalizerFactory)}
}

// DefaultRegistry returns a registry with the built-in "lexicon" and
// "passthrough" normalizers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterNormalizer("lexicon", NewLexicon)
	r.RegisterNormalizer("passthrough", NewPassthrough)
	return r
}

// RegisterNormalizer registers factory under name. Subsequent calls with the
// same name overwrite the previous registration.
func (r *Registry) RegisterNormalizer(name string, factory NormalizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[name] = factory
}

// Normalizers returns the registered names in sorted order.
func (r *Registry) Normalizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateNormalizer instantiates the normalizer registered under cfg.Name.
func (r *Registry) CreateNormalizer(cfg NormalizerConfig) (normalize.Normalizer, error) {
	r.mu.RLock()
	factory, ok := r.normalizers[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNormalizerNotRegistered, cfg.Name)
	}
	n, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create normalizer %q: %w", cfg.Name, err)
	}
	return n, nil
}

// NewLexicon is the factory of the rule-table normalizer.
func NewLexicon(cfg NormalizerConfig) (normalize.Normalizer, error) {
	opts := []normalize.Option{normalize.WithGate(gateFor(cfg))}
	if len(cfg.ExtraRules) > 0 {
		rules := make([]normalize.Rule, len(cfg.ExtraRules))
		for i, rc := range cfg.ExtraRules {
			rules[i] = rc.Rule()
		}
		opts = append(opts, normalize.WithExtraRules(rules...))
	}
	if len(cfg.Vocabulary) > 0 {
		opts = append(opts, normalize.WithVocabulary(cfg.Vocabulary, cfg.SnapThreshold, cfg.SnapMinLength))
	}
	return normalize.New(opts...)
}

// NewPassthrough is the factory of the whitespace-only normalizer.
func NewPassthrough(cfg NormalizerConfig) (normalize.Normalizer, error) {
	return normalize.Passthrough{Gate: gateFor(cfg)}, nil
}

func gateFor(cfg NormalizerConfig) *normalize.Gate {
	if cfg.Fillers == nil && cfg.Keywords == nil && cfg.MinTokens == 0 {
		return normalize.DefaultGate()
	}
	fillers, keywords := cfg.Fillers, cfg.Keywords
	if fillers == nil {
		fillers = normalize.DefaultFillers
	}
	if keywords == nil {
		keywords = normalize.DefaultKeywords
	}
	return normalize.NewGate(fillers, keywords, cfg.MinTokens)
}
