package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/talkwire-ai/talkwire/internal/health"
	"github.com/talkwire-ai/talkwire/internal/resilience"
	"github.com/talkwire-ai/talkwire/pkg/provider/embeddings"
	"github.com/talkwire-ai/talkwire/pkg/provider/llm"
	"github.com/talkwire-ai/talkwire/pkg/provider/stt"
	"github.com/talkwire-ai/talkwire/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	tts        map[string]func(ProviderEntry) (tts.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Providers holds the constructed failover routers for every pipeline stage.
// Built once at startup from the configured chains.
type Providers struct {
	STT *resilience.STTRouter
	LLM *resilience.LLMRouter
	TTS *resilience.TTSRouter

	// Embeddings is the first healthy entry of the embeddings chain, or nil
	// when none is configured. Transcript indexing degrades gracefully
	// without it.
	Embeddings embeddings.Provider

	chains []breakerSource
}

// breakerSource is the part of a chain the health endpoint needs.
type breakerSource interface {
	Capability() string
	Names() []string
	Breaker(name string) *resilience.CircuitBreaker
}

// BuildProviders constructs the provider chains declared in cfg using the
// factories in reg. Every chain entry gets its own circuit breaker sized by
// cfg.Breaker.
func BuildProviders(cfg *Config, reg *Registry) (*Providers, error) {
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Duration,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}

	sttChain := resilience.NewChain[stt.Provider]("stt", breakerCfg)
	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, err
		}
		sttChain.Add(chainSpec(entry), p)
	}

	llmChain := resilience.NewChain[llm.Provider]("llm", breakerCfg)
	for _, entry := range cfg.Providers.LLM {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, err
		}
		llmChain.Add(chainSpec(entry), p)
	}

	ttsChain := resilience.NewChain[tts.Provider]("tts", breakerCfg)
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, err
		}
		ttsChain.Add(chainSpec(entry), p)
	}

	clip, err := loadFallbackClip(cfg.Call.FallbackClip)
	if err != nil {
		return nil, err
	}

	var embed embeddings.Provider
	for _, entry := range cfg.Providers.Embeddings {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, err
		}
		embed = p
		break
	}

	return &Providers{
		STT:        resilience.NewSTTRouter(sttChain, resilience.STTRouterConfig{MinConfidence: cfg.Call.MinConfidence}),
		LLM:        resilience.NewLLMRouter(llmChain, resilience.LLMRouterConfig{DegradedReply: cfg.Call.DegradedReply}),
		TTS:        resilience.NewTTSRouter(ttsChain, resilience.TTSRouterConfig{FallbackAudio: clip}),
		Embeddings: embed,
		chains:     []breakerSource{sttChain, llmChain, ttsChain},
	}, nil
}

// chainSpec converts a config entry into a chain spec.
func chainSpec(entry ProviderEntry) resilience.ProviderSpec {
	return resilience.ProviderSpec{
		Name:     entry.Name,
		Timeout:  entry.Timeout.Duration,
		Priority: entry.Priority,
	}
}

// BreakerStates implements [health.BreakerReporter].
func (p *Providers) BreakerStates() []health.BreakerStatus {
	var out []health.BreakerStatus
	for _, chain := range p.chains {
		for _, name := range chain.Names() {
			cb := chain.Breaker(name)
			if cb == nil {
				continue
			}
			failures, _ := cb.Counters()
			out = append(out, health.BreakerStatus{
				Provider: chain.Capability() + "/" + name,
				State:    cb.State().String(),
				Failures: failures,
			})
		}
	}
	return out
}
