package resilience

import (
	"context"

	"github.com/talkwire-ai/talkwire/pkg/provider/stt"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// defaultMinConfidence is the transcript acceptance threshold applied when
// the router is configured with a zero MinConfidence.
const defaultMinConfidence = 0.60

// STTRouter routes transcription requests across a chain of speech
// recognition providers with automatic failover, and applies the confidence
// gate: transcripts below the acceptance threshold are returned as
// low-confidence results rather than fed onwards, so the orchestrator can ask
// the caller to repeat.
type STTRouter struct {
	chain         *Chain[stt.Provider]
	minConfidence float64
}

// STTRouterConfig configures an [STTRouter].
type STTRouterConfig struct {
	// MinConfidence is the minimum provider-reported confidence for a
	// transcript to be accepted. Default: 0.60.
	MinConfidence float64
}

// NewSTTRouter creates an [STTRouter] over the given provider chain.
func NewSTTRouter(chain *Chain[stt.Provider], cfg STTRouterConfig) *STTRouter {
	min := cfg.MinConfidence
	if min <= 0 {
		min = defaultMinConfidence
	}
	return &STTRouter{chain: chain, minConfidence: min}
}

// Transcribe runs req against the first healthy provider in the chain.
//
// A transcript whose confidence falls below the acceptance threshold is
// returned with LowConfidence set and a nil error; the gate is applied after
// the provider attempt succeeds, so a low-confidence result does not count
// against the provider's breaker.
//
// When every provider fails, the returned error wraps
// [ErrAllProvidersExhausted] and the transcript is nil.
func (r *STTRouter) Transcribe(ctx context.Context, req stt.Request) (*types.Transcript, error) {
	t, _, err := Attempt(ctx, r.chain, func(ctx context.Context, p stt.Provider) (*types.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if t.Confidence > 0 && t.Confidence < r.minConfidence {
		gated := *t
		gated.LowConfidence = true
		return &gated, nil
	}
	return t, nil
}

// Breaker exposes the breaker for the named provider. Intended for health
// reporting and tests.
func (r *STTRouter) Breaker(name string) *CircuitBreaker {
	return r.chain.Breaker(name)
}
