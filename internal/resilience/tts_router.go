package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talkwire-ai/talkwire/pkg/provider/tts"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// TTSRouter routes speech synthesis requests across a chain of text-to-speech
// providers with automatic failover. A synthesis attempt counts as successful
// once the provider hands back its audio channel; mid-stream audio errors are
// the bridge's concern, not the router's.
type TTSRouter struct {
	chain         *Chain[tts.Provider]
	fallbackAudio []byte
}

// TTSRouterConfig configures a [TTSRouter].
type TTSRouterConfig struct {
	// FallbackAudio is a pre-rendered PCM clip played when every provider is
	// unavailable, so the caller hears an apology rather than dead air. Nil
	// disables the clip; exhaustion then yields a closed empty channel.
	FallbackAudio []byte
}

// NewTTSRouter creates a [TTSRouter] over the given provider chain.
func NewTTSRouter(chain *Chain[tts.Provider], cfg TTSRouterConfig) *TTSRouter {
	return &TTSRouter{chain: chain, fallbackAudio: cfg.FallbackAudio}
}

// Synthesize converts text to an audio stream using the first healthy
// provider. On chain exhaustion it returns the pre-rendered fallback clip as
// a one-shot stream together with an error wrapping
// [ErrAllProvidersExhausted].
//
// The per-provider attempt timeout covers the whole synthesis stream, not
// just the initial request; a provider that stalls mid-utterance has its
// stream cut off when the deadline passes.
func (r *TTSRouter) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	var lastErr error

	if r.chain.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", r.chain.capability, ErrNoProviders)
	}

	for i := range r.chain.entries {
		entry := &r.chain.entries[i]

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.breaker.IsOpen() {
			slog.Debug("skipping provider (circuit open)",
				"capability", r.chain.capability, "provider", entry.spec.Name)
			continue
		}

		streamCtx := ctx
		cancel := context.CancelFunc(func() {})
		if entry.spec.Timeout > 0 {
			streamCtx, cancel = context.WithTimeout(ctx, entry.spec.Timeout)
		}

		src, err := entry.value.Synthesize(streamCtx, text, voice)
		if err != nil {
			cancel()
			entry.breaker.RecordFailure()
			lastErr = &ProviderError{Provider: entry.spec.Name, Permanent: isPermanent(err), Err: err}
			slog.Warn("provider failed, trying next",
				"capability", r.chain.capability,
				"provider", entry.spec.Name,
				"error", err)
			continue
		}

		// Synthesis started; obtaining the stream counts as the success.
		entry.breaker.RecordSuccess()
		out := make(chan []byte, 8)
		go func() {
			defer cancel()
			defer close(out)
			for frame := range src {
				select {
				case out <- frame:
				case <-streamCtx.Done():
					go func() {
						for range src {
						}
					}()
					return
				}
			}
		}()
		return out, nil
	}

	if lastErr == nil {
		lastErr = errors.New("all circuits open")
	}
	err := fmt.Errorf("%s: %w: %v", r.chain.capability, ErrAllProvidersExhausted, lastErr)
	return r.fallbackStream(), err
}

// ListVoices returns the voice catalogue of the first healthy provider.
func (r *TTSRouter) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	voices, _, err := Attempt(ctx, r.chain, func(ctx context.Context, p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return voices, nil
}

// Breaker exposes the breaker for the named provider. Intended for health
// reporting and tests.
func (r *TTSRouter) Breaker(name string) *CircuitBreaker {
	return r.chain.Breaker(name)
}

func (r *TTSRouter) fallbackStream() <-chan []byte {
	ch := make(chan []byte, 1)
	if len(r.fallbackAudio) > 0 {
		ch <- r.fallbackAudio
	}
	close(ch)
	return ch
}
