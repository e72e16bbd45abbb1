// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., the OpenAI audio API
// or the ElevenLabs streaming WebSocket API) and presents a uniform streaming
// interface: one text chunk in, a stream of raw PCM audio bytes out. The
// fusion pipeline calls Synthesize once per sentence-sized chunk so playback
// can start before the language model finishes generating.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into speech using the given voice and returns
	// a channel that emits raw PCM audio byte slices as they are produced.
	//
	// The returned channel is closed by the implementation when synthesis is
	// complete or when ctx is cancelled. The caller must drain the channel to
	// avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if synthesis cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
