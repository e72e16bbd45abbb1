// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI Whisper API
// or a local whisper.cpp model) and exposes a uniform utterance-level
// interface: the orchestrator hands over one complete utterance of PCM audio
// and receives back text plus a confidence score.
//
// Implementations must be safe for concurrent use — multiple calls may
// transcribe simultaneously through the same provider instance.
package stt

import (
	"context"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// Request describes one utterance to transcribe.
type Request struct {
	// Audio is the utterance as 16-bit signed little-endian PCM.
	Audio []byte

	// SampleRate is the PCM sample rate in Hz. Most providers expect 16000.
	SampleRate int

	// Channels is the channel count. 1 = mono (required by most providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one complete utterance of audio into text.
	//
	// A nil error with an empty Transcript.Text is a valid result (the
	// provider heard only silence or noise). Errors are reserved for failures
	// to obtain a result at all: network errors, timeouts, rejected requests.
	// The provider must respect ctx cancellation and deadlines.
	Transcribe(ctx context.Context, req Request) (*types.Transcript, error)
}
