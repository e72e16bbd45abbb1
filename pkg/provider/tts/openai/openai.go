// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// The API streams raw PCM over the HTTP response body, which maps naturally
// onto the chunked audio channel the fusion pipeline consumes.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/audio"
	"github.com/talkwire-ai/talkwire/pkg/provider/tts"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini-tts"

	// The "pcm" response format is 24 kHz 16-bit mono; output is resampled
	// to the 48 kHz the call bridge expects.
	responseSampleRate = 24000

	// readChunkSize is the PCM read granularity, about 85 ms of 24 kHz audio.
	readChunkSize = 4096
)

// builtinVoices are the fixed voices the speech API offers.
var builtinVoices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements tts.Provider against the OpenAI speech endpoint.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body for POST /audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize implements tts.Provider. The returned channel emits 48 kHz mono
// PCM chunks as the response body streams in.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("openai: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = "alloy"
	}

	body := speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voiceID,
		ResponseFormat: "pcm",
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1.0 {
		body.Speed = voice.SpeedFactor
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("openai: speech returned HTTP %d", resp.StatusCode)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		buf := make([]byte, readChunkSize)
		var carry []byte // odd trailing byte from the previous read
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := append(carry, buf[:n]...)
				// Keep 16-bit alignment across chunk boundaries.
				aligned := len(chunk) - len(chunk)%2
				carry = append([]byte(nil), chunk[aligned:]...)
				if aligned > 0 {
					out := audio.Resample16(chunk[:aligned], 1, responseSampleRate, audio.OpusSampleRate)
					select {
					case audioCh <- out:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return audioCh, nil
}

// ListVoices returns the fixed voice set the speech API offers.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	profiles := make([]types.VoiceProfile, 0, len(builtinVoices))
	for _, name := range builtinVoices {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "openai",
		})
	}
	return profiles, nil
}
