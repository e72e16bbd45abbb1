package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/provider/tts"
	ttsmock "github.com/talkwire-ai/talkwire/pkg/provider/tts/mock"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

func newTTSChain(providers map[string]tts.Provider, order ...string) *Chain[tts.Provider] {
	c := NewChain[tts.Provider]("tts", BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	for i, name := range order {
		c.Add(ProviderSpec{Name: name, Priority: i}, providers[name])
	}
	return c
}

func collectAudio(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	var out []byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		case <-timeout:
			t.Fatal("timed out waiting for audio stream to close")
		}
	}
}

func TestTTSRouter_SynthesizeHappyPath(t *testing.T) {
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("aa"), []byte("bb")}}
	r := NewTTSRouter(newTTSChain(map[string]tts.Provider{"primary": p}, "primary"), TTSRouterConfig{})

	ch, err := r.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectAudio(t, ch); !bytes.Equal(got, []byte("aabb")) {
		t.Errorf("audio = %q", got)
	}
}

func TestTTSRouter_FailsOver(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("backup")}}
	r := NewTTSRouter(newTTSChain(
		map[string]tts.Provider{"primary": primary, "secondary": secondary},
		"primary", "secondary",
	), TTSRouterConfig{})

	ch, err := r.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectAudio(t, ch); !bytes.Equal(got, []byte("backup")) {
		t.Errorf("audio = %q", got)
	}

	failures, _ := r.Breaker("primary").Counters()
	if failures != 1 {
		t.Errorf("primary failures = %d, want 1", failures)
	}
}

func TestTTSRouter_ExhaustedPlaysFallbackClip(t *testing.T) {
	clip := []byte("pre-rendered apology")
	p := &ttsmock.Provider{SynthesizeErr: errTest}
	r := NewTTSRouter(newTTSChain(map[string]tts.Provider{"primary": p}, "primary"),
		TTSRouterConfig{FallbackAudio: clip})

	ch, err := r.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}
	if got := collectAudio(t, ch); !bytes.Equal(got, clip) {
		t.Errorf("audio = %q, want the fallback clip", got)
	}
}

func TestTTSRouter_ExhaustedWithoutClip(t *testing.T) {
	p := &ttsmock.Provider{SynthesizeErr: errTest}
	r := NewTTSRouter(newTTSChain(map[string]tts.Provider{"primary": p}, "primary"), TTSRouterConfig{})

	ch, err := r.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}
	if got := collectAudio(t, ch); len(got) != 0 {
		t.Errorf("audio = %q, want empty stream", got)
	}
}

func TestTTSRouter_EmptyChain(t *testing.T) {
	r := NewTTSRouter(NewChain[tts.Provider]("tts", BreakerConfig{}), TTSRouterConfig{})
	_, err := r.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestTTSRouter_SuccessCountsAtStreamStart(t *testing.T) {
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("x")}}
	r := NewTTSRouter(newTTSChain(map[string]tts.Provider{"primary": p}, "primary"), TTSRouterConfig{})

	_, err := r.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Obtaining the stream is the success; no need to drain first.
	if r.Breaker("primary").State() != StateClosed {
		t.Error("breaker should be closed")
	}
	failures, _ := r.Breaker("primary").Counters()
	if failures != 0 {
		t.Errorf("failures = %d, want 0", failures)
	}
}

func TestTTSRouter_ListVoices(t *testing.T) {
	p := &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Alice"}}}
	r := NewTTSRouter(newTTSChain(map[string]tts.Provider{"primary": p}, "primary"), TTSRouterConfig{})

	voices, err := r.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}
}
