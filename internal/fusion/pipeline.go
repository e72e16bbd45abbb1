package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/talkwire-ai/talkwire/pkg/provider/llm"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// defaultQueueCap bounds the sentence queue between the token producer and
// the synthesis consumer. A full queue blocks the producer, which in turn
// backpressures the LLM stream.
const defaultQueueCap = 10

// Synthesizer is the speech capability the pipeline consumes. Satisfied by
// resilience.TTSRouter.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)
}

// Result summarizes one completed pipeline pass.
type Result struct {
	// Text is the full assistant reply, reassembled from every chunk that was
	// produced (including any audio the caller never heard due to barge-in).
	Text string

	// ToolCalls are any tool invocations the model requested on its final
	// chunk. Delivered to the orchestrator after the stream ends; tool-call
	// turns typically carry no speakable text.
	ToolCalls []types.ToolCall

	// Interrupted is true when the pass was cancelled mid-stream (barge-in or
	// hangup). Text then holds only what was produced before cancellation.
	Interrupted bool
}

// Pipeline fuses a streaming language-model response with speech synthesis.
// The producer stage cuts the token stream into sentence chunks; the consumer
// stage synthesizes each chunk in order and forwards the audio. One Pipeline
// is reusable across turns; each Run is a single forward pass and cannot be
// restarted mid-stream.
type Pipeline struct {
	synth    Synthesizer
	queueCap int
	maxChunk int
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithQueueCapacity overrides the sentence queue capacity.
func WithQueueCapacity(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueCap = n
		}
	}
}

// WithMaxChunkLen overrides the length cap for a single synthesis chunk.
func WithMaxChunkLen(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxChunk = n
		}
	}
}

// New creates a Pipeline over the given synthesizer.
func New(synth Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		synth:    synth,
		queueCap: defaultQueueCap,
		maxChunk: defaultMaxChunkLen,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes the token stream, synthesizing sentence chunks as they
// complete and writing audio frames to audioOut in generation order. It
// blocks until the stream is exhausted, a stage fails, or ctx is cancelled.
//
// Cancellation is clean: queued and in-flight chunks are discarded, the token
// stream is drained, and Run returns a Result with Interrupted set rather
// than an error. audioOut is not closed; it belongs to the caller.
func (p *Pipeline) Run(ctx context.Context, tokens <-chan llm.Chunk, voice types.VoiceProfile, audioOut chan<- []byte) (*Result, error) {
	res := &Result{}
	textCh := make(chan string, p.queueCap)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(textCh)
		return p.produce(gctx, tokens, textCh, res)
	})
	g.Go(func() error {
		return p.consume(gctx, textCh, voice, audioOut)
	})

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// External barge-in or hangup, not a stage failure.
		res.Interrupted = true
		return res, nil
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

// produce cuts the token stream into sentence chunks and enqueues them. The
// full reply text and any final tool calls are recorded on res. Chunk text
// is whitespace-trimmed for synthesis; res.Text accumulates the raw tokens
// so the stream's original spacing survives into the transcript.
func (p *Pipeline) produce(ctx context.Context, tokens <-chan llm.Chunk, textCh chan<- string, res *Result) error {
	buf := NewStreamBuffer(p.maxChunk)
	var full strings.Builder

	enqueue := func(chunk string) error {
		select {
		case textCh <- chunk:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	defer func() {
		res.Text = strings.TrimSpace(full.String())
	}()

	for {
		select {
		case <-ctx.Done():
			go drain(tokens)
			return ctx.Err()
		case chunk, ok := <-tokens:
			if !ok {
				// Stream closed: flush remaining partial text.
				if tail := buf.Flush(); tail != "" {
					return enqueue(tail)
				}
				return nil
			}

			if chunk.FinishReason == llm.FinishError {
				go drain(tokens)
				return fmt.Errorf("model stream failed: %s", chunk.Text)
			}
			if len(chunk.ToolCalls) > 0 {
				res.ToolCalls = append(res.ToolCalls, chunk.ToolCalls...)
			}

			full.WriteString(chunk.Text)
			for _, s := range buf.Push(chunk.Text) {
				if err := enqueue(s); err != nil {
					go drain(tokens)
					return err
				}
			}

			if chunk.FinishReason != "" {
				if tail := buf.Flush(); tail != "" {
					if err := enqueue(tail); err != nil {
						go drain(tokens)
						return err
					}
				}
				go drain(tokens)
				return nil
			}
		}
	}
}

// consume synthesizes each queued chunk and forwards its audio. Chunks are
// processed strictly in order; synthesis of the next chunk does not start
// until the previous chunk's audio stream has been fully forwarded.
func (p *Pipeline) consume(ctx context.Context, textCh <-chan string, voice types.VoiceProfile, audioOut chan<- []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-textCh:
			if !ok {
				return nil
			}
			audio, err := p.synth.Synthesize(ctx, chunk, voice)
			if err != nil {
				if audio == nil {
					return fmt.Errorf("synthesize chunk: %w", err)
				}
				// Degraded fallback clip; play it and keep the turn alive.
				slog.Warn("speech synthesis degraded", "error", err)
			}
			for frame := range audio {
				select {
				case audioOut <- frame:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
