package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talkwire-ai/talkwire/pkg/provider/llm"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// defaultDegradedReply is spoken when every language-model provider is
// unavailable. The call continues; the reply invites the caller to retry.
const defaultDegradedReply = "I'm sorry, I'm having trouble thinking right now. Could you say that again in a moment?"

// errMalformedToolCall marks a provider reply whose tool-call arguments are
// not valid JSON. Structural validation failures count against the producing
// provider's breaker.
var errMalformedToolCall = errors.New("malformed tool call arguments")

// LLMRouter routes completion requests across a chain of language-model
// providers with automatic failover.
//
// For streaming completions only the initial connection attempt is covered by
// failover; once a stream is established, a mid-stream failure is recorded
// against the provider's breaker and surfaced to the consumer as a chunk with
// FinishReason [llm.FinishError], but the tokens already emitted cannot be
// retracted, so no second provider is tried.
type LLMRouter struct {
	chain         *Chain[llm.Provider]
	degradedReply string
}

// LLMRouterConfig configures an [LLMRouter].
type LLMRouterConfig struct {
	// DegradedReply is the canned response returned when the chain is
	// exhausted. Empty selects a default apology.
	DegradedReply string
}

// NewLLMRouter creates an [LLMRouter] over the given provider chain.
func NewLLMRouter(chain *Chain[llm.Provider], cfg LLMRouterConfig) *LLMRouter {
	reply := cfg.DegradedReply
	if reply == "" {
		reply = defaultDegradedReply
	}
	return &LLMRouter{chain: chain, degradedReply: reply}
}

// StreamCompletion starts a token stream against the first healthy provider.
//
// Breaker accounting is deferred until the stream ends: a stream that
// completes cleanly records a success, one that ends with [llm.FinishError]
// or structurally invalid tool calls records a failure.
//
// When every provider fails to start a stream, the returned channel carries
// the canned degraded reply and the error wraps [ErrAllProvidersExhausted] —
// callers distinguish "degraded but answered" from hard failure with
// [errors.Is].
func (r *LLMRouter) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var lastErr error

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

		src, err := entry.value.StreamCompletion(streamCtx, req)
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

		out := make(chan llm.Chunk, 32)
		go forwardStream(streamCtx, cancel, entry.breaker, src, out)
		return out, nil
	}

	if lastErr == nil {
		lastErr = errors.New("all circuits open")
	}
	err := fmt.Errorf("%s: %w: %v", r.chain.capability, ErrAllProvidersExhausted, lastErr)
	return r.degradedStream(), err
}

// Complete runs a non-streaming completion against the first healthy
// provider, validating any tool calls in the reply. A provider whose reply
// carries malformed tool-call arguments is treated as failed for this attempt
// and the chain continues.
func (r *LLMRouter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := Attempt(ctx, r.chain, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := validateToolCalls(resp.ToolCalls); err != nil {
			return nil, &ProviderError{Permanent: true, Err: err}
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, ErrAllProvidersExhausted) {
			return &llm.CompletionResponse{Content: r.degradedReply}, err
		}
		return nil, err
	}
	return resp, nil
}

// DegradedReply returns the canned reply used when the chain is exhausted.
func (r *LLMRouter) DegradedReply() string { return r.degradedReply }

// Breaker exposes the breaker for the named provider. Intended for health
// reporting and tests.
func (r *LLMRouter) Breaker(name string) *CircuitBreaker {
	return r.chain.Breaker(name)
}

// degradedStream returns a channel carrying the canned reply as a single
// terminal chunk.
func (r *LLMRouter) degradedStream() <-chan llm.Chunk {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: r.degradedReply, FinishReason: "stop"}
	close(ch)
	return ch
}

// forwardStream relays chunks from a provider stream to the consumer,
// validating structured output and recording the final breaker outcome. It
// owns cancel and releases the attempt context when the stream ends.
func forwardStream(ctx context.Context, cancel context.CancelFunc, breaker *CircuitBreaker, src <-chan llm.Chunk, out chan<- llm.Chunk) {
	defer cancel()
	defer close(out)

	failed := false
	for chunk := range src {
		if chunk.FinishReason == llm.FinishError {
			failed = true
		}
		if len(chunk.ToolCalls) > 0 {
			if err := validateToolCalls(chunk.ToolCalls); err != nil {
				failed = true
				chunk = llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()}
				select {
				case out <- chunk:
				case <-ctx.Done():
				}
				go drainChunks(src)
				break
			}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			// Consumer gone (barge-in or hangup). Not a provider fault.
			go drainChunks(src)
			breaker.RecordSuccess()
			return
		}
	}

	if failed {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
}

// validateToolCalls checks that every tool call carries a name and
// JSON-parseable arguments. An empty arguments string is allowed and treated
// as "no parameters".
func validateToolCalls(calls []types.ToolCall) error {
	for _, tc := range calls {
		if tc.Name == "" {
			return fmt.Errorf("%w: missing tool name", errMalformedToolCall)
		}
		if tc.Arguments != "" && !json.Valid([]byte(tc.Arguments)) {
			return fmt.Errorf("%w: tool %q", errMalformedToolCall, tc.Name)
		}
	}
	return nil
}

// drainChunks discards remaining chunks so the provider's internal goroutine
// can finish.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
