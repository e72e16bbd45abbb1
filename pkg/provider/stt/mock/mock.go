// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts to the router and orchestrator
// without a live speech recognition backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcript: &types.Transcript{Text: "hello", Confidence: 0.95},
//	}
//	tr, err := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/talkwire-ai/talkwire/pkg/provider/stt"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe when Err is nil. A nil Transcript
	// yields an empty one.
	Transcript *types.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, overrides the canned behaviour entirely.
	// Calls are still recorded.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*types.Transcript, error)

	// TranscribeCalls records every invocation.
	TranscribeCalls []TranscribeCall
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*types.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req})
	fn := p.TranscribeFunc
	tr := p.Transcript
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return &types.Transcript{}, nil
	}
	cp := *tr
	return &cp, nil
}

// Calls returns the number of recorded Transcribe invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}
