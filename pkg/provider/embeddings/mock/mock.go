// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/talkwire-ai/talkwire/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Texts is a copy of the slice passed to Embed.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
//
// When Vectors is nil and Err is nil, Embed fabricates deterministic vectors
// of Dims length so callers that only need shape can use the zero-ish value.
type Provider struct {
	mu sync.Mutex

	// Vectors is returned by Embed when non-nil. Must have one entry per
	// input text.
	Vectors [][]float32

	// Err, if non-nil, is returned as the error from Embed.
	Err error

	// Dims is the dimensionality reported by Dimensions and used for
	// fabricated vectors. Defaults to 4.
	Dims int

	// EmbedCalls records every invocation.
	EmbedCalls []EmbedCall
}

// Compile-time assertion that Provider implements embeddings.Provider.
var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Texts: append([]string(nil), texts...)})

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Vectors != nil {
		return p.Vectors, nil
	}

	dims := p.Dims
	if dims <= 0 {
		dims = 4
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = float32(i + j)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims <= 0 {
		return 4
	}
	return p.Dims
}
