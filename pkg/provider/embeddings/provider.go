// Package embeddings defines the Provider interface for text embedding
// backends, used by the transcript archive's semantic index.
package embeddings

import "context"

// Provider is the abstraction over any embedding backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed converts each input text into a dense vector. The result slice
	// has the same length and order as texts. All vectors from one provider
	// have the same dimensionality, reported by Dimensions.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed output dimensionality of the model.
	Dimensions() int
}
