// Package embedder provides the text→vector collaborator interface and
// a deterministic fallback implementation.
package embedder

import "context"

// Dim is the fixed embedding dimension used by the fallback embedder and
// assumed by the quantizer and retrieval strategies.
const Dim = 128

// Embedder turns text into an L2-normalised dense vector of length Dim.
// Implementations must be deterministic for identical input and safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
