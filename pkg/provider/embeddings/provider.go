// Package embeddings defines the contract for text-embedding backends.
//
// A provider maps utterance text to dense float32 vectors; the history store
// indexes those vectors so past turns can be recalled by meaning rather than
// by keyword.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is one embedding backend. Every vector a single instance returns
// has the same length, reported by Dimensions; vectors from different
// providers or models live in different spaces and must not be compared.
type Provider interface {
	// Embed maps one text to its vector. The text reaches the backend
	// verbatim; any model-specific prefix ("query: ", "passage: ") is the
	// caller's to add.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch maps texts[i] to result[i] in a single backend call. There
	// are no partial results: any failure returns a nil slice.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every vector this provider produces,
	// fixed by the underlying model.
	Dimensions() int

	// ModelID names the model, e.g. "text-embedding-3-small". It shows up
	// in logs so stored vectors can be traced to the space that produced
	// them.
	ModelID() string
}
