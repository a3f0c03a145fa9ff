// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The pipeline uses
// them in two places: the chunking pass merges adjacent utterances whose
// embeddings are cosine-similar, and the store indexes finalized review
// comments so past remarks about the same code can be surfaced.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider instance share the dimensionality
// reported by Dimensions. Vectors from different instances must not be mixed
// in the same similarity computation unless both use the same model.
type Provider interface {
	// Embed computes the embedding vector for a single text. The text is
	// forwarded verbatim; any model-specific prefixing is the caller's
	// responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for all texts in one provider call. The
	// returned slice matches texts in length and order. On error no partial
	// results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the provider-specific embedding model identifier,
	// for logging and for dimension checks when reading stored vectors.
	ModelID() string
}
