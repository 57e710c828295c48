package domain

import "context"

// Embedder converts free text into a fixed-dimension vector.
// Implementations must be safe for concurrent use.
type Embedder interface {
	ModelID() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits documents into fragments suitable for indexing.
type Chunker interface {
	Chunk(document Document) ([]Fragment, error)
}

// Searcher returns the k nearest fragments to a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) (RetrievalResult, error)
	Len() int
	Version() string
}

// Generator produces a bounded continuation of a prompt.
type Generator interface {
	ModelID() string
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

// QAService defines the query entry point exposed by the core.
type QAService interface {
	Answer(ctx context.Context, question string) (Answer, error)
}
