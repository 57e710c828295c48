// Package ingest builds and persists the vector index from a corpus.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"lawbot/internal/domain"
	"lawbot/internal/embedding"
	"lawbot/internal/loader"
	"lawbot/internal/logger"
	"lawbot/internal/telemetry"
	"lawbot/internal/vectorindex"
)

// Mirror receives a copy of every built index, e.g. a Qdrant collection.
type Mirror interface {
	Mirror(ctx context.Context, meta vectorindex.Meta, entries []domain.IndexEntry) error
}

type Options struct {
	CorpusDir    string
	IndexDir     string
	Patterns     []string
	Recursive    bool
	Metric       vectorindex.Metric
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
	Mirror       Mirror
	Metrics      *telemetry.Metrics
	// Progress is called after each embedded batch.
	Progress func(done, total int)
}

// Report summarizes a successful run.
type Report struct {
	Documents int
	Fragments int
	// Skipped counts whitespace-only fragments left out of the index.
	Skipped   int
	Model     string
	Dimension int
	IndexDir  string
	Elapsed   time.Duration
}

// Run loads, chunks, embeds and indexes the corpus, then saves the index.
// Nothing is written locally unless every step, including the mirror,
// succeeds.
func Run(ctx context.Context, opts Options, chunker domain.Chunker, embedder domain.Embedder) (Report, error) {
	ctx, span := otel.Tracer("lawbot/ingest").Start(ctx, "ingest.run")
	defer span.End()
	start := time.Now()

	docs, err := loader.Load(ctx, opts.CorpusDir, loader.Options{Patterns: opts.Patterns, Recursive: opts.Recursive})
	if err != nil {
		return Report{}, err
	}
	logger.Info("Loaded corpus", "dir", opts.CorpusDir, "documents", len(docs))

	var fragments []domain.Fragment
	skipped := 0
	for _, doc := range docs {
		frags, err := chunker.Chunk(doc)
		if err != nil {
			return Report{}, fmt.Errorf("chunk %s: %w", doc.Path, err)
		}
		for _, f := range frags {
			// Long blank runs inside extracted pages chunk into fragments no
			// embedder accepts.
			if strings.TrimSpace(f.Text) == "" {
				skipped++
				continue
			}
			fragments = append(fragments, f)
		}
	}
	if skipped > 0 {
		logger.Debug("Skipped blank fragments", "count", skipped)
	}
	if len(fragments) == 0 {
		return Report{}, &domain.IngestionError{Dir: opts.CorpusDir, Reason: "documents contain no text"}
	}
	span.SetAttributes(
		attribute.Int("ingest.documents", len(docs)),
		attribute.Int("ingest.fragments", len(fragments)),
	)

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	vectors, err := embedding.EmbedBatched(ctx, embedder, texts, opts.BatchSize, opts.Workers, opts.Progress)
	if err != nil {
		return Report{}, fmt.Errorf("embed fragments: %w", err)
	}

	entries := make([]domain.IndexEntry, len(fragments))
	for i, f := range fragments {
		entries[i] = domain.IndexEntry{Fragment: f, Vector: vectors[i]}
		if f.Page > 0 {
			entries[i].Meta = map[string]string{"page": fmt.Sprint(f.Page)}
		}
	}
	meta := vectorindex.Meta{
		Model:        embedder.ModelID(),
		Dimension:    embedder.Dimension(),
		Metric:       opts.Metric,
		ChunkSize:    opts.ChunkSize,
		ChunkOverlap: opts.ChunkOverlap,
	}
	idx, err := vectorindex.Build(meta, entries)
	if err != nil {
		return Report{}, fmt.Errorf("build index: %w", err)
	}
	// The mirror goes first so that a failed mirror leaves the previous
	// local index in place.
	if opts.Mirror != nil {
		if err := opts.Mirror.Mirror(ctx, idx.Meta(), idx.Entries()); err != nil {
			return Report{}, fmt.Errorf("mirror index: %w", err)
		}
	}
	if err := idx.Save(opts.IndexDir); err != nil {
		return Report{}, fmt.Errorf("save index: %w", err)
	}
	opts.Metrics.RecordIngest(ctx, len(entries), embedder.ModelID())

	report := Report{
		Documents: len(docs),
		Fragments: len(fragments),
		Skipped:   skipped,
		Model:     embedder.ModelID(),
		Dimension: embedder.Dimension(),
		IndexDir:  opts.IndexDir,
		Elapsed:   time.Since(start),
	}
	logger.Info("Index saved", "dir", opts.IndexDir, "fragments", report.Fragments, "model", report.Model, "elapsed", report.Elapsed)
	return report, nil
}
