// Package retriever turns a question into the nearest indexed fragments.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"lawbot/internal/domain"
	"lawbot/internal/logger"
	"lawbot/internal/retriever/cache"
	"lawbot/internal/telemetry"
)

// Options tune retrieval beyond plain k-nearest search.
type Options struct {
	// MaxDistance drops hits farther than this when positive.
	MaxDistance float64
	Cache       cache.Cache
	Metrics     *telemetry.Metrics
}

// Retriever embeds queries with the same model that built the index and
// searches it.
type Retriever struct {
	embedder domain.Embedder
	searcher domain.Searcher
	opts     Options
}

func New(embedder domain.Embedder, searcher domain.Searcher, opts Options) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher, opts: opts}
}

// Retrieve returns at most k fragments ordered by ascending distance.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error) {
	ctx, span := otel.Tracer("lawbot/retriever").Start(ctx, "retriever.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retriever.k", k))

	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if r.searcher == nil || r.searcher.Len() == 0 {
		return nil, domain.ErrEmptyIndex
	}
	if k <= 0 {
		return domain.RetrievalResult{}, nil
	}

	key := r.cacheKey(query, k)
	if r.opts.Cache != nil {
		res, ok, err := r.opts.Cache.Get(ctx, key)
		if err != nil {
			logger.Warn("Retrieval cache read failed", "error", err)
		}
		r.opts.Metrics.RecordCacheLookup(ctx, ok)
		if ok {
			span.SetAttributes(attribute.Bool("retriever.cache_hit", true))
			return res, nil
		}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := r.searcher.Search(ctx, vec, k)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyIndex) {
			return nil, err
		}
		return nil, fmt.Errorf("search index: %w", err)
	}
	if r.opts.MaxDistance > 0 {
		res = cutoff(res, r.opts.MaxDistance)
	}
	span.SetAttributes(attribute.Int("retriever.hits", len(res)))
	r.opts.Metrics.RecordRetrieval(ctx, len(res))

	if r.opts.Cache != nil {
		if err := r.opts.Cache.Set(ctx, key, res); err != nil {
			logger.Warn("Retrieval cache write failed", "error", err)
		}
	}
	return res, nil
}

// cutoff keeps the prefix of hits within max; hits are sorted ascending.
func cutoff(res domain.RetrievalResult, max float64) domain.RetrievalResult {
	for i, h := range res {
		if h.Distance > max {
			return res[:i]
		}
	}
	return res
}

// cacheKey covers everything that changes the result: the index version,
// k, the distance threshold and the query.
func (r *Retriever) cacheKey(query string, k int) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return r.searcher.Version() + ":" + strconv.Itoa(k) + ":" +
		strconv.FormatFloat(r.opts.MaxDistance, 'g', -1, 64) + ":" + hex.EncodeToString(sum[:])
}
