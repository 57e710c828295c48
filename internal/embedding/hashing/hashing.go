// Package hashing provides a local, deterministic embedder based on the
// hashing trick. It needs no corpus preparation, so documents and queries
// embedded at different times land in the same space.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"lawbot/internal/embedding"
	"lawbot/internal/tokenize"
)

// DefaultDimension is used when New is given a non-positive dimension.
const DefaultDimension = 384

// Embedder maps token unigrams and bigrams into a fixed number of buckets.
type Embedder struct {
	dimension int
}

// New creates a hashing embedder producing vectors of the given dimension.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

// ModelID encodes the algorithm version and dimension; changing either
// produces incompatible vectors.
func (e *Embedder) ModelID() string { return fmt.Sprintf("hashing-v1/%d", e.dimension) }

func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmptyText
	}
	return e.vector(text), nil
}

func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	tokens := tokenize.Words(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}

	vec := make([]float32, e.dimension)
	for feature, n := range counts {
		bucket, sign := e.bucket(feature)
		weight := 1 + math.Log(float64(n))
		if strings.IndexByte(feature, ' ') >= 0 {
			weight *= 0.5
		}
		vec[bucket] += float32(sign * weight)
	}
	embedding.Normalize(vec)
	return vec
}

// bucket picks the feature's slot and a sign that keeps collisions from
// accumulating in one direction.
func (e *Embedder) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimension)), sign
}
