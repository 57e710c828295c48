// Package vectorindex is an exact in-memory nearest-neighbour index over
// fragment embeddings, persisted as a gob entries file plus a YAML meta file.
package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"lawbot/internal/domain"
)

// Metric names a distance function.
type Metric string

const (
	// Cosine distance is 1 - cosine similarity.
	Cosine Metric = "cosine"
	// L2 is Euclidean distance.
	L2 Metric = "l2"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

// Meta describes how an index was built. It is written to meta.yaml.
type Meta struct {
	FormatVersion int       `yaml:"format_version"`
	Model         string    `yaml:"embedding_model"`
	Dimension     int       `yaml:"dimension"`
	Metric        Metric    `yaml:"metric"`
	ChunkSize     int       `yaml:"chunk_size"`
	ChunkOverlap  int       `yaml:"chunk_overlap"`
	Count         int       `yaml:"count"`
	Checksum      string    `yaml:"checksum"`
	BuiltAt       time.Time `yaml:"built_at"`
}

// Index holds entries and answers k-nearest queries. It is read-only after
// Build or Load and safe for concurrent use.
type Index struct {
	meta    Meta
	entries []domain.IndexEntry
	norms   []float64
}

// Build validates entries against meta and returns a searchable index.
func Build(meta Meta, entries []domain.IndexEntry) (*Index, error) {
	if len(entries) == 0 {
		return nil, domain.ErrEmptyIndex
	}
	if meta.Dimension == 0 {
		meta.Dimension = len(entries[0].Vector)
	}
	if meta.Metric == "" {
		meta.Metric = Cosine
	}
	if meta.Metric != Cosine && meta.Metric != L2 {
		return nil, fmt.Errorf("unknown metric %q", meta.Metric)
	}
	for i, e := range entries {
		if len(e.Vector) != meta.Dimension {
			return nil, fmt.Errorf("entry %d has dimension %d, want %d", i, len(e.Vector), meta.Dimension)
		}
	}
	meta.FormatVersion = FormatVersion
	meta.Count = len(entries)
	if meta.BuiltAt.IsZero() {
		meta.BuiltAt = time.Now().UTC()
	}
	h := sha256.New()
	if err := gob.NewEncoder(h).Encode(entries); err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	meta.Checksum = hex.EncodeToString(h.Sum(nil))
	return newIndex(meta, entries), nil
}

func newIndex(meta Meta, entries []domain.IndexEntry) *Index {
	norms := make([]float64, len(entries))
	for i, e := range entries {
		norms[i] = norm(e.Vector)
	}
	return &Index{meta: meta, entries: entries, norms: norms}
}

// Meta returns the build metadata.
func (x *Index) Meta() Meta { return x.meta }

// Entries exposes the stored entries; callers must not modify them.
func (x *Index) Entries() []domain.IndexEntry { return x.entries }

func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

// Version identifies the index contents for cache keys.
func (x *Index) Version() string {
	if len(x.meta.Checksum) > 16 {
		return x.meta.Checksum[:16]
	}
	return x.meta.Checksum
}

// Search returns the min(k, Len()) entries closest to query in ascending
// distance. Equal distances keep insertion order.
func (x *Index) Search(ctx context.Context, query []float32, k int) (domain.RetrievalResult, error) {
	if len(x.entries) == 0 {
		return nil, domain.ErrEmptyIndex
	}
	if len(query) != x.meta.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), x.meta.Dimension)
	}
	if k <= 0 {
		return domain.RetrievalResult{}, nil
	}
	k = min(k, len(x.entries))

	qnorm := norm(query)
	dist := make([]float64, len(x.entries))
	for i := range x.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		dist[i] = x.distance(i, query, qnorm)
	}

	idxs := make([]int, len(dist))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return dist[idxs[a]] < dist[idxs[b]] })

	out := make(domain.RetrievalResult, 0, k)
	for _, j := range idxs[:k] {
		out = append(out, domain.Hit{Fragment: x.entries[j].Fragment, Distance: dist[j]})
	}
	return out, nil
}

func (x *Index) distance(i int, query []float32, qnorm float64) float64 {
	v := x.entries[i].Vector
	if x.meta.Metric == L2 {
		var sum float64
		for j := range v {
			d := float64(v[j]) - float64(query[j])
			sum += d * d
		}
		return math.Sqrt(sum)
	}
	if qnorm == 0 || x.norms[i] == 0 {
		return 1
	}
	return 1 - dot(v, query)/(x.norms[i]*qnorm)
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 { return math.Sqrt(dot(v, v)) }

// Compat is what the running embedder expects of a persisted index.
type Compat struct {
	Model     string
	Dimension int
}

// Check returns an IndexIncompatibleError when meta was built in another
// embedding space.
func (c Compat) Check(meta Meta) error {
	if meta.Model != c.Model || meta.Dimension != c.Dimension {
		return &domain.IndexIncompatibleError{
			WantModel: c.Model,
			GotModel:  meta.Model,
			WantDim:   c.Dimension,
			GotDim:    meta.Dimension,
		}
	}
	return nil
}

// ErrCorrupt is returned when the entries file does not match its meta.
var ErrCorrupt = errors.New("vector index is corrupt")
