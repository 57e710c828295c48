// Package embedding holds helpers shared by the embedder backends.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"lawbot/internal/domain"
)

// ErrEmptyText is returned when asked to embed blank input.
var ErrEmptyText = errors.New("cannot embed empty text")

// EmbedBatched embeds texts in batches of batchSize using at most workers
// concurrent calls to e.EmbedMany. The result is in input order.
func EmbedBatched(ctx context.Context, e domain.Embedder, texts []string, batchSize, workers int, progress func(done, total int)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	if workers <= 0 {
		workers = 1
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	sem := make(chan struct{}, workers)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			defer func() { <-sem }()

			vecs, err := e.EmbedMany(ctx, texts[start:end])
			if err == nil && len(vecs) != end-start {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
					cancel()
				}
				return
			}
			copy(out[start:end], vecs)
			done += end - start
			if progress != nil {
				progress(done, len(texts))
			}
		}(start, end)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
