package embedding

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync/atomic"
	"testing"
)

// lengthEmbedder encodes each text's numeric value so order can be checked.
type lengthEmbedder struct {
	calls   atomic.Int32
	failOn  string
	maxSeen atomic.Int32
	active  atomic.Int32
}

func (e *lengthEmbedder) ModelID() string { return "test/1" }
func (e *lengthEmbedder) Dimension() int  { return 1 }

func (e *lengthEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n, err := strconv.Atoi(text)
	if err != nil {
		return nil, err
	}
	return []float32{float32(n)}, nil
}

func (e *lengthEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	cur := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if cur <= seen || e.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == e.failOn {
			return nil, errors.New("boom")
		}
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func numbers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func TestEmbedBatched_PreservesOrder(t *testing.T) {
	e := &lengthEmbedder{}
	var last int
	vecs, err := EmbedBatched(context.Background(), e, numbers(103), 10, 4, func(done, total int) { last = done })
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if int(v[0]) != i {
			t.Fatalf("vector %d = %v", i, v)
		}
	}
	if got := e.calls.Load(); got != 11 {
		t.Fatalf("calls = %d, want 11", got)
	}
	if e.maxSeen.Load() > 4 {
		t.Fatalf("concurrency %d exceeded worker limit", e.maxSeen.Load())
	}
	if last != 103 {
		t.Fatalf("final progress = %d", last)
	}
}

func TestEmbedBatched_PropagatesError(t *testing.T) {
	e := &lengthEmbedder{failOn: "57"}
	if _, err := EmbedBatched(context.Background(), e, numbers(100), 10, 3, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbedBatched_Empty(t *testing.T) {
	vecs, err := EmbedBatched(context.Background(), &lengthEmbedder{}, nil, 10, 2, nil)
	if err != nil || len(vecs) != 0 {
		t.Fatalf("vecs=%v err=%v", vecs, err)
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("normalized = %v", v)
	}
	zero := []float32{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}
