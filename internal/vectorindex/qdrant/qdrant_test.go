package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"lawbot/internal/domain"
	"lawbot/internal/vectorindex"
)

type point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of endpoints the store uses.
type fakeQdrant struct {
	mu     sync.Mutex
	exists bool
	size   int
	points []point
	// failUpsert makes the n-th upsert request (1-based) fail.
	failUpsert int
	upserts    int
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/collections/lawbot")
	switch {
	case r.Method == http.MethodDelete && path == "":
		f.exists, f.points = false, nil
		w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodPut && path == "":
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size = true, body.Vectors.Size
		w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodGet && path == "":
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"points_count": len(f.points),
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
		}})
	case r.Method == http.MethodPut && path == "/points":
		f.upserts++
		if f.failUpsert > 0 && f.upserts == f.failUpsert {
			http.Error(w, `{"status":{"error":"service unavailable"}}`, http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Points []point `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.points = append(f.points, body.Points...)
		w.Write([]byte(`{"result":{"status":"completed"}}`))
	case r.Method == http.MethodPost && path == "/points/scroll":
		pts := []point{}
		if len(f.points) > 0 {
			pts = append(pts, f.points[0])
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": pts}})
	case r.Method == http.MethodPost && path == "/points/search":
		var body struct {
			Vector []float64 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		type scored struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var out []scored
		for _, p := range f.points {
			out = append(out, scored{ID: p.ID, Score: cos(p.Vector, body.Vector), Payload: p.Payload})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if len(out) > body.Limit {
			out = out[:body.Limit]
		}
		json.NewEncoder(w).Encode(map[string]any{"result": out})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func cos(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func entries() []domain.IndexEntry {
	return []domain.IndexEntry{
		{Fragment: domain.Fragment{ID: "6f1c2a8e-0000-5000-8000-000000000001", Source: "coi.pdf", Text: "adopted 1949", Page: 3}, Vector: []float32{1, 0}},
		{Fragment: domain.Fragment{ID: "6f1c2a8e-0000-5000-8000-000000000002", Source: "ipc.pdf", Text: "penal code"}, Vector: []float32{0, 1}},
	}
}

func newStore(t *testing.T) (*Store, *fakeQdrant) {
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL}), fake
}

func newBatchedStore(t *testing.T, batch int) (*Store, *fakeQdrant) {
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, BatchSize: batch}), fake
}

func TestMirrorOpenSearch(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()
	meta := vectorindex.Meta{Model: "hashing-v1/2", Dimension: 2, Metric: vectorindex.Cosine, Checksum: "abcdef0123456789ffff"}
	if err := s.Mirror(ctx, meta, entries()); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if len(fake.points) != 2 {
		t.Fatalf("points = %d", len(fake.points))
	}
	if err := s.Open(ctx, vectorindex.Compat{Model: "hashing-v1/2", Dimension: 2}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Len() != 2 || !strings.HasSuffix(s.Version(), "abcdef0123456789") {
		t.Fatalf("len=%d version=%s", s.Len(), s.Version())
	}
	res, err := s.Search(ctx, []float32{1, 0.1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Fragment.Source != "coi.pdf" || res[0].Fragment.Page != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res[0].Distance < 0 || res[0].Distance > 0.01 {
		t.Fatalf("distance = %v", res[0].Distance)
	}
}

func TestOpen_Incompatible(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	meta := vectorindex.Meta{Model: "hashing-v1/2", Dimension: 2}
	if err := s.Mirror(ctx, meta, entries()); err != nil {
		t.Fatal(err)
	}
	err := s.Open(ctx, vectorindex.Compat{Model: "openai/text-embedding-3-small", Dimension: 1536})
	if !domain.IsIndexIncompatible(err) {
		t.Fatalf("err = %v, want IndexIncompatibleError", err)
	}
}

func TestOpen_MissingCollection(t *testing.T) {
	s, _ := newStore(t)
	err := s.Open(context.Background(), vectorindex.Compat{Model: "m", Dimension: 2})
	if !errors.Is(err, domain.ErrEmptyIndex) {
		t.Fatalf("err = %v, want ErrEmptyIndex", err)
	}
}

func TestMirror_FailedBatchDropsCollection(t *testing.T) {
	s, fake := newBatchedStore(t, 1)
	fake.failUpsert = 2
	ctx := context.Background()
	meta := vectorindex.Meta{Model: "hashing-v1/2", Dimension: 2}
	if err := s.Mirror(ctx, meta, entries()); err == nil {
		t.Fatalf("mirror succeeded with a failing upsert")
	}
	fake.mu.Lock()
	exists, left := fake.exists, len(fake.points)
	fake.mu.Unlock()
	if exists || left != 0 {
		t.Fatalf("partial collection left behind: exists=%v points=%d", exists, left)
	}
	err := s.Open(ctx, vectorindex.Compat{Model: "hashing-v1/2", Dimension: 2})
	if !errors.Is(err, domain.ErrEmptyIndex) {
		t.Fatalf("err = %v, want ErrEmptyIndex", err)
	}
}

func TestOpen_IncompleteCollection(t *testing.T) {
	s, fake := newBatchedStore(t, 1)
	ctx := context.Background()
	meta := vectorindex.Meta{Model: "hashing-v1/2", Dimension: 2}
	if err := s.Mirror(ctx, meta, entries()); err != nil {
		t.Fatal(err)
	}
	// Simulates a mirror that died after its first batch.
	fake.mu.Lock()
	fake.points = fake.points[:1]
	fake.mu.Unlock()

	err := s.Open(ctx, vectorindex.Compat{Model: "hashing-v1/2", Dimension: 2})
	if !errors.Is(err, vectorindex.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}
