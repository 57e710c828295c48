package openai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func fakeServer(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if n <= failFirst {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Reverse order to check that Index is honoured.
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			emb := make([]float32, 4)
			emb[j] = 2
			data[i] = item{Object: "embedding", Embedding: emb, Index: j}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "tiny"})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_EmbedManyOrdersAndNormalizes(t *testing.T) {
	srv, _ := fakeServer(t, 0)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "tiny", Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := c.EmbedMany(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if math.Abs(float64(v[i])-1) > 1e-6 {
			t.Fatalf("vector %d misplaced or not normalized: %v", i, v)
		}
	}
	if c.ModelID() != "openai/tiny" || c.Dimension() != 4 {
		t.Fatalf("model=%s dim=%d", c.ModelID(), c.Dimension())
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	srv, calls := fakeServer(t, 2)
	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "tiny", Dimensions: 4, MaxRetries: 3})
	if _, err := c.Embed(context.Background(), "question"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestNewClient_RequiresKeyAndDimension(t *testing.T) {
	if _, err := NewClient(Config{Model: "tiny"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewClient(Config{APIKey: "k", Model: "custom-model"}); err == nil {
		t.Fatal("expected unknown dimension error")
	}
	c, err := NewClient(Config{APIKey: "k"})
	if err != nil || c.Dimension() != 1536 {
		t.Fatalf("default model: dim=%v err=%v", c, err)
	}
}
