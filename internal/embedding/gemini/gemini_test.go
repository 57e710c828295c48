package gemini

import (
	"context"
	"os"
	"testing"
)

func TestDimensionFor(t *testing.T) {
	tests := []struct {
		model      string
		configured int
		want       int
		ok         bool
	}{
		{"text-embedding-004", 0, 768, true},
		{"models/embedding-001", 0, 768, true},
		{"custom", 256, 256, true},
		{"custom", 0, 0, false},
	}
	for _, tt := range tests {
		got, err := dimensionFor(tt.model, tt.configured)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("dimensionFor(%q, %d) = %d, %v", tt.model, tt.configured, got, err)
		}
	}
}

func TestClient_Live(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, Config{APIKey: key})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	vecs, err := c.EmbedMany(ctx, []string{"Article 21 protects life and liberty.", "The Constitution was adopted in 1949."})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != c.Dimension() {
		t.Fatalf("got %d vectors of dim %d", len(vecs), len(vecs[0]))
	}
}
