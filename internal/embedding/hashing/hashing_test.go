package hashing

import (
	"context"
	"errors"
	"math"
	"testing"

	"lawbot/internal/embedding"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbed_DeterministicAndNormalized(t *testing.T) {
	e := New(128)
	ctx := context.Background()
	a, err := e.Embed(ctx, "The Constitution of India was adopted on 26 November 1949.")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := New(128).Embed(ctx, "The Constitution of India was adopted on 26 November 1949.")
	if len(a) != 128 {
		t.Fatalf("dimension = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	if n := math.Sqrt(cosine(a, a)); math.Abs(n-1) > 1e-5 {
		t.Fatalf("norm = %v", n)
	}
}

func TestEmbed_RelatedTextIsCloser(t *testing.T) {
	e := New(DefaultDimension)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "When was the Constitution of India adopted?")
	near, _ := e.Embed(ctx, "The Constitution of India was adopted on 26 November 1949.")
	far, _ := e.Embed(ctx, "Photosynthesis converts light energy into chemical energy in plants.")
	if cosine(q, near) <= cosine(q, far) {
		t.Fatalf("related %v <= unrelated %v", cosine(q, near), cosine(q, far))
	}
}

func TestEmbed_EmptyText(t *testing.T) {
	if _, err := New(16).Embed(context.Background(), "   "); !errors.Is(err, embedding.ErrEmptyText) {
		t.Fatalf("err = %v", err)
	}
}

func TestEmbedMany_PreservesOrder(t *testing.T) {
	e := New(64)
	ctx := context.Background()
	texts := []string{"article fourteen equality", "article twenty one liberty", "habeas corpus"}
	many, err := e.EmbedMany(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	for i, text := range texts {
		one, _ := e.Embed(ctx, text)
		if cosine(one, many[i]) < 0.9999 {
			t.Fatalf("vector %d out of order", i)
		}
	}
}

func TestModelIDIncludesDimension(t *testing.T) {
	if New(0).ModelID() != "hashing-v1/384" {
		t.Fatalf("model id = %s", New(0).ModelID())
	}
	if New(32).ModelID() == New(64).ModelID() {
		t.Fatal("different dimensions share a model id")
	}
}
