package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"lawbot/internal/domain"
)

func result(ids ...string) domain.RetrievalResult {
	out := make(domain.RetrievalResult, len(ids))
	for i, id := range ids {
		out[i] = domain.Hit{Fragment: domain.Fragment{ID: id, Text: "text " + id}, Distance: float64(i) / 10}
	}
	return out
}

func TestMemory_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	m.Set(ctx, "a", result("1"))
	m.Set(ctx, "b", result("2"))
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatal("a missing")
	}
	m.Set(ctx, "c", result("3"))
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatal("a evicted despite recent use")
	}
	if m.Len() != 2 {
		t.Fatalf("len = %d", m.Len())
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4)
	r := result("1", "2")
	m.Set(ctx, "k", r)
	r[0].Distance = 42
	got, _, _ := m.Get(ctx, "k")
	if got[0].Distance == 42 {
		t.Fatal("cache shares backing array with caller")
	}
}

func TestRedis_Live(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	c := NewRedis(rdb, time.Minute)
	defer c.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("unexpected hit: %v %v", ok, err)
	}
	want := result("x", "y")
	if err := c.Set(ctx, key, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || len(got) != 2 || got[1] != want[1] {
		t.Fatalf("got %+v ok=%v err=%v", got, ok, err)
	}
}
