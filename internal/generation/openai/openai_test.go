package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Generate(t *testing.T) {
	var gotMax int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			MaxTokens int `json:"max_tokens"`
			Messages  []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotMax = req.MaxTokens
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "x", "object": "chat.completion", "model": "tiny",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "  26 November 1949.  "},
			}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "tiny"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Generate(context.Background(), "prompt", 50)
	if err != nil {
		t.Fatal(err)
	}
	if out != "26 November 1949." || gotMax != 50 {
		t.Fatalf("out=%q max=%d", out, gotMax)
	}
	if c.ModelID() != "openai/tiny" {
		t.Fatalf("model id = %s", c.ModelID())
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"down"}}`))
	}))
	defer srv.Close()
	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Generate(context.Background(), "prompt", 10); err == nil {
		t.Fatal("expected error")
	}
}
