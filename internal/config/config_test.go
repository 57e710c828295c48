package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chunker.Size != 1000 || cfg.Chunker.Overlap != 200 {
		t.Fatalf("unexpected chunker defaults: %+v", cfg.Chunker)
	}
	if cfg.Retrieval.TopK != 2 {
		t.Fatalf("top_k = %d, want 2", cfg.Retrieval.TopK)
	}
}

func TestLoad_FileOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lawbot.yaml")
	data := []byte(`
chunker:
  size: 100
  overlap: 0
embedder:
  type: openai
generator:
  type: gemini
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chunker.Size != 100 || cfg.Chunker.Overlap != 0 {
		t.Fatalf("chunker = %+v", cfg.Chunker)
	}
	if cfg.Embedder.OpenAI == nil || cfg.Embedder.OpenAI.Model != "text-embedding-3-small" {
		t.Fatalf("openai embedder defaults not applied: %+v", cfg.Embedder.OpenAI)
	}
	if cfg.Generator.Gemini == nil || cfg.Generator.Gemini.Model != "gemini-2.0-flash" {
		t.Fatalf("gemini generator defaults not applied: %+v", cfg.Generator.Gemini)
	}
	if cfg.Corpus.Patterns[0] != "*.pdf" {
		t.Fatalf("patterns = %v", cfg.Corpus.Patterns)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"defaults", func(*AppConfig) {}, true},
		{"overlap equals size", func(c *AppConfig) { c.Chunker.Overlap = c.Chunker.Size }, false},
		{"negative overlap", func(c *AppConfig) { c.Chunker.Overlap = -1 }, false},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }, false},
		{"unknown metric", func(c *AppConfig) { c.Index.Metric = "dot" }, false},
		{"qdrant without url", func(c *AppConfig) { c.Index.Search = "qdrant" }, false},
		{"redis cache", func(c *AppConfig) { c.Retrieval.Cache.Type = "redis" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Chunker.Size = 512
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Chunker.Size != 512 {
		t.Fatalf("size = %d, want 512", got.Chunker.Size)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LAWBOT_TOP_K", "5")
	t.Setenv("LAWBOT_CORPUS_PATTERNS", "*.pdf,*.txt")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Fatalf("top_k = %d", cfg.Retrieval.TopK)
	}
	if len(cfg.Corpus.Patterns) != 2 {
		t.Fatalf("patterns = %v", cfg.Corpus.Patterns)
	}
}

func TestEnvSelectedBackendsGetSubConfigs(t *testing.T) {
	t.Setenv("LAWBOT_EMBEDDER", "openai")
	t.Setenv("LAWBOT_GENERATOR", "gemini")

	check := func(t *testing.T, cfg *AppConfig) {
		t.Helper()
		if cfg.Embedder.Type != "openai" || cfg.Embedder.OpenAI == nil || cfg.Embedder.OpenAI.Model == "" {
			t.Fatalf("embedder = %+v, openai = %+v", cfg.Embedder, cfg.Embedder.OpenAI)
		}
		if cfg.Generator.Type != "gemini" || cfg.Generator.Gemini == nil || cfg.Generator.Gemini.APIKeyEnv != "GEMINI_API_KEY" {
			t.Fatalf("generator = %+v, gemini = %+v", cfg.Generator, cfg.Generator.Gemini)
		}
	}

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		check(t, cfg)
	})
	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lawbot.yaml")
		if err := os.WriteFile(path, []byte("chunker:\n  size: 200\n  overlap: 20\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		check(t, cfg)
	})
	t.Run("first run writes defaults", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())
		cfg, path, err := LoadDefault()
		if err != nil {
			t.Fatal(err)
		}
		check(t, cfg)
		saved, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(saved), "type: openai") {
			t.Fatalf("environment override persisted to %s", path)
		}
	})
}

func TestEnvOverrideValidated(t *testing.T) {
	t.Setenv("LAWBOT_EMBEDDER", "bert")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("unknown embedder from the environment accepted")
	}
}

func TestEmbedderDimensionsParsed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lawbot.yaml")
	data := []byte(`
embedder:
  type: openai
  openai:
    model: text-embedding-3-large
    dimensions: 256
  gemini:
    dimensions: 512
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedder.OpenAI.Dimensions != 256 || cfg.Embedder.Gemini.Dimensions != 512 {
		t.Fatalf("dimensions = %d, %d", cfg.Embedder.OpenAI.Dimensions, cfg.Embedder.Gemini.Dimensions)
	}
}
