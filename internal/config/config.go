package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds configuration shared by the OpenAI embedder and generator.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	// Dimensions is the embedding size; required for models the embedder
	// does not know, optional for text-embedding-3 models that can shorten.
	Dimensions int `yaml:"dimensions,omitempty"`
}

// GeminiConfig holds configuration for Google Generative AI models.
type GeminiConfig struct {
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions,omitempty"`
}

// EmbedderConfig selects and configures the embedding model.
type EmbedderConfig struct {
	Type      string        `yaml:"type"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Workers   int           `yaml:"workers"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
	Gemini    *GeminiConfig `yaml:"gemini,omitempty"`
}

// ChunkerConfig configures how documents are split into fragments.
type ChunkerConfig struct {
	Strategy string `yaml:"strategy"`
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
}

// CorpusConfig describes where source documents live.
type CorpusConfig struct {
	Dir       string   `yaml:"dir"`
	Patterns  []string `yaml:"patterns"`
	Recursive bool     `yaml:"recursive"`
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IndexConfig selects where the vector index is persisted and searched.
type IndexConfig struct {
	Dir    string        `yaml:"dir"`
	Metric string        `yaml:"metric"`
	Search string        `yaml:"search"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// CacheConfig configures retrieval memoization.
type CacheConfig struct {
	Type     string `yaml:"type"`
	Size     int    `yaml:"size"`
	RedisURL string `yaml:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// RetrievalConfig configures the retriever.
type RetrievalConfig struct {
	TopK        int         `yaml:"top_k"`
	MaxDistance float64     `yaml:"max_distance"`
	Cache       CacheConfig `yaml:"cache"`
}

// PromptConfig configures the prompt assembler.
type PromptConfig struct {
	Template     string `yaml:"template"`
	TemplateFile string `yaml:"template_file"`
	BudgetTokens int    `yaml:"budget_tokens"`
	Delimiter    string `yaml:"delimiter"`
}

// GeneratorConfig selects and configures the generation model.
type GeneratorConfig struct {
	Type          string        `yaml:"type"`
	MaxNewTokens  int           `yaml:"max_new_tokens"`
	Temperature   float32       `yaml:"temperature"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	TimeoutSecs   int           `yaml:"timeout_secs"`
	OpenAI        *OpenAIConfig `yaml:"openai,omitempty"`
	Gemini        *GeminiConfig `yaml:"gemini,omitempty"`
}

// ServerConfig configures the HTTP query endpoint.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	Mode        string   `yaml:"mode"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus        CorpusConfig    `yaml:"corpus"`
	Chunker       ChunkerConfig   `yaml:"chunker"`
	Embedder      EmbedderConfig  `yaml:"embedder"`
	Index         IndexConfig     `yaml:"index"`
	Retrieval     RetrievalConfig `yaml:"retrieval"`
	Prompt        PromptConfig    `yaml:"prompt"`
	Generator     GeneratorConfig `yaml:"generator"`
	ReturnSources bool            `yaml:"return_sources"`
	Server        ServerConfig    `yaml:"server"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize applies environment overrides and then fills defaults, so that a
// backend selected through the environment gets its sub-config too.
func finalize(cfg *AppConfig) error {
	applyEnvOverrides(cfg)
	applyConfigDefaults(cfg)
	return cfg.Validate()
}

// LoadDefault tries ./lawbot.yaml first, then ~/.config/lawbot/config.yaml.
// If neither exists, it writes defaults to ~/.config/lawbot/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "lawbot.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	if err := finalize(cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *AppConfig) Validate() error {
	if c.Chunker.Size <= 0 {
		return fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker.overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	switch c.Chunker.Strategy {
	case "recursive", "fixed":
	default:
		return fmt.Errorf("unknown chunker strategy: %s", c.Chunker.Strategy)
	}
	switch c.Embedder.Type {
	case "hashing", "openai", "gemini":
	default:
		return fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.Generator.Type {
	case "extractive", "openai", "gemini":
	default:
		return fmt.Errorf("unknown generator: %s", c.Generator.Type)
	}
	switch c.Index.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("unknown index metric: %s", c.Index.Metric)
	}
	switch c.Index.Search {
	case "local":
	case "qdrant":
		if c.Index.Qdrant == nil || c.Index.Qdrant.URL == "" {
			return errors.New("index.search=qdrant requires index.qdrant.url")
		}
	default:
		return fmt.Errorf("unknown index search backend: %s", c.Index.Search)
	}
	switch c.Retrieval.Cache.Type {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache: %s", c.Retrieval.Cache.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lawbot", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Corpus:   CorpusConfig{Dir: "dataset", Patterns: []string{"*.pdf"}},
		Chunker:  ChunkerConfig{Strategy: "recursive", Size: 1000, Overlap: 200},
		Embedder: EmbedderConfig{Type: "hashing", Dimension: 384, BatchSize: 32, Workers: 4},
		Index:    IndexConfig{Dir: "vectorstore", Metric: "cosine", Search: "local"},
		Retrieval: RetrievalConfig{
			TopK:  2,
			Cache: CacheConfig{Type: "memory", Size: 256, TTLSecs: 3600},
		},
		Prompt:        PromptConfig{BudgetTokens: 1800, Delimiter: "\n\n---\n\n"},
		Generator:     GeneratorConfig{Type: "extractive", MaxNewTokens: 200, Temperature: 0.2, RatePerMinute: 60, TimeoutSecs: 60},
		ReturnSources: true,
		Server:        ServerConfig{Addr: ":8080", Mode: "release", CORSOrigins: []string{"http://localhost:3000"}},
		Log:           LogConfig{Level: "info", Format: "text"},
		Telemetry:     TelemetryConfig{ServiceName: "lawbot", SampleRatio: 0.1},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Chunker.Strategy == "" {
		cfg.Chunker.Strategy = def.Chunker.Strategy
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = def.Chunker.Size
	}
	if len(cfg.Corpus.Patterns) == 0 {
		cfg.Corpus.Patterns = def.Corpus.Patterns
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = def.Embedder.Dimension
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Embedder.Workers == 0 {
		cfg.Embedder.Workers = def.Embedder.Workers
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI == nil {
		cfg.Embedder.OpenAI = &OpenAIConfig{}
	}
	if cfg.Embedder.OpenAI != nil {
		applyOpenAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small")
	}
	if cfg.Embedder.Type == "gemini" && cfg.Embedder.Gemini == nil {
		cfg.Embedder.Gemini = &GeminiConfig{}
	}
	if cfg.Embedder.Gemini != nil {
		applyGeminiDefaults(cfg.Embedder.Gemini, "text-embedding-004")
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = def.Index.Dir
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = def.Index.Metric
	}
	if cfg.Index.Search == "" {
		cfg.Index.Search = def.Index.Search
	}
	if cfg.Index.Qdrant != nil {
		if cfg.Index.Qdrant.Collection == "" {
			cfg.Index.Qdrant.Collection = "lawbot"
		}
		if cfg.Index.Qdrant.TimeoutSecs == 0 {
			cfg.Index.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.Cache.Type == "" {
		cfg.Retrieval.Cache.Type = def.Retrieval.Cache.Type
	}
	if cfg.Retrieval.Cache.Size == 0 {
		cfg.Retrieval.Cache.Size = def.Retrieval.Cache.Size
	}
	if cfg.Retrieval.Cache.TTLSecs == 0 {
		cfg.Retrieval.Cache.TTLSecs = def.Retrieval.Cache.TTLSecs
	}
	if cfg.Prompt.BudgetTokens == 0 {
		cfg.Prompt.BudgetTokens = def.Prompt.BudgetTokens
	}
	if cfg.Prompt.Delimiter == "" {
		cfg.Prompt.Delimiter = def.Prompt.Delimiter
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = def.Generator.Type
	}
	if cfg.Generator.MaxNewTokens == 0 {
		cfg.Generator.MaxNewTokens = def.Generator.MaxNewTokens
	}
	if cfg.Generator.RatePerMinute == 0 {
		cfg.Generator.RatePerMinute = def.Generator.RatePerMinute
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = def.Generator.TimeoutSecs
	}
	if cfg.Generator.Type == "openai" && cfg.Generator.OpenAI == nil {
		cfg.Generator.OpenAI = &OpenAIConfig{}
	}
	if cfg.Generator.OpenAI != nil {
		applyOpenAIDefaults(cfg.Generator.OpenAI, "gpt-4o-mini")
	}
	if cfg.Generator.Type == "gemini" && cfg.Generator.Gemini == nil {
		cfg.Generator.Gemini = &GeminiConfig{}
	}
	if cfg.Generator.Gemini != nil {
		applyGeminiDefaults(cfg.Generator.Gemini, "gemini-2.0-flash")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = def.Server.Mode
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
}

func applyOpenAIDefaults(c *OpenAIConfig, model string) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = 30
	}
}

func applyGeminiDefaults(c *GeminiConfig, model string) {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
}
