package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from the working directory if one exists.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("error loading .env file: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides lets deployments adjust the file config without editing it.
func applyEnvOverrides(cfg *AppConfig) {
	cfg.Corpus.Dir = getEnv("LAWBOT_CORPUS_DIR", cfg.Corpus.Dir)
	if p := getEnv("LAWBOT_CORPUS_PATTERNS", ""); p != "" {
		cfg.Corpus.Patterns = strings.Split(p, ",")
	}
	cfg.Index.Dir = getEnv("LAWBOT_INDEX_DIR", cfg.Index.Dir)
	cfg.Chunker.Size = getEnvInt("LAWBOT_CHUNK_SIZE", cfg.Chunker.Size)
	cfg.Chunker.Overlap = getEnvInt("LAWBOT_CHUNK_OVERLAP", cfg.Chunker.Overlap)
	cfg.Embedder.Type = getEnv("LAWBOT_EMBEDDER", cfg.Embedder.Type)
	cfg.Generator.Type = getEnv("LAWBOT_GENERATOR", cfg.Generator.Type)
	cfg.Generator.MaxNewTokens = getEnvInt("LAWBOT_MAX_NEW_TOKENS", cfg.Generator.MaxNewTokens)
	cfg.Retrieval.TopK = getEnvInt("LAWBOT_TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.MaxDistance = getEnvFloat64("LAWBOT_MAX_DISTANCE", cfg.Retrieval.MaxDistance)
	cfg.Retrieval.Cache.RedisURL = getEnv("REDIS_URL", cfg.Retrieval.Cache.RedisURL)
	cfg.ReturnSources = getEnvBool("LAWBOT_RETURN_SOURCES", cfg.ReturnSources)
	cfg.Server.Addr = getEnv("LAWBOT_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getEnv("LAWBOT_LOG_LEVEL", cfg.Log.Level)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
}

// APIKey resolves the secret stored in the named environment variable.
func APIKey(envName string) (string, error) {
	key := os.Getenv(envName)
	if key == "" {
		return "", fmt.Errorf("missing API key in env %s", envName)
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
