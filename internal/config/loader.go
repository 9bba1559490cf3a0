package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, using Overload so a
// .env file in the working directory (if present) takes precedence over
// variables already set in the process environment. Defaults are applied
// after reading; SHARD_ID is the only value Load requires.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Device.Dimension = envInt("DIMENSION", 384)
	cfg.Device.MaxPatterns = envInt("MAX_PATTERNS", 10000)
	cfg.Device.SyncIntervalSecs = envInt("SYNC_INTERVAL_SECS", 300)
	cfg.Device.MinQualityThreshold = envFloat("MIN_QUALITY_THRESHOLD", 0.6)

	cfg.Shard.ShardID = strings.TrimSpace(os.Getenv("SHARD_ID"))
	cfg.Shard.Region = strings.TrimSpace(os.Getenv("REGION"))
	cfg.Shard.MaxDevices = envInt("MAX_DEVICES", 5000)
	cfg.Shard.QualityThreshold = envFloat("QUALITY_THRESHOLD", 0.7)
	cfg.Shard.FederationIntervalSecs = envInt("FEDERATION_INTERVAL_SECS", 3600)
	cfg.Shard.PatternsPerShard = envInt("PATTERNS_PER_SHARD", 100000)
	cfg.Shard.TrendDecayRate = envFloat("TREND_DECAY_RATE", 0.95)

	cfg.Database.VectorBackend = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")), "memory")
	cfg.Database.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	cfg.Database.QdrantDSN = strings.TrimSpace(os.Getenv("QDRANT_DSN"))
	cfg.Database.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Database.KafkaBrokers = strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))

	cfg.Obs.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info")
	cfg.Obs.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.Obs.OTELEndpoint = strings.TrimSpace(os.Getenv("OTEL_ENDPOINT"))
	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "constellation")

	cfg.Embedding.BaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_BASE_URL")), "https://api.openai.com")
	cfg.Embedding.Path = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_PATH")), "/v1/embeddings")
	cfg.Embedding.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_MODEL")), "text-embedding-3-small")
	cfg.Embedding.APIHeader = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_API_HEADER")), "Authorization")
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.Dimension = envInt("EMBED_DIMENSION", cfg.Device.Dimension)
	cfg.Embedding.Timeout = time.Duration(envInt("EMBED_TIMEOUT_SECONDS", 30)) * time.Second

	if cfg.Shard.ShardID == "" {
		return Config{}, errors.New("SHARD_ID is required (set in .env or environment)")
	}
	if cfg.Device.Dimension <= 0 {
		return Config{}, fmt.Errorf("DIMENSION must be positive, got %d", cfg.Device.Dimension)
	}

	return cfg, nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
