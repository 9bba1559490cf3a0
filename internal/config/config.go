// Package config loads runtime configuration from environment variables
// (optionally via a .env file), mirroring the teacher's env-var-first
// convention: no YAML, defaults applied after reading, required values
// validated once at startup.
package config

import "time"

// EmbeddingConfig configures an HTTP-backed Embedder.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIHeader string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// DeviceConfig holds the on-device tunables of spec.md §6.
type DeviceConfig struct {
	Dimension           int
	MaxPatterns         int
	SyncIntervalSecs    int
	MinQualityThreshold float64
}

// ShardConfig holds the shard server tunables of spec.md §6.
type ShardConfig struct {
	ShardID                string
	Region                 string
	MaxDevices             int
	QualityThreshold       float64
	FederationIntervalSecs int
	PatternsPerShard       int
	TrendDecayRate         float64
}

// DatabaseConfig selects and addresses the vector-index backend.
type DatabaseConfig struct {
	VectorBackend string // "postgres", "qdrant", or "memory"
	PostgresDSN   string
	QdrantDSN     string
	RedisAddr     string
	KafkaBrokers  string
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel     string
	LogPath      string
	OTELEndpoint string
	ServiceName  string
}

// Config is the complete set of runtime settings for a constellation
// server process (device-side code takes DeviceConfig directly, since it
// may run embedded without environment access).
type Config struct {
	Device    DeviceConfig
	Shard     ShardConfig
	Database  DatabaseConfig
	Obs       ObservabilityConfig
	Embedding EmbeddingConfig
}
