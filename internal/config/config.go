package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

type Neo4jConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type QdrantConfig struct {
	URL        string `toml:"url"`
	Collection string `toml:"collection"`
	VectorDim  int    `toml:"vector_dim"`
}

type EmbeddingsConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

type ConcurrencyConfig struct {
	BatchWorkers int `toml:"batch_workers"`
}

type TimeoutsConfig struct {
	CanonicalSeconds int `toml:"canonical_seconds"`
	GraphSeconds     int `toml:"graph_seconds"`
	VectorSeconds    int `toml:"vector_seconds"`
}

func (t TimeoutsConfig) Canonical() time.Duration { return seconds(t.CanonicalSeconds, 5) }
func (t TimeoutsConfig) Graph() time.Duration     { return seconds(t.GraphSeconds, 5) }
func (t TimeoutsConfig) Vector() time.Duration    { return seconds(t.VectorSeconds, 10) }

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

type IntegrityConfig struct {
	LatencyThresholdMillis int `toml:"latency_threshold_millis"`
}

func (i IntegrityConfig) LatencyThreshold() time.Duration {
	if i.LatencyThresholdMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(i.LatencyThresholdMillis) * time.Millisecond
}

type DedupeConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
}

func (d DedupeConfig) Threshold() float64 {
	if d.SimilarityThreshold <= 0 || d.SimilarityThreshold > 1 {
		return 0.92
	}
	return d.SimilarityThreshold
}

type Config struct {
	Postgres    PostgresConfig    `toml:"postgres"`
	Neo4j       Neo4jConfig       `toml:"neo4j"`
	Qdrant      QdrantConfig      `toml:"qdrant"`
	Embeddings  EmbeddingsConfig  `toml:"embeddings"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Timeouts    TimeoutsConfig    `toml:"timeouts"`
	Integrity   IntegrityConfig   `toml:"integrity"`
	Dedupe      DedupeConfig      `toml:"dedupe"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return &cfg, nil
}
