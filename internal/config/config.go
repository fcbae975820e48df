// Package config loads the operator-supplied configuration object (spec.md
// §9) via viper, overridable by environment variables, plus the
// source/jurisdiction registry used by the ingestion orchestrator.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config mirrors spec.md §9's config object.
type Config struct {
	ObjectStoreEndpoint    string `mapstructure:"object_store_endpoint"`
	ObjectStoreAccessKey   string `mapstructure:"object_store_access_key"`
	ObjectStoreSecretKey   string `mapstructure:"object_store_secret_key"`
	ObjectStoreBucket      string `mapstructure:"object_store_bucket"`
	ObjectStoreUseTLS      bool   `mapstructure:"object_store_use_tls"`

	PostgresDSN string `mapstructure:"postgres_dsn"`

	VectorIndexName      string `mapstructure:"vector_index_name"`
	VectorIndexDimension int    `mapstructure:"vector_index_dimension"`

	EmbeddingModel    string `mapstructure:"embedding_model"`
	EmbeddingEndpoint string `mapstructure:"embedding_endpoint"`
	EmbeddingAPIKey   string `mapstructure:"embedding_api_key"`
	EmbedHardLimit    int    `mapstructure:"embed_hard_limit"`

	LLMModel    string `mapstructure:"llm_model"`
	LLMEndpoint string `mapstructure:"llm_endpoint"`
	LLMAPIKey   string `mapstructure:"llm_api_key"`

	GeocoderEndpoint string `mapstructure:"geocoder_endpoint"`
	GeocoderAPIKey   string `mapstructure:"geocoder_api_key"`

	RenderingServiceEndpoint string `mapstructure:"rendering_service_endpoint"`

	ApplicationDBDSN string `mapstructure:"application_db_dsn"`

	RedisAddr string `mapstructure:"redis_addr"`

	EnabledSources []string `mapstructure:"enabled_sources"`

	PerHostScrapeDelayMS int     `mapstructure:"per_host_scrape_delay_ms"`
	EmbedBatchSize       int     `mapstructure:"embed_batch_size"`
	UpsertBatchSize      int     `mapstructure:"upsert_batch_size"`
	MaxChunkTokens       int     `mapstructure:"max_chunk_tokens"`
	OverlapRatio         float64 `mapstructure:"overlap_ratio"`
	TopK                 int     `mapstructure:"top_k"`
	FinalTopKMin         int     `mapstructure:"final_top_k_min"`
	FinalTopKMax         int     `mapstructure:"final_top_k_max"`
	MinRetrievalScore    float64 `mapstructure:"min_retrieval_score"`

	HTTPAddr string `mapstructure:"http_addr"`

	RegistryPath string `mapstructure:"registry_path"`
}

// Load reads config from optional path, merges environment variables
// prefixed REGCORE_, and applies defaults matching spec.md's placeholder
// constants (§4.6, §4.7, §4.9).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("object_store_endpoint", "localhost:9000")
	v.SetDefault("object_store_bucket", "regulatory-documents")
	v.SetDefault("object_store_use_tls", false)
	v.SetDefault("vector_index_name", "regulatory_chunks")
	v.SetDefault("vector_index_dimension", 1536)
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embed_hard_limit", 8191)
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("enabled_sources", []string{"federal", "state", "county", "municipal"})
	v.SetDefault("per_host_scrape_delay_ms", 200)
	v.SetDefault("embed_batch_size", 64)
	v.SetDefault("upsert_batch_size", 100)
	v.SetDefault("max_chunk_tokens", 1500)
	v.SetDefault("overlap_ratio", 0.15)
	v.SetDefault("top_k", 50)
	v.SetDefault("final_top_k_min", 10)
	v.SetDefault("final_top_k_max", 15)
	v.SetDefault("min_retrieval_score", 0.5)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("registry_path", "configs/registry.yaml")
}

// validate enforces §7's ConfigError: missing required credentials/config
// at startup is fatal.
func (c *Config) validate() error {
	missing := []string{}
	if c.ObjectStoreEndpoint == "" {
		missing = append(missing, "object_store_endpoint")
	}
	if c.PostgresDSN == "" && c.ApplicationDBDSN == "" {
		missing = append(missing, "postgres_dsn")
	}
	if c.EmbeddingEndpoint == "" {
		missing = append(missing, "embedding_endpoint")
	}
	if c.LLMEndpoint == "" {
		missing = append(missing, "llm_endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
