package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the discovery API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Pinecone  PineconeConfig  `yaml:"pinecone"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sparse    SparseConfig    `yaml:"sparse"`
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// PostgresConfig holds catalog database settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the brand-name cache settings.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// PineconeConfig holds vector index settings.
type PineconeConfig struct {
	APIKey string `yaml:"api_key"`
	// Hosts maps index name to its dedicated host URL. Missing entries are
	// resolved through the control plane at startup.
	Hosts map[string]string `yaml:"hosts"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	OpenAI      ProviderConfig `yaml:"openai"`
	Voyage      ProviderConfig `yaml:"voyage"`
	Siglip      ProviderConfig `yaml:"siglip"`
	CacheSize   int            `yaml:"cache_size"`
	Concurrency int            `yaml:"concurrency"`
}

// ProviderConfig holds one embedding backend's connection settings.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// SparseConfig holds sparse encoder settings.
type SparseConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
	CacheSize  int    `yaml:"cache_size"`
}

// StorageConfig holds product image storage settings.
type StorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // optional, for S3-compatible stores
}

// SearchConfig holds retrieval and reranking settings.
type SearchConfig struct {
	// OverfetchFactor multiplies topK for the first-stage retrieval.
	OverfetchFactor int `yaml:"overfetch_factor"`
	// OriginalScoreMultiplier blends the retrieval score into rerank scores.
	OriginalScoreMultiplier float64 `yaml:"original_score_multiplier"`
	// SemanticMultiplier scales attribute components of the
	// semantic-metadata method.
	SemanticMultiplier float64 `yaml:"semantic_multiplier"`
	// CatalogPageSize caps one catalog lookup batch.
	CatalogPageSize int `yaml:"catalog_page_size"`
	// QueryConcurrency bounds parallel per-query retrieval.
	QueryConcurrency int `yaml:"query_concurrency"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Redis.TTLSec <= 0 {
		c.Redis.TTLSec = 3600
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 4096
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 8
	}
	if c.Embedding.OpenAI.TimeoutSec <= 0 {
		c.Embedding.OpenAI.TimeoutSec = 30
	}
	if c.Embedding.Voyage.TimeoutSec <= 0 {
		c.Embedding.Voyage.TimeoutSec = 30
	}
	if c.Embedding.Siglip.TimeoutSec <= 0 {
		c.Embedding.Siglip.TimeoutSec = 30
	}
	if c.Embedding.Voyage.BaseURL == "" {
		c.Embedding.Voyage.BaseURL = "https://api.voyageai.com/v1"
	}
	if c.Sparse.TimeoutSec <= 0 {
		c.Sparse.TimeoutSec = 15
	}
	if c.Sparse.CacheSize <= 0 {
		c.Sparse.CacheSize = 8192
	}
	if c.Search.OverfetchFactor <= 0 {
		c.Search.OverfetchFactor = 5
	}
	if c.Search.CatalogPageSize <= 0 {
		c.Search.CatalogPageSize = 250
	}
	if c.Search.QueryConcurrency <= 0 {
		c.Search.QueryConcurrency = 4
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Pinecone.APIKey == "" {
		return fmt.Errorf("pinecone.api_key is required")
	}
	if c.Sparse.BaseURL == "" {
		return fmt.Errorf("sparse.base_url is required")
	}
	if c.Search.OriginalScoreMultiplier < 0 {
		return fmt.Errorf("search.original_score_multiplier must not be negative, got %v",
			c.Search.OriginalScoreMultiplier)
	}
	if c.Search.SemanticMultiplier < 0 {
		return fmt.Errorf("search.semantic_multiplier must not be negative, got %v",
			c.Search.SemanticMultiplier)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
