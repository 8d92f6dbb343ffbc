package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Chunking    ChunkingConfig    `toml:"chunking"`
	Routing     RoutingConfig     `toml:"routing"`
	Refiner     RefinerConfig     `toml:"refiner"`
	Breaker     BreakerConfig     `toml:"breaker"`
	RateLimit   RateLimitConfig   `toml:"ratelimit"`
	Processor   ProcessorConfig   `toml:"processor"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Database    DatabaseConfig    `toml:"database"`
	Observer    ObserverConfig    `toml:"observer"`
}

type ChunkingConfig struct {
	TargetWords  int `toml:"target_words"`
	MinWords     int `toml:"min_words"`
	MaxWords     int `toml:"max_words"`
	OverlapWords int `toml:"overlap_words"`
}

type RoutingConfig struct {
	ConfidenceMin float64 `toml:"confidence_min"`
	MaxLLMCalls   int     `toml:"max_llm_calls"`
	MaxLLMPercent float64 `toml:"max_llm_percent"`
}

type RefinerConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

type BreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	TimeoutSeconds   int `toml:"timeout_seconds"`
}

type RateLimitConfig struct {
	MaxCalls      int `toml:"max_calls"`
	WindowSeconds int `toml:"window_seconds"`
}

type ProcessorConfig struct {
	BatchSize            int `toml:"batch_size"`
	MaxConcurrentBatches int `toml:"max_concurrent_batches"`
	MaxRetries           int `toml:"max_retries"`
	ShortDocChars        int `toml:"short_doc_chars"`
	LongDocChars         int `toml:"long_doc_chars"`
}

type CoordinatorConfig struct {
	MaxConcurrentJobs        int     `toml:"max_concurrent_jobs"`
	BackpressureThreshold    float64 `toml:"backpressure_threshold"`
	JobBatchSize             int     `toml:"job_batch_size"`
	DiscoveryIntervalSeconds int     `toml:"discovery_interval_seconds"`
	DiscoveryBatch           int     `toml:"discovery_batch"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	Path   string `toml:"path"`   // sqlite file path
	DSN    string `toml:"dsn"`    // postgres connection string
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the built-in configuration, matching each component's own
// constructor defaults.
func Default() Config {
	return Config{
		Chunking: ChunkingConfig{TargetWords: 400, MinWords: 100, MaxWords: 800, OverlapWords: 40},
		Routing:  RoutingConfig{ConfidenceMin: 0.6, MaxLLMCalls: 10, MaxLLMPercent: 0.3},
		Refiner: RefinerConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Breaker:   BreakerConfig{FailureThreshold: 5, TimeoutSeconds: 60},
		RateLimit: RateLimitConfig{MaxCalls: 60, WindowSeconds: 60},
		Processor: ProcessorConfig{
			BatchSize:            10,
			MaxConcurrentBatches: 3,
			MaxRetries:           2,
			ShortDocChars:        2000,
			LongDocChars:         20000,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrentJobs:        2,
			BackpressureThreshold:    0.9,
			JobBatchSize:             25,
			DiscoveryIntervalSeconds: 60,
			DiscoveryBatch:           100,
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "chunks.db"},
	}
}

// Load layers configuration: built-in defaults, then the TOML file at path
// (skipped when absent), then environment variables, which win.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "chunkd.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("SUB004_REFINER_API_KEY"); v != "" {
		cfg.Refiner.APIKey = v
	}
	if v := os.Getenv("SUB004_REFINER_BASE_URL"); v != "" {
		cfg.Refiner.BaseURL = v
	}
	if v := os.Getenv("SUB004_REFINER_MODEL"); v != "" {
		cfg.Refiner.Model = v
	}
	if v := os.Getenv("SUB004_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SUB004_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SUB004_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if os.Getenv("SUB004_OBSERVER_ENABLED") == "true" || os.Getenv("SUB004_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
