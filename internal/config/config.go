package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache" validate:"required"`
	Retry    RetryConfig    `mapstructure:"retry" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig selects the workflow store backend.
// For the sqlite driver URL is a database file path such as "data/orchestrator.db".
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL             string `mapstructure:"url" validate:"required"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"gte=0"`
	ConflictRetries int    `mapstructure:"conflict_retries" validate:"gte=0,lte=10"`
}

// CacheConfig configures the content-addressed artifact cache.
type CacheConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Backend        string        `mapstructure:"backend" validate:"required,oneof=badger postgres"`
	BadgerDir      string        `mapstructure:"badger_dir"`
	TTL            time.Duration `mapstructure:"ttl" validate:"gt=0"`
	StaleRetention time.Duration `mapstructure:"stale_retention" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// RetryConfig is the default backoff policy applied around handlers.
type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries" validate:"gt=0"`
	BaseDelay     time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay      time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	JitterPercent uint64        `mapstructure:"jitter_percent" validate:"lte=100"`
}

// PipelineConfig holds the photo-analysis pipeline thresholds.
type PipelineConfig struct {
	ScreenThreshold float64 `mapstructure:"screen_threshold" validate:"gte=0,lte=1"`
	MaxCostPerRun   float64 `mapstructure:"max_cost_per_run" validate:"gt=0"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" validate:"gt=0"`
	// CatalogFile is a JSON equipment catalog; empty means no entity ever matches.
	CatalogFile string `mapstructure:"catalog_file"`
}

// QueueConfig configures the outbound message queue.
type QueueConfig struct {
	Capacity       int           `mapstructure:"capacity" validate:"gt=0"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gt=0"`
	BackoffBase    time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	DeadLetterSize int           `mapstructure:"dead_letter_size" validate:"gt=0"`
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout" validate:"gt=0"`
}

// LLMConfig contains all LLM integration related settings.
// Provider order is the failover order; providers without an API key are skipped.
type LLMConfig struct {
	Providers []string `mapstructure:"providers" validate:"required,min=1,dive,oneof=gemini openai"`
	// CallTimeout bounds one generation across every provider in the chain.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	Gemini      GeminiConfig  `mapstructure:"gemini"`
	OpenAI      OpenAIConfig  `mapstructure:"openai"`
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	InputPricePerMTok  float64 `mapstructure:"input_price_per_mtok" validate:"gte=0"`
	OutputPricePerMTok float64 `mapstructure:"output_price_per_mtok" validate:"gte=0"`
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	BaseURL            string  `mapstructure:"base_url" validate:"omitempty,url"`
	InputPricePerMTok  float64 `mapstructure:"input_price_per_mtok" validate:"gte=0"`
	OutputPricePerMTok float64 `mapstructure:"output_price_per_mtok" validate:"gte=0"`
}

// NotifyConfig selects where queued notifications are delivered.
// An empty WebhookURL delivers to the structured log instead.
type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" validate:"gte=0"`
	AlertDest      string        `mapstructure:"alert_destination"`
}
