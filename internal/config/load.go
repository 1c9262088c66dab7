package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ORCH_SERVER_PORT.
const EnvPrefix = "ORCH"

// Options customizes where Load reads configuration from.
type Options struct {
	// ConfigFile is an explicit config file path. When empty, "config.yaml" is
	// searched for in the working directory and is optional.
	ConfigFile string
	// Fs overrides the filesystem used to read the config file.
	Fs afero.Fs
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWithOptions(Options{})
}

// LoadWithOptions is Load with an explicit config source.
func LoadWithOptions(opts Options) (*Config, error) {
	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}

	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Cache.Enabled && cfg.Cache.Backend == "badger" && cfg.Cache.BadgerDir == "" {
		return fmt.Errorf("config validation failed: cache.badger_dir is required for the badger backend")
	}

	configured := 0
	for _, name := range cfg.LLM.Providers {
		switch name {
		case "gemini":
			if cfg.LLM.Gemini.APIKey != "" {
				configured++
			}
		case "openai":
			if cfg.LLM.OpenAI.APIKey != "" {
				configured++
			}
		}
	}
	if configured == 0 {
		return fmt.Errorf("config validation failed: no LLM provider has an API key")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conflict_retries", 3)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "badger")
	v.SetDefault("cache.badger_dir", "data/cache")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.stale_retention", "168h")
	v.SetDefault("cache.write_timeout", "2s")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter_percent", 10)

	v.SetDefault("pipeline.screen_threshold", 0.8)
	v.SetDefault("pipeline.max_cost_per_run", 0.5)
	v.SetDefault("pipeline.max_output_tokens", 1024)

	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.rate_limit", 30.0)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", "1s")
	v.SetDefault("queue.dead_letter_size", 100)
	v.SetDefault("queue.dequeue_timeout", "1s")

	v.SetDefault("llm.providers", []string{"gemini", "openai"})
	v.SetDefault("llm.call_timeout", "2m")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.gemini.input_price_per_mtok", 0.10)
	v.SetDefault("llm.gemini.output_price_per_mtok", 0.40)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.input_price_per_mtok", 0.15)
	v.SetDefault("llm.openai.output_price_per_mtok", 0.60)

	v.SetDefault("notify.webhook_timeout", "10s")

	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("database.url", "")
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.alert_destination", "")
	v.SetDefault("pipeline.catalog_file", "")
}
