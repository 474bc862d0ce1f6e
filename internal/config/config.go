package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Aggregation policies for malformed item records.
const (
	AggregationLenient = "lenient"
	AggregationStrict  = "strict"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	DataDir        string `mapstructure:"data_dir"`
	ProgressDir    string `mapstructure:"progress_dir"`
	CategoriesFile string `mapstructure:"categories_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	RequestTimeoutSeconds  int64         `mapstructure:"request_timeout_seconds"`
	RetryMaxAttempts       int           `mapstructure:"retry_max_attempts"`
	RetryDelayMs           int64         `mapstructure:"retry_delay_ms"`
	RetryBackoffMultiplier float64       `mapstructure:"retry_backoff_multiplier"`
	RetryMaxDelayMs        int64         `mapstructure:"retry_max_delay_ms"`
	PageDelayMs            int64         `mapstructure:"page_delay_ms"`
	RequestTimeout         time.Duration `mapstructure:"-"`
	RetryDelay             time.Duration `mapstructure:"-"`
	RetryMaxDelay          time.Duration `mapstructure:"-"`
	PageDelay              time.Duration `mapstructure:"-"`

	AggregationPolicy string `mapstructure:"aggregation_policy"`
	MetricsTextfile   string `mapstructure:"metrics_textfile"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "samvad-search-scraper")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("progress_dir", ".")
	v.SetDefault("categories_file", "")
	v.SetDefault("publishers_file", "")
	v.SetDefault("storage_type", "file")
	v.SetDefault("bbolt_path", "./data/state.db")
	v.SetDefault("request_timeout_seconds", 30)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_delay_ms", 5000)
	v.SetDefault("retry_backoff_multiplier", 1.0)
	v.SetDefault("retry_max_delay_ms", 30000)
	v.SetDefault("page_delay_ms", 3000)
	v.SetDefault("aggregation_policy", AggregationLenient)
	v.SetDefault("metrics_textfile", "")
}

// finalize validates raw values and derives the duration fields.
func (c *Config) finalize() error {
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid request_timeout_seconds (must be positive seconds)")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("invalid retry_max_attempts (must be at least 1)")
	}
	if c.RetryDelayMs < 0 {
		return fmt.Errorf("invalid retry_delay_ms (must be non-negative)")
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("invalid retry_backoff_multiplier (must be >= 1.0)")
	}
	if c.RetryMaxDelayMs < c.RetryDelayMs {
		return fmt.Errorf("invalid retry_max_delay_ms (must be >= retry_delay_ms)")
	}
	if c.PageDelayMs < 0 {
		return fmt.Errorf("invalid page_delay_ms (must be non-negative)")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if strings.TrimSpace(c.ProgressDir) == "" {
		c.ProgressDir = "."
	}

	c.StorageType = strings.ToLower(strings.TrimSpace(c.StorageType))
	c.AggregationPolicy = strings.ToLower(strings.TrimSpace(c.AggregationPolicy))
	switch c.AggregationPolicy {
	case AggregationLenient, AggregationStrict:
	default:
		return fmt.Errorf("invalid aggregation_policy %q (expected %s or %s)", c.AggregationPolicy, AggregationLenient, AggregationStrict)
	}

	c.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	c.RetryDelay = time.Duration(c.RetryDelayMs) * time.Millisecond
	c.RetryMaxDelay = time.Duration(c.RetryMaxDelayMs) * time.Millisecond
	c.PageDelay = time.Duration(c.PageDelayMs) * time.Millisecond
	return nil
}
