// Package config loads annotator configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/annotate"
	"github.com/dquang-mevn/purchase-search-ui/pkg/logging"
	"github.com/dquang-mevn/purchase-search-ui/pkg/ratelimit"
	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete annotator configuration.
type Config struct {
	Gemini    GeminiConfig    `yaml:"gemini"`
	Batch     BatchConfig     `yaml:"batch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`

	// OutputSchema is the ordered list of fields every record carries.
	OutputSchema []string `yaml:"output_schema"`
}

// GeminiConfig configures the annotation service client.
type GeminiConfig struct {
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	PromptTemplate string        `yaml:"prompt_template"`
	PromptFile     string        `yaml:"prompt_file"`
	Temperature    float32       `yaml:"temperature"`
	ThinkingBudget int32         `yaml:"thinking_budget"`
	BaseURL        string        `yaml:"base_url"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// BatchConfig configures the worker pool.
type BatchConfig struct {
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers"`
}

// RateLimitConfig configures call admission.
type RateLimitConfig struct {
	MaxCallsPerSecond int                `yaml:"max_calls_per_second"`
	Strategy          ratelimit.Strategy `yaml:"strategy"`
	RedisKey          string             `yaml:"redis_key"`
}

// RedisConfig holds the shared Redis connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	MaxItems     int    `yaml:"max_items"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  logging.LogLevel `yaml:"level"`
	Pretty bool             `yaml:"pretty"`
}

// Default returns the analyzer defaults: 8 workers, 16 calls per second,
// the brand/category prompt and schema.
func Default() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Model:          annotate.DefaultModel,
			PromptTemplate: annotate.DefaultPrompt,
			Temperature:    0,
			ThinkingBudget: 0,
			CallTimeout:    60 * time.Second,
		},
		Batch: BatchConfig{
			MaxConcurrentWorkers: 8,
		},
		RateLimit: RateLimitConfig{
			MaxCallsPerSecond: 16,
			Strategy:          ratelimit.StrategyWindow,
			RedisKey:          ratelimit.RedisKeyDefault,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     annotate.DefaultCacheTTL,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 10 << 20,
			MaxItems:     5000,
		},
		Logging: LoggingConfig{
			Level:  logging.LevelInfo,
			Pretty: false,
		},
		OutputSchema: result.DefaultSchema().Fields(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected so typos do not pass silently.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Gemini.PromptFile != "" {
		data, err := os.ReadFile(cfg.Gemini.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		cfg.Gemini.PromptTemplate = string(data)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("ANNOTATOR_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = logging.LogLevel(v)
	}
	if v := os.Getenv("ANNOTATOR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ANNOTATOR_WORKERS: %v", ErrInvalid, err)
		}
		c.Batch.MaxConcurrentWorkers = n
	}
	if v := os.Getenv("ANNOTATOR_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ANNOTATOR_RATE: %v", ErrInvalid, err)
		}
		c.RateLimit.MaxCallsPerSecond = n
	}
	return nil
}

// Validate checks every setting needed to run a batch.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		problems = append(problems, "gemini.api_key is required (or set GEMINI_API_KEY)")
	}
	if err := annotate.ValidatePrompt(c.Gemini.PromptTemplate); err != nil {
		problems = append(problems, "gemini.prompt_template: "+err.Error())
	}
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
		problems = append(problems, fmt.Sprintf("gemini.temperature must be in [0, 2] (got %g)", c.Gemini.Temperature))
	}
	if c.Gemini.CallTimeout < 0 {
		problems = append(problems, "gemini.call_timeout must not be negative")
	}
	if c.Batch.MaxConcurrentWorkers < 1 {
		problems = append(problems, fmt.Sprintf("batch.max_concurrent_workers must be at least 1 (got %d)", c.Batch.MaxConcurrentWorkers))
	}
	if c.RateLimit.MaxCallsPerSecond < 1 {
		problems = append(problems, fmt.Sprintf("rate_limit.max_calls_per_second must be at least 1 (got %d)", c.RateLimit.MaxCallsPerSecond))
	}
	if !c.RateLimit.Strategy.Valid() {
		problems = append(problems, fmt.Sprintf("rate_limit.strategy %q is not one of window, paced, redis", c.RateLimit.Strategy))
	}
	if c.NeedsRedis() && c.Redis.URL == "" {
		problems = append(problems, "redis.url is required for the redis strategy or the cache")
	}
	if _, err := result.ParseSchema(c.OutputSchema); err != nil {
		problems = append(problems, "output_schema: "+err.Error())
	}
	if !c.Logging.Level.Valid() {
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// NeedsRedis reports whether any enabled component uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.RateLimit.Strategy == ratelimit.StrategyRedis || c.Cache.Enabled
}

// Schema parses OutputSchema. Call Validate first.
func (c *Config) Schema() (result.Schema, error) {
	return result.ParseSchema(c.OutputSchema)
}

// AnnotateConfig returns the Gemini client configuration.
func (c *Config) AnnotateConfig() (annotate.Config, error) {
	schema, err := c.Schema()
	if err != nil {
		return annotate.Config{}, err
	}
	return annotate.Config{
		APIKey:         c.Gemini.APIKey,
		Model:          c.Gemini.Model,
		PromptTemplate: c.Gemini.PromptTemplate,
		Schema:         schema,
		Temperature:    c.Gemini.Temperature,
		ThinkingBudget: c.Gemini.ThinkingBudget,
		BaseURL:        c.Gemini.BaseURL,
	}, nil
}

// LoggingSetup returns the logger configuration.
func (c *Config) LoggingSetup() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Pretty = c.Logging.Pretty
	return lc
}
