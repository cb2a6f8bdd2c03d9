// Package config loads the ambient process configuration recognized by
// cmd/swarmd: the HTTP bind address, debug flag, resource bounds, run
// retention, and provider credentials. Environment variables take
// precedence; an optional YAML file supplies defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider selects which ModelClient adapter cmd/swarmd wires up.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "aws_bedrock"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// Host and Port bind the HTTP server. Defaults: 0.0.0.0:8080.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Debug gates stack traces/details strings in error responses.
	Debug bool `yaml:"debug"`

	// MaxConcurrentRuns and MaxConcurrentModelCalls bound the scheduler's
	// two process-wide semaphores.
	MaxConcurrentRuns       int `yaml:"max_concurrent_runs"`
	MaxConcurrentModelCalls int `yaml:"max_concurrent_model_calls"`

	// RunRetention bounds how long a terminated run's record and event log
	// survive before the registry's sweeper discards them.
	RunRetention time.Duration `yaml:"-"`

	// Provider selects the ModelClient adapter; ProviderAnthropic by
	// default.
	Provider Provider `yaml:"provider"`
	// DefaultModel names the concrete model identifier passed to the
	// selected provider adapter (e.g. "claude-sonnet-4-5", "gpt-4o",
	// "anthropic.claude-3-5-sonnet-20241022-v2:0").
	DefaultModel string `yaml:"default_model"`

	// AnthropicAPIKey, OpenAIAPIKey, and the AWS credential envelope are
	// read opaquely: the orchestration core never inspects them directly,
	// only the provider adapter cmd/swarmd constructs from them.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AWSRegion       string `yaml:"aws_region"`

	// RedisAddr, when non-empty, backs RunRegistry with redisstore instead
	// of the in-memory Store.
	RedisAddr string `yaml:"redis_addr"`
}

// Default returns the package's literal default configuration.
func Default() Config {
	return Config{
		Host:                    "0.0.0.0",
		Port:                    8080,
		MaxConcurrentRuns:       8,
		MaxConcurrentModelCalls: 32,
		RunRetention:            time.Hour,
		Provider:                ProviderAnthropic,
		DefaultModel:            "claude-sonnet-4-5",
	}
}

// Load resolves a Config starting from Default(), overlaying path (a YAML
// file, optional; a missing path is not an error) and finally environment
// variables, which always win: files supply defaults, the environment is
// authoritative at deploy time.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := lookup("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookupInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := lookupBool("DEBUG"); ok {
		cfg.Debug = v
	}
	if v, ok := lookupInt("MAX_CONCURRENT_RUNS"); ok {
		cfg.MaxConcurrentRuns = v
	}
	if v, ok := lookupInt("MAX_CONCURRENT_MODEL_CALLS"); ok {
		cfg.MaxConcurrentModelCalls = v
	}
	if v, ok := lookupInt("RUN_RETENTION_SECONDS"); ok {
		cfg.RunRetention = time.Duration(v) * time.Second
	}
	if v, ok := lookup("MODEL_PROVIDER"); ok {
		cfg.Provider = Provider(strings.ToLower(v))
	}
	if v, ok := lookup("MODEL_DEFAULT_MODEL"); ok {
		cfg.DefaultModel = v
	}
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok {
		cfg.AnthropicAPIKey = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok {
		cfg.OpenAIAPIKey = v
	}
	if v, ok := lookup("AWS_REGION"); ok {
		cfg.AWSRegion = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupInt(name string) (int, bool) {
	v, ok := lookup(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupBool(name string) (bool, bool) {
	v, ok := lookup(name)
	if !ok {
		return false, false
	}
	return strings.EqualFold(v, "true") || v == "1", true
}

// Addr returns the host:port string the HTTP server should bind.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
