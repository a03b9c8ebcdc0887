// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the ModelRelay dispatch configuration
// from YAML, with optional hot reload on file change.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"modelrelay/core/llm"
)

// Duration wraps time.Duration with YAML string parsing ("250ms", "30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the YAML configuration schema.
type Config struct {
	// Provider is the active backend family.
	Provider string `yaml:"provider"`

	// Model is the model identifier to request.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature controls sampling randomness. Negative means provider
	// default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens limits response length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Failover FailoverConfig `yaml:"failover"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RetryConfig bounds per-attempt retries.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	MinDelay    Duration `yaml:"min_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Jitter      float64  `yaml:"jitter"`
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

// FailoverConfig configures automatic model failover.
type FailoverConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxHops int  `yaml:"max_hops"`

	// Models maps a primary model to custom fallback candidates, merged over
	// the built-in table.
	Models map[string][]string `yaml:"models,omitempty"`
}

// MetricsConfig configures prometheus exposition.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Default returns the configuration defaults applied before overlaying a
// file.
func Default() Config {
	return Config{
		Provider:    string(llm.FamilyAnthropic),
		Model:       "claude-3-5-sonnet-20241022",
		Temperature: -1,
		Retry: RetryConfig{
			MaxAttempts: 3,
			MinDelay:    Duration(250 * time.Millisecond),
			MaxDelay:    Duration(8 * time.Second),
			Jitter:      0.2,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     Duration(30 * time.Second),
		},
		Failover: FailoverConfig{
			Enabled: true,
			MaxHops: 3,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9464",
		},
	}
}

// Validate checks the configuration for values the dispatch layer cannot
// work with.
func (c *Config) Validate() error {
	validProvider := false
	for _, f := range llm.Families {
		if c.Provider == string(f) {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1")
	}
	if c.Retry.MinDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.min_delay must not exceed retry.max_delay")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Failover.MaxHops < 0 {
		return fmt.Errorf("failover.max_hops must not be negative")
	}
	return nil
}

// ProviderConfig converts to the dispatch layer's active configuration. The
// credential is left empty so the dispatcher resolves it from its store.
func (c *Config) ProviderConfig() llm.Config {
	return llm.Config{
		Provider:    llm.Family(c.Provider),
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}
