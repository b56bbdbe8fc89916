package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BucketLimit describes a named fixed-window rate-limit bucket.
type BucketLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// LimitsConfig maps bucket names (e.g. "runs", "workspace") to their limits.
type LimitsConfig struct {
	Buckets map[string]BucketLimit `yaml:"buckets"`
}

// DefaultLimits returns the built-in bucket limits used when no file is provided.
func DefaultLimits() *LimitsConfig {
	return &LimitsConfig{
		Buckets: map[string]BucketLimit{
			"runs":      {Limit: 5, Window: time.Minute},
			"workspace": {Limit: 30, Window: time.Minute},
			"agent":     {Limit: 60, Window: time.Minute},
		},
	}
}

// ParseLimitsConfig parses bucket limits from YAML bytes.
func ParseLimitsConfig(data []byte) (*LimitsConfig, error) {
	if len(data) == 0 {
		return nil, errors.New("limits config is empty")
	}
	var cfg LimitsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse limits config: %w", err)
	}
	if len(cfg.Buckets) == 0 {
		return nil, errors.New("limits config has no buckets")
	}
	for name, bucket := range cfg.Buckets {
		if bucket.Limit <= 0 {
			return nil, fmt.Errorf("bucket %s: limit must be positive", name)
		}
		if bucket.Window <= 0 {
			return nil, fmt.Errorf("bucket %s: window must be positive", name)
		}
	}
	return &cfg, nil
}

// LoadLimitsConfig reads bucket limits from a YAML file. A missing path
// yields the defaults rather than an error so single-binary setups need no
// config directory.
func LoadLimitsConfig(path string) (*LimitsConfig, error) {
	if path == "" {
		return DefaultLimits(), nil
	}
	// #nosec G304 -- limits config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultLimits(), nil
		}
		return nil, fmt.Errorf("read limits config %s: %w", path, err)
	}
	cfg, err := ParseLimitsConfig(data)
	if err != nil {
		return nil, fmt.Errorf("load limits config %s: %w", path, err)
	}
	return cfg, nil
}

// Bucket returns the limit for a named bucket, falling back to defaults.
func (c *LimitsConfig) Bucket(name string) BucketLimit {
	if c != nil {
		if bucket, ok := c.Buckets[name]; ok {
			return bucket
		}
	}
	if def, ok := DefaultLimits().Buckets[name]; ok {
		return def
	}
	return BucketLimit{Limit: 60, Window: time.Minute}
}
