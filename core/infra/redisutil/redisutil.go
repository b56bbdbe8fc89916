package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	envRedisTLSCA       = "REDIS_TLS_CA"
	envRedisTLSInsecure = "REDIS_TLS_INSECURE"

	connectTimeout = 2 * time.Second
)

// NewClient parses a redis:// URL, applies optional TLS settings from the
// environment, and verifies connectivity before returning the client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := ParseOptions(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// ParseOptions parses a Redis URL and applies TLS settings from the environment.
func ParseOptions(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cfg, err := tlsConfigFromEnv(opts.TLSConfig)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		opts.TLSConfig = cfg
	}
	return opts, nil
}

func tlsConfigFromEnv(existing *tls.Config) (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envRedisTLSCA))
	insecure := isTruthy(os.Getenv(envRedisTLSInsecure))
	if caPath == "" && !insecure {
		return existing, nil
	}

	cfg := &tls.Config{}
	if existing != nil {
		cfg = existing.Clone()
	}
	if insecure {
		cfg.InsecureSkipVerify = true
	}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("redis tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
