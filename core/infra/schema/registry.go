package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/lexgate/lexgate/core/infra/redisutil"
)

// Registry stores JSON Schemas in Redis keyed by id, e.g. connector types.
type Registry struct {
	client *redis.Client
}

// NewRegistry constructs a Redis-backed schema registry.
func NewRegistry(url string) (*Registry, error) {
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, err
	}
	return &Registry{client: client}, nil
}

// Close closes the underlying Redis client.
func (r *Registry) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Register stores a schema by id.
func (r *Registry) Register(ctx context.Context, id string, schema []byte) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry unavailable")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("schema id required")
	}
	if len(schema) == 0 {
		return fmt.Errorf("schema body required")
	}
	return r.client.Set(ctx, schemaKey(id), schema, 0).Err()
}

// Get returns the raw schema bytes, or nil when no schema is registered.
func (r *Registry) Get(ctx context.Context, id string) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("registry unavailable")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("schema id required")
	}
	data, err := r.client.Get(ctx, schemaKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// ValidateID validates payload against a stored schema. Ids with no stored
// schema validate trivially.
func (r *Registry) ValidateID(ctx context.Context, id string, value any) error {
	schema, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	return Validate(id, schema, value)
}

func schemaKey(id string) string {
	return "schema:" + id
}
