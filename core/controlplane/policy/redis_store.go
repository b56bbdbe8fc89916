package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis key layout. Policies and acknowledgements are hashes, allowlists are
// sets, entitlements are hashes of JSON rows keyed by jurisdiction code.
const (
	membershipKeyPrefix  = "org:members:"
	policiesKeyPrefix    = "org:policies:"
	entitlementKeyPrefix = "org:entitlements:"
	allowlistKeyPrefix   = "org:allowlist:"
	ackKeyPrefix         = "ack:"
)

// RedisStore is the shared Store backing multi-node deployments.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Membership(ctx context.Context, orgID, userID string) (string, error) {
	role, err := s.client.HGet(ctx, membershipKeyPrefix+orgID, userID).Result()
	if err == redis.Nil {
		return "", ErrMembershipNotFound
	}
	if err != nil {
		return "", fmt.Errorf("membership lookup: %w", err)
	}
	return role, nil
}

func (s *RedisStore) OrgPolicies(ctx context.Context, orgID string) (map[string]any, error) {
	raw, err := s.client.HGetAll(ctx, policiesKeyPrefix+orgID).Result()
	if err != nil {
		return nil, fmt.Errorf("policy lookup: %w", err)
	}
	doc := make(map[string]any, len(raw))
	for key, val := range raw {
		var parsed any
		if err := json.Unmarshal([]byte(val), &parsed); err != nil {
			// Plain strings were historically stored unquoted.
			parsed = val
		}
		doc[key] = parsed
	}
	return doc, nil
}

func (s *RedisStore) Entitlements(ctx context.Context, orgID string) (map[string]Entitlement, error) {
	raw, err := s.client.HGetAll(ctx, entitlementKeyPrefix+orgID).Result()
	if err != nil {
		return nil, fmt.Errorf("entitlement lookup: %w", err)
	}
	ents := make(map[string]Entitlement, len(raw))
	for code, val := range raw {
		var ent Entitlement
		if err := json.Unmarshal([]byte(val), &ent); err != nil {
			return nil, fmt.Errorf("entitlement decode %s: %w", code, err)
		}
		ents[strings.ToUpper(code)] = ent
	}
	return ents, nil
}

func (s *RedisStore) IPAllowlist(ctx context.Context, orgID string) ([]string, error) {
	cidrs, err := s.client.SMembers(ctx, allowlistKeyPrefix+orgID).Result()
	if err != nil {
		return nil, fmt.Errorf("allowlist lookup: %w", err)
	}
	return cidrs, nil
}

func (s *RedisStore) LatestAcknowledgement(ctx context.Context, orgID, userID, ackType string) (string, error) {
	version, err := s.client.HGet(ctx, ackKey(orgID, userID), ackType).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("acknowledgement lookup: %w", err)
	}
	return version, nil
}

// Seed helpers used by provisioning and tests.

func (s *RedisStore) SetMembership(ctx context.Context, orgID, userID, role string) error {
	return s.client.HSet(ctx, membershipKeyPrefix+orgID, userID, role).Err()
}

func (s *RedisStore) SetOrgPolicy(ctx context.Context, orgID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, policiesKeyPrefix+orgID, key, string(encoded)).Err()
}

func (s *RedisStore) SetEntitlement(ctx context.Context, orgID, jurisdiction string, ent Entitlement) error {
	encoded, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, entitlementKeyPrefix+orgID, strings.ToUpper(jurisdiction), string(encoded)).Err()
}

func (s *RedisStore) AddAllowlistRange(ctx context.Context, orgID, cidr string) error {
	return s.client.SAdd(ctx, allowlistKeyPrefix+orgID, cidr).Err()
}

func (s *RedisStore) RecordAcknowledgement(ctx context.Context, orgID, userID, ackType, version string) error {
	return s.client.HSet(ctx, ackKey(orgID, userID), ackType, version).Err()
}

func ackKey(orgID, userID string) string {
	return ackKeyPrefix + orgID + ":" + userID
}
