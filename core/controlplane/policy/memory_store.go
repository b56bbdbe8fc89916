package policy

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu           sync.RWMutex
	memberships  map[string]string // org|user -> role
	policies     map[string]map[string]any
	entitlements map[string]map[string]Entitlement
	allowlists   map[string][]string
	acks         map[string]string // org|user|type -> version
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memberships:  make(map[string]string),
		policies:     make(map[string]map[string]any),
		entitlements: make(map[string]map[string]Entitlement),
		allowlists:   make(map[string][]string),
		acks:         make(map[string]string),
	}
}

func memberKey(orgID, userID string) string { return orgID + "|" + userID }

func (s *MemoryStore) SetMembership(orgID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[memberKey(orgID, userID)] = role
}

func (s *MemoryStore) SetOrgPolicies(orgID string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[orgID] = doc
}

func (s *MemoryStore) SetEntitlement(orgID, jurisdiction string, ent Entitlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entitlements[orgID] == nil {
		s.entitlements[orgID] = make(map[string]Entitlement)
	}
	s.entitlements[orgID][strings.ToUpper(jurisdiction)] = ent
}

func (s *MemoryStore) SetIPAllowlist(orgID string, cidrs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlists[orgID] = append([]string(nil), cidrs...)
}

func (s *MemoryStore) RecordAcknowledgement(orgID, userID, ackType, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[orgID+"|"+userID+"|"+ackType] = version
}

func (s *MemoryStore) Membership(ctx context.Context, orgID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.memberships[memberKey(orgID, userID)]
	if !ok {
		return "", ErrMembershipNotFound
	}
	return role, nil
}

func (s *MemoryStore) OrgPolicies(ctx context.Context, orgID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := make(map[string]any, len(s.policies[orgID]))
	for k, v := range s.policies[orgID] {
		doc[k] = v
	}
	return doc, nil
}

func (s *MemoryStore) Entitlements(ctx context.Context, orgID string) (map[string]Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ents := make(map[string]Entitlement, len(s.entitlements[orgID]))
	for k, v := range s.entitlements[orgID] {
		ents[k] = v
	}
	return ents, nil
}

func (s *MemoryStore) IPAllowlist(ctx context.Context, orgID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.allowlists[orgID]...), nil
}

func (s *MemoryStore) LatestAcknowledgement(ctx context.Context, orgID, userID, ackType string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acks[orgID+"|"+userID+"|"+ackType], nil
}
