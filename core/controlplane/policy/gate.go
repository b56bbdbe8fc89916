package policy

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
	"github.com/lexgate/lexgate/core/infra/logging"
)

// ErrMembershipNotFound is returned by Store.Membership when the user has no
// role in the organization.
var ErrMembershipNotFound = errors.New("membership_not_found")

// Authentication strengths that satisfy an MFA requirement.
var strongAuth = map[string]bool{
	"mfa":     true,
	"passkey": true,
}

// Gate authorizes callers and enforces organization compliance policy.
type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Authorize resolves the caller's access context for one action. The static
// role table is consulted before any policy state is fetched, so denied
// callers never trigger the expensive lookups. On success the returned
// context carries everything EnsureCompliance needs.
func (g *Gate) Authorize(ctx context.Context, orgID, userID, action string) (*AccessContext, error) {
	role, err := g.store.Membership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return nil, apierror.New("membership_not_found", http.StatusForbidden, "user is not a member of the organization")
		}
		return nil, err
	}
	if !roleAllowed(action, role) {
		logging.Warn("policy", "authorization denied", "org", orgID, "user", userID, "role", role, "action", action)
		return nil, apierror.New("permission_denied", http.StatusForbidden, "role does not permit "+action)
	}

	access := &AccessContext{OrgID: orgID, UserID: userID, Role: role}

	var (
		wg       sync.WaitGroup
		policies map[string]any
		ents     map[string]Entitlement
		allow    []string
		errs     [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		policies, errs[0] = g.store.OrgPolicies(ctx, orgID)
	}()
	go func() {
		defer wg.Done()
		ents, errs[1] = g.store.Entitlements(ctx, orgID)
	}()
	go func() {
		defer wg.Done()
		allow, errs[2] = g.store.IPAllowlist(ctx, orgID)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	access.Flags = ResolveFlags(policies)
	access.Consent = resolveConsent(policies)
	access.Disclosure = resolveDisclosure(policies)
	access.Entitlements = ents
	access.IPAllowlist = allow
	return access, nil
}

// EnsureCompliance checks the per-request facts against the organization's
// policy. Checks run in a fixed order and the first failure wins: MFA, IP
// allowlist, consent, disclosure.
func (g *Gate) EnsureCompliance(ctx context.Context, access *AccessContext, input ComplianceInput) error {
	if access.Flags.MFARequired && !strongAuth[input.AuthStrength] {
		return apierror.New("mfa_required", http.StatusPreconditionRequired, "organization requires multi-factor authentication")
	}

	if access.Flags.IPAllowlistEnforced {
		if len(access.IPAllowlist) == 0 {
			return apierror.New("ip_allowlist_empty", http.StatusPreconditionRequired, "allowlist enforcement is on but no ranges are configured")
		}
		if !ipAllowed(input.ClientIP, access.IPAllowlist) {
			logging.Warn("policy", "ip rejected", "org", access.OrgID, "user", access.UserID, "ip", input.ClientIP)
			return apierror.New("ip_not_allowed", http.StatusForbidden, "client address is outside the organization allowlist")
		}
	}

	if access.Consent.Required {
		ack, err := g.store.LatestAcknowledgement(ctx, access.OrgID, access.UserID, AckConsent)
		if err != nil {
			return err
		}
		if ack == "" || (access.Consent.Version != "" && ack != access.Consent.Version) {
			return apierror.New("consent_required", http.StatusPreconditionRequired, "user has not acknowledged the required consent")
		}
	}

	if access.Disclosure.Version != "" {
		ack, err := g.store.LatestAcknowledgement(ctx, access.OrgID, access.UserID, AckDisclosure)
		if err != nil {
			return err
		}
		if ack != access.Disclosure.Version {
			return apierror.New("coe_disclosure_required", http.StatusPreconditionRequired, "user has not acknowledged the current disclosure version")
		}
	}

	return nil
}
