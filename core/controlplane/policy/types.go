package policy

import "context"

// Entitlement describes what an organization may do within one jurisdiction.
type Entitlement struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
}

// ConsentRequirement is the organization's consent policy. A zero value means
// consent is not required.
type ConsentRequirement struct {
	Required bool
	// Version, when set, must be matched exactly by the user's latest
	// acknowledgement. When empty any acknowledgement satisfies.
	Version string
}

// DisclosureRequirement is the organization's council-of-ethics disclosure
// policy. An empty Version means no disclosure is required.
type DisclosureRequirement struct {
	Version string
}

// AccessContext is the resolved view of one authenticated caller inside one
// organization. It is built once by Authorize and threaded through the rest
// of the request.
type AccessContext struct {
	OrgID  string
	UserID string
	Role   string

	Flags        Flags
	Entitlements map[string]Entitlement
	IPAllowlist  []string

	Consent    ConsentRequirement
	Disclosure DisclosureRequirement
}

// ComplianceInput carries the per-request facts EnsureCompliance checks the
// access context against.
type ComplianceInput struct {
	// AuthStrength is the authentication method the caller presented,
	// e.g. "password", "mfa", "passkey".
	AuthStrength string
	// ClientIP is the caller's address as seen by the edge.
	ClientIP string
}

// Store resolves memberships, organization policies, entitlements, allowlists
// and acknowledgement history.
type Store interface {
	// Membership returns the caller's role in the organization, or
	// ErrMembershipNotFound.
	Membership(ctx context.Context, orgID, userID string) (string, error)
	// OrgPolicies returns the raw policy document for the organization.
	// Missing organizations return an empty map.
	OrgPolicies(ctx context.Context, orgID string) (map[string]any, error)
	// Entitlements returns the organization's per-jurisdiction entitlements,
	// keyed by upper-case jurisdiction code. Empty means unrestricted.
	Entitlements(ctx context.Context, orgID string) (map[string]Entitlement, error)
	// IPAllowlist returns the organization's allowed CIDR ranges.
	IPAllowlist(ctx context.Context, orgID string) ([]string, error)
	// LatestAcknowledgement returns the version string of the user's most
	// recent acknowledgement of the given type, or "" when none exists.
	LatestAcknowledgement(ctx context.Context, orgID, userID, ackType string) (string, error)
}

// Acknowledgement types recorded against a user.
const (
	AckConsent    = "consent"
	AckDisclosure = "coe_disclosure"
)
