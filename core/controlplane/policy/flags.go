package policy

import "strings"

// Flags are the normalized policy switches for an organization.
type Flags struct {
	ConfidentialMode            bool
	MFARequired                 bool
	IPAllowlistEnforced         bool
	SensitiveTopicHITL          bool
	FranceJudgeAnalyticsBlocked bool
	ResidencyZones              []string
}

// Policy document keys.
const (
	keyConfidentialMode     = "confidential_mode"
	keyMFARequired          = "mfa_required"
	keyIPAllowlistEnforced  = "ip_allowlist_enforced"
	keySensitiveTopicHITL   = "sensitive_topic_hitl"
	keyFranceJudgeAnalytics = "france_judge_analytics_blocked"
	keyResidencyZones       = "residency_zones"
	keyConsentRequired      = "consent_required"
	keyConsentVersion       = "consent_required_version"
	keyDisclosureVersion    = "coe_disclosure_version"
)

// Value is one policy entry as stored. Entries historically appear either as
// a bare boolean or as an object with an "enabled" field, so both shapes are
// accepted.
type Value struct {
	kind int // 0 unset, 1 bool, 2 object
	b    bool
	obj  map[string]any
}

// ParseValue normalizes a raw policy entry.
func ParseValue(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Value{}
	case bool:
		return Value{kind: 1, b: v}
	case map[string]any:
		return Value{kind: 2, obj: v}
	default:
		return Value{}
	}
}

// Enabled resolves the entry to a boolean, using def when the entry is unset
// or its shape carries no answer.
func (v Value) Enabled(def bool) bool {
	switch v.kind {
	case 1:
		return v.b
	case 2:
		if b, ok := v.obj["enabled"].(bool); ok {
			return b
		}
		return def
	default:
		return def
	}
}

// ResolveFlags normalizes a raw policy document into Flags. Safety-relevant
// switches default to enabled when the document does not mention them.
func ResolveFlags(doc map[string]any) Flags {
	return Flags{
		ConfidentialMode:            ParseValue(doc[keyConfidentialMode]).Enabled(false),
		MFARequired:                 ParseValue(doc[keyMFARequired]).Enabled(false),
		IPAllowlistEnforced:         ParseValue(doc[keyIPAllowlistEnforced]).Enabled(false),
		SensitiveTopicHITL:          ParseValue(doc[keySensitiveTopicHITL]).Enabled(true),
		FranceJudgeAnalyticsBlocked: ParseValue(doc[keyFranceJudgeAnalytics]).Enabled(true),
		ResidencyZones:              normalizeZones(doc[keyResidencyZones]),
	}
}

// resolveConsent extracts the consent requirement from a policy document.
func resolveConsent(doc map[string]any) ConsentRequirement {
	req := ConsentRequirement{Required: ParseValue(doc[keyConsentRequired]).Enabled(false)}
	if v, ok := doc[keyConsentVersion].(string); ok && v != "" {
		req.Required = true
		req.Version = v
	}
	return req
}

// resolveDisclosure extracts the disclosure requirement from a policy document.
func resolveDisclosure(doc map[string]any) DisclosureRequirement {
	var req DisclosureRequirement
	if v, ok := doc[keyDisclosureVersion].(string); ok {
		req.Version = v
	}
	return req
}

// normalizeZones lower-cases and deduplicates residency zones while keeping
// first-seen order. Accepts a list of strings or a single string.
func normalizeZones(raw any) []string {
	var items []string
	switch v := raw.(type) {
	case string:
		items = []string{v}
	case []string:
		items = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				items = append(items, s)
			}
		}
	default:
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	var zones []string
	for _, z := range items {
		z = strings.ToLower(strings.TrimSpace(z))
		if z == "" {
			continue
		}
		if _, dup := seen[z]; dup {
			continue
		}
		seen[z] = struct{}{}
		zones = append(zones, z)
	}
	return zones
}
