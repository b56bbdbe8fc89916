package policy

import "strings"

// Jurisdiction groups. A country code missing its own entitlement row falls
// back to its group row, then to GLOBAL.
var euMembers = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "IT": true, "LV": true, "LT": true, "LU": true,
	"MT": true, "NL": true, "PL": true, "PT": true, "RO": true, "SK": true,
	"SI": true, "ES": true, "SE": true,
}

var maghrebMembers = map[string]bool{
	"MA": true, "DZ": true, "TN": true, "LY": true, "MR": true,
}

const (
	groupEU      = "EU"
	groupMaghreb = "MAGHREB"
	groupGlobal  = "GLOBAL"
)

// JurisdictionAllowed reports whether the access context permits the given
// jurisdiction for the requested access mode. Organizations without
// entitlement rows are unrestricted, and codes the entitlement table does not
// cover through any fallback stay allowed.
func (a *AccessContext) JurisdictionAllowed(code string, write bool) bool {
	if len(a.Entitlements) == 0 {
		return true
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, key := range fallbackChain(code) {
		if ent, ok := a.Entitlements[key]; ok {
			if write {
				return ent.CanWrite
			}
			return ent.CanRead
		}
	}
	return true
}

// fallbackChain lists the entitlement keys consulted for a code, most
// specific first.
func fallbackChain(code string) []string {
	chain := []string{code}
	switch {
	case euMembers[code]:
		chain = append(chain, groupEU)
	case maghrebMembers[code]:
		chain = append(chain, groupMaghreb)
	}
	return append(chain, groupGlobal)
}
