package policy

import (
	"net/netip"
	"strings"
)

// ipAllowed reports whether ip falls inside any of the allowlisted ranges.
// Entries may be bare addresses or CIDR prefixes; bare addresses get a full
// host prefix for their family. Malformed entries are skipped rather than
// failing the whole check.
func ipAllowed(ip string, allowlist []string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range allowlist {
		prefix, ok := parseAllowEntry(entry)
		if !ok {
			continue
		}
		if prefix.Addr().Is4() != addr.Is4() {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAllowEntry(entry string) (netip.Prefix, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return netip.Prefix{}, false
	}
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, false
		}
		return prefix.Masked(), true
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	return netip.PrefixFrom(addr, bits), true
}
