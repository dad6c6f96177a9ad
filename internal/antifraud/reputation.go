package antifraud

import (
	"fmt"
	"net/netip"
	"strings"
)

// CIDRReputation flags client IPs contained in a static deny-list.
type CIDRReputation struct {
	prefixes []netip.Prefix
}

// NewCIDRReputation parses CIDRs or bare addresses.
func NewCIDRReputation(entries []string) (*CIDRReputation, error) {
	r := &CIDRReputation{}
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid suspect ip %q: %w", raw, err)
			}
			r.prefixes = append(r.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid suspect cidr %q: %w", raw, err)
		}
		r.prefixes = append(r.prefixes, prefix.Masked())
	}
	return r, nil
}

// IsSuspect reports whether ip falls inside any listed range. Unparseable
// addresses are not suspect.
func (r *CIDRReputation) IsSuspect(ip string) bool {
	if r == nil || len(r.prefixes) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range r.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
