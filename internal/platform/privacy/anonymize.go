// Package privacy keeps caller network addresses out of logs.
package privacy

import (
	"net/netip"
)

const (
	ipv4Bits = 24
	ipv6Bits = 48
)

// AnonymizeIP reduces an address to its network prefix: /24 for IPv4 and
// /48 for IPv6, e.g. "192.168.1.47" -> "192.168.1.0/24". IPv4-mapped IPv6
// addresses are treated as IPv4. Empty input yields "unknown" and anything
// unparseable "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := ipv6Bits
	if addr.Is4() {
		bits = ipv4Bits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
