package exposure

import (
	"net/netip"
	"strings"
)

// AddressMap maps local addresses to the interface that holds them.
type AddressMap map[netip.Addr]string

// Interface returns the interface owning addr. Loopback addresses resolve
// to "lo" even when the map lacks them.
func (m AddressMap) Interface(addr netip.Addr) string {
	addr = addr.Unmap()
	if name, ok := m[addr]; ok {
		return name
	}
	if addr.IsLoopback() {
		return "lo"
	}
	return ""
}

// ParseAddressMap builds a map from "iface=addr" pairs, as accepted on the
// command line for offline analysis.
func ParseAddressMap(pairs []string) AddressMap {
	m := make(AddressMap, len(pairs))
	for _, p := range pairs {
		iface, addr, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		a, err := netip.ParseAddr(strings.TrimSpace(addr))
		if err != nil {
			continue
		}
		m[a.Unmap()] = strings.TrimSpace(iface)
	}
	return m
}
