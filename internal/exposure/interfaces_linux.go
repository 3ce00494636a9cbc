//go:build linux

package exposure

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// LocalAddresses lists every address assigned to a local interface.
func LocalAddresses() (AddressMap, error) {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	names := make(map[int]string)
	m := make(AddressMap, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		name, cached := names[a.LinkIndex]
		if !cached {
			link, err := netlink.LinkByIndex(a.LinkIndex)
			if err != nil {
				continue
			}
			name = link.Attrs().Name
			names[a.LinkIndex] = name
		}
		m[ip.Unmap()] = name
	}
	return m, nil
}
