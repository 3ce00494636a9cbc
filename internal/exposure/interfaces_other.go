//go:build !linux

package exposure

import "errors"

// LocalAddresses is only implemented on Linux.
func LocalAddresses() (AddressMap, error) {
	return nil, errors.New("address enumeration not supported on this platform")
}
