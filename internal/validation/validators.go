// Package validation checks names and addresses reported by the firewall
// before they reach consolidation or correlation.
package validation

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Valid identifier: alphanumeric, dash, underscore
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Dangerous characters that should never appear in identifiers
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
)

const ipsetPrefix = "ipset:"

// ValidateInterfaceName validates a network interface name. A trailing "+"
// is accepted as firewalld's interface wildcard.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	base := strings.TrimSuffix(name, "+")
	if len(base) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters): %s", name)
	}
	if base == "" || !interfaceNameRegex.MatchString(base) {
		return fmt.Errorf("invalid interface name: %q (must be alphanumeric with -_.)", name)
	}
	return nil
}

// ValidateIdentifier validates zone, service and ipset names.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("identifier too long (max 255 characters)")
	}
	for _, char := range dangerousChars {
		if strings.Contains(id, char) {
			return fmt.Errorf("identifier contains dangerous character: %q", char)
		}
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %q (must be alphanumeric with -_)", id)
	}
	return nil
}

// ValidateIPOrCIDR validates an IP address or CIDR range
func ValidateIPOrCIDR(s string) error {
	if s == "" {
		return fmt.Errorf("IP/CIDR cannot be empty")
	}
	if strings.Contains(s, "/") {
		if _, err := netip.ParsePrefix(s); err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		return nil
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}
	return nil
}

// ValidateZoneSource accepts the source forms firewalld binds to a zone:
// an address or prefix, a MAC address, or "ipset:NAME".
func ValidateZoneSource(s string) error {
	if name, ok := strings.CutPrefix(s, ipsetPrefix); ok {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("invalid ipset source: %w", err)
		}
		return nil
	}
	if _, err := net.ParseMAC(s); err == nil {
		return nil
	}
	return ValidateIPOrCIDR(s)
}

// SanitizeString removes dangerous characters from a string (for display purposes)
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
