// Package firewall models firewalld state and consolidates it into a single
// deduplicated view of which ports are open, where, and why.
package firewall

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"grimm.is/warden/internal/validation"
)

// Protocol is a transport protocol a port rule applies to.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// ParseProtocol normalizes s to a known protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case TCP, UDP:
		return p, nil
	case "":
		return "", fmt.Errorf("%w: empty protocol", ErrMalformedRecord)
	default:
		return "", fmt.Errorf("%w: unsupported protocol %q", ErrMalformedRecord, s)
	}
}

// Valid reports whether p is tcp or udp.
func (p Protocol) Valid() bool {
	return p == TCP || p == UDP
}

const (
	MinPort = 1
	MaxPort = 65535
)

// PortRange is an inclusive range of ports. A single port has End == Start.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SinglePort returns the range covering only p.
func SinglePort(p int) PortRange {
	return PortRange{Start: p, End: p}
}

// ParsePortRange parses "22" or "1025-65535".
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	lo, hi, isRange := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: invalid port %q", ErrMalformedRecord, s)
	}
	end := start
	if isRange {
		end, err = strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return PortRange{}, fmt.Errorf("%w: invalid port range %q", ErrMalformedRecord, s)
		}
	}
	r := PortRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return PortRange{}, err
	}
	return r, nil
}

// Validate checks 1 <= Start <= End <= 65535.
func (r PortRange) Validate() error {
	if r.Start < MinPort || r.Start > MaxPort || r.End < MinPort || r.End > MaxPort {
		return fmt.Errorf("%w: port %s outside %d-%d", ErrMalformedRecord, r, MinPort, MaxPort)
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: range start %d greater than end %d", ErrMalformedRecord, r.Start, r.End)
	}
	return nil
}

// Contains reports whether port falls within the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// IsSingle reports whether the range covers exactly one port.
func (r PortRange) IsSingle() bool {
	return r.Start == r.End
}

func (r PortRange) String() string {
	if r.IsSingle() {
		return strconv.Itoa(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParsePortSpec parses firewalld's "port[-port]/proto" notation.
func ParsePortSpec(s string) (PortRange, Protocol, error) {
	portPart, protoPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return PortRange{}, "", fmt.Errorf("%w: missing protocol in %q", ErrMalformedRecord, s)
	}
	proto, err := ParseProtocol(protoPart)
	if err != nil {
		return PortRange{}, "", err
	}
	r, err := ParsePortRange(portPart)
	if err != nil {
		return PortRange{}, "", err
	}
	return r, proto, nil
}

// Origin records how a port came to be open in a zone.
type Origin uint8

const (
	// OriginExplicit is a port listed directly on the zone.
	OriginExplicit Origin = iota
	// OriginService is a port contributed by a service bound to the zone.
	OriginService
)

func (o Origin) String() string {
	switch o {
	case OriginExplicit:
		return "explicit"
	case OriginService:
		return "service"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Permanence is a bitmask of the configurations a rule is present in.
type Permanence uint8

const (
	Runtime Permanence = 1 << iota
	Permanent

	Both = Runtime | Permanent
)

func (p Permanence) String() string {
	switch p {
	case Runtime:
		return "runtime"
	case Permanent:
		return "permanent"
	case Both:
		return "both"
	}
	return "none"
}

// MarshalText implements encoding.TextMarshaler.
func (p Permanence) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePermanence is the inverse of Permanence.String.
func ParsePermanence(s string) (Permanence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "runtime":
		return Runtime, nil
	case "permanent":
		return Permanent, nil
	case "", "both":
		return Both, nil
	}
	return 0, fmt.Errorf("%w: unknown permanence %q", ErrMalformedRecord, s)
}

// PortRule is a single port or range opened in a zone.
type PortRule struct {
	Range      PortRange  `json:"range"`
	Protocol   Protocol   `json:"protocol"`
	Origin     Origin     `json:"origin"`
	Permanence Permanence `json:"permanence"`
	// Service is set for service-derived rules.
	Service string `json:"service,omitempty"`
}

// Validate reports a malformed rule.
func (r PortRule) Validate() error {
	if !r.Protocol.Valid() {
		if r.Protocol == "" {
			return fmt.Errorf("%w: empty protocol", ErrMalformedRecord)
		}
		return fmt.Errorf("%w: unsupported protocol %q", ErrMalformedRecord, string(r.Protocol))
	}
	if err := r.Range.Validate(); err != nil {
		return err
	}
	if r.Permanence&Both == 0 {
		return fmt.Errorf("%w: rule %s/%s has no permanence", ErrMalformedRecord, r.Range, r.Protocol)
	}
	return nil
}

func (r PortRule) String() string {
	return r.Range.String() + "/" + string(r.Protocol)
}

// Zone is a firewalld zone with its bindings.
type Zone struct {
	Name       string   `json:"name"`
	Active     bool     `json:"active"`
	Default    bool     `json:"default"`
	Target     string   `json:"target,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// ServiceBinding is a service enabled on a zone.
type ServiceBinding struct {
	Name       string     `json:"name"`
	Permanence Permanence `json:"permanence"`
}

// ServiceDefinition is a named bundle of ports from the service catalog.
type ServiceDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Ports       []PortSpec `json:"ports"`
	Includes    []string   `json:"includes,omitempty"`
}

// PortSpec is a catalog port without zone-specific fields.
type PortSpec struct {
	Range    PortRange `json:"range"`
	Protocol Protocol  `json:"protocol"`
}

func (p PortSpec) String() string {
	return p.Range.String() + "/" + string(p.Protocol)
}

// Mode is the overall firewall state.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeActive
	ModeInactive
	// ModePanic drops all traffic regardless of zone configuration.
	ModePanic
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeInactive:
		return "inactive"
	case ModePanic:
		return "panic"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "active", "running":
		return ModeActive, nil
	case "inactive", "not running", "stopped":
		return ModeInactive, nil
	case "panic":
		return ModePanic, nil
	case "unknown":
		return ModeUnknown, nil
	}
	return ModeUnknown, fmt.Errorf("%w: unknown firewall mode %q", ErrMalformedRecord, s)
}

// ValidateZones enforces unique names and at most one default zone. The
// returned slice keeps the first occurrence of each name and the first
// default; every violation is reported as a warning.
func ValidateZones(zones []Zone) ([]Zone, []Warning) {
	var warnings []Warning
	seen := make(map[string]bool, len(zones))
	out := make([]Zone, 0, len(zones))
	defaultName := ""
	for _, z := range zones {
		if z.Name == "" {
			warnings = append(warnings, Warning{Record: "zone", Err: fmt.Errorf("%w: zone with empty name", ErrMalformedRecord)})
			continue
		}
		if err := validation.ValidateIdentifier(z.Name); err != nil {
			warnings = append(warnings, Warning{Record: "zone", Err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)})
			continue
		}
		if seen[z.Name] {
			warnings = append(warnings, Warning{Zone: z.Name, Record: "zone", Err: fmt.Errorf("%w: duplicate zone", ErrMalformedRecord)})
			continue
		}
		seen[z.Name] = true
		if z.Default {
			if defaultName != "" {
				warnings = append(warnings, Warning{
					Zone:   z.Name,
					Record: "zone",
					Err:    fmt.Errorf("%w: second default zone, keeping %s", ErrMalformedRecord, defaultName),
				})
				z.Default = false
			} else {
				defaultName = z.Name
			}
		}
		z.Interfaces = keepValid(z.Interfaces, validation.ValidateInterfaceName, func(err error) {
			warnings = append(warnings, Warning{Zone: z.Name, Record: "interface", Err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)})
		})
		z.Sources = keepValid(z.Sources, validation.ValidateZoneSource, func(err error) {
			warnings = append(warnings, Warning{Zone: z.Name, Record: "source", Err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)})
		})
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, warnings
}

// keepValid returns a copy of in without the values check rejects.
func keepValid(in []string, check func(string) error, reject func(error)) []string {
	var out []string
	for _, v := range in {
		if err := check(v); err != nil {
			reject(err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// DefaultZone returns the default zone name, or "".
func DefaultZone(zones []Zone) string {
	for _, z := range zones {
		if z.Default {
			return z.Name
		}
	}
	return ""
}
