package exposure

import (
	"net/netip"
	"slices"
	"sort"
	"strings"

	"grimm.is/warden/internal/firewall"
)

// Verdict classifies a listening socket against the firewall view.
type Verdict uint8

const (
	// Unknown means firewall state could not be read.
	Unknown Verdict = iota
	// Unfirewalled means no consolidated entry covers the socket.
	Unfirewalled
	// Blocked means entries cover the socket only in zones that do not
	// apply to it, or an applicable zone denies it with a rich rule.
	Blocked
	// Allowed means an entry in an applicable zone covers the socket.
	Allowed
)

func (v Verdict) String() string {
	switch v {
	case Unfirewalled:
		return "unfirewalled"
	case Blocked:
		return "blocked"
	case Allowed:
		return "allowed"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Scope is the address context a socket is reachable from.
type Scope struct {
	Address   netip.Addr
	Interface string
}

// Wildcard reports whether the scope covers every address.
func (s Scope) Wildcard() bool {
	return !s.Address.IsValid() || s.Address.IsUnspecified()
}

// ZoneApplies reports whether zone governs traffic reaching scope.
//
// For a wildcard scope any active zone applies, as does the default zone.
// For an address scope an active zone applies when it is bound to the
// scope's interface or has a source containing the address; the default
// zone applies unless another zone claims the interface or address.
func ZoneApplies(zones []firewall.Zone, zone string, scope Scope) bool {
	idx := slices.IndexFunc(zones, func(z firewall.Zone) bool { return z.Name == zone })
	if idx < 0 {
		return false
	}
	z := zones[idx]

	if scope.Wildcard() {
		return z.Active || z.Default
	}
	if z.Active && claims(z, scope) {
		return true
	}
	if !z.Default {
		return false
	}
	for _, other := range zones {
		if other.Name != z.Name && other.Active && claims(other, scope) {
			return false
		}
	}
	return true
}

func claims(z firewall.Zone, scope Scope) bool {
	if scope.Interface != "" && slices.Contains(z.Interfaces, scope.Interface) {
		return true
	}
	for _, src := range z.Sources {
		if sourceContains(src, scope.Address) {
			return true
		}
	}
	return false
}

func sourceContains(src string, addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	if strings.Contains(src, "/") {
		prefix, err := netip.ParsePrefix(src)
		if err != nil {
			return false
		}
		return prefix.Contains(addr)
	}
	a, err := netip.ParseAddr(src)
	if err != nil {
		return false
	}
	return a.Unmap() == addr
}

// Input is a point-in-time view for Correlate.
type Input struct {
	Sockets   []ListeningSocket
	Entries   []firewall.Entry
	Zones     []firewall.Zone
	Addresses AddressMap
	// Denies holds each zone's port-scoped reject and drop rich rules.
	Denies map[string][]firewall.RichRule
	// Mode of the firewall. The zero value is treated as active.
	Mode firewall.Mode
	// Unavailable marks firewall data as unreadable; every socket gets the
	// Unknown verdict.
	Unavailable bool
}

// Assessment is the verdict for one socket.
type Assessment struct {
	Socket  ListeningSocket `json:"socket"`
	Verdict Verdict         `json:"verdict"`
	// Zones lists the zones that allowed the socket, or for a blocked
	// socket the zones whose entries matched but did not apply.
	Zones []string `json:"zones,omitempty"`
	// Rejected lists applicable zones whose rich rules deny the socket.
	Rejected []string `json:"rejected,omitempty"`
	// Entries lists matching consolidated keys.
	Entries   []string `json:"entries,omitempty"`
	Interface string   `json:"interface,omitempty"`
	// Exposed is true when the socket is reachable from another host.
	Exposed bool `json:"exposed"`
}

// Report is the output of Correlate.
type Report struct {
	Mode        firewall.Mode  `json:"mode"`
	Assessments []Assessment   `json:"assessments"`
	Counts      map[string]int `json:"counts"`
}

// Correlate classifies every socket in in. It has no side effects and its
// output depends only on in.
//
// Precedence is Allowed > Blocked > Unfirewalled. A zone allows a socket
// through a matching entry or an ACCEPT target, unless one of its deny
// rich rules covers the socket. Panic mode blocks every socket; an
// inactive firewall leaves every socket unfirewalled.
func Correlate(in Input) *Report {
	mode := in.Mode
	switch {
	case in.Unavailable:
		mode = firewall.ModeUnknown
	case mode == firewall.ModeUnknown:
		mode = firewall.ModeActive
	}
	r := &Report{
		Mode:        mode,
		Assessments: make([]Assessment, 0, len(in.Sockets)),
		Counts:      make(map[string]int),
	}
	sockets := slices.Clone(in.Sockets)
	SortSockets(sockets)

	for _, s := range sockets {
		a := assess(in, mode, s)
		r.Assessments = append(r.Assessments, a)
		r.Counts[a.Verdict.String()]++
	}
	return r
}

func assess(in Input, mode firewall.Mode, s ListeningSocket) Assessment {
	scope := Scope{Address: s.Address.Unmap()}
	if !scope.Wildcard() {
		scope.Interface = in.Addresses.Interface(scope.Address)
	}
	loopback := !scope.Wildcard() && scope.Address.IsLoopback()
	a := Assessment{Socket: s, Interface: scope.Interface}

	switch mode {
	case firewall.ModeUnknown:
		a.Verdict = Unknown
		return a
	case firewall.ModePanic:
		a.Verdict = Blocked
		return a
	case firewall.ModeInactive:
		a.Verdict = Unfirewalled
		a.Exposed = !loopback
		return a
	}

	allowed := map[string]bool{}
	matched := map[string]bool{}
	rejected := map[string]bool{}
	for _, z := range in.Zones {
		if !ZoneApplies(in.Zones, z.Name, scope) {
			continue
		}
		if denied(in.Denies[z.Name], s) {
			rejected[z.Name] = true
			continue
		}
		// A zone with an ACCEPT target admits every port.
		if strings.EqualFold(z.Target, "ACCEPT") {
			allowed[z.Name] = true
		}
	}

	for _, e := range firewall.MatchEntries(in.Entries, s.Port, s.Protocol) {
		a.Entries = append(a.Entries, e.Key())
		for _, zone := range e.Zones {
			matched[zone] = true
			if !rejected[zone] && ZoneApplies(in.Zones, zone, scope) {
				allowed[zone] = true
			}
		}
	}
	if len(rejected) > 0 {
		a.Rejected = sortedSet(rejected)
	}

	switch {
	case len(allowed) > 0:
		a.Verdict = Allowed
		a.Zones = sortedSet(allowed)
		a.Exposed = !loopback
	case len(matched) > 0 || len(rejected) > 0:
		a.Verdict = Blocked
		if len(matched) > 0 {
			a.Zones = sortedSet(matched)
		}
	default:
		a.Verdict = Unfirewalled
	}
	return a
}

// denied reports whether an unconditional deny rule covers s. Rules scoped
// to a source only drop part of the traffic and are ignored.
func denied(rules []firewall.RichRule, s ListeningSocket) bool {
	for _, r := range rules {
		if !r.Denies() || !r.HasPort() || r.Source != "" {
			continue
		}
		if r.Protocol != s.Protocol || !r.Port.Contains(s.Port) {
			continue
		}
		if familyCovers(r.Family, s.Address) {
			return true
		}
	}
	return false
}

// familyCovers reports whether a rule of family reaches every path to addr.
// An IPv6 wildcard also accepts IPv4, so only a family-less rule covers it.
func familyCovers(family string, addr netip.Addr) bool {
	switch family {
	case "":
		return true
	case "ipv4":
		return addr.Unmap().Is4()
	case "ipv6":
		return addr.Is6() && !addr.Is4In6() && !addr.IsUnspecified()
	}
	return false
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
