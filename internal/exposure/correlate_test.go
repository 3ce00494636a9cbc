package exposure

import (
	"net/netip"
	"strconv"
	"testing"

	"grimm.is/warden/internal/firewall"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consolidated(zones []firewall.Zone, ports map[string][]firewall.PortRule) []firewall.Entry {
	snap := firewall.NewStateSnapshot()
	snap.Mode = firewall.ModeActive
	snap.Zones = zones
	for z, rules := range ports {
		snap.Ports[z] = rules
	}
	return firewall.Consolidate(snap).Entries
}

func sock(addr string, port int, proto firewall.Protocol) ListeningSocket {
	return ListeningSocket{Address: netip.MustParseAddr(addr), Port: port, Protocol: proto}
}

func rule(port int, proto firewall.Protocol) firewall.PortRule {
	return firewall.PortRule{Range: firewall.SinglePort(port), Protocol: proto, Permanence: firewall.Permanent}
}

func TestCorrelate_AllowedOnActiveZone(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true, Interfaces: []string{"eth0"}}}
	entries := consolidated(zones, map[string][]firewall.PortRule{"public": {rule(22, firewall.TCP)}})

	require.Len(t, entries, 1)
	assert.Equal(t, []string{"public"}, entries[0].Zones)
	assert.True(t, entries[0].HasOrigin(firewall.OriginExplicit))

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 22, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	require.Len(t, r.Assessments, 1)
	assert.Equal(t, Allowed, r.Assessments[0].Verdict)
	assert.Equal(t, []string{"public"}, r.Assessments[0].Zones)
	assert.True(t, r.Assessments[0].Exposed)
	assert.Equal(t, 1, r.Counts["allowed"])
}

func TestCorrelate_UnfirewalledWithoutRule(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true, Interfaces: []string{"eth0"}}}

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 22, firewall.TCP)},
		Entries: consolidated(zones, nil),
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	assert.Equal(t, Unfirewalled, r.Assessments[0].Verdict)
	assert.False(t, r.Assessments[0].Exposed)
}

func TestCorrelate_BlockedOnInactiveZone(t *testing.T) {
	zones := []firewall.Zone{{Name: "public"}}
	entries := consolidated(zones, map[string][]firewall.PortRule{"public": {rule(8080, firewall.TCP)}})

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 8080, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	assert.Equal(t, Blocked, r.Assessments[0].Verdict)
	assert.Equal(t, []string{"public"}, r.Assessments[0].Zones)
	assert.Equal(t, []string{"8080/tcp"}, r.Assessments[0].Entries)
}

func TestCorrelate_AllowedBeatsBlocked(t *testing.T) {
	zones := []firewall.Zone{
		{Name: "dmz"},
		{Name: "home", Active: true, Interfaces: []string{"wlan0"}},
	}
	entries := consolidated(zones, map[string][]firewall.PortRule{
		"dmz":  {rule(443, firewall.TCP)},
		"home": {rule(443, firewall.TCP)},
	})

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("::", 443, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	assert.Equal(t, Allowed, r.Assessments[0].Verdict)
	assert.Equal(t, []string{"home"}, r.Assessments[0].Zones)
}

func TestCorrelate_RangeMatch(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true, Default: true}}
	entries := consolidated(zones, map[string][]firewall.PortRule{"public": {{
		Range: firewall.PortRange{Start: 60000, End: 61000}, Protocol: firewall.UDP, Permanence: firewall.Both,
	}}})

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 60001, firewall.UDP), sock("0.0.0.0", 60001, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	require.Len(t, r.Assessments, 2)
	assert.Equal(t, firewall.TCP, r.Assessments[0].Socket.Protocol)
	assert.Equal(t, Unfirewalled, r.Assessments[0].Verdict, "protocol must match")
	assert.Equal(t, Allowed, r.Assessments[1].Verdict)
}

func TestCorrelate_AddressScoped(t *testing.T) {
	zones := []firewall.Zone{
		{Name: "public", Active: true, Default: true, Interfaces: []string{"eth0"}},
		{Name: "internal", Active: true, Interfaces: []string{"eth1"}},
	}
	entries := consolidated(zones, map[string][]firewall.PortRule{
		"public":   {rule(80, firewall.TCP)},
		"internal": {rule(5432, firewall.TCP)},
	})
	addrs := AddressMap{
		netip.MustParseAddr("203.0.113.5"): "eth0",
		netip.MustParseAddr("10.0.0.5"):    "eth1",
		netip.MustParseAddr("10.9.9.9"):    "wg0",
	}

	r := Correlate(Input{
		Sockets: []ListeningSocket{
			sock("10.0.0.5", 80, firewall.TCP),     // internal interface, rule only in public
			sock("203.0.113.5", 5432, firewall.TCP), // public interface, rule only in internal
			sock("10.0.0.5", 5432, firewall.TCP),    // internal interface, internal rule
			sock("10.9.9.9", 80, firewall.TCP),      // unbound interface falls back to default zone
		},
		Entries:   entries,
		Zones:     zones,
		Addresses: addrs,
		Mode:      firewall.ModeActive,
	})

	got := map[string]Verdict{}
	for _, a := range r.Assessments {
		got[a.Socket.String()] = a.Verdict
	}
	assert.Equal(t, map[string]Verdict{
		"80/tcp@10.0.0.5":      Blocked,
		"5432/tcp@203.0.113.5": Blocked,
		"5432/tcp@10.0.0.5":    Allowed,
		"80/tcp@10.9.9.9":      Allowed,
	}, got)
}

func TestCorrelate_LoopbackNotExposed(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true, Default: true, Interfaces: []string{"eth0"}}}
	entries := consolidated(zones, map[string][]firewall.PortRule{"public": {rule(631, firewall.TCP)}})

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("127.0.0.1", 631, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	a := r.Assessments[0]
	assert.Equal(t, "lo", a.Interface)
	assert.Equal(t, Allowed, a.Verdict)
	assert.False(t, a.Exposed)
}

func TestCorrelate_Modes(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true}}
	entries := consolidated(zones, map[string][]firewall.PortRule{"public": {rule(22, firewall.TCP)}})
	in := Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 22, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
	}

	in.Mode = firewall.ModePanic
	assert.Equal(t, Blocked, Correlate(in).Assessments[0].Verdict)

	in.Mode = firewall.ModeInactive
	a := Correlate(in).Assessments[0]
	assert.Equal(t, Unfirewalled, a.Verdict)
	assert.True(t, a.Exposed)

	in.Mode = firewall.ModeActive
	in.Unavailable = true
	r := Correlate(in)
	assert.Equal(t, Unknown, r.Assessments[0].Verdict)
	assert.Equal(t, firewall.ModeUnknown, r.Mode)
}

func TestCorrelate_ZeroModeIsActive(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true, Interfaces: []string{"eth0"}}}

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 22, firewall.TCP)},
		Entries: consolidated(zones, map[string][]firewall.PortRule{"public": {rule(22, firewall.TCP)}}),
		Zones:   zones,
	})
	assert.Equal(t, firewall.ModeActive, r.Mode)
	assert.Equal(t, Allowed, r.Assessments[0].Verdict)
	assert.True(t, r.Assessments[0].Exposed)
}

func TestCorrelate_AcceptTarget(t *testing.T) {
	zones := []firewall.Zone{{Name: "trusted", Active: true, Target: "ACCEPT", Sources: []string{"10.0.0.0/8"}}}

	r := Correlate(Input{
		Sockets:   []ListeningSocket{sock("10.1.2.3", 9000, firewall.TCP)},
		Zones:     zones,
		Addresses: AddressMap{netip.MustParseAddr("10.1.2.3"): "eth1"},
		Mode:      firewall.ModeActive,
	})
	assert.Equal(t, Allowed, r.Assessments[0].Verdict)
	assert.Equal(t, []string{"trusted"}, r.Assessments[0].Zones)
}

func TestCorrelate_AcceptTargetBeatsInactiveRule(t *testing.T) {
	zones := []firewall.Zone{
		{Name: "trusted", Active: true, Target: "ACCEPT", Interfaces: []string{"eth0"}},
		{Name: "work"},
	}
	entries := consolidated(zones, map[string][]firewall.PortRule{"work": {rule(8080, firewall.TCP)}})
	require.Len(t, entries, 1)

	r := Correlate(Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 8080, firewall.TCP)},
		Entries: entries,
		Zones:   zones,
		Mode:    firewall.ModeActive,
	})
	a := r.Assessments[0]
	assert.Equal(t, Allowed, a.Verdict)
	assert.Equal(t, []string{"trusted"}, a.Zones)
	assert.True(t, a.Exposed)
	assert.Len(t, a.Entries, 1)
}

func TestCorrelate_DenyRichRule(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true, Default: true, Interfaces: []string{"eth0"}}}
	entries := consolidated(zones, map[string][]firewall.PortRule{"public": {rule(8080, firewall.TCP), rule(53, firewall.UDP)}})
	deny := func(raw string) firewall.RichRule {
		r, err := firewall.ParseRichRule(raw)
		require.NoError(t, err)
		return r
	}
	in := Input{
		Sockets: []ListeningSocket{
			sock("0.0.0.0", 8080, firewall.TCP),
			sock("0.0.0.0", 53, firewall.UDP),
			sock("::", 8080, firewall.TCP),
			sock("0.0.0.0", 9000, firewall.TCP),
		},
		Entries: entries,
		Zones:   zones,
		Denies: map[string][]firewall.RichRule{"public": {
			deny(`rule family="ipv4" port port="8080" protocol="tcp" reject`),
			deny(`rule source address="10.0.0.0/8" port port="53" protocol="udp" drop`),
			deny(`rule port port="9000-9010" protocol="tcp" drop`),
		}},
		Mode: firewall.ModeActive,
	}

	byKey := map[string]Assessment{}
	for _, a := range Correlate(in).Assessments {
		byKey[a.Socket.Address.String()+"/"+string(a.Socket.Protocol)+"/"+strconv.Itoa(a.Socket.Port)] = a
	}

	v4 := byKey["0.0.0.0/tcp/8080"]
	assert.Equal(t, Blocked, v4.Verdict)
	assert.Equal(t, []string{"public"}, v4.Rejected)
	assert.False(t, v4.Exposed)

	assert.Equal(t, Allowed, byKey["0.0.0.0/udp/53"].Verdict, "source-scoped deny")
	assert.Equal(t, Allowed, byKey["::/tcp/8080"].Verdict, "ipv4 rule leaves the v6 path open")

	unopened := byKey["0.0.0.0/tcp/9000"]
	assert.Equal(t, Blocked, unopened.Verdict)
	assert.Empty(t, unopened.Zones)
	assert.Equal(t, []string{"public"}, unopened.Rejected)
}

func TestCorrelate_PureAndRepeatable(t *testing.T) {
	zones := []firewall.Zone{{Name: "public", Active: true}}
	in := Input{
		Sockets: []ListeningSocket{sock("0.0.0.0", 22, firewall.TCP), sock("0.0.0.0", 21, firewall.TCP)},
		Entries: consolidated(zones, map[string][]firewall.PortRule{"public": {rule(22, firewall.TCP)}}),
		Zones:   zones,
		Mode:    firewall.ModeActive,
	}

	first := Correlate(in)
	second := Correlate(in)
	assert.Equal(t, first, second)
	assert.Equal(t, 22, in.Sockets[0].Port, "input order is untouched")
	assert.Equal(t, 21, first.Assessments[0].Socket.Port)
}

func TestCorrelate_Empty(t *testing.T) {
	r := Correlate(Input{Mode: firewall.ModeActive})
	assert.Empty(t, r.Assessments)
}

func TestZoneApplies(t *testing.T) {
	zones := []firewall.Zone{
		{Name: "public", Default: true},
		{Name: "work", Active: true, Interfaces: []string{"eth1"}, Sources: []string{"192.168.50.7"}},
		{Name: "block"},
	}
	wild := Scope{}
	eth1 := Scope{Address: netip.MustParseAddr("10.0.0.1"), Interface: "eth1"}
	eth2 := Scope{Address: netip.MustParseAddr("10.0.0.2"), Interface: "eth2"}
	srcAddr := Scope{Address: netip.MustParseAddr("192.168.50.7"), Interface: "eth3"}

	assert.True(t, ZoneApplies(zones, "public", wild), "default applies to wildcard")
	assert.True(t, ZoneApplies(zones, "work", wild))
	assert.False(t, ZoneApplies(zones, "block", wild))
	assert.False(t, ZoneApplies(zones, "missing", wild))

	assert.True(t, ZoneApplies(zones, "work", eth1))
	assert.False(t, ZoneApplies(zones, "public", eth1), "eth1 is claimed by work")
	assert.True(t, ZoneApplies(zones, "public", eth2))
	assert.False(t, ZoneApplies(zones, "work", eth2))

	assert.True(t, ZoneApplies(zones, "work", srcAddr), "source address binding")
	assert.False(t, ZoneApplies(zones, "public", srcAddr))
}
