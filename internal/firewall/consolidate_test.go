package firewall

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *StateSnapshot {
	snap := NewStateSnapshot()
	snap.Mode = ModeActive
	snap.Zones = []Zone{
		{Name: "public", Active: true, Default: true, Interfaces: []string{"eth0"}},
		{Name: "home", Active: true, Interfaces: []string{"wlan0"}},
		{Name: "dmz"},
	}
	snap.Ports["public"] = []PortRule{
		{Range: SinglePort(443), Protocol: TCP, Permanence: Permanent},
		{Range: SinglePort(22), Protocol: TCP, Permanence: Both},
	}
	snap.Ports["home"] = []PortRule{
		{Range: PortRange{Start: 1000, End: 2000}, Protocol: UDP, Permanence: Runtime},
		{Range: PortRange{Start: 1500, End: 2500}, Protocol: UDP, Permanence: Runtime},
	}
	snap.Services["home"] = []ServiceBinding{{Name: "https", Permanence: Both}}
	snap.Services["dmz"] = []ServiceBinding{{Name: "ssh", Permanence: Runtime}}
	snap.Catalog = BuiltinCatalog()
	return snap
}

func findEntry(t *testing.T, c *Consolidation, key string) Entry {
	t.Helper()
	for _, e := range c.Entries {
		if e.Key() == key {
			return e
		}
	}
	t.Fatalf("entry %s not found", key)
	return Entry{}
}

func TestConsolidate_DedupAcrossOrigins(t *testing.T) {
	c := Consolidate(testSnapshot())
	require.Empty(t, c.Warnings)

	e := findEntry(t, c, "443/tcp")
	assert.Equal(t, []string{"home", "public"}, e.Zones)
	assert.Equal(t, []string{"https"}, e.Services)
	assert.True(t, e.HasOrigin(OriginExplicit))
	assert.True(t, e.HasOrigin(OriginService))
	assert.Equal(t, []Grant{
		{Zone: "home", Origin: OriginService, Service: "https", Permanence: Both},
		{Zone: "public", Origin: OriginExplicit, Permanence: Permanent},
	}, e.Grants)

	count := 0
	for _, entry := range c.Entries {
		if entry.Key() == "443/tcp" {
			count++
		}
	}
	assert.Equal(t, 1, count, "dedup key must be unique")
}

func TestConsolidate_PerZonePermanence(t *testing.T) {
	c := Consolidate(testSnapshot())

	e := findEntry(t, c, "22/tcp")
	assert.Equal(t, map[string]Permanence{"public": Both, "dmz": Runtime}, e.Permanence)
	assert.Equal(t, []string{"dmz", "public"}, e.Zones)
}

func TestConsolidate_OverlappingRangesNotMerged(t *testing.T) {
	c := Consolidate(testSnapshot())

	findEntry(t, c, "1000-2000/udp")
	findEntry(t, c, "1500-2500/udp")
}

func TestConsolidate_Ordering(t *testing.T) {
	c := Consolidate(testSnapshot())

	var keys []string
	for _, e := range c.Entries {
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []string{"22/tcp", "443/tcp", "1000-2000/udp", "1500-2500/udp"}, keys)
}

func TestConsolidate_Idempotent(t *testing.T) {
	snap := testSnapshot()

	first, err := json.Marshal(Consolidate(snap))
	require.NoError(t, err)
	second, err := json.Marshal(Consolidate(snap))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestConsolidate_ZoneOrderIndependent(t *testing.T) {
	a := testSnapshot()
	b := testSnapshot()
	b.Zones = []Zone{b.Zones[2], b.Zones[0], b.Zones[1]}
	b.Ports["public"] = []PortRule{b.Ports["public"][1], b.Ports["public"][0]}

	assert.Equal(t, Consolidate(a).Entries, Consolidate(b).Entries)
}

func TestConsolidate_DoesNotMutateInput(t *testing.T) {
	snap := testSnapshot()
	before, err := json.Marshal(snap)
	require.NoError(t, err)

	Consolidate(snap)

	after, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestConsolidate_MalformedRecordsAreWarnings(t *testing.T) {
	snap := testSnapshot()
	snap.Ports["public"] = append(snap.Ports["public"],
		PortRule{Range: SinglePort(80), Protocol: "", Permanence: Both},
		PortRule{Range: SinglePort(0), Protocol: TCP, Permanence: Both},
		PortRule{Range: PortRange{Start: 9000, End: 8000}, Protocol: TCP, Permanence: Both},
	)
	snap.Ports["ghost"] = []PortRule{{Range: SinglePort(25), Protocol: TCP, Permanence: Both}}
	snap.Services["home"] = append(snap.Services["home"], ServiceBinding{Name: "no-such-service", Permanence: Both})

	c := Consolidate(snap)

	require.Len(t, c.Warnings, 5)
	var unknownZone, unknownService, malformed int
	for _, w := range c.Warnings {
		switch {
		case assert.ObjectsAreEqual(w.Err, ErrUnknownZone):
			unknownZone++
		case w.Service == "no-such-service":
			assert.ErrorIs(t, w, ErrUnknownService)
			unknownService++
		default:
			assert.ErrorIs(t, w, ErrMalformedRecord)
			malformed++
		}
	}
	assert.Equal(t, 1, unknownZone)
	assert.Equal(t, 1, unknownService)
	assert.Equal(t, 3, malformed)

	// valid data survives
	assert.Len(t, c.Entries, 4)
	for _, e := range c.Entries {
		assert.NotContains(t, e.Zones, "ghost")
	}
}

func TestConsolidate_EmptyInput(t *testing.T) {
	c := Consolidate(nil)
	assert.NotNil(t, c.Entries)
	assert.Empty(t, c.Entries)

	c = Consolidate(NewStateSnapshot())
	assert.Empty(t, c.Entries)
	assert.Empty(t, c.Warnings)
}

func TestConsolidate_ServiceIncludes(t *testing.T) {
	snap := NewStateSnapshot()
	snap.Zones = []Zone{{Name: "public", Active: true}}
	snap.Catalog = map[string]ServiceDefinition{
		"web":   {Name: "web", Includes: []string{"http", "https", "web"}},
		"http":  {Name: "http", Ports: []PortSpec{{Range: SinglePort(80), Protocol: TCP}}},
		"https": {Name: "https", Ports: []PortSpec{{Range: SinglePort(443), Protocol: TCP}}},
	}
	snap.Services["public"] = []ServiceBinding{{Name: "web", Permanence: Permanent}}

	c := Consolidate(snap)
	require.Len(t, c.Entries, 2)
	assert.Equal(t, []string{"web"}, c.Entries[0].Services)
	assert.Equal(t, "80/tcp", c.Entries[0].Key())
	assert.Equal(t, "443/tcp", c.Entries[1].Key())
}

func TestMatchEntries(t *testing.T) {
	c := Consolidate(testSnapshot())

	assert.Len(t, c.Match(1600, UDP), 2)
	assert.Len(t, c.Match(1600, TCP), 0)
	assert.Len(t, c.Match(22, TCP), 1)
}

func TestAnnotate(t *testing.T) {
	c := Consolidate(testSnapshot())
	idx := AnnotationIndex{}
	idx.Add(SinglePort(22), TCP, Annotation{Name: "Admin SSH", Zone: "public"})
	idx.Add(SinglePort(22), TCP, Annotation{Name: "SSH"})
	idx.Add(SinglePort(22), TCP, Annotation{Name: "ignored", Zone: "home"})

	annotated := Annotate(c.Entries, idx)

	require.Len(t, annotated, len(c.Entries))
	e := annotated[0]
	require.NotNil(t, e.Annotation)
	assert.Equal(t, "SSH", e.Annotation.Name)
	assert.Equal(t, "SSH", e.DisplayName())
	assert.Nil(t, c.Entries[0].Annotation, "input entries must not be modified")
	assert.Equal(t, "https", annotated[1].DisplayName())
}
