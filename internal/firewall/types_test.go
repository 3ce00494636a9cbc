package firewall

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortRange(t *testing.T) {
	tests := []struct {
		in      string
		want    PortRange
		wantErr bool
	}{
		{"22", PortRange{22, 22}, false},
		{" 1025-65535 ", PortRange{1025, 65535}, false},
		{"1", PortRange{1, 1}, false},
		{"0", PortRange{}, true},
		{"65536", PortRange{}, true},
		{"200-100", PortRange{}, true},
		{"abc", PortRange{}, true},
		{"10-", PortRange{}, true},
		{"", PortRange{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePortRange(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedRecord))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePortSpec(t *testing.T) {
	rng, proto, err := ParsePortSpec("8000-8100/UDP")
	require.NoError(t, err)
	assert.Equal(t, PortRange{8000, 8100}, rng)
	assert.Equal(t, UDP, proto)

	_, _, err = ParsePortSpec("22")
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, _, err = ParsePortSpec("22/sctp")
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, _, err = ParsePortSpec("22/")
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestPortRange_Contains(t *testing.T) {
	r := PortRange{Start: 1000, End: 2000}
	assert.True(t, r.Contains(1000))
	assert.True(t, r.Contains(2000))
	assert.False(t, r.Contains(999))
	assert.False(t, r.Contains(2001))
	assert.Equal(t, "1000-2000", r.String())
	assert.Equal(t, "22", SinglePort(22).String())
}

func TestPortRule_Validate(t *testing.T) {
	ok := PortRule{Range: SinglePort(22), Protocol: TCP, Permanence: Permanent}
	assert.NoError(t, ok.Validate())

	noProto := ok
	noProto.Protocol = ""
	assert.ErrorIs(t, noProto.Validate(), ErrMalformedRecord)

	noPerm := ok
	noPerm.Permanence = 0
	assert.ErrorIs(t, noPerm.Validate(), ErrMalformedRecord)

	badRange := ok
	badRange.Range = PortRange{Start: 70000, End: 70000}
	assert.ErrorIs(t, badRange.Validate(), ErrMalformedRecord)
}

func TestPermanence(t *testing.T) {
	assert.Equal(t, Both, Runtime|Permanent)
	assert.Equal(t, "runtime", Runtime.String())
	assert.Equal(t, "both", Both.String())

	p, err := ParsePermanence("permanent")
	require.NoError(t, err)
	assert.Equal(t, Permanent, p)

	_, err = ParsePermanence("forever")
	assert.Error(t, err)
}

func TestValidateZones(t *testing.T) {
	zones, warnings := ValidateZones([]Zone{
		{Name: "public", Default: true},
		{Name: "home", Default: true},
		{Name: "public"},
		{Name: ""},
		{Name: "dmz"},
	})

	require.Len(t, zones, 3)
	assert.Equal(t, "dmz", zones[0].Name)
	assert.Equal(t, "home", zones[1].Name)
	assert.False(t, zones[1].Default, "second default must be demoted")
	assert.True(t, zones[2].Default)
	assert.Equal(t, "public", DefaultZone(zones))
	assert.Len(t, warnings, 3)
	for _, w := range warnings {
		assert.ErrorIs(t, w, ErrMalformedRecord)
	}
}

func TestValidateZones_DropsMalformedMembers(t *testing.T) {
	zones, warnings := ValidateZones([]Zone{
		{Name: "bad;zone"},
		{
			Name:       "internal",
			Interfaces: []string{"eth0", "veth+", "this-name-is-far-too-long"},
			Sources:    []string{"10.0.0.0/8", "ipset:blocklist", "52:54:00:12:34:56", "10.0.0.300"},
		},
	})

	require.Len(t, zones, 1)
	assert.Equal(t, []string{"eth0", "veth+"}, zones[0].Interfaces)
	assert.Equal(t, []string{"10.0.0.0/8", "ipset:blocklist", "52:54:00:12:34:56"}, zones[0].Sources)

	require.Len(t, warnings, 3)
	assert.Equal(t, "zone", warnings[0].Record)
	assert.Equal(t, "interface", warnings[1].Record)
	assert.Equal(t, "source", warnings[2].Record)
	for _, w := range warnings {
		assert.ErrorIs(t, w, ErrMalformedRecord)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeActive, m)

	m, err = ParseMode("panic")
	require.NoError(t, err)
	assert.Equal(t, ModePanic, m)

	_, err = ParseMode("sideways")
	assert.Error(t, err)
}
