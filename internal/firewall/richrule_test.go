package firewall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRichRule(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   RichRule
		denies bool
	}{
		{
			name:   "port reject with source",
			in:     `rule family="ipv4" source address="192.168.0.0/16" port port="3306" protocol="tcp" reject type="icmp-port-unreachable"`,
			want:   RichRule{Family: "ipv4", Source: "192.168.0.0/16", Port: SinglePort(3306), Protocol: TCP, Action: "reject"},
			denies: true,
		},
		{
			name: "inverted source accept",
			in:   `rule family="ipv6" source NOT address="fd00::/8" port port="5000-5010" protocol="udp" accept`,
			want: RichRule{Family: "ipv6", Source: "fd00::/8", Invert: true, Port: PortRange{5000, 5010}, Protocol: UDP, Action: "accept"},
		},
		{
			name: "service rule without port",
			in:   `rule service name="ftp" log prefix="ftp " level="info" limit value="1/m" accept`,
			want: RichRule{Service: "ftp", Action: "accept"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRichRule(tt.in)
			require.NoError(t, err)
			tt.want.Raw = tt.in
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.denies, got.Denies())
		})
	}
}

func TestParseRichRule_Malformed(t *testing.T) {
	for _, in := range []string{
		`family="ipv4" accept`,
		`rule port port="22`,
		`rule port port="0" protocol="tcp" drop`,
		`rule port port="22" protocol="icmp" drop`,
		``,
	} {
		_, err := ParseRichRule(in)
		assert.ErrorIs(t, err, ErrMalformedRecord, in)
	}
}
