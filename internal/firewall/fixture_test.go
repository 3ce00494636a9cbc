package firewall

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureHCL = `
mode = "active"

zone "public" {
  active     = true
  default    = true
  interfaces = ["eth0"]
  ports      = ["22/tcp"]
  runtime_ports = ["8080/tcp", "99999/tcp"]
  services   = ["myapp"]
  rich_rules = ["rule port port=\"23\" protocol=\"tcp\" drop"]
}

zone "internal" {
  sources = ["10.0.0.0/8"]
  permanent_services = ["ssh"]
}

service "myapp" {
  description = "My application"
  ports       = ["9000-9010/udp"]
}
`

func TestParseFixture(t *testing.T) {
	src, err := ParseFixture([]byte(fixtureHCL), "fixture.hcl")
	require.NoError(t, err)
	ctx := context.Background()

	mode, err := src.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeActive, mode)

	zones, err := src.ListZones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, []string{"10.0.0.0/8"}, zones[1].Sources)

	rules, err := src.ListPortRules(ctx, "public")
	assert.ErrorIs(t, err, ErrMalformedRecord)
	require.Len(t, rules, 2)
	assert.Equal(t, Both, rules[0].Permanence)
	assert.Equal(t, Runtime, rules[1].Permanence)

	bindings, err := src.ListServiceBindings(ctx, "internal")
	require.NoError(t, err)
	assert.Equal(t, []ServiceBinding{{Name: "ssh", Permanence: Permanent}}, bindings)

	_, err = src.ListPortRules(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownZone)

	catalog, err := src.ServiceCatalog(ctx)
	require.NoError(t, err)
	assert.Contains(t, catalog, "ssh", "builtin services are merged by default")
	assert.Equal(t, "My application", catalog["myapp"].Description)
}

func TestParseFixture_Invalid(t *testing.T) {
	_, err := ParseFixture([]byte(`zone "x" {`), "bad.hcl")
	assert.Error(t, err)

	_, err = ParseFixture([]byte(`mode = "sideways"`), "bad.hcl")
	assert.Error(t, err)
}

func TestExportFixture_RoundTrip(t *testing.T) {
	src, err := ParseFixture([]byte(fixtureHCL), "fixture.hcl")
	require.NoError(t, err)

	snap, err := Gather(context.Background(), src, quietOpts())
	require.NoError(t, err)
	want := Consolidate(snap)

	path := filepath.Join(t.TempDir(), "export.hcl")
	require.NoError(t, os.WriteFile(path, ExportFixture(snap), 0o644))

	replayed, err := LoadFixture(path)
	require.NoError(t, err)
	snap2, err := Gather(context.Background(), replayed, quietOpts())
	require.NoError(t, err)

	assert.Equal(t, want.Entries, Consolidate(snap2).Entries)
}

func TestLoadFixture_Missing(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.ErrorIs(t, err, ErrUnavailable)
}
