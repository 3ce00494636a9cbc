package cmd

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/state"
)

const testFixture = `
mode = "active"

zone "public" {
  active     = true
  default    = true
  interfaces = ["eth0"]
  ports      = ["22/tcp"]
  rich_rules = ["rule family=\"ipv4\" port port=\"23\" protocol=\"tcp\" reject"]
}

zone "dmz" {
  ports = ["8080/tcp"]
}
`

const testTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 1001 1 0000000000000000 100 0 0 10 0
   1: 0100007F:0277 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 1002 1 0000000000000000 100 0 0 10 0
`

// setup writes a config using the fixture backend and a fake /proc, and
// captures command output.
func setup(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	fixture := filepath.Join(dir, "firewall.hcl")
	require.NoError(t, os.WriteFile(fixture, []byte(testFixture), 0o644))

	procNet := filepath.Join(dir, "proc", "net")
	require.NoError(t, os.MkdirAll(procNet, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procNet, "tcp"), []byte(testTCP), 0o644))

	cfg := fmt.Sprintf(`
log_level = "error"
state_dir = %q
proc_root = %q

firewall {
  backend = "fixture"
  fixture = %q
}

stats {
  kind "traffic" {
    disabled = true
  }
  kind "connections" {
    disabled = true
  }
}
`, filepath.Join(dir, "state"), filepath.Join(dir, "proc"), fixture)
	path := filepath.Join(dir, "warden.hcl")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	out := &bytes.Buffer{}
	prevOut, prevErr := Stdout, Stderr
	Stdout, Stderr = out, &bytes.Buffer{}
	t.Cleanup(func() { Stdout, Stderr = prevOut, prevErr })
	return path, out
}

func TestRunPorts(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunPorts([]string{"--config", cfg}))
	assert.Contains(t, out.String(), "Firewall active, 2 open port entries")
	assert.Contains(t, out.String(), "22/tcp")
	assert.Contains(t, out.String(), "8080/tcp")

	out.Reset()
	require.NoError(t, RunPorts([]string{"--config", cfg, "--json"}))
	var view struct {
		Mode    string `json:"mode"`
		Entries []struct {
			Zones []string `json:"zones"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, "active", view.Mode)
	assert.Len(t, view.Entries, 2)

	assert.Error(t, RunPorts([]string{"--config", cfg, "--diff", "--rejects"}))
}

func TestRunPorts_Diff(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunPorts([]string{"--config", cfg, "--diff"}))
	assert.Contains(t, out.String(), "No previous port list recorded")

	out.Reset()
	require.NoError(t, RunPorts([]string{"--config", cfg, "--diff"}))
	assert.Contains(t, out.String(), "No changes since")
}

func TestRunPorts_Rejects(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunAnnotate([]string{"set", "3306/tcp", "--config", cfg, "--name", "MySQL", "--in", "deny"}))
	assert.Contains(t, out.String(), `Suggested rule: rule family="ipv4" port port="3306" protocol="tcp" reject`)

	out.Reset()
	require.NoError(t, RunPorts([]string{"--config", cfg, "--rejects"}))
	assert.Contains(t, out.String(), "applied")
	assert.Contains(t, out.String(), "suggested")
	assert.Contains(t, out.String(), "MySQL")
}

func TestRunExposure(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunExposure([]string{"--config", cfg, "--json"}))
	var report struct {
		Assessments []struct {
			Verdict string `json:"verdict"`
			Exposed bool   `json:"exposed"`
		} `json:"assessments"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Assessments, 1)
	assert.Equal(t, "allowed", report.Assessments[0].Verdict)
	assert.True(t, report.Assessments[0].Exposed)

	out.Reset()
	require.NoError(t, RunExposure([]string{"--config", cfg, "--all"}))
	assert.Contains(t, out.String(), "127.0.0.1")
	assert.Contains(t, out.String(), "2 sockets, 1 exposed (firewall active)")
}

func TestRunExposure_AddrOverride(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunExposure([]string{"--config", cfg, "--json", "--all", "--addr", "eth0=127.0.0.1", "--addr", "eth1=10.0.0.9"}))
	var report struct {
		Assessments []struct {
			Socket struct {
				Port int `json:"port"`
			} `json:"socket"`
			Verdict   string `json:"verdict"`
			Interface string `json:"interface"`
		} `json:"assessments"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Assessments, 2)
	for _, a := range report.Assessments {
		if a.Socket.Port == 631 {
			assert.Equal(t, "eth0", a.Interface)
			assert.Equal(t, "unfirewalled", a.Verdict)
		} else {
			assert.Empty(t, a.Interface, "wildcard sockets have no interface")
		}
	}

	assert.Error(t, RunExposure([]string{"--config", cfg, "--addr", "eth0"}))
	assert.Error(t, RunExposure([]string{"--config", cfg, "--addr", "eth0=not-an-ip"}))
}

func TestRunZones(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunZones([]string{"--config", cfg}))
	assert.Contains(t, out.String(), "zones: fresh")
	assert.Contains(t, out.String(), "public")
	assert.Contains(t, out.String(), "dmz")

	out.Reset()
	require.NoError(t, RunStats([]string{"zones", "--config", cfg, "--json"}))
	var res []struct {
		Kind  string `json:"kind"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res, 1)
	assert.Equal(t, "zones", res[0].Kind)
	assert.Equal(t, "fresh", res[0].State)

	assert.Error(t, RunStats([]string{"bogus", "--config", cfg}))
	assert.Error(t, RunStats([]string{"traffic", "--config", cfg}), "disabled kind")
}

func TestRunAnnotate(t *testing.T) {
	cfg, out := setup(t)

	require.NoError(t, RunAnnotate([]string{"set", "--config", cfg, "22/tcp", "--name", "Bastion SSH", "--description", "jump host"}))
	assert.Contains(t, out.String(), `Annotated 22/tcp as "Bastion SSH"`)

	out.Reset()
	require.NoError(t, RunAnnotate([]string{"list", "--config", cfg, "--json"}))
	var list []state.PortAnnotation
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Bastion SSH", list[0].Name)

	out.Reset()
	require.NoError(t, RunPorts([]string{"--config", cfg}))
	assert.Contains(t, out.String(), "Bastion SSH")

	require.NoError(t, RunAnnotate([]string{"rm", "22/tcp", "--config", cfg}))
	out.Reset()
	require.NoError(t, RunAnnotate([]string{"list", "--config", cfg}))
	assert.Contains(t, out.String(), "No annotations.")
}

func TestRunAnnotate_Errors(t *testing.T) {
	cfg, _ := setup(t)

	assert.Error(t, RunAnnotate(nil))
	assert.Error(t, RunAnnotate([]string{"frob"}))
	assert.Error(t, RunAnnotate([]string{"set", "--config", cfg}), "missing port")
	assert.Error(t, RunAnnotate([]string{"set", "22", "--config", cfg, "--name", "x"}), "missing protocol")
	assert.Error(t, RunAnnotate([]string{"set", "22/tcp", "--config", cfg}), "missing name")
	assert.Error(t, RunAnnotate([]string{"set", "22/tcp", "--config", cfg, "--name", "x", "--in", "maybe"}))
	assert.Error(t, RunAnnotate([]string{"set", "22/tcp", "--config", cfg, "--name", "x", "--zone", "pub;lic"}))
	assert.ErrorIs(t, RunAnnotate([]string{"list", "--config", cfg, "-h"}), flag.ErrHelp)
}

func TestRunAnnotate_Import(t *testing.T) {
	cfg, out := setup(t)
	legacy := filepath.Join(t.TempDir(), "port_metadata.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
  "8080/tcp": {"name": "Dev server", "incoming_action": "deny"},
  "bogus": {"name": "x"}
}`), 0o644))

	err := RunAnnotate([]string{"import", "--config", cfg, legacy})
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Imported 1 annotations")
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]string{
		"":       state.ActionNone,
		"allow":  state.ActionAllow,
		"ACCEPT": state.ActionAllow,
		"deny":   state.ActionDeny,
		"drop":   state.ActionDeny,
	} {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAction("maybe")
	assert.Error(t, err)
}

func TestRunConfig(t *testing.T) {
	_, out := setup(t)
	path := filepath.Join(t.TempDir(), "warden.hcl")

	require.NoError(t, RunConfig([]string{"init", path}))
	assert.Error(t, RunConfig([]string{"init", path}), "refuses to overwrite")
	require.NoError(t, RunConfig([]string{"init", "--force", path}))

	out.Reset()
	require.NoError(t, RunConfig([]string{"check", path}))
	assert.Contains(t, out.String(), "is valid")

	out.Reset()
	require.NoError(t, RunConfig([]string{"show", path}))
	assert.Contains(t, out.String(), "firewall")

	assert.Error(t, RunConfig([]string{"check", filepath.Join(t.TempDir(), "missing.hcl")}))
	assert.Error(t, RunConfig(nil))
}

func TestRunFixture_RoundTrip(t *testing.T) {
	cfg, out := setup(t)
	exported := filepath.Join(t.TempDir(), "exported.hcl")

	require.NoError(t, RunFixture([]string{"export", "--config", cfg, "-o", exported}))
	assert.Contains(t, out.String(), "Wrote 2 zones")

	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), `zone "public"`)
	assert.Contains(t, string(data), `zone "dmz"`)
}

func TestRunHealth(t *testing.T) {
	cfg, out := setup(t)

	// No conntrack counters under the fake /proc.
	require.NoError(t, RunHealth([]string{"--config", cfg}))
	assert.Contains(t, out.String(), "firewall active")
	assert.Contains(t, out.String(), "2 listening sockets")
	assert.Contains(t, out.String(), "Overall: degraded")
}
