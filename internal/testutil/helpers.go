// Package testutil holds helpers shared by tests that need a live host.
package testutil

import (
	"os"
	"os/exec"
	"testing"

	"grimm.is/warden/internal/brand"
)

// LiveEnv is the environment variable that enables tests against the
// running host's firewalld and /proc.
var LiveEnv = brand.EnvVar("LIVE_TEST")

// RequireLive skips the test unless LiveEnv is set.
func RequireLive(t *testing.T) {
	t.Helper()
	if os.Getenv(LiveEnv) == "" {
		t.Skipf("Skipping test: set %s to run against the live host", LiveEnv)
	}
}

// RequireFirewalld skips the test unless it may run live and firewall-cmd
// is installed.
func RequireFirewalld(t *testing.T) string {
	t.Helper()
	RequireLive(t)
	path, err := exec.LookPath("firewall-cmd")
	if err != nil {
		t.Skip("Skipping test: firewall-cmd not found")
	}
	return path
}
