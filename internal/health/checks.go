package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/stats"
)

func healthy(format string, args ...any) Check {
	return Check{Status: StatusHealthy, Message: fmt.Sprintf(format, args...)}
}

func degraded(format string, args ...any) Check {
	return Check{Status: StatusDegraded, Message: fmt.Sprintf(format, args...)}
}

func unhealthy(format string, args ...any) Check {
	return Check{Status: StatusUnhealthy, Message: fmt.Sprintf(format, args...)}
}

// FirewallCheck queries the firewall mode. An unreachable firewall is
// unhealthy; panic mode or a stopped firewall is degraded.
func FirewallCheck(src firewall.Source) CheckFunc {
	return func(ctx context.Context) Check {
		mode, err := src.Mode(ctx)
		if err != nil {
			return unhealthy("firewall state unavailable: %v", err)
		}
		switch mode {
		case firewall.ModeActive:
			return healthy("firewall active")
		case firewall.ModeUnknown:
			return unhealthy("firewall mode unknown")
		}
		return degraded("firewall %s", mode)
	}
}

// SocketCheck reads the socket tables once.
func SocketCheck(src exposure.SocketSource) CheckFunc {
	return func(ctx context.Context) Check {
		scan, err := src.ListeningSockets(ctx)
		if err != nil {
			return unhealthy("socket tables unavailable: %v", err)
		}
		if scan.Skipped > 0 {
			return degraded("%d listening sockets, %d malformed lines", len(scan.Sockets), scan.Skipped)
		}
		return healthy("%d listening sockets", len(scan.Sockets))
	}
}

// CacheCheck inspects every kind without refreshing. A kind serving
// last-good data after a failed refresh is degraded.
func CacheCheck(c *stats.Cache) CheckFunc {
	return func(context.Context) Check {
		var failing, empty []string
		for _, kind := range c.Kinds() {
			res, _ := c.Peek(kind)
			switch res.State {
			case stats.StateStaleWithError:
				failing = append(failing, fmt.Sprintf("%s (%s)", kind, res.ErrText()))
			case stats.StateEmpty:
				empty = append(empty, string(kind))
			}
		}
		switch {
		case len(failing) > 0:
			return degraded("refresh failing: %s", strings.Join(failing, ", "))
		case len(empty) > 0:
			return healthy("not yet collected: %s", strings.Join(empty, ", "))
		}
		return healthy("%d kinds cached", len(c.Kinds()))
	}
}

// StoreCheck reads the store's schema version.
func StoreCheck(version func() (string, error)) CheckFunc {
	return func(context.Context) Check {
		v, err := version()
		if err != nil {
			return degraded("state store unavailable: %v", err)
		}
		return healthy("schema version %s", v)
	}
}

// ConntrackCheck reads the kernel conntrack counters under procRoot.
func ConntrackCheck(procRoot string) CheckFunc {
	return func(context.Context) Check {
		dir := filepath.Join(procRoot, "sys", "net", "netfilter")
		count, err := os.ReadFile(filepath.Join(dir, "nf_conntrack_count"))
		if err != nil {
			return degraded("cannot read conntrack: %v", err)
		}
		msg := "conntrack entries: " + strings.TrimSpace(string(count))
		if limit, err := os.ReadFile(filepath.Join(dir, "nf_conntrack_max")); err == nil {
			msg += " of " + strings.TrimSpace(string(limit))
		}
		return healthy("%s", msg)
	}
}
