package cmd

import (
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/warden/internal/exposure"
)

// addrFlags collects repeated --addr iface=ip pairs.
type addrFlags []string

func (a *addrFlags) String() string {
	return strings.Join(*a, ",")
}

func (a *addrFlags) Set(v string) error {
	iface, addr, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(iface) == "" {
		return fmt.Errorf("expected iface=ip, got %q", v)
	}
	if _, err := netip.ParseAddr(strings.TrimSpace(addr)); err != nil {
		return fmt.Errorf("invalid address in %q: %w", v, err)
	}
	*a = append(*a, v)
	return nil
}

// RunExposure correlates listening sockets with the firewall.
//
//	warden exposure [--json] [--all] [--addr iface=ip ...]
//
// --addr replaces the host's interface addresses, for fixture runs.
func RunExposure(args []string) error {
	fs, configFile := newFlagSet("exposure")
	asJSON := fs.Bool("json", false, "Print JSON")
	all := fs.Bool("all", false, "Include loopback sockets")
	var addrs addrFlags
	fs.Var(&addrs, "addr", "Interface address as iface=ip (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	if len(addrs) > 0 {
		m := exposure.ParseAddressMap(addrs)
		e.svc.SetAddresses(func() (exposure.AddressMap, error) { return m, nil })
	}

	ctx, cancel := commandContext()
	defer cancel()

	report, err := e.svc.Exposure(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		if !*all {
			report.Assessments = FilterExposure(report, false)
		}
		return writeJSON(report)
	}
	RenderExposure(Stdout, report, *all)
	return nil
}
