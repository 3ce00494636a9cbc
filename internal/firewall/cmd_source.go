package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"grimm.is/warden/internal/logging"
)

// RunFunc executes a command and returns its stdout.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CmdSource reads firewalld state through firewall-cmd. Runtime and
// permanent listings are compared to derive each rule's permanence.
type CmdSource struct {
	binary  string
	timeout time.Duration
	run     RunFunc
	catalog func() (map[string]ServiceDefinition, error)
	log     *logging.Logger
}

// CmdOption configures a CmdSource.
type CmdOption func(*CmdSource)

// WithBinary overrides the firewall-cmd path.
func WithBinary(path string) CmdOption {
	return func(s *CmdSource) { s.binary = path }
}

// WithCommandTimeout bounds every firewall-cmd invocation.
func WithCommandTimeout(d time.Duration) CmdOption {
	return func(s *CmdSource) { s.timeout = d }
}

// WithRunner replaces command execution, for tests.
func WithRunner(run RunFunc) CmdOption {
	return func(s *CmdSource) { s.run = run }
}

// WithCatalogLoader replaces the service catalog loader.
func WithCatalogLoader(fn func() (map[string]ServiceDefinition, error)) CmdOption {
	return func(s *CmdSource) { s.catalog = fn }
}

// WithSourceLogger sets the logger.
func WithSourceLogger(l *logging.Logger) CmdOption {
	return func(s *CmdSource) { s.log = l }
}

// NewCmdSource creates a firewall-cmd backed Source.
func NewCmdSource(opts ...CmdOption) *CmdSource {
	s := &CmdSource{
		binary:  "firewall-cmd",
		timeout: 5 * time.Second,
		run:     execRun,
		catalog: HostServiceCatalog,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.WithComponent("firewall")
	}
	return s
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && stderr.Len() > 0 {
		err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), err
}

func (s *CmdSource) exec(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.run(ctx, s.binary, args...)
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return "", fmt.Errorf("%w: %s not installed", ErrUnavailable, s.binary)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w: %s %s timed out", ErrUnavailable, s.binary, strings.Join(args, " "))
	case strings.Contains(err.Error(), "not running"):
		return "", fmt.Errorf("%w: firewalld not running", ErrUnavailable)
	case strings.Contains(err.Error(), "reload"):
		return "", WrapTemporary(err)
	}
	return text, err
}

// Mode implements Source.
func (s *CmdSource) Mode(ctx context.Context) (Mode, error) {
	state, err := s.exec(ctx, "--state")
	if err != nil {
		if strings.Contains(err.Error(), "not running") || strings.Contains(state, "not running") {
			return ModeInactive, nil
		}
		return ModeUnknown, err
	}
	if state != "running" {
		return ModeInactive, nil
	}

	// --query-panic exits non-zero when panic mode is off.
	panicState, _ := s.exec(ctx, "--query-panic")
	if panicState == "yes" {
		return ModePanic, nil
	}
	return ModeActive, nil
}

// ListZones implements Source.
func (s *CmdSource) ListZones(ctx context.Context) ([]Zone, error) {
	all, err := s.exec(ctx, "--get-zones")
	if err != nil {
		return nil, err
	}
	def, err := s.exec(ctx, "--get-default-zone")
	if err != nil {
		return nil, err
	}
	activeOut, err := s.exec(ctx, "--get-active-zones")
	if err != nil {
		return nil, err
	}
	active := ParseActiveZones(activeOut)

	var zones []Zone
	for _, name := range strings.Fields(all) {
		z := Zone{Name: name, Default: name == def}
		if b, ok := active[name]; ok {
			z.Active = true
			z.Interfaces = b.Interfaces
			z.Sources = b.Sources
		}
		target, err := s.exec(ctx, "--permanent", "--zone="+name, "--get-target")
		if err == nil {
			z.Target = target
		} else {
			s.log.Debug("zone target unavailable", "zone", name, "error", err)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// ParseActiveZones parses --get-active-zones output:
//
//	public (default)
//	  interfaces: eth0 wlan0
//	  sources: 10.0.0.0/8
func ParseActiveZones(out string) map[string]Zone {
	zones := make(map[string]Zone)
	current := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
			current = name
			zones[current] = Zone{Name: current, Active: true}
			continue
		}
		if current == "" {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		z := zones[current]
		switch strings.TrimSpace(key) {
		case "interfaces":
			z.Interfaces = append(z.Interfaces, strings.Fields(val)...)
		case "sources":
			z.Sources = append(z.Sources, strings.Fields(val)...)
		}
		zones[current] = z
	}
	return zones
}

// listBoth runs a --list-* query against runtime and permanent config and
// reports which of the two each token appeared in.
func (s *CmdSource) listBoth(ctx context.Context, zone, query string) (map[string]Permanence, []string, error) {
	runtime, err := s.exec(ctx, "--zone="+zone, query)
	if err != nil {
		return nil, nil, err
	}
	permanent, err := s.exec(ctx, "--permanent", "--zone="+zone, query)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]Permanence)
	var order []string
	mark := func(out string, p Permanence) {
		for _, tok := range strings.Fields(out) {
			if _, ok := seen[tok]; !ok {
				order = append(order, tok)
			}
			seen[tok] |= p
		}
	}
	mark(runtime, Runtime)
	mark(permanent, Permanent)
	return seen, order, nil
}

// ListPortRules implements Source.
func (s *CmdSource) ListPortRules(ctx context.Context, zone string) ([]PortRule, error) {
	perms, order, err := s.listBoth(ctx, zone, "--list-ports")
	if err != nil {
		return nil, err
	}
	var rules []PortRule
	var errs []error
	for _, tok := range order {
		rng, proto, err := ParsePortSpec(tok)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, PortRule{Range: rng, Protocol: proto, Origin: OriginExplicit, Permanence: perms[tok]})
	}
	return rules, errors.Join(errs...)
}

// ListServiceBindings implements Source.
func (s *CmdSource) ListServiceBindings(ctx context.Context, zone string) ([]ServiceBinding, error) {
	perms, order, err := s.listBoth(ctx, zone, "--list-services")
	if err != nil {
		return nil, err
	}
	bindings := make([]ServiceBinding, 0, len(order))
	for _, name := range order {
		bindings = append(bindings, ServiceBinding{Name: name, Permanence: perms[name]})
	}
	return bindings, nil
}

// ListRichRules implements RichRuleSource.
func (s *CmdSource) ListRichRules(ctx context.Context, zone string) ([]string, error) {
	out, err := s.exec(ctx, "--zone="+zone, "--list-rich-rules")
	if err != nil {
		return nil, err
	}
	var rules []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			rules = append(rules, line)
		}
	}
	return rules, nil
}

// ServiceCatalog implements Source.
func (s *CmdSource) ServiceCatalog(context.Context) (map[string]ServiceDefinition, error) {
	return s.catalog()
}
