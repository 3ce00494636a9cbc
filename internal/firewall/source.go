package firewall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/logging"
)

// Source reports raw firewall state. Implementations may return stale or
// duplicated data; Gather and Consolidate normalize it.
//
// Methods return ErrUnavailable (wrapped) when the backend cannot be
// reached. A per-record parse failure is returned wrapped in
// ErrMalformedRecord alongside the records that did parse.
type Source interface {
	Mode(ctx context.Context) (Mode, error)
	ListZones(ctx context.Context) ([]Zone, error)
	ListPortRules(ctx context.Context, zone string) ([]PortRule, error)
	ListServiceBindings(ctx context.Context, zone string) ([]ServiceBinding, error)
	ServiceCatalog(ctx context.Context) (map[string]ServiceDefinition, error)
}

// RichRuleSource is implemented by sources that can list rich rules.
type RichRuleSource interface {
	ListRichRules(ctx context.Context, zone string) ([]string, error)
}

// StateSnapshot is one consistent read of a Source.
type StateSnapshot struct {
	Mode        Mode                         `json:"mode"`
	Zones       []Zone                       `json:"zones"`
	Ports       map[string][]PortRule        `json:"ports"`
	Services    map[string][]ServiceBinding  `json:"services"`
	Catalog     map[string]ServiceDefinition `json:"-"`
	RichRules   map[string][]RichRule        `json:"rich_rules,omitempty"`
	Warnings    []Warning                    `json:"warnings,omitempty"`
	CollectedAt time.Time                    `json:"collected_at"`
}

// NewStateSnapshot returns an empty snapshot with initialized maps.
func NewStateSnapshot() *StateSnapshot {
	return &StateSnapshot{
		Ports:     make(map[string][]PortRule),
		Services:  make(map[string][]ServiceBinding),
		Catalog:   make(map[string]ServiceDefinition),
		RichRules: make(map[string][]RichRule),
	}
}

// Zone returns the named zone.
func (s *StateSnapshot) Zone(name string) (Zone, bool) {
	for _, z := range s.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

// GatherOptions tunes Gather.
type GatherOptions struct {
	Retry  RetryConfig
	Clock  clock.Clock
	Logger *logging.Logger
}

// DefaultGatherOptions retries only errors marked temporary.
func DefaultGatherOptions() GatherOptions {
	return GatherOptions{
		Retry: RetryConfig{
			MaxAttempts:     2,
			InitialDelay:    200 * time.Millisecond,
			MaxDelay:        time.Second,
			BackoffFactor:   2.0,
			RetryableErrors: []error{ErrTemporary},
		},
	}
}

// Gather reads every zone from src into a snapshot. Unavailability of the
// backend fails the whole gather; malformed records become warnings.
func Gather(ctx context.Context, src Source, opts GatherOptions) (*StateSnapshot, error) {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultGatherOptions().Retry
	}
	log := opts.Logger
	if log == nil {
		log = logging.WithComponent("firewall")
	}
	clk := clock.OrReal(opts.Clock)

	snap := NewStateSnapshot()
	snap.CollectedAt = clk.Now()

	mode, err := RetryWithResult(ctx, opts.Retry, func() (Mode, error) { return src.Mode(ctx) })
	if err != nil {
		return nil, unavailable("query mode", err)
	}
	snap.Mode = mode
	if mode == ModeInactive {
		log.Debug("firewall not running")
		return snap, nil
	}

	zones, err := RetryWithResult(ctx, opts.Retry, func() ([]Zone, error) { return src.ListZones(ctx) })
	if err != nil {
		return nil, unavailable("list zones", err)
	}
	zones, warnings := ValidateZones(zones)
	snap.Zones = zones
	snap.Warnings = append(snap.Warnings, warnings...)

	for _, z := range zones {
		rules, err := RetryWithResult(ctx, opts.Retry, func() ([]PortRule, error) { return src.ListPortRules(ctx, z.Name) })
		if err != nil {
			if !errors.Is(err, ErrMalformedRecord) {
				return nil, unavailable(fmt.Sprintf("list ports for zone %s", z.Name), err)
			}
			snap.Warnings = append(snap.Warnings, Warning{Zone: z.Name, Record: "ports", Err: err})
		}
		if len(rules) > 0 {
			snap.Ports[z.Name] = rules
		}

		bindings, err := RetryWithResult(ctx, opts.Retry, func() ([]ServiceBinding, error) { return src.ListServiceBindings(ctx, z.Name) })
		if err != nil {
			if !errors.Is(err, ErrMalformedRecord) {
				return nil, unavailable(fmt.Sprintf("list services for zone %s", z.Name), err)
			}
			snap.Warnings = append(snap.Warnings, Warning{Zone: z.Name, Record: "services", Err: err})
		}
		if len(bindings) > 0 {
			snap.Services[z.Name] = bindings
		}

		if rs, ok := src.(RichRuleSource); ok {
			raw, err := rs.ListRichRules(ctx, z.Name)
			if err != nil {
				// Rich rules are informational only.
				log.Debug("rich rules unavailable", "zone", z.Name, "error", err)
				continue
			}
			for _, line := range raw {
				rule, err := ParseRichRule(line)
				if err != nil {
					snap.Warnings = append(snap.Warnings, Warning{Zone: z.Name, Record: "rich rule", Err: err})
					continue
				}
				if rule.HasPort() {
					snap.RichRules[z.Name] = append(snap.RichRules[z.Name], rule)
				}
			}
		}
	}

	catalog, err := RetryWithResult(ctx, opts.Retry, func() (map[string]ServiceDefinition, error) { return src.ServiceCatalog(ctx) })
	if err != nil {
		if !errors.Is(err, ErrMalformedRecord) {
			return nil, unavailable("load service catalog", err)
		}
		snap.Warnings = append(snap.Warnings, Warning{Record: "service catalog", Err: err})
	}
	for name, def := range catalog {
		snap.Catalog[name] = def
	}

	for _, w := range snap.Warnings {
		log.Warn("skipped firewall record", "error", w.Error())
	}
	log.Debug("gathered firewall state",
		"mode", snap.Mode.String(),
		"zones", len(snap.Zones),
		"catalog", len(snap.Catalog),
		"warnings", len(snap.Warnings))
	return snap, nil
}

// ZoneNames returns the sorted zone names in the snapshot.
func (s *StateSnapshot) ZoneNames() []string {
	names := make([]string, 0, len(s.Zones))
	for _, z := range s.Zones {
		names = append(names, z.Name)
	}
	sort.Strings(names)
	return names
}
