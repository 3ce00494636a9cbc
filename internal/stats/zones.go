package stats

import (
	"context"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
)

// ZonesCollector summarizes per-zone rule counts from a firewall source.
type ZonesCollector struct {
	src   firewall.Source
	opts  firewall.GatherOptions
	clock clock.Clock
}

// NewZonesCollector reads zones from src.
func NewZonesCollector(src firewall.Source, opts firewall.GatherOptions) *ZonesCollector {
	return &ZonesCollector{src: src, opts: opts, clock: clock.OrReal(opts.Clock)}
}

// Collect implements Collector.
func (z *ZonesCollector) Collect(ctx context.Context) (*Snapshot, error) {
	state, err := firewall.Gather(ctx, z.src, z.opts)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Kind:      KindZones,
		Timestamp: z.clock.Now(),
		Zones:     SummarizeZones(state),
	}, nil
}

// SummarizeZones counts consolidated port entries and service bindings per zone.
func SummarizeZones(state *firewall.StateSnapshot) []ZoneSummary {
	cons := firewall.Consolidate(state)
	out := make([]ZoneSummary, 0, len(state.Zones))
	for _, zone := range state.Zones {
		s := ZoneSummary{
			Zone:       zone.Name,
			Active:     zone.Active,
			Default:    zone.Default,
			Target:     zone.Target,
			Interfaces: len(zone.Interfaces),
			Sources:    len(zone.Sources),
			Services:   len(state.Services[zone.Name]),
		}
		for _, e := range cons.Entries {
			if e.InZone(zone.Name) {
				s.Ports++
			}
		}
		out = append(out, s)
	}
	return out
}
