package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/procfs"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
)

// TrafficCollector reads per-interface counters from /proc/net/dev and
// derives byte rates from consecutive reads. Host-wide accepted and dropped
// packet totals come from net/snmp and the conntrack statistics.
type TrafficCollector struct {
	mu    sync.Mutex
	fs    procfs.FS
	clock clock.Clock
	rx    *rateTracker
	tx    *rateTracker
}

// NewTrafficCollector reads from the proc filesystem mounted at mount.
func NewTrafficCollector(mount string, clk clock.Clock) (*TrafficCollector, error) {
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mount, err)
	}
	return &TrafficCollector{
		fs:    fs,
		clock: clock.OrReal(clk),
		rx:    newRateTracker(),
		tx:    newRateTracker(),
	}, nil
}

// Collect implements Collector.
func (t *TrafficCollector) Collect(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := t.fs.NetDev()
	if err != nil {
		return nil, fmt.Errorf("read net/dev: %v: %w", err, firewall.ErrUnavailable)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	rxBytes := make(map[string]uint64, len(dev))
	txBytes := make(map[string]uint64, len(dev))
	for name, line := range dev {
		rxBytes[name] = line.RxBytes
		txBytes[name] = line.TxBytes
	}
	rxRates := t.rx.observe(rxBytes, now)
	txRates := t.tx.observe(txBytes, now)

	snap := &Snapshot{Kind: KindTraffic, Timestamp: now}
	for name, line := range dev {
		snap.Interfaces = append(snap.Interfaces, InterfaceCounters{
			Name:      name,
			RxBytes:   line.RxBytes,
			TxBytes:   line.TxBytes,
			RxPackets: line.RxPackets,
			TxPackets: line.TxPackets,
			RxErrors:  line.RxErrors,
			TxErrors:  line.TxErrors,
			RxDropped: line.RxDropped,
			TxDropped: line.TxDropped,
			RxRate:    rxRates[name],
			TxRate:    txRates[name],
		})
	}
	sort.Slice(snap.Interfaces, func(i, j int) bool {
		return snap.Interfaces[i].Name < snap.Interfaces[j].Name
	})
	snap.Packets = t.packets()
	return snap, nil
}

// packets reads IP InReceives from the collector's own net/snmp and the
// per-CPU conntrack drop counters. It returns nil when neither is readable.
func (t *TrafficCollector) packets() *PacketTotals {
	var accepted, dropped uint64
	okIP, okCT := false, false

	if self, err := t.fs.Self(); err == nil {
		if snmp, err := self.Snmp(); err == nil && snmp.InReceives != nil {
			accepted = uint64(*snmp.InReceives)
			okIP = true
		}
	}
	if stat, err := t.fs.ConntrackStat(); err == nil {
		for _, cpu := range stat {
			dropped += cpu.Drop
		}
		okCT = len(stat) > 0
	}

	if !okIP && !okCT {
		return nil
	}
	return NewPacketTotals(accepted, dropped)
}
