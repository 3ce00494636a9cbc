// Package stats caches expensive host statistics behind per-kind freshness
// windows and collapses concurrent refreshes into a single collector call.
package stats

import (
	"fmt"
	"time"
)

// Kind names a family of statistics.
type Kind string

const (
	KindTraffic     Kind = "traffic"
	KindConnections Kind = "connections"
	KindZones       Kind = "zones"
)

// Kinds lists every kind in display order.
func Kinds() []Kind {
	return []Kind{KindTraffic, KindConnections, KindZones}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown stats kind %q", s)
}

// Snapshot is one collector result. Only the section matching Kind is set.
type Snapshot struct {
	Kind        Kind                `json:"kind"`
	Timestamp   time.Time           `json:"timestamp"`
	Interfaces  []InterfaceCounters `json:"interfaces,omitempty"`
	Packets     *PacketTotals       `json:"packets,omitempty"`
	Connections *ConnectionCounts   `json:"connections,omitempty"`
	Zones       []ZoneSummary       `json:"zones,omitempty"`
}

// InterfaceCounters holds cumulative counters and derived byte rates.
type InterfaceCounters struct {
	Name      string  `json:"name"`
	RxBytes   uint64  `json:"rx_bytes"`
	TxBytes   uint64  `json:"tx_bytes"`
	RxPackets uint64  `json:"rx_packets"`
	TxPackets uint64  `json:"tx_packets"`
	RxErrors  uint64  `json:"rx_errors"`
	TxErrors  uint64  `json:"tx_errors"`
	RxDropped uint64  `json:"rx_dropped"`
	TxDropped uint64  `json:"tx_dropped"`
	RxRate    float64 `json:"rx_rate"`
	TxRate    float64 `json:"tx_rate"`
}

// PacketTotals compares packets the IP layer received with packets
// conntrack dropped, both cumulative since boot.
type PacketTotals struct {
	Accepted      uint64  `json:"accepted"`
	Dropped       uint64  `json:"dropped"`
	AcceptedRatio float64 `json:"accepted_ratio"`
	DroppedRatio  float64 `json:"dropped_ratio"`
}

// NewPacketTotals derives the ratios. With no packets seen everything
// counts as accepted.
func NewPacketTotals(accepted, dropped uint64) *PacketTotals {
	p := &PacketTotals{Accepted: accepted, Dropped: dropped, AcceptedRatio: 1}
	if total := accepted + dropped; total > 0 {
		p.AcceptedRatio = float64(accepted) / float64(total)
		p.DroppedRatio = float64(dropped) / float64(total)
	}
	return p
}

// ConnectionCounts summarizes the connection tracking table.
type ConnectionCounts struct {
	Total  int    `json:"total"`
	TCP    int    `json:"tcp"`
	UDP    int    `json:"udp"`
	ICMP   int    `json:"icmp"`
	Other  int    `json:"other"`
	Source string `json:"source"`
	// History holds recent per-protocol totals, oldest first.
	History map[string][]float64 `json:"history,omitempty"`
}

// ZoneSummary counts the rules that apply to one zone.
type ZoneSummary struct {
	Zone       string `json:"zone"`
	Active     bool   `json:"active"`
	Default    bool   `json:"default"`
	Target     string `json:"target,omitempty"`
	Interfaces int    `json:"interfaces"`
	Sources    int    `json:"sources"`
	Services   int    `json:"services"`
	Ports      int    `json:"ports"`
}

// State describes how a Result relates to its freshness window.
type State int

const (
	// StateEmpty means no snapshot has ever been collected.
	StateEmpty State = iota
	StateFresh
	// StateStale means the snapshot is older than the window or was invalidated.
	StateStale
	// StateStaleWithError means the latest refresh failed and the last good
	// snapshot is being served.
	StateStaleWithError
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateStaleWithError:
		return "stale-with-error"
	default:
		return "empty"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is what the cache hands to callers.
type Result struct {
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
	State    State         `json:"state"`
	Age      time.Duration `json:"age"`
	Err      error         `json:"-"`
}

// ErrText returns the refresh error text, if any.
func (r Result) ErrText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
