package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/procfs"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
)

// DefaultHistory is the number of samples kept per protocol.
const DefaultHistory = 60

// FlowCounter counts tracked flows by protocol name ("tcp", "udp", "icmp", ...).
type FlowCounter interface {
	CountFlows(ctx context.Context) (map[string]int, error)
}

// ConnectionsCollector counts tracked connections, preferring the kernel
// conntrack table and falling back to /proc socket statistics.
type ConnectionsCollector struct {
	mu       sync.Mutex
	flows    FlowCounter
	fs       procfs.FS
	clock    clock.Clock
	log      *logging.Logger
	capacity int
	history  map[string]*RingBuffer
}

// ConnectionsOption configures a ConnectionsCollector.
type ConnectionsOption func(*ConnectionsCollector)

// WithFlowCounter sets the primary flow source. Without one only the
// procfs fallback is used.
func WithFlowCounter(f FlowCounter) ConnectionsOption {
	return func(c *ConnectionsCollector) { c.flows = f }
}

// WithHistory sets the number of samples kept per protocol.
func WithHistory(n int) ConnectionsOption {
	return func(c *ConnectionsCollector) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithConnectionsClock sets the time source.
func WithConnectionsClock(clk clock.Clock) ConnectionsOption {
	return func(c *ConnectionsCollector) { c.clock = clk }
}

// WithConnectionsLogger sets the logger.
func WithConnectionsLogger(l *logging.Logger) ConnectionsOption {
	return func(c *ConnectionsCollector) { c.log = l }
}

// NewConnectionsCollector reads fallback statistics from the proc
// filesystem mounted at mount.
func NewConnectionsCollector(mount string, opts ...ConnectionsOption) (*ConnectionsCollector, error) {
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mount, err)
	}
	c := &ConnectionsCollector{
		fs:       fs,
		capacity: DefaultHistory,
		history:  make(map[string]*RingBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	if c.log == nil {
		c.log = logging.WithComponent("stats")
	}
	return c, nil
}

// Collect implements Collector.
func (c *ConnectionsCollector) Collect(ctx context.Context) (*Snapshot, error) {
	counts, err := c.count(ctx)
	if err != nil {
		return nil, err
	}
	// Late results never reach the history.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series := map[string]int{
		"total": counts.Total,
		"tcp":   counts.TCP,
		"udp":   counts.UDP,
		"icmp":  counts.ICMP,
	}
	counts.History = make(map[string][]float64, len(series))
	for name, v := range series {
		buf, ok := c.history[name]
		if !ok {
			buf = NewRingBuffer(c.capacity)
			c.history[name] = buf
		}
		buf.Add(float64(v))
		counts.History[name] = buf.Snapshot()
	}

	return &Snapshot{
		Kind:        KindConnections,
		Timestamp:   c.clock.Now(),
		Connections: counts,
	}, nil
}

func (c *ConnectionsCollector) count(ctx context.Context) (*ConnectionCounts, error) {
	if c.flows != nil {
		flows, err := c.flows.CountFlows(ctx)
		if err == nil {
			return fromFlows(flows), nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.log.Debug("conntrack unavailable, using procfs fallback", "error", err)
	}
	return c.fromProc()
}

func fromFlows(flows map[string]int) *ConnectionCounts {
	counts := &ConnectionCounts{Source: "conntrack"}
	protos := make([]string, 0, len(flows))
	for p := range flows {
		protos = append(protos, p)
	}
	sort.Strings(protos)
	for _, p := range protos {
		n := flows[p]
		counts.Total += n
		switch p {
		case "tcp":
			counts.TCP += n
		case "udp":
			counts.UDP += n
		case "icmp", "icmpv6":
			counts.ICMP += n
		default:
			counts.Other += n
		}
	}
	return counts
}

// fromProc combines the conntrack entry count with per-protocol socket
// usage. Socket counts approximate flow counts when conntrack cannot be
// dumped.
func (c *ConnectionsCollector) fromProc() (*ConnectionCounts, error) {
	counts := &ConnectionCounts{Source: "sockstat"}

	sock, sockErr := c.fs.NetSockstat()
	if sockErr == nil {
		for _, p := range sock.Protocols {
			switch p.Protocol {
			case "TCP":
				counts.TCP = p.InUse
			case "UDP":
				counts.UDP = p.InUse
			case "RAW":
				counts.ICMP = p.InUse
			}
		}
		counts.Total = counts.TCP + counts.UDP + counts.ICMP
	}

	stat, statErr := c.fs.ConntrackStat()
	if statErr == nil && len(stat) > 0 {
		counts.Source = "conntrack-stat"
		if total := int(stat[0].Entries); total > counts.Total {
			counts.Other = total - counts.Total
			counts.Total = total
		}
	}

	if sockErr != nil && statErr != nil {
		return nil, fmt.Errorf("read socket statistics: %v: %w", sockErr, firewall.ErrUnavailable)
	}
	return counts, nil
}
