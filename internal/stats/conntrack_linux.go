//go:build linux

package stats

import (
	"context"
	"fmt"

	"github.com/ti-mo/conntrack"
)

// ConntrackCounter dumps the kernel connection tracking table over netlink.
type ConntrackCounter struct{}

// NewFlowCounter returns the netlink conntrack counter.
func NewFlowCounter() FlowCounter {
	return ConntrackCounter{}
}

// CountFlows implements FlowCounter.
func (ConntrackCounter) CountFlows(ctx context.Context) (map[string]int, error) {
	conn, err := conntrack.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("conntrack dial failed: %w", err)
	}
	defer conn.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flows, err := conn.Dump(nil)
	if err != nil {
		return nil, fmt.Errorf("conntrack dump failed: %w", err)
	}

	counts := make(map[string]int)
	for _, f := range flows {
		counts[protoName(f.TupleOrig.Proto.Protocol)]++
	}
	return counts, nil
}

func protoName(p uint8) string {
	switch p {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 1:
		return "icmp"
	case 58:
		return "icmpv6"
	default:
		return fmt.Sprintf("%d", p)
	}
}
