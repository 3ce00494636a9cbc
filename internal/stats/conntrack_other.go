//go:build !linux

package stats

// NewFlowCounter returns nil on platforms without netlink conntrack; the
// connections collector then relies on its procfs fallback.
func NewFlowCounter() FlowCounter {
	return nil
}
