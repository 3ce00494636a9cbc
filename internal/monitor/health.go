package monitor

import (
	"time"

	"grimm.is/warden/internal/health"
)

// healthTTL is how long a health report is reused.
const healthTTL = 5 * time.Second

// Health returns a checker covering every source the service was built with.
func (s *Service) Health() *health.Checker {
	c := health.NewChecker(s.clock, healthTTL)
	c.Register("firewall", health.FirewallCheck(s.source))
	if s.sockets != nil {
		c.Register("sockets", health.SocketCheck(s.sockets))
	}
	if s.cache != nil {
		c.Register("stats", health.CacheCheck(s.cache))
	}
	if v, ok := s.store.(interface{ SchemaVersion() (string, error) }); ok {
		c.Register("store", health.StoreCheck(v.SchemaVersion))
	}
	if s.procRoot != "" {
		c.Register("conntrack", health.ConntrackCheck(s.procRoot))
	}
	return c
}
