package monitor

import (
	"context"
	"fmt"
	"sort"

	"grimm.is/warden/internal/firewall"
)

// Where a RejectRule came from.
const (
	RejectFromFirewall   = "firewall"
	RejectFromAnnotation = "annotation"
)

// RejectRule is a port-level reject or drop rule. Rules read from firewalld
// are reported as Applied; deny annotations without a matching rule carry
// the rich rule that would enforce them.
type RejectRule struct {
	Zone     string             `json:"zone"`
	Range    firewall.PortRange `json:"range"`
	Protocol firewall.Protocol  `json:"protocol"`
	Action   string             `json:"action"`
	Rule     string             `json:"rule"`
	Origin   string             `json:"origin"`
	Applied  bool               `json:"applied"`
	Name     string             `json:"name,omitempty"`
}

// Key returns "zone:range/proto".
func (r RejectRule) Key() string {
	return fmt.Sprintf("%s:%s/%s", r.Zone, r.Range, r.Protocol)
}

// SuggestRejectRule renders the rich rule that rejects r/proto.
func SuggestRejectRule(r firewall.PortRange, proto firewall.Protocol) string {
	return fmt.Sprintf(`rule family="ipv4" port port="%s" protocol="%s" reject`, r, proto)
}

// RejectRules lists reject/drop rich rules in firewalld together with deny
// annotations. They are reported alongside the consolidated view and never
// merged into it.
func (s *Service) RejectRules(ctx context.Context) ([]RejectRule, error) {
	snap, err := s.gather(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]int)
	var out []RejectRule
	for zone, rules := range snap.RichRules {
		for _, rr := range rules {
			if !rr.Denies() || !rr.HasPort() {
				continue
			}
			r := RejectRule{
				Zone:     zone,
				Range:    rr.Port,
				Protocol: rr.Protocol,
				Action:   rr.Action,
				Rule:     rr.Raw,
				Origin:   RejectFromFirewall,
				Applied:  true,
			}
			if _, dup := byKey[r.Key()]; dup {
				continue
			}
			byKey[r.Key()] = len(out)
			out = append(out, r)
		}
	}

	if s.store != nil {
		denies, err := s.store.DenyAnnotations()
		if err != nil {
			return nil, fmt.Errorf("load deny annotations: %w", err)
		}
		fallback := defaultZone(snap)
		for _, a := range denies {
			zone := a.Zone
			if zone == "" {
				zone = fallback
			}
			r := RejectRule{
				Zone:     zone,
				Range:    a.Range,
				Protocol: a.Protocol,
				Action:   "reject",
				Rule:     SuggestRejectRule(a.Range, a.Protocol),
				Origin:   RejectFromAnnotation,
				Name:     a.Name,
			}
			if i, ok := byKey[r.Key()]; ok {
				out[i].Name = a.Name
				continue
			}
			byKey[r.Key()] = len(out)
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Zone != b.Zone {
			return a.Zone < b.Zone
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		return a.Range.End < b.Range.End
	})
	return out, nil
}

func defaultZone(snap *firewall.StateSnapshot) string {
	for _, z := range snap.Zones {
		if z.Default {
			return z.Name
		}
	}
	return "public"
}

// denyRules keeps the port-scoped reject and drop rules of each zone.
func denyRules(rich map[string][]firewall.RichRule) map[string][]firewall.RichRule {
	out := make(map[string][]firewall.RichRule)
	for zone, rules := range rich {
		for _, rr := range rules {
			if rr.Denies() && rr.HasPort() {
				out[zone] = append(out[zone], rr)
			}
		}
	}
	return out
}
