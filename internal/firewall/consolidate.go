package firewall

import (
	"fmt"
	"sort"
	"time"
)

// Grant is one reason a port is open: a zone plus the origin that opened it.
type Grant struct {
	Zone       string     `json:"zone"`
	Origin     Origin     `json:"origin"`
	Service    string     `json:"service,omitempty"`
	Permanence Permanence `json:"permanence"`
}

// Annotation is user-supplied metadata attached to a port.
type Annotation struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	IncomingAction string    `json:"incoming_action,omitempty"`
	OutgoingAction string    `json:"outgoing_action,omitempty"`
	Zone           string    `json:"zone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Entry is the consolidated view of one (range, protocol) key.
type Entry struct {
	Range    PortRange `json:"range"`
	Protocol Protocol  `json:"protocol"`
	Zones    []string  `json:"zones"`
	Services []string  `json:"services,omitempty"`
	Grants   []Grant   `json:"grants"`
	// Permanence is tracked per zone; a port can be runtime-only in one zone
	// and permanent in another.
	Permanence map[string]Permanence `json:"permanence"`
	Annotation *Annotation           `json:"annotation,omitempty"`
}

// Key returns the canonical "range/proto" identifier.
func (e Entry) Key() string {
	return e.Range.String() + "/" + string(e.Protocol)
}

// HasOrigin reports whether any grant has origin o.
func (e Entry) HasOrigin(o Origin) bool {
	for _, g := range e.Grants {
		if g.Origin == o {
			return true
		}
	}
	return false
}

// InZone reports whether zone grants this entry.
func (e Entry) InZone(zone string) bool {
	_, ok := e.Permanence[zone]
	return ok
}

// Consolidation is the output of Consolidate.
type Consolidation struct {
	Entries  []Entry   `json:"entries"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Match returns the entries whose range contains port for proto.
func (c *Consolidation) Match(port int, proto Protocol) []Entry {
	return MatchEntries(c.Entries, port, proto)
}

// MatchEntries filters entries by protocol and containing range.
func MatchEntries(entries []Entry, port int, proto Protocol) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Protocol == proto && e.Range.Contains(port) {
			out = append(out, e)
		}
	}
	return out
}

type entryKey struct {
	rng   PortRange
	proto Protocol
}

type grantKey struct {
	zone    string
	origin  Origin
	service string
}

type accumulator struct {
	rng        PortRange
	proto      Protocol
	grants     map[grantKey]Permanence
	permanence map[string]Permanence
	services   map[string]bool
}

// Consolidate merges explicit zone ports and service-derived ports into one
// entry per exact (range, protocol) key. Overlapping ranges that differ are
// kept as separate entries. The result is independent of input ordering and
// consolidating the same snapshot twice yields equal output.
func Consolidate(snap *StateSnapshot) *Consolidation {
	out := &Consolidation{Entries: []Entry{}}
	if snap == nil {
		return out
	}

	zones := make(map[string]bool, len(snap.Zones))
	for _, z := range snap.Zones {
		if z.Name != "" {
			zones[z.Name] = true
		}
	}

	acc := make(map[entryKey]*accumulator)
	add := func(zone string, rule PortRule) {
		k := entryKey{rng: rule.Range, proto: rule.Protocol}
		a, ok := acc[k]
		if !ok {
			a = &accumulator{
				rng:        rule.Range,
				proto:      rule.Protocol,
				grants:     make(map[grantKey]Permanence),
				permanence: make(map[string]Permanence),
				services:   make(map[string]bool),
			}
			acc[k] = a
		}
		gk := grantKey{zone: zone, origin: rule.Origin, service: rule.Service}
		a.grants[gk] |= rule.Permanence
		a.permanence[zone] |= rule.Permanence
		if rule.Origin == OriginService && rule.Service != "" {
			a.services[rule.Service] = true
		}
	}

	for _, zone := range sortedKeys(snap.Ports) {
		if !zones[zone] {
			out.Warnings = append(out.Warnings, Warning{Zone: zone, Record: "ports", Err: ErrUnknownZone})
			continue
		}
		for _, rule := range snap.Ports[zone] {
			rule.Origin = OriginExplicit
			rule.Service = ""
			if err := rule.Validate(); err != nil {
				out.Warnings = append(out.Warnings, Warning{Zone: zone, Record: rule.String(), Err: err})
				continue
			}
			add(zone, rule)
		}
	}

	expanded := make(map[string][]PortSpec)
	for _, zone := range sortedKeys(snap.Services) {
		if !zones[zone] {
			out.Warnings = append(out.Warnings, Warning{Zone: zone, Record: "services", Err: ErrUnknownZone})
			continue
		}
		for _, b := range snap.Services[zone] {
			ports, ok := expanded[b.Name]
			if !ok {
				var err error
				ports, err = ExpandService(snap.Catalog, b.Name)
				if err != nil {
					out.Warnings = append(out.Warnings, Warning{Zone: zone, Service: b.Name, Err: err})
					continue
				}
				expanded[b.Name] = ports
			}
			perm := b.Permanence
			if perm&Both == 0 {
				perm = Both
			}
			for _, p := range ports {
				rule := PortRule{
					Range:      p.Range,
					Protocol:   p.Protocol,
					Origin:     OriginService,
					Permanence: perm,
					Service:    b.Name,
				}
				if err := rule.Validate(); err != nil {
					out.Warnings = append(out.Warnings, Warning{Zone: zone, Service: b.Name, Record: rule.String(), Err: err})
					continue
				}
				add(zone, rule)
			}
		}
	}

	for _, a := range acc {
		out.Entries = append(out.Entries, a.entry())
	}
	SortEntries(out.Entries)
	return out
}

func (a *accumulator) entry() Entry {
	e := Entry{
		Range:      a.rng,
		Protocol:   a.proto,
		Permanence: make(map[string]Permanence, len(a.permanence)),
	}
	for zone, p := range a.permanence {
		e.Zones = append(e.Zones, zone)
		e.Permanence[zone] = p
	}
	sort.Strings(e.Zones)
	for svc := range a.services {
		e.Services = append(e.Services, svc)
	}
	sort.Strings(e.Services)
	for k, p := range a.grants {
		e.Grants = append(e.Grants, Grant{Zone: k.zone, Origin: k.origin, Service: k.service, Permanence: p})
	}
	sort.Slice(e.Grants, func(i, j int) bool {
		gi, gj := e.Grants[i], e.Grants[j]
		if gi.Zone != gj.Zone {
			return gi.Zone < gj.Zone
		}
		if gi.Origin != gj.Origin {
			return gi.Origin < gj.Origin
		}
		return gi.Service < gj.Service
	})
	return e
}

// SortEntries orders entries by protocol, then start port, then end port.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		return a.Range.End < b.Range.End
	})
}

// AnnotationLookup resolves user annotations by port key.
type AnnotationLookup interface {
	LookupAnnotation(r PortRange, proto Protocol) (Annotation, bool)
}

// AnnotationIndex is an in-memory AnnotationLookup keyed by "range/proto".
// Zone-less annotations take precedence over zone-scoped ones.
type AnnotationIndex map[string]Annotation

// Add inserts a into the index under its key.
func (idx AnnotationIndex) Add(r PortRange, proto Protocol, a Annotation) {
	key := r.String() + "/" + string(proto)
	if existing, ok := idx[key]; ok && existing.Zone == "" && a.Zone != "" {
		return
	}
	idx[key] = a
}

// LookupAnnotation implements AnnotationLookup.
func (idx AnnotationIndex) LookupAnnotation(r PortRange, proto Protocol) (Annotation, bool) {
	a, ok := idx[r.String()+"/"+string(proto)]
	return a, ok
}

// Annotate returns a copy of entries with annotations attached. Annotations
// never alter which entries exist.
func Annotate(entries []Entry, lookup AnnotationLookup) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	if lookup == nil {
		return out
	}
	for i := range out {
		if a, ok := lookup.LookupAnnotation(out[i].Range, out[i].Protocol); ok {
			out[i].Annotation = &a
		}
	}
	return out
}

// DisplayName returns the annotation name, the first service, or the
// well-known name for the port, in that order.
func (e Entry) DisplayName() string {
	if e.Annotation != nil && e.Annotation.Name != "" {
		return e.Annotation.Name
	}
	if len(e.Services) > 0 {
		return e.Services[0]
	}
	if e.Range.IsSingle() {
		if name := WellKnownName(e.Range.Start, e.Protocol); name != "" {
			return name
		}
	}
	return fmt.Sprintf("port %s", e.Key())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
