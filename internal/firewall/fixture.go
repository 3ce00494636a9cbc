package firewall

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// FixtureSource serves firewall state from an HCL file. It is used for
// offline analysis of exported state and in tests.
//
//	mode = "active"
//
//	zone "public" {
//	  active     = true
//	  default    = true
//	  interfaces = ["eth0"]
//	  ports      = ["22/tcp", "60000-61000/udp"]
//	  services   = ["ssh", "dhcpv6-client"]
//	}
//
//	service "myapp" {
//	  ports = ["8080/tcp"]
//	}
//
// ports and services apply to both runtime and permanent configuration;
// runtime_* and permanent_* variants restrict them to one.
type FixtureSource struct {
	file fixtureFile
}

type fixtureFile struct {
	Mode            string           `hcl:"mode,optional"`
	BuiltinServices *bool            `hcl:"builtin_services,optional"`
	Zones           []fixtureZone    `hcl:"zone,block"`
	Services        []fixtureService `hcl:"service,block"`
}

type fixtureZone struct {
	Name              string   `hcl:"name,label"`
	Active            bool     `hcl:"active,optional"`
	Default           bool     `hcl:"default,optional"`
	Target            string   `hcl:"target,optional"`
	Interfaces        []string `hcl:"interfaces,optional"`
	Sources           []string `hcl:"sources,optional"`
	Ports             []string `hcl:"ports,optional"`
	RuntimePorts      []string `hcl:"runtime_ports,optional"`
	PermanentPorts    []string `hcl:"permanent_ports,optional"`
	Services          []string `hcl:"services,optional"`
	RuntimeServices   []string `hcl:"runtime_services,optional"`
	PermanentServices []string `hcl:"permanent_services,optional"`
	RichRules         []string `hcl:"rich_rules,optional"`
}

type fixtureService struct {
	Name        string   `hcl:"name,label"`
	Description string   `hcl:"description,optional"`
	Ports       []string `hcl:"ports,optional"`
	Includes    []string `hcl:"includes,optional"`
}

// LoadFixture reads a fixture file from disk.
func LoadFixture(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read fixture: %v", ErrUnavailable, err)
	}
	return ParseFixture(data, path)
}

// ParseFixture decodes fixture HCL.
func ParseFixture(data []byte, filename string) (*FixtureSource, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}
	var ff fixtureFile
	if diags := gohcl.DecodeBody(file.Body, nil, &ff); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	if _, err := ParseMode(ff.Mode); err != nil {
		return nil, err
	}
	return &FixtureSource{file: ff}, nil
}

func (f *FixtureSource) zone(name string) (fixtureZone, bool) {
	for _, z := range f.file.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return fixtureZone{}, false
}

// Mode implements Source.
func (f *FixtureSource) Mode(context.Context) (Mode, error) {
	return ParseMode(f.file.Mode)
}

// ListZones implements Source.
func (f *FixtureSource) ListZones(context.Context) ([]Zone, error) {
	zones := make([]Zone, 0, len(f.file.Zones))
	for _, z := range f.file.Zones {
		zones = append(zones, Zone{
			Name:       z.Name,
			Active:     z.Active,
			Default:    z.Default,
			Target:     z.Target,
			Interfaces: append([]string(nil), z.Interfaces...),
			Sources:    append([]string(nil), z.Sources...),
		})
	}
	return zones, nil
}

// ListPortRules implements Source.
func (f *FixtureSource) ListPortRules(_ context.Context, zone string) ([]PortRule, error) {
	z, ok := f.zone(zone)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	var rules []PortRule
	var errs []error
	add := func(specs []string, perm Permanence) {
		for _, spec := range specs {
			rng, proto, err := ParsePortSpec(spec)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, PortRule{Range: rng, Protocol: proto, Origin: OriginExplicit, Permanence: perm})
		}
	}
	add(z.Ports, Both)
	add(z.RuntimePorts, Runtime)
	add(z.PermanentPorts, Permanent)
	return rules, errors.Join(errs...)
}

// ListServiceBindings implements Source.
func (f *FixtureSource) ListServiceBindings(_ context.Context, zone string) ([]ServiceBinding, error) {
	z, ok := f.zone(zone)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	var out []ServiceBinding
	for _, s := range z.Services {
		out = append(out, ServiceBinding{Name: s, Permanence: Both})
	}
	for _, s := range z.RuntimeServices {
		out = append(out, ServiceBinding{Name: s, Permanence: Runtime})
	}
	for _, s := range z.PermanentServices {
		out = append(out, ServiceBinding{Name: s, Permanence: Permanent})
	}
	return out, nil
}

// ListRichRules implements RichRuleSource.
func (f *FixtureSource) ListRichRules(_ context.Context, zone string) ([]string, error) {
	z, ok := f.zone(zone)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	return append([]string(nil), z.RichRules...), nil
}

// ServiceCatalog implements Source. Fixture services override builtin
// definitions of the same name.
func (f *FixtureSource) ServiceCatalog(context.Context) (map[string]ServiceDefinition, error) {
	catalog := map[string]ServiceDefinition{}
	if f.file.BuiltinServices == nil || *f.file.BuiltinServices {
		catalog = BuiltinCatalog()
	}
	var errs []error
	for _, s := range f.file.Services {
		def := ServiceDefinition{Name: s.Name, Description: s.Description, Includes: s.Includes}
		for _, spec := range s.Ports {
			rng, proto, err := ParsePortSpec(spec)
			if err != nil {
				errs = append(errs, fmt.Errorf("service %s: %w", s.Name, err))
				continue
			}
			def.Ports = append(def.Ports, PortSpec{Range: rng, Protocol: proto})
		}
		catalog[s.Name] = def
	}
	return catalog, errors.Join(errs...)
}

// ExportFixture renders snap in the fixture format so live state can be
// captured and replayed offline. Catalog entries are written only for
// services bound to some zone.
func ExportFixture(snap *StateSnapshot) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	body.SetAttributeValue("mode", cty.StringVal(snap.Mode.String()))

	bound := make(map[string]bool)
	for _, z := range snap.Zones {
		body.AppendNewline()
		block := body.AppendNewBlock("zone", []string{z.Name})
		zb := block.Body()
		zb.SetAttributeValue("active", cty.BoolVal(z.Active))
		if z.Default {
			zb.SetAttributeValue("default", cty.True)
		}
		if z.Target != "" {
			zb.SetAttributeValue("target", cty.StringVal(z.Target))
		}
		setStrings(zb, "interfaces", z.Interfaces)
		setStrings(zb, "sources", z.Sources)

		byPerm := map[Permanence][]string{}
		for _, r := range snap.Ports[z.Name] {
			byPerm[r.Permanence] = append(byPerm[r.Permanence], r.String())
		}
		setStrings(zb, "ports", byPerm[Both])
		setStrings(zb, "runtime_ports", byPerm[Runtime])
		setStrings(zb, "permanent_ports", byPerm[Permanent])

		svcByPerm := map[Permanence][]string{}
		for _, b := range snap.Services[z.Name] {
			svcByPerm[b.Permanence] = append(svcByPerm[b.Permanence], b.Name)
			bound[b.Name] = true
		}
		setStrings(zb, "services", svcByPerm[Both])
		setStrings(zb, "runtime_services", svcByPerm[Runtime])
		setStrings(zb, "permanent_services", svcByPerm[Permanent])

		var rich []string
		for _, r := range snap.RichRules[z.Name] {
			rich = append(rich, r.Raw)
		}
		setStrings(zb, "rich_rules", rich)
	}

	for _, name := range sortedKeys(snap.Catalog) {
		if !bound[name] {
			continue
		}
		def := snap.Catalog[name]
		body.AppendNewline()
		sb := body.AppendNewBlock("service", []string{name}).Body()
		if def.Description != "" {
			sb.SetAttributeValue("description", cty.StringVal(def.Description))
		}
		ports := make([]string, 0, len(def.Ports))
		for _, p := range def.Ports {
			ports = append(ports, p.String())
		}
		setStrings(sb, "ports", ports)
		setStrings(sb, "includes", def.Includes)
	}
	return hclwrite.Format(f.Bytes())
}

func setStrings(body *hclwrite.Body, name string, vals []string) {
	if len(vals) == 0 {
		return
	}
	list := make([]cty.Value, len(vals))
	for i, v := range vals {
		list[i] = cty.StringVal(v)
	}
	body.SetAttributeValue(name, cty.ListVal(list))
}
