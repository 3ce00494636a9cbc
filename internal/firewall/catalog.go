package firewall

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default firewalld service definition directories. Later directories
// override earlier ones, matching firewalld's lookup order.
var DefaultServiceDirs = []string{
	"/usr/lib/firewalld/services",
	"/etc/firewalld/services",
}

// ExpandService resolves name to its ports, following includes. Include
// cycles are cut at the first repeat.
func ExpandService(catalog map[string]ServiceDefinition, name string) ([]PortSpec, error) {
	if _, ok := catalog[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	seen := make(map[string]bool)
	var out []PortSpec
	var walk func(string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		def, ok := catalog[n]
		if !ok {
			return
		}
		out = append(out, def.Ports...)
		for _, inc := range def.Includes {
			walk(inc)
		}
	}
	walk(name)
	return dedupeSpecs(out), nil
}

func dedupeSpecs(specs []PortSpec) []PortSpec {
	seen := make(map[PortSpec]bool, len(specs))
	out := specs[:0:0]
	for _, s := range specs {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type serviceXML struct {
	XMLName     xml.Name `xml:"service"`
	Short       string   `xml:"short"`
	Description string   `xml:"description"`
	Ports       []struct {
		Protocol string `xml:"protocol,attr"`
		Port     string `xml:"port,attr"`
	} `xml:"port"`
	Includes []struct {
		Service string `xml:"service,attr"`
	} `xml:"include"`
}

// ParseServiceXML decodes one firewalld service definition. Ports using
// protocols other than tcp and udp are dropped; a port that fails to parse
// is reported with ErrMalformedRecord alongside the definition.
func ParseServiceXML(name string, r io.Reader) (ServiceDefinition, error) {
	var doc serviceXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return ServiceDefinition{}, fmt.Errorf("%w: service %s: %v", ErrMalformedRecord, name, err)
	}
	def := ServiceDefinition{
		Name:        name,
		Description: strings.TrimSpace(doc.Description),
	}
	if def.Description == "" {
		def.Description = strings.TrimSpace(doc.Short)
	}
	var errs []error
	for _, p := range doc.Ports {
		proto, err := ParseProtocol(p.Protocol)
		if err != nil {
			continue
		}
		if p.Port == "" {
			continue
		}
		rng, err := ParsePortRange(p.Port)
		if err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", name, err))
			continue
		}
		def.Ports = append(def.Ports, PortSpec{Range: rng, Protocol: proto})
	}
	for _, inc := range doc.Includes {
		if inc.Service != "" {
			def.Includes = append(def.Includes, inc.Service)
		}
	}
	return def, errors.Join(errs...)
}

// LoadServiceDirs reads every *.xml service definition under dirs. Missing
// directories are skipped. It returns ErrUnavailable when no directory
// could be read at all.
func LoadServiceDirs(fsys fs.FS, dirs ...string) (map[string]ServiceDefinition, error) {
	catalog := make(map[string]ServiceDefinition)
	var errs []error
	readable := 0
	for _, dir := range dirs {
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			continue
		}
		readable++
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".xml") {
				continue
			}
			name := strings.TrimSuffix(ent.Name(), ".xml")
			f, err := fsys.Open(filepath.ToSlash(filepath.Join(dir, ent.Name())))
			if err != nil {
				continue
			}
			def, err := ParseServiceXML(name, f)
			f.Close()
			if err != nil {
				errs = append(errs, err)
				if def.Name == "" {
					continue
				}
			}
			catalog[name] = def
		}
	}
	if readable == 0 {
		return nil, fmt.Errorf("%w: no service directory readable in %v", ErrUnavailable, dirs)
	}
	return catalog, errors.Join(errs...)
}

// HostServiceCatalog loads DefaultServiceDirs from the host, falling back to
// BuiltinServices when none are present.
func HostServiceCatalog() (map[string]ServiceDefinition, error) {
	dirs := make([]string, len(DefaultServiceDirs))
	for i, d := range DefaultServiceDirs {
		dirs[i] = strings.TrimPrefix(d, "/")
	}
	catalog, err := LoadServiceDirs(os.DirFS("/"), dirs...)
	if errors.Is(err, ErrUnavailable) {
		return BuiltinCatalog(), nil
	}
	return catalog, err
}
