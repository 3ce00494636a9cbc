package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"grimm.is/warden/internal/firewall"
)

// legacyTimeLayout is the created_at format of port_metadata.json.
const legacyTimeLayout = "2006-01-02 15:04:05"

// legacyRecord is one value of the port_metadata.json map.
type legacyRecord struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	CreatedAt      string `json:"created_at"`
	IncomingAction string `json:"incoming_action"`
	OutgoingAction string `json:"outgoing_action"`
	Zone           string `json:"zone"`
	Protocol       string `json:"protocol"`
	Port           int    `json:"port"`
}

// ParseLegacyJSON decodes a port_metadata.json document. Keys have the form
// "port/proto" or "port/proto/zone". Records that cannot be interpreted are
// reported in the joined error; the rest are returned.
func ParseLegacyJSON(r io.Reader) ([]PortAnnotation, error) {
	var raw map[string]legacyRecord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode legacy metadata: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		out  []PortAnnotation
		errs []error
	)
	for _, key := range keys {
		a, err := legacyAnnotation(key, raw[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		out = append(out, a)
	}
	return out, errors.Join(errs...)
}

func legacyAnnotation(key string, rec legacyRecord) (PortAnnotation, error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 2 {
		return PortAnnotation{}, fmt.Errorf("%w: key must be port/proto[/zone]", ErrInvalidRecord)
	}
	rng, proto, err := firewall.ParsePortSpec(parts[0] + "/" + parts[1])
	if err != nil {
		return PortAnnotation{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	zone := rec.Zone
	if len(parts) == 3 {
		zone = parts[2]
	}
	a := PortAnnotation{
		Range:    rng,
		Protocol: proto,
		Annotation: firewall.Annotation{
			Name:           rec.Name,
			Description:    rec.Description,
			IncomingAction: strings.ToLower(rec.IncomingAction),
			OutgoingAction: strings.ToLower(rec.OutgoingAction),
			Zone:           zone,
		},
	}
	if a.Name == "" {
		a.Name = rec.Description
	}
	if rec.CreatedAt != "" {
		if t, err := time.ParseInLocation(legacyTimeLayout, rec.CreatedAt, time.Local); err == nil {
			a.CreatedAt = t
		}
	}
	if err := a.Validate(); err != nil {
		return PortAnnotation{}, err
	}
	return a, nil
}

// ImportLegacyJSON stores every valid record of a port_metadata.json
// document and returns how many were imported.
func (s *SQLiteStore) ImportLegacyJSON(r io.Reader) (int, error) {
	records, parseErr := ParseLegacyJSON(r)
	imported := 0
	for _, a := range records {
		if err := s.SetAnnotation(a); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, parseErr
}

// ImportLegacyFile imports the legacy metadata file at path.
func (s *SQLiteStore) ImportLegacyFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return s.ImportLegacyJSON(f)
}
