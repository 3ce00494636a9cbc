package firewall

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the firewall backend could not be queried.
	ErrUnavailable = errors.New("firewall state unavailable")
	// ErrMalformedRecord marks a single record that could not be parsed or
	// violates a domain constraint. It is reported, never fatal.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnknownZone is a rule that references a zone not in the snapshot.
	ErrUnknownZone = errors.New("unknown zone")
	// ErrUnknownService is a binding to a service missing from the catalog.
	ErrUnknownService = errors.New("unknown service")
)

// Warning is a soft failure attached to a result instead of aborting it.
type Warning struct {
	Zone    string
	Service string
	Record  string
	Err     error
}

func (w Warning) Error() string {
	prefix := ""
	if w.Zone != "" {
		prefix += "zone " + w.Zone + ": "
	}
	if w.Service != "" {
		prefix += "service " + w.Service + ": "
	}
	if w.Record != "" {
		prefix += w.Record + ": "
	}
	if w.Err == nil {
		return prefix + "unspecified"
	}
	return prefix + w.Err.Error()
}

func (w Warning) Unwrap() error {
	return w.Err
}

// MarshalText renders the warning as its message for JSON output.
func (w Warning) MarshalText() ([]byte, error) {
	return []byte(w.Error()), nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
