package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/warden/internal/logging"
)

// Severity values for ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default), "warning"
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks every field. Freshness windows and timeouts must be
// positive; unknown stats kinds only produce warnings.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
	}
	warn := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
	}
	positive := func(field, value string) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			add(field, "invalid duration %q", value)
			return
		}
		if d <= 0 {
			add(field, "must be positive, got %s", value)
		}
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}
	positive("poll_interval", c.PollInterval)
	positive("collector_timeout", c.CollectorTimeout)

	if f := c.Firewall; f != nil {
		switch f.Backend {
		case BackendFirewalld:
		case BackendFixture:
			if f.Fixture == "" {
				add("firewall.fixture", "required when backend is %q", BackendFixture)
			}
		default:
			add("firewall.backend", "unknown backend %q", f.Backend)
		}
		positive("firewall.command_timeout", f.CommandTimeout)
		if f.Retries < 0 {
			add("firewall.retries", "must not be negative")
		}
	}

	if s := c.Stats; s != nil {
		if s.History < 0 {
			add("stats.history", "must not be negative")
		}
		positive("stats.persist_max_age", s.PersistMaxAge)
		seen := map[string]bool{}
		for _, k := range s.Kinds {
			field := fmt.Sprintf("stats.kind[%s].freshness", k.Name)
			if seen[k.Name] {
				add(fmt.Sprintf("stats.kind[%s]", k.Name), "duplicate kind block")
			}
			seen[k.Name] = true
			if _, known := DefaultFreshness[k.Name]; !known {
				warn(fmt.Sprintf("stats.kind[%s]", k.Name), "unknown stats kind")
			}
			if k.Freshness == "" {
				continue
			}
			d, err := time.ParseDuration(k.Freshness)
			if err != nil {
				add(field, "invalid duration %q", k.Freshness)
				continue
			}
			if d <= 0 {
				add(field, "freshness window must be positive, got %s", k.Freshness)
			}
		}
	}

	if m := c.Metrics; m != nil && m.Listen != "" {
		if _, _, err := net.SplitHostPort(m.Listen); err != nil {
			add("metrics.listen", "invalid address %q", m.Listen)
		}
	}
	return errs
}
