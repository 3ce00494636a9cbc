package config

import (
	"path/filepath"
	"time"

	"grimm.is/warden/internal/brand"
)

// Backend names for the firewall block.
const (
	BackendFirewalld = "firewalld"
	BackendFixture   = "fixture"
)

// Config is the top-level warden configuration.
type Config struct {
	LogLevel         string `hcl:"log_level,optional"`
	LogJSON          bool   `hcl:"log_json,optional"`
	StateDir         string `hcl:"state_dir,optional"`
	ProcRoot         string `hcl:"proc_root,optional"`
	PollInterval     string `hcl:"poll_interval,optional"`
	CollectorTimeout string `hcl:"collector_timeout,optional"`

	Firewall *FirewallConfig `hcl:"firewall,block"`
	Stats    *StatsConfig    `hcl:"stats,block"`
	Metrics  *MetricsConfig  `hcl:"metrics,block"`
}

// FirewallConfig selects and tunes the firewall state source.
type FirewallConfig struct {
	Backend        string   `hcl:"backend,optional"`
	Fixture        string   `hcl:"fixture,optional"`
	Command        string   `hcl:"command,optional"`
	CommandTimeout string   `hcl:"command_timeout,optional"`
	Retries        int      `hcl:"retries,optional"`
	ServiceDirs    []string `hcl:"service_dirs,optional"`
}

// StatsConfig configures the statistics cache.
type StatsConfig struct {
	History       int          `hcl:"history,optional"`
	PersistMaxAge string       `hcl:"persist_max_age,optional"`
	Kinds         []KindConfig `hcl:"kind,block"`
}

// KindConfig overrides the freshness window of one stats kind.
type KindConfig struct {
	Name      string `hcl:"name,label"`
	Freshness string `hcl:"freshness,optional"`
	Disabled  bool   `hcl:"disabled,optional"`
}

// MetricsConfig configures the Prometheus endpoint served by `warden watch`.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional"`
	// RateLimit is /api requests per client per minute. Negative disables.
	RateLimit int `hcl:"rate_limit,optional"`
}

// Defaults
const (
	DefaultLogLevel         = "info"
	DefaultPollInterval     = 5 * time.Second
	DefaultCollectorTimeout = 3 * time.Second
	DefaultCommandTimeout   = 5 * time.Second
	DefaultRetries          = 2
	DefaultHistory          = 60
	DefaultPersistMaxAge    = time.Hour
	DefaultMetricsListen    = "127.0.0.1:9469"
	DefaultRateLimit        = 120
)

// DefaultFreshness is the window used for kinds without a kind block.
var DefaultFreshness = map[string]time.Duration{
	"traffic":     time.Second,
	"connections": 5 * time.Second,
	"zones":       30 * time.Second,
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.StateDir == "" {
		c.StateDir = brand.GetStateDir()
	}
	if c.PollInterval == "" {
		c.PollInterval = DefaultPollInterval.String()
	}
	if c.CollectorTimeout == "" {
		c.CollectorTimeout = DefaultCollectorTimeout.String()
	}
	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Firewall.Backend == "" {
		c.Firewall.Backend = BackendFirewalld
	}
	if c.Firewall.Command == "" {
		c.Firewall.Command = "firewall-cmd"
	}
	if c.Firewall.CommandTimeout == "" {
		c.Firewall.CommandTimeout = DefaultCommandTimeout.String()
	}
	if c.Firewall.Retries == 0 {
		c.Firewall.Retries = DefaultRetries
	}
	if c.Stats == nil {
		c.Stats = &StatsConfig{}
	}
	if c.Stats.History == 0 {
		c.Stats.History = DefaultHistory
	}
	if c.Stats.PersistMaxAge == "" {
		c.Stats.PersistMaxAge = DefaultPersistMaxAge.String()
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.Metrics.RateLimit == 0 {
		c.Metrics.RateLimit = DefaultRateLimit
	}
}

// Poll returns the background poll interval.
func (c *Config) Poll() time.Duration {
	return durationOr(c.PollInterval, DefaultPollInterval)
}

// Timeout returns the per-collector timeout.
func (c *Config) Timeout() time.Duration {
	return durationOr(c.CollectorTimeout, DefaultCollectorTimeout)
}

// DatabasePath returns the SQLite file under the state directory.
func (c *Config) DatabasePath() string {
	if c.StateDir == "" {
		return brand.GetDatabasePath()
	}
	return filepath.Join(c.StateDir, brand.LowerName+".db")
}

// Timeout returns the firewall command timeout.
func (f *FirewallConfig) Timeout() time.Duration {
	return durationOr(f.CommandTimeout, DefaultCommandTimeout)
}

// MaxAge returns how old a persisted snapshot may be and still be loaded.
func (s *StatsConfig) MaxAge() time.Duration {
	return durationOr(s.PersistMaxAge, DefaultPersistMaxAge)
}

// Kind returns the kind block for name, if any.
func (s *StatsConfig) Kind(name string) (KindConfig, bool) {
	for _, k := range s.Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return KindConfig{}, false
}

// Freshness returns the freshness window for a kind, falling back to
// DefaultFreshness.
func (s *StatsConfig) Freshness(kind string) time.Duration {
	if k, ok := s.Kind(kind); ok && k.Freshness != "" {
		if d, err := time.ParseDuration(k.Freshness); err == nil {
			return d
		}
	}
	if d, ok := DefaultFreshness[kind]; ok {
		return d
	}
	return DefaultPollInterval
}

// Enabled reports whether kind should be collected.
func (s *StatsConfig) Enabled(kind string) bool {
	k, ok := s.Kind(kind)
	return !ok || !k.Disabled
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
