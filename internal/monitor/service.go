// Package monitor ties the firewall, exposure and stats layers together
// behind one Service used by the CLI and the background poller.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/state"
	"grimm.is/warden/internal/stats"
)

var (
	// ErrNoSource means the service was built without a firewall source.
	ErrNoSource = errors.New("no firewall source configured")
	// ErrNoStore means the operation needs the state store.
	ErrNoStore = errors.New("state store not configured")
	// ErrStatsDisabled means no stats cache was configured.
	ErrStatsDisabled = errors.New("stats cache not configured")
	// ErrAlreadyRunning is returned by Start on a running poller.
	ErrAlreadyRunning = errors.New("poller already running")
)

// Store is the part of the state store the service uses.
type Store interface {
	AnnotationIndex() (firewall.AnnotationIndex, error)
	DenyAnnotations() ([]state.PortAnnotation, error)
	stats.SnapshotStore
}

// AddressFunc maps local addresses to interface names.
type AddressFunc func() (exposure.AddressMap, error)

// Options wires a Service. Source is required; everything else is optional.
type Options struct {
	Source       firewall.Source
	Sockets      exposure.SocketSource
	Addresses    AddressFunc
	Store        Store
	Cache        *stats.Cache
	Metrics      *metrics.Registry
	Gather       firewall.GatherOptions
	PollInterval time.Duration
	// ProcRoot enables the conntrack health check when set.
	ProcRoot string
	Clock    clock.Clock
	Logger   *logging.Logger
}

// Service answers port, exposure and stats queries and optionally polls in
// the background.
type Service struct {
	source    firewall.Source
	sockets   exposure.SocketSource
	addresses AddressFunc
	store     Store
	cache     *stats.Cache
	metrics   *metrics.Registry
	gatherOpt firewall.GatherOptions
	interval  time.Duration
	procRoot  string
	clock     clock.Clock
	log       *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Service from opts.
func New(opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	s := &Service{
		source:    opts.Source,
		sockets:   opts.Sockets,
		addresses: opts.Addresses,
		store:     opts.Store,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		gatherOpt: opts.Gather,
		interval:  opts.PollInterval,
		procRoot:  opts.ProcRoot,
		clock:     clock.OrReal(opts.Clock),
		log:       opts.Logger,
	}
	if s.interval <= 0 {
		s.interval = config.DefaultPollInterval
	}
	if s.log == nil {
		s.log = logging.WithComponent("monitor")
	}
	if s.gatherOpt.Clock == nil {
		s.gatherOpt.Clock = s.clock
	}
	return s, nil
}

// SetAddresses replaces the address lookup. Call it before the service
// answers queries.
func (s *Service) SetAddresses(fn AddressFunc) {
	s.addresses = fn
}

// FromConfig builds the production wiring: the configured firewall source,
// procfs socket tables, netlink addresses and a stats cache with every
// enabled collector. store may be nil.
func FromConfig(cfg *config.Config, store *state.SQLiteStore, reg *metrics.Registry, log *logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.Default()
	}
	src, err := NewSource(cfg.Firewall, log.WithComponent("firewall"))
	if err != nil {
		return nil, err
	}

	gather := firewall.DefaultGatherOptions()
	gather.Retry.MaxAttempts = cfg.Firewall.Retries
	gather.Logger = log.WithComponent("firewall")

	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	var resolver exposure.ProcessResolver
	if r, err := exposure.NewProcfsResolver(procRoot); err != nil {
		log.Debug("process attribution disabled", "error", err)
	} else {
		resolver = r
	}

	opts := Options{
		Source:       src,
		Sockets:      exposure.NewProcNetSource(procRoot, resolver, log.WithComponent("exposure")),
		Addresses:    exposure.LocalAddresses,
		Metrics:      reg,
		Gather:       gather,
		PollInterval: cfg.Poll(),
		ProcRoot:     procRoot,
		Logger:       log.WithComponent("monitor"),
	}
	if store != nil {
		opts.Store = store
	}

	cache, err := newCache(cfg, procRoot, src, gather, opts.Store, reg, log.WithComponent("stats"))
	if err != nil {
		return nil, err
	}
	opts.Cache = cache
	return New(opts)
}

// NewSource returns the firewall source selected by cfg.
func NewSource(cfg *config.FirewallConfig, log *logging.Logger) (firewall.Source, error) {
	switch cfg.Backend {
	case config.BackendFixture:
		src, err := firewall.LoadFixture(cfg.Fixture)
		if err != nil {
			return nil, fmt.Errorf("load fixture: %w", err)
		}
		return src, nil
	case config.BackendFirewalld, "":
		opts := []firewall.CmdOption{
			firewall.WithBinary(cfg.Command),
			firewall.WithCommandTimeout(cfg.Timeout()),
			firewall.WithSourceLogger(log),
		}
		if len(cfg.ServiceDirs) > 0 {
			dirs := make([]string, len(cfg.ServiceDirs))
			for i, d := range cfg.ServiceDirs {
				dirs[i] = strings.TrimPrefix(d, "/")
			}
			opts = append(opts, firewall.WithCatalogLoader(func() (map[string]firewall.ServiceDefinition, error) {
				return firewall.LoadServiceDirs(os.DirFS("/"), dirs...)
			}))
		}
		return firewall.NewCmdSource(opts...), nil
	}
	return nil, fmt.Errorf("unknown firewall backend %q", cfg.Backend)
}

func newCache(cfg *config.Config, procRoot string, src firewall.Source, gather firewall.GatherOptions, store Store, reg *metrics.Registry, log *logging.Logger) (*stats.Cache, error) {
	opts := []stats.Option{
		stats.WithTimeout(cfg.Timeout()),
		stats.WithMetrics(reg),
		stats.WithLogger(log),
	}
	if store != nil {
		opts = append(opts, stats.WithStore(store, cfg.Stats.MaxAge()))
	}

	if cfg.Stats.Enabled(string(stats.KindTraffic)) {
		traffic, err := stats.NewTrafficCollector(procRoot, nil)
		if err != nil {
			log.Warn("traffic stats disabled", "error", err)
		} else {
			opts = append(opts, stats.WithCollector(stats.KindTraffic, traffic, cfg.Stats.Freshness(string(stats.KindTraffic))))
		}
	}
	if cfg.Stats.Enabled(string(stats.KindConnections)) {
		conns, err := stats.NewConnectionsCollector(procRoot,
			stats.WithFlowCounter(stats.NewFlowCounter()),
			stats.WithHistory(cfg.Stats.History),
			stats.WithConnectionsLogger(log))
		if err != nil {
			log.Warn("connection stats disabled", "error", err)
		} else {
			opts = append(opts, stats.WithCollector(stats.KindConnections, conns, cfg.Stats.Freshness(string(stats.KindConnections))))
		}
	}
	if cfg.Stats.Enabled(string(stats.KindZones)) {
		opts = append(opts, stats.WithCollector(stats.KindZones, stats.NewZonesCollector(src, gather), cfg.Stats.Freshness(string(stats.KindZones))))
	}
	return stats.NewCache(opts...)
}

// PortsView is the consolidated, annotated port list.
type PortsView struct {
	Mode        firewall.Mode    `json:"mode"`
	Entries     []firewall.Entry `json:"entries"`
	Warnings    []string         `json:"warnings,omitempty"`
	CollectedAt time.Time        `json:"collected_at"`
}

// Ports gathers firewall state and returns it consolidated and annotated.
func (s *Service) Ports(ctx context.Context) (*PortsView, error) {
	snap, err := s.gather(ctx)
	if err != nil {
		return nil, err
	}
	return s.consolidate(snap), nil
}

// Snapshot returns the raw firewall state, without consolidation.
func (s *Service) Snapshot(ctx context.Context) (*firewall.StateSnapshot, error) {
	return s.gather(ctx)
}

func (s *Service) gather(ctx context.Context) (*firewall.StateSnapshot, error) {
	snap, err := firewall.Gather(ctx, s.source, s.gatherOpt)
	if err != nil {
		s.metrics.RecordSourceError("firewall")
		return nil, err
	}
	return snap, nil
}

func (s *Service) consolidate(snap *firewall.StateSnapshot) *PortsView {
	cons := firewall.Consolidate(snap)
	entries := cons.Entries
	if s.store != nil {
		idx, err := s.store.AnnotationIndex()
		if err != nil {
			s.log.Warn("annotations unavailable", "error", err)
		} else {
			entries = firewall.Annotate(entries, idx)
		}
	}

	view := &PortsView{
		Mode:        snap.Mode,
		Entries:     entries,
		CollectedAt: snap.CollectedAt,
	}
	for _, w := range snap.Warnings {
		view.Warnings = append(view.Warnings, w.Error())
	}
	for _, w := range cons.Warnings {
		view.Warnings = append(view.Warnings, w.Error())
	}
	s.metrics.RecordConsolidation(len(entries), len(cons.Warnings))
	return view
}

// Exposure correlates listening sockets with the consolidated firewall
// view. When firewall state cannot be read every socket is reported with
// the Unknown verdict instead of failing.
func (s *Service) Exposure(ctx context.Context) (*exposure.Report, error) {
	if s.sockets == nil {
		return nil, exposure.ErrUnavailable
	}
	scan, err := s.sockets.ListeningSockets(ctx)
	if err != nil {
		s.metrics.RecordSourceError("sockets")
		return nil, err
	}

	in := exposure.Input{Sockets: scan.Sockets, Unavailable: true}
	snap, err := s.gather(ctx)
	switch {
	case err == nil:
		view := s.consolidate(snap)
		in.Entries = view.Entries
		in.Zones = snap.Zones
		in.Mode = snap.Mode
		in.Denies = denyRules(snap.RichRules)
		in.Unavailable = false
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.log.Warn("firewall state unavailable, verdicts unknown", "error", err)
	}

	if s.addresses != nil {
		addrs, err := s.addresses()
		if err != nil {
			s.log.Debug("interface addresses unavailable", "error", err)
		} else {
			in.Addresses = addrs
		}
	}

	report := exposure.Correlate(in)
	exposed := 0
	for _, a := range report.Assessments {
		if a.Exposed {
			exposed++
		}
	}
	s.metrics.RecordExposure(report.Counts, exposed, scan.Skipped)
	return report, nil
}

// Stats returns the cached snapshot for kind, refreshing it when stale.
func (s *Service) Stats(ctx context.Context, kind stats.Kind) (stats.Result, error) {
	if s.cache == nil {
		return stats.Result{}, ErrStatsDisabled
	}
	return s.cache.Get(ctx, kind)
}

// Cache exposes the stats cache, or nil.
func (s *Service) Cache() *stats.Cache {
	return s.cache
}
