// Package health runs readiness checks against the data sources warden
// depends on and serves the result over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/warden/internal/clock"
)

// Status is the outcome of one check or of the whole report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one named check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report is every check plus the worst status among them.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Names returns the check names in order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// checkTimeout caps each check on top of the caller's deadline.
const checkTimeout = 3 * time.Second

// rank orders statuses from best to worst.
var rank = map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worse(a, b Status) Status {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Checker runs the registered checks and reuses the last report for ttl.
type Checker struct {
	clock clock.Clock
	ttl   time.Duration

	mu     sync.Mutex
	checks map[string]CheckFunc
	last   *Report
}

// NewChecker creates a checker with no checks registered.
func NewChecker(clk clock.Clock, ttl time.Duration) *Checker {
	return &Checker{
		clock:  clock.OrReal(clk),
		ttl:    ttl,
		checks: make(map[string]CheckFunc),
	}
}

// Register adds or replaces a check and drops the cached report.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.last = nil
}

// Check returns the cached report while it is younger than ttl, otherwise
// runs every check concurrently. A check that panics is unhealthy.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	if c.last != nil && c.clock.Since(c.last.Timestamp) < c.ttl {
		report := *c.last
		c.mu.Unlock()
		return report
	}
	funcs := maps.Clone(c.checks)
	c.mu.Unlock()

	results := make([]Check, 0, len(funcs))
	var mu sync.Mutex
	var g errgroup.Group
	for name, fn := range funcs {
		g.Go(func() error {
			check := c.run(ctx, name, fn)
			mu.Lock()
			results = append(results, check)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(results)),
		Timestamp: c.clock.Now(),
	}
	for _, check := range results {
		report.Checks[check.Name] = check
		report.Status = worse(report.Status, check.Status)
	}

	c.mu.Lock()
	c.last = &report
	c.mu.Unlock()
	return report
}

func (c *Checker) run(ctx context.Context, name string, fn CheckFunc) (check Check) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	start := c.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			check = Check{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
		}
		check.Name = name
		check.LastChecked = start
		check.Duration = c.clock.Since(start)
	}()
	return fn(ctx)
}

// Handler serves the full report as JSON; 503 when unhealthy, 200 when
// healthy or degraded.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	}
}

// ReadinessHandler answers READY unless the report is unhealthy.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.Check(r.Context()).Status == StatusUnhealthy {
			http.Error(w, "NOT READY", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("READY\n"))
	}
}
