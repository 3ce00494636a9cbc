package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/stats"
)

func static(status Status) CheckFunc {
	return func(context.Context) Check { return Check{Status: status} }
}

func TestChecker_Aggregates(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewChecker(clk, 5*time.Second)
	c.Register("a", static(StatusHealthy))
	c.Register("b", static(StatusDegraded))

	report := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, []string{"a", "b"}, report.Names())
	assert.Equal(t, "b", report.Checks["b"].Name)

	c.Register("c", static(StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
}

func TestChecker_CachesForTTL(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewChecker(clk, 5*time.Second)
	calls := 0
	c.Register("counted", func(context.Context) Check {
		calls++
		return Check{Status: StatusHealthy}
	})

	c.Check(context.Background())
	c.Check(context.Background())
	assert.Equal(t, 1, calls)

	clk.Advance(6 * time.Second)
	c.Check(context.Background())
	assert.Equal(t, 2, calls)
}

func TestHandler(t *testing.T) {
	c := NewChecker(nil, 0)
	c.Register("down", static(StatusUnhealthy))

	rr := httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)

	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "NOT READY", strings.TrimSpace(rr.Body.String()))
}

func TestChecker_PanickingCheckIsUnhealthy(t *testing.T) {
	c := NewChecker(nil, 0)
	c.Register("ok", static(StatusHealthy))
	c.Register("boom", func(context.Context) Check { panic("nil map") })

	report := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "boom", report.Checks["boom"].Name)
	assert.Contains(t, report.Checks["boom"].Message, "nil map")
	assert.Equal(t, StatusHealthy, report.Checks["ok"].Status)
}

func TestFirewallCheck(t *testing.T) {
	src := &firewall.MockSource{}
	src.On("Mode", mock.Anything).Return(firewall.ModeActive, nil).Once()
	src.On("Mode", mock.Anything).Return(firewall.ModePanic, nil).Once()
	src.On("Mode", mock.Anything).Return(firewall.ModeUnknown, firewall.ErrUnavailable).Once()

	check := FirewallCheck(src)
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)
	src.AssertExpectations(t)
}

type scanFunc func(context.Context) (*exposure.Scan, error)

func (f scanFunc) ListeningSockets(ctx context.Context) (*exposure.Scan, error) { return f(ctx) }

func TestSocketCheck(t *testing.T) {
	ok := SocketCheck(scanFunc(func(context.Context) (*exposure.Scan, error) {
		return &exposure.Scan{Sockets: make([]exposure.ListeningSocket, 3)}, nil
	}))
	assert.Equal(t, Check{Status: StatusHealthy, Message: "3 listening sockets"}, ok(context.Background()))

	bad := SocketCheck(scanFunc(func(context.Context) (*exposure.Scan, error) {
		return nil, exposure.ErrUnavailable
	}))
	assert.Equal(t, StatusUnhealthy, bad(context.Background()).Status)
}

func TestCacheCheck(t *testing.T) {
	cache, err := stats.NewCache(stats.WithCollector(stats.KindZones, stats.CollectorFunc(func(context.Context) (*stats.Snapshot, error) {
		return &stats.Snapshot{Kind: stats.KindZones}, nil
	}), time.Minute))
	require.NoError(t, err)

	check := CacheCheck(cache)
	got := check(context.Background())
	assert.Equal(t, StatusHealthy, got.Status)
	assert.Contains(t, got.Message, "not yet collected: zones")

	_, err = cache.Get(context.Background(), stats.KindZones)
	require.NoError(t, err)
	assert.Equal(t, "1 kinds cached", check(context.Background()).Message)
}

func TestStoreCheck(t *testing.T) {
	assert.Equal(t, StatusHealthy, StoreCheck(func() (string, error) { return "1", nil })(context.Background()).Status)
	assert.Equal(t, StatusDegraded, StoreCheck(func() (string, error) { return "", errors.New("closed") })(context.Background()).Status)
}

func TestConntrackCheck(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, StatusDegraded, ConntrackCheck(root)(context.Background()).Status)

	dir := filepath.Join(root, "sys", "net", "netfilter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nf_conntrack_count"), []byte("42\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nf_conntrack_max"), []byte("65536\n"), 0o644))

	got := ConntrackCheck(root)(context.Background())
	assert.Equal(t, StatusHealthy, got.Status)
	assert.Equal(t, "conntrack entries: 42 of 65536", got.Message)
}
