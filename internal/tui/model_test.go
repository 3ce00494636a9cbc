package tui

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/stats"
)

type fakeBackend struct{}

func (fakeBackend) Ports(context.Context) (*monitor.PortsView, error) {
	return &monitor.PortsView{Mode: firewall.ModeActive}, nil
}

func (fakeBackend) Exposure(context.Context) (*exposure.Report, error) {
	return &exposure.Report{Counts: map[string]int{}}, nil
}

func (fakeBackend) Stats(_ context.Context, kind stats.Kind) (stats.Result, error) {
	return stats.Result{Snapshot: &stats.Snapshot{Kind: kind}, State: stats.StateFresh}, nil
}

func key(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_Navigation(t *testing.T) {
	m := NewModel(fakeBackend{}, time.Second)
	assert.Equal(t, ViewDashboard, m.ActiveView)

	m = update(t, m, key("3"))
	assert.Equal(t, ViewExposure, m.ActiveView)

	m = update(t, m, key("tab"))
	assert.Equal(t, ViewZones, m.ActiveView)

	m = update(t, m, key("tab"))
	assert.Equal(t, ViewDashboard, m.ActiveView)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_Dashboard(t *testing.T) {
	m := NewModel(fakeBackend{}, time.Second)
	assert.Contains(t, m.View(), "Loading dashboard")

	m = update(t, m, statsMsg{kind: stats.KindTraffic, result: stats.Result{
		State: stats.StateFresh,
		Snapshot: &stats.Snapshot{Interfaces: []stats.InterfaceCounters{
			{Name: "eth0", RxRate: 2048, TxRate: 0},
		}, Packets: stats.NewPacketTotals(75, 25)},
	}})
	m = update(t, m, statsMsg{kind: stats.KindConnections, err: errors.New("conntrack unavailable")})

	view := m.View()
	assert.Contains(t, view, "eth0")
	assert.Contains(t, view, "2.0 KiB/s")
	assert.Contains(t, view, "dropped 25.0%")
	assert.Contains(t, view, "conntrack unavailable")
	assert.Contains(t, view, "fresh")
}

func TestModel_PortsAndExposure(t *testing.T) {
	m := NewModel(fakeBackend{}, time.Second)
	entry := firewall.Entry{
		Range:      firewall.SinglePort(22),
		Protocol:   firewall.TCP,
		Zones:      []string{"public"},
		Services:   []string{"ssh"},
		Grants:     []firewall.Grant{{Zone: "public", Origin: firewall.OriginService, Service: "ssh", Permanence: firewall.Both}},
		Permanence: map[string]firewall.Permanence{"public": firewall.Both},
	}
	m = update(t, m, portsMsg{view: &monitor.PortsView{Entries: []firewall.Entry{entry}}})
	m = update(t, m, key("2"))
	assert.Contains(t, m.View(), "22/tcp")
	assert.Contains(t, m.View(), "1 entries")

	report := exposure.Correlate(exposure.Input{
		Sockets: []exposure.ListeningSocket{{Address: netip.MustParseAddr("0.0.0.0"), Port: 22, Protocol: firewall.TCP, PID: 812, Process: "sshd"}},
		Entries: []firewall.Entry{entry},
		Zones:   []firewall.Zone{{Name: "public", Active: true, Default: true}},
		Mode:    firewall.ModeActive,
	})
	m = update(t, m, exposureMsg{report: report})
	m = update(t, m, key("3"))
	assert.Contains(t, m.View(), "sshd[812]")
	assert.Contains(t, m.View(), "allowed")
}

func TestModel_TickRefetches(t *testing.T) {
	m := NewModel(fakeBackend{}, time.Second)
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", Sparkline(nil, 10))
	assert.Equal(t, "▁▁▁", Sparkline([]float64{5, 5, 5}, 10))
	assert.Equal(t, "▁█", Sparkline([]float64{0, 10}, 10))
	assert.Equal(t, "▁█", Sparkline([]float64{100, 0, 10}, 2))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatRate(0))
	assert.Equal(t, "512 B/s", FormatRate(512))
	assert.Equal(t, "1.5 MiB/s", FormatRate(1.5*1024*1024))
}

func TestPermanence(t *testing.T) {
	e := firewall.Entry{
		Zones:      []string{"home", "public"},
		Permanence: map[string]firewall.Permanence{"home": firewall.Runtime, "public": firewall.Both},
	}
	assert.Equal(t, "home=runtime public=both", Permanence(e))

	e.Permanence["home"] = firewall.Both
	assert.Equal(t, "both", Permanence(e))
}

func TestZoneItems(t *testing.T) {
	items := ZoneItems([]stats.ZoneSummary{{Zone: "public", Active: true, Default: true, Ports: 3}})
	require.Len(t, items, 1)
	it := items[0].(zoneItem)
	assert.Equal(t, "public (default)", it.Title())
	assert.Contains(t, it.Description(), "active, target default, 3 ports")
}
