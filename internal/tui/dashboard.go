package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"grimm.is/warden/internal/stats"
)

// DashboardModel shows traffic and connection tracking.
type DashboardModel struct {
	Results map[stats.Kind]stats.Result
	Errors  map[stats.Kind]error
	Width   int
	Height  int
}

func NewDashboardModel() DashboardModel {
	return DashboardModel{
		Results: make(map[stats.Kind]stats.Result),
		Errors:  make(map[stats.Kind]error),
	}
}

// Apply records a stats result.
func (m DashboardModel) Apply(msg statsMsg) DashboardModel {
	if msg.err != nil {
		m.Errors[msg.kind] = msg.err
		return m
	}
	delete(m.Errors, msg.kind)
	m.Results[msg.kind] = msg.result
	return m
}

// Resize records the window size.
func (m DashboardModel) Resize(msg tea.WindowSizeMsg) DashboardModel {
	m.Width = msg.Width
	m.Height = msg.Height
	return m
}

func (m DashboardModel) View() string {
	if len(m.Results) == 0 && len(m.Errors) == 0 {
		return "Loading dashboard..."
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, m.trafficCard(), m.connectionsCard())
	return lipgloss.JoinVertical(lipgloss.Left, top, m.statusCard())
}

func (m DashboardModel) trafficCard() string {
	lines := []string{StyleTitle.Render("Interface Throughput")}
	res, ok := m.Results[stats.KindTraffic]
	switch {
	case !ok || res.Snapshot == nil:
		lines = append(lines, StyleMuted.Render(m.missing(stats.KindTraffic)))
	case len(res.Snapshot.Interfaces) == 0:
		lines = append(lines, StyleMuted.Render("no interfaces"))
	default:
		for _, iface := range res.Snapshot.Interfaces {
			lines = append(lines, fmt.Sprintf("%-10s RX %10s  TX %10s",
				iface.Name, FormatRate(iface.RxRate), FormatRate(iface.TxRate)))
		}
		if p := res.Snapshot.Packets; p != nil {
			lines = append(lines, StyleMuted.Render(fmt.Sprintf("accepted %.1f%%  dropped %.1f%%",
				p.AcceptedRatio*100, p.DroppedRatio*100)))
		}
	}
	return StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m DashboardModel) connectionsCard() string {
	lines := []string{StyleTitle.Render("Connections")}
	res, ok := m.Results[stats.KindConnections]
	if !ok || res.Snapshot == nil || res.Snapshot.Connections == nil {
		lines = append(lines, StyleMuted.Render(m.missing(stats.KindConnections)))
		return StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}
	c := res.Snapshot.Connections
	lines = append(lines,
		fmt.Sprintf("Total %-8s %s", humanize.Comma(int64(c.Total)), Sparkline(c.History["total"], 30)),
		fmt.Sprintf("TCP   %-8s %s", humanize.Comma(int64(c.TCP)), Sparkline(c.History["tcp"], 30)),
		fmt.Sprintf("UDP   %-8s %s", humanize.Comma(int64(c.UDP)), Sparkline(c.History["udp"], 30)),
		fmt.Sprintf("ICMP  %-8s %s", humanize.Comma(int64(c.ICMP)), Sparkline(c.History["icmp"], 30)),
		StyleSubtitle.Render("source: "+c.Source),
	)
	return StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m DashboardModel) statusCard() string {
	lines := []string{StyleTitle.Render("Cache")}
	for _, kind := range stats.Kinds() {
		if err, ok := m.Errors[kind]; ok {
			lines = append(lines, fmt.Sprintf("%-12s %s", kind, StyleStatusBad.Render(err.Error())))
			continue
		}
		res, ok := m.Results[kind]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%-12s %s  age %s", kind,
			StateStyle(res.State.String()).Render(res.State.String()),
			res.Age.Truncate(time.Millisecond))
		if res.Err != nil {
			line += "  " + StyleStatusWarn.Render(res.Err.Error())
		}
		lines = append(lines, line)
	}
	return StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m DashboardModel) missing(kind stats.Kind) string {
	if err, ok := m.Errors[kind]; ok {
		return err.Error()
	}
	return "waiting for data"
}

// FormatRate renders bytes per second.
func FormatRate(bps float64) string {
	if bps <= 0 || math.IsNaN(bps) {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values scaled between their min and max.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}
