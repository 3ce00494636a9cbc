// Package tui is the live terminal view behind `warden top`.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/stats"
)

// View is the active screen.
type View int

const (
	ViewDashboard View = iota
	ViewPorts
	ViewExposure
	ViewZones
	viewCount
)

// Backend supplies the data shown. *monitor.Service implements it.
type Backend interface {
	Ports(ctx context.Context) (*monitor.PortsView, error)
	Exposure(ctx context.Context) (*exposure.Report, error)
	Stats(ctx context.Context, kind stats.Kind) (stats.Result, error)
}

type tickMsg time.Time

type statsMsg struct {
	kind   stats.Kind
	result stats.Result
	err    error
}

type portsMsg struct {
	view *monitor.PortsView
	err  error
}

type exposureMsg struct {
	report *exposure.Report
	err    error
}

// Model is the application state.
type Model struct {
	Backend  Backend
	Interval time.Duration
	Timeout  time.Duration

	ActiveView View
	Width      int
	Height     int

	Dashboard DashboardModel
	Ports     PortsModel
	Exposure  ExposureModel
	Zones     ZonesModel
}

// NewModel creates the initial model. interval is the refresh period.
func NewModel(backend Backend, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		Backend:    backend,
		Interval:   interval,
		Timeout:    5 * time.Second,
		ActiveView: ViewDashboard,
		Dashboard:  NewDashboardModel(),
		Ports:      NewPortsModel(),
		Exposure:   NewExposureModel(),
		Zones:      NewZonesModel(),
	}
}

// Run starts the program and blocks until the user quits.
func Run(backend Backend, interval time.Duration) error {
	_, err := tea.NewProgram(NewModel(backend, interval), tea.WithAltScreen()).Run()
	return err
}

// Init fetches everything once and starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	cmds := []tea.Cmd{
		m.fetchStats(stats.KindTraffic),
		m.fetchStats(stats.KindConnections),
		m.fetchStats(stats.KindZones),
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
			defer cancel()
			view, err := m.Backend.Ports(ctx)
			return portsMsg{view: view, err: err}
		},
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
			defer cancel()
			report, err := m.Backend.Exposure(ctx)
			return exposureMsg{report: report, err: err}
		},
	}
	return tea.Batch(cmds...)
}

func (m Model) fetchStats(kind stats.Kind) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
		defer cancel()
		res, err := m.Backend.Stats(ctx, kind)
		return statsMsg{kind: kind, result: res, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.ActiveView = (m.ActiveView + 1) % viewCount
			return m, nil
		case "1":
			m.ActiveView = ViewDashboard
			return m, nil
		case "2":
			m.ActiveView = ViewPorts
			return m, nil
		case "3":
			m.ActiveView = ViewExposure
			return m, nil
		case "4":
			m.ActiveView = ViewZones
			return m, nil
		case "r":
			return m, m.fetch()
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case statsMsg:
		m.Dashboard = m.Dashboard.Apply(msg)
		if msg.kind == stats.KindZones {
			return m, m.Zones.Apply(msg)
		}
		return m, nil

	case portsMsg:
		m.Ports = m.Ports.Apply(msg)
		return m, nil

	case exposureMsg:
		m.Exposure = m.Exposure.Apply(msg)
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Dashboard = m.Dashboard.Resize(msg)
		m.Ports = m.Ports.Resize(msg)
		m.Exposure = m.Exposure.Resize(msg)
		m.Zones = m.Zones.Resize(msg)
		return m, nil
	}

	var cmd tea.Cmd
	switch m.ActiveView {
	case ViewPorts:
		m.Ports, cmd = m.Ports.Update(msg)
	case ViewExposure:
		m.Exposure, cmd = m.Exposure.Update(msg)
	case ViewZones:
		m.Zones, cmd = m.Zones.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the application.
func (m Model) View() string {
	doc := m.ViewTopBar() + "\n"
	switch m.ActiveView {
	case ViewDashboard:
		doc += m.Dashboard.View()
	case ViewPorts:
		doc += m.Ports.View()
	case ViewExposure:
		doc += m.Exposure.View()
	case ViewZones:
		doc += m.Zones.View()
	}
	return StyleApp.Render(doc)
}

// ViewTopBar renders the navigation menu.
func (m Model) ViewTopBar() string {
	menus := []struct {
		View  View
		Label string
		Key   string
	}{
		{ViewDashboard, "Dashboard", "1"},
		{ViewPorts, "Ports", "2"},
		{ViewExposure, "Exposure", "3"},
		{ViewZones, "Zones", "4"},
	}

	items := []string{StyleTitle.Render("WARDEN ")}
	for _, menu := range menus {
		key := StyleMenuKey.Render("[" + menu.Key + "]")
		if m.ActiveView == menu.View {
			items = append(items, StyleMenuItemActive.Render(key+" "+menu.Label))
		} else {
			items = append(items, StyleMenuItem.Render(key+" "+menu.Label))
		}
	}
	return StyleTopBar.Render(lipgloss.JoinHorizontal(lipgloss.Top, items...))
}
