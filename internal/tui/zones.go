package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/warden/internal/stats"
)

// ZonesModel lists firewall zones with their rule counts.
type ZonesModel struct {
	List list.Model
	Err  error
}

type zoneItem struct {
	title string
	desc  string
}

func (i zoneItem) Title() string       { return i.title }
func (i zoneItem) Description() string { return i.desc }
func (i zoneItem) FilterValue() string { return i.title }

func NewZonesModel() ZonesModel {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorAccent).
		BorderLeftForeground(ColorAccent)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorDeep)

	l := list.New([]list.Item{zoneItem{title: "Loading...", desc: "Fetching zones"}}, delegate, 60, 20)
	l.Title = "Firewall Zones"
	l.SetShowHelp(false)
	l.Styles.Title = StyleTitle
	return ZonesModel{List: l}
}

// ZoneItems converts zone summaries to list items.
func ZoneItems(zones []stats.ZoneSummary) []list.Item {
	items := make([]list.Item, len(zones))
	for i, z := range zones {
		title := z.Zone
		if z.Default {
			title += " (default)"
		}
		state := "inactive"
		if z.Active {
			state = "active"
		}
		target := z.Target
		if target == "" {
			target = "default"
		}
		items[i] = zoneItem{
			title: title,
			desc: fmt.Sprintf("%s, target %s, %d ports, %d services, %d interfaces, %d sources",
				state, target, z.Ports, z.Services, z.Interfaces, z.Sources),
		}
	}
	return items
}

// Apply replaces the items from a zones snapshot.
func (m *ZonesModel) Apply(msg statsMsg) tea.Cmd {
	m.Err = msg.err
	if msg.err != nil || msg.result.Snapshot == nil {
		return nil
	}
	return m.List.SetItems(ZoneItems(msg.result.Snapshot.Zones))
}

// Resize fits the list to the window.
func (m ZonesModel) Resize(msg tea.WindowSizeMsg) ZonesModel {
	m.List.SetSize(msg.Width-4, msg.Height-6)
	return m
}

func (m ZonesModel) Update(msg tea.Msg) (ZonesModel, tea.Cmd) {
	var cmd tea.Cmd
	m.List, cmd = m.List.Update(msg)
	return m, cmd
}

func (m ZonesModel) View() string {
	body := m.List.View()
	if m.Err != nil {
		body = StyleStatusBad.Render(m.Err.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		StyleHeader.Render("ZONES"),
		StyleCard.Render(body),
	)
}
