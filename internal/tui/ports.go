package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/warden/internal/firewall"
)

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorDeep).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(ColorAccent).
		Background(ColorDeep).
		Bold(false)
	t.SetStyles(s)
	return t
}

// PortsModel lists consolidated port entries.
type PortsModel struct {
	Table    table.Model
	Entries  []firewall.Entry
	Warnings int
	Err      error
}

func NewPortsModel() PortsModel {
	return PortsModel{Table: newTable([]table.Column{
		{Title: "Port", Width: 13},
		{Title: "Name", Width: 20},
		{Title: "Zones", Width: 24},
		{Title: "Origin", Width: 16},
		{Title: "Config", Width: 16},
	})}
}

// Apply replaces the rows with a fresh port list.
func (m PortsModel) Apply(msg portsMsg) PortsModel {
	m.Err = msg.err
	if msg.err != nil {
		return m
	}
	m.Entries = msg.view.Entries
	m.Warnings = len(msg.view.Warnings)
	rows := make([]table.Row, len(m.Entries))
	for i, e := range m.Entries {
		rows[i] = table.Row{
			e.Key(),
			e.DisplayName(),
			strings.Join(e.Zones, ","),
			Origins(e),
			Permanence(e),
		}
	}
	m.Table.SetRows(rows)
	return m
}

// Resize fits the table to the window.
func (m PortsModel) Resize(msg tea.WindowSizeMsg) PortsModel {
	if h := msg.Height - 8; h > 3 {
		m.Table.SetHeight(h)
	}
	return m
}

func (m PortsModel) Update(msg tea.Msg) (PortsModel, tea.Cmd) {
	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m PortsModel) View() string {
	header := StyleHeader.Render("OPEN PORTS")
	if m.Err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, StyleStatusBad.Render(m.Err.Error()))
	}
	sub := fmt.Sprintf("%d entries", len(m.Entries))
	if m.Warnings > 0 {
		sub += fmt.Sprintf(", %d records skipped", m.Warnings)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, StyleSubtitle.Render(sub), m.Table.View())
}

// Origins summarizes where an entry's grants come from.
func Origins(e firewall.Entry) string {
	var parts []string
	if e.HasOrigin(firewall.OriginExplicit) {
		parts = append(parts, "explicit")
	}
	if len(e.Services) > 0 {
		parts = append(parts, "svc:"+strings.Join(e.Services, ","))
	}
	return strings.Join(parts, " ")
}

// Permanence summarizes an entry's permanence across its zones. A single
// value is shown when every zone agrees.
func Permanence(e firewall.Entry) string {
	seen := map[firewall.Permanence]bool{}
	for _, z := range e.Zones {
		seen[e.Permanence[z]] = true
	}
	if len(seen) == 1 {
		for p := range seen {
			return p.String()
		}
	}
	parts := make([]string, 0, len(e.Zones))
	for _, z := range e.Zones {
		parts = append(parts, z+"="+e.Permanence[z].String())
	}
	return strings.Join(parts, " ")
}
