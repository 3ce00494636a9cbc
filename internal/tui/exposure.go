package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/validation"
)

// ExposureModel lists listening sockets and their verdicts.
type ExposureModel struct {
	Table  table.Model
	Report *exposure.Report
	Err    error
}

func NewExposureModel() ExposureModel {
	return ExposureModel{Table: newTable([]table.Column{
		{Title: "Socket", Width: 28},
		{Title: "Process", Width: 18},
		{Title: "Verdict", Width: 13},
		{Title: "Zones", Width: 20},
		{Title: "Exposed", Width: 8},
	})}
}

// Apply replaces the rows with a fresh report.
func (m ExposureModel) Apply(msg exposureMsg) ExposureModel {
	m.Err = msg.err
	if msg.err != nil {
		return m
	}
	m.Report = msg.report
	rows := make([]table.Row, len(msg.report.Assessments))
	for i, a := range msg.report.Assessments {
		exposed := "no"
		if a.Exposed {
			exposed = "yes"
		}
		rows[i] = table.Row{
			a.Socket.String(),
			ProcessLabel(a.Socket),
			a.Verdict.String(),
			strings.Join(a.Zones, ","),
			exposed,
		}
	}
	m.Table.SetRows(rows)
	return m
}

// Resize fits the table to the window.
func (m ExposureModel) Resize(msg tea.WindowSizeMsg) ExposureModel {
	if h := msg.Height - 8; h > 3 {
		m.Table.SetHeight(h)
	}
	return m
}

func (m ExposureModel) Update(msg tea.Msg) (ExposureModel, tea.Cmd) {
	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m ExposureModel) View() string {
	header := StyleHeader.Render("NETWORK EXPOSURE")
	if m.Err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, StyleStatusBad.Render(m.Err.Error()))
	}
	if m.Report == nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, "Loading...")
	}
	var counts []string
	for _, v := range []exposure.Verdict{exposure.Allowed, exposure.Blocked, exposure.Unfirewalled, exposure.Unknown} {
		if n := m.Report.Counts[v.String()]; n > 0 {
			counts = append(counts, VerdictStyle(v.String()).Render(fmt.Sprintf("%s %d", v, n)))
		}
	}
	sub := StyleSubtitle.Render("firewall " + m.Report.Mode.String())
	return lipgloss.JoinVertical(lipgloss.Left, header, sub, strings.Join(counts, "  "), m.Table.View())
}

// ProcessLabel returns "name[pid]" or "-".
func ProcessLabel(s exposure.ListeningSocket) string {
	if s.PID == 0 {
		return "-"
	}
	name := validation.SanitizeString(s.Process)
	if name == "" {
		name = "?"
	}
	return fmt.Sprintf("%s[%d]", name, s.PID)
}
