package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"grimm.is/warden/internal/exposure"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/stats"
	"grimm.is/warden/internal/tui"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(tui.ColorMuted)

	warnColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed, color.Bold)
)

// renderTable draws rows under headers. highlight, when set, may return a
// style for a body cell.
func renderTable(headers []string, rows [][]string, highlight func(row, col int) (lipgloss.Style, bool)) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if highlight != nil {
				if s, ok := highlight(row, col); ok {
					return s.Padding(0, 1)
				}
			}
			return cellStyle
		})
	return t.String()
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		warnColor.Fprint(w, "warning: ")
		fmt.Fprintln(w, msg)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func portRows(entries []firewall.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Key(),
			e.DisplayName(),
			strings.Join(e.Zones, ","),
			tui.Origins(e),
			tui.Permanence(e),
		})
	}
	return rows
}

// RenderPorts renders a PortsView as a table followed by its warnings.
func RenderPorts(w io.Writer, view *monitor.PortsView) {
	Printer.Fprintf(w, "Firewall %s, %d open port entries\n", view.Mode, len(view.Entries))
	if len(view.Entries) > 0 {
		fmt.Fprintln(w, renderTable([]string{"PORT", "NAME", "ZONES", "ORIGIN", "CONFIG"}, portRows(view.Entries), nil))
	}
	printWarnings(w, view.Warnings)
}

// RenderRejects renders reject rules, applied or suggested.
func RenderRejects(w io.Writer, rules []monitor.RejectRule) {
	if len(rules) == 0 {
		Printer.Fprintln(w, "No reject rules.")
		return
	}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		status := "suggested"
		if r.Applied {
			status = "applied"
		}
		rows = append(rows, []string{
			r.Zone,
			r.Range.String() + "/" + string(r.Protocol),
			r.Action,
			status,
			orDash(r.Name),
			r.Rule,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"ZONE", "PORT", "ACTION", "STATUS", "NAME", "RULE"}, rows,
		func(row, col int) (lipgloss.Style, bool) {
			if col == 3 && rows[row][3] == "suggested" {
				return tui.StyleStatusWarn, true
			}
			return lipgloss.Style{}, false
		}))
}

// FilterExposure drops loopback-only sockets and sockets that are not
// exposed, unless all is set.
func FilterExposure(report *exposure.Report, all bool) []exposure.Assessment {
	if all {
		return report.Assessments
	}
	var out []exposure.Assessment
	for _, a := range report.Assessments {
		if a.Exposed || (a.Socket.Address.IsValid() && !a.Socket.Address.IsLoopback()) {
			out = append(out, a)
		}
	}
	return out
}

// RenderExposure renders the verdict for each socket and a summary line.
func RenderExposure(w io.Writer, report *exposure.Report, all bool) {
	shown := FilterExposure(report, all)
	exposed := 0
	for _, a := range report.Assessments {
		if a.Exposed {
			exposed++
		}
	}

	if report.Mode == firewall.ModeUnknown {
		badColor.Fprintln(w, "Firewall state unavailable: verdicts are unknown.")
	}

	rows := make([][]string, 0, len(shown))
	for _, a := range shown {
		addr := "*"
		if !a.Socket.Wildcard() {
			addr = a.Socket.Address.String()
		}
		exp := "no"
		if a.Exposed {
			exp = "YES"
		}
		rows = append(rows, []string{
			addr,
			strconv.Itoa(a.Socket.Port) + "/" + string(a.Socket.Protocol),
			tui.ProcessLabel(a.Socket),
			a.Verdict.String(),
			orDash(zoneLabel(a)),
			exp,
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable([]string{"ADDRESS", "PORT", "PROCESS", "VERDICT", "ZONES", "EXPOSED"}, rows,
			func(row, col int) (lipgloss.Style, bool) {
				if col == 3 {
					return tui.VerdictStyle(rows[row][3]), true
				}
				return lipgloss.Style{}, false
			}))
	}
	Printer.Fprintf(w, "%d sockets, %d exposed (firewall %s)\n", len(report.Assessments), exposed, report.Mode)
}

// zoneLabel lists the deciding zones, with denying zones marked "!".
func zoneLabel(a exposure.Assessment) string {
	zones := slices.Clone(a.Zones)
	for _, z := range a.Rejected {
		zones = append(zones, "!"+z)
	}
	return strings.Join(zones, ",")
}

// RenderStats renders one cache result.
func RenderStats(w io.Writer, kind stats.Kind, res stats.Result) {
	Printer.Fprintf(w, "%s: %s, age %s\n", kind, res.State, res.Age.Truncate(time.Millisecond))
	if res.Err != nil {
		printWarnings(w, []string{res.ErrText()})
	}
	snap := res.Snapshot
	if snap == nil {
		Printer.Fprintln(w, "  no data yet")
		return
	}

	switch kind {
	case stats.KindTraffic:
		rows := make([][]string, 0, len(snap.Interfaces))
		for _, iface := range snap.Interfaces {
			rows = append(rows, []string{
				iface.Name,
				humanize.IBytes(iface.RxBytes),
				tui.FormatRate(iface.RxRate),
				humanize.IBytes(iface.TxBytes),
				tui.FormatRate(iface.TxRate),
				humanize.Comma(int64(iface.RxErrors + iface.TxErrors)),
				humanize.Comma(int64(iface.RxDropped + iface.TxDropped)),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"INTERFACE", "RX", "RX RATE", "TX", "TX RATE", "ERRORS", "DROPPED"}, rows, nil))
		if p := snap.Packets; p != nil {
			Printer.Fprintf(w, "packets: %s accepted, %s dropped by conntrack (%.1f%% dropped)\n",
				humanize.Comma(int64(p.Accepted)), humanize.Comma(int64(p.Dropped)), p.DroppedRatio*100)
		}

	case stats.KindConnections:
		c := snap.Connections
		if c == nil {
			Printer.Fprintln(w, "  no data yet")
			return
		}
		rows := [][]string{
			{"total", humanize.Comma(int64(c.Total)), tui.Sparkline(c.History["total"], 30)},
			{"tcp", humanize.Comma(int64(c.TCP)), tui.Sparkline(c.History["tcp"], 30)},
			{"udp", humanize.Comma(int64(c.UDP)), tui.Sparkline(c.History["udp"], 30)},
			{"icmp", humanize.Comma(int64(c.ICMP)), tui.Sparkline(c.History["icmp"], 30)},
			{"other", humanize.Comma(int64(c.Other)), tui.Sparkline(c.History["other"], 30)},
		}
		fmt.Fprintln(w, renderTable([]string{"PROTOCOL", "ENTRIES", "HISTORY"}, rows, nil))
		Printer.Fprintf(w, "source: %s\n", c.Source)

	case stats.KindZones:
		RenderZones(w, snap.Zones)
	}
}

// RenderZones renders per-zone rule counts.
func RenderZones(w io.Writer, zones []stats.ZoneSummary) {
	rows := make([][]string, 0, len(zones))
	for _, z := range zones {
		flags := []string{}
		if z.Active {
			flags = append(flags, "active")
		}
		if z.Default {
			flags = append(flags, "default")
		}
		rows = append(rows, []string{
			z.Zone,
			orDash(strings.Join(flags, ",")),
			orDash(z.Target),
			strconv.Itoa(z.Ports),
			strconv.Itoa(z.Services),
			strconv.Itoa(z.Interfaces),
			strconv.Itoa(z.Sources),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"ZONE", "STATE", "TARGET", "PORTS", "SERVICES", "INTERFACES", "SOURCES"}, rows, nil))
}
