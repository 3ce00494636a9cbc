package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/tui"
)

// RunHealth checks every data source once.
//
//	warden health [--json]
func RunHealth(args []string) error {
	fs, configFile := newFlagSet("health")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := commandContext()
	defer cancel()

	report := e.svc.Health().Check(ctx)
	if *asJSON {
		if err := writeJSON(report); err != nil {
			return err
		}
	} else {
		RenderHealth(report)
	}
	if report.Status == health.StatusUnhealthy {
		return fmt.Errorf("%s", report.Status)
	}
	return nil
}

// RenderHealth prints one row per check.
func RenderHealth(report health.Report) {
	rows := make([][]string, 0, len(report.Checks))
	for _, name := range report.Names() {
		c := report.Checks[name]
		rows = append(rows, []string{name, string(c.Status), c.Duration.Round(time.Millisecond).String(), c.Message})
	}
	fmt.Fprintln(Stdout, renderTable([]string{"CHECK", "STATUS", "TOOK", "DETAIL"}, rows,
		func(row, col int) (lipgloss.Style, bool) {
			if col != 1 {
				return lipgloss.Style{}, false
			}
			switch health.Status(rows[row][1]) {
			case health.StatusHealthy:
				return tui.StyleStatusGood, true
			case health.StatusDegraded:
				return tui.StyleStatusWarn, true
			}
			return tui.StyleStatusBad, true
		}))
	Printer.Fprintf(Stdout, "Overall: %s\n", report.Status)
}
