package cmd

import (
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/tui"
)

// RunTop opens the live terminal dashboard.
//
//	warden top [--interval 2s]
func RunTop(args []string) error {
	fs, configFile := newFlagSet("top")
	interval := fs.Duration("interval", 0, "Refresh interval (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	// Log lines would corrupt the alternate screen.
	e.log.SetLevel(logging.LevelError)

	every := *interval
	if every <= 0 {
		every = e.cfg.Poll()
	}
	if c := e.svc.Cache(); c != nil {
		c.Warm()
	}
	return tui.Run(e.svc, every)
}
