package cmd

import (
	"fmt"
	"os"

	"grimm.is/warden/internal/firewall"
)

// RunFixture captures the live firewall state as an HCL fixture that the
// fixture backend can replay.
//
//	warden fixture export [-o file]
func RunFixture(args []string) error {
	if len(args) < 1 || args[0] != "export" {
		Printer.Fprintln(Stderr, "Usage: warden fixture export [-o file]")
		return fmt.Errorf("unknown fixture command")
	}
	fs, configFile := newFlagSet("fixture export")
	output := fs.String("o", "", "Write to file instead of stdout")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := commandContext()
	defer cancel()

	snap, err := e.svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	data := firewall.ExportFixture(snap)
	if *output == "" {
		_, err = Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Wrote %d zones to %s\n", len(snap.Zones), *output)
	return nil
}
