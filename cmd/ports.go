package cmd

import (
	"fmt"
	"time"
)

// RunPorts prints the consolidated open ports.
//
//	warden ports [--json] [--diff] [--rejects]
func RunPorts(args []string) error {
	fs, configFile := newFlagSet("ports")
	asJSON := fs.Bool("json", false, "Print JSON")
	diff := fs.Bool("diff", false, "Show changes since the last run")
	rejects := fs.Bool("rejects", false, "List applied and suggested reject rules")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *diff && *rejects {
		return fmt.Errorf("--diff and --rejects are mutually exclusive")
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := commandContext()
	defer cancel()

	switch {
	case *diff:
		d, err := e.svc.DiffPorts(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return writeJSON(d)
		}
		switch {
		case d.Previous.IsZero():
			Printer.Fprintln(Stdout, "No previous port list recorded; saved the current one.")
		case !d.Changed:
			Printer.Fprintf(Stdout, "No changes since %s.\n", d.Previous.Local().Format(time.DateTime))
		default:
			fmt.Fprint(Stdout, d.Unified)
		}
		return nil

	case *rejects:
		rules, err := e.svc.RejectRules(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return writeJSON(rules)
		}
		RenderRejects(Stdout, rules)
		return nil
	}

	view, err := e.svc.Ports(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(view)
	}
	RenderPorts(Stdout, view)
	return nil
}
