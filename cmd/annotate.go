package cmd

import (
	"flag"
	"fmt"
	"strings"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/state"
	"grimm.is/warden/internal/validation"
)

// RunAnnotate manages port annotations.
//
//	warden annotate set <port[-end]/proto> --name NAME [--description D] [--zone Z] [--in allow|deny] [--out allow|deny]
//	warden annotate rm <port[-end]/proto> [--zone Z]
//	warden annotate list [--json]
//	warden annotate import [file]
func RunAnnotate(args []string) error {
	if len(args) < 1 {
		printAnnotateUsage()
		return fmt.Errorf("missing annotate command")
	}

	switch args[0] {
	case "set":
		return runAnnotateSet(args[1:])
	case "rm", "remove":
		return runAnnotateRemove(args[1:])
	case "list", "ls":
		return runAnnotateList(args[1:])
	case "import":
		return runAnnotateImport(args[1:])
	case "help", "-h", "--help":
		printAnnotateUsage()
		return nil
	default:
		printAnnotateUsage()
		return fmt.Errorf("unknown annotate command: %s", args[0])
	}
}

func printAnnotateUsage() {
	Printer.Fprintf(Stderr, `Usage: %s annotate <command> [options]

Commands:
  set <port/proto>     Name a port (--name, --description, --zone, --in, --out)
  rm <port/proto>      Remove an annotation (--zone)
  list                 List annotations (--json)
  import [file]        Import a legacy %s file
`, brand.BinaryName, brand.LegacyMetadataFile)
}

// parseWithPositional parses flags that may appear before or after a single
// positional argument and returns that argument.
func parseWithPositional(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		return "", fmt.Errorf("missing %s", what)
	}
	pos := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return pos, nil
}

// ParseAction normalizes an --in/--out value.
func ParseAction(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return state.ActionNone, nil
	case "allow", "accept":
		return state.ActionAllow, nil
	case "deny", "reject", "drop":
		return state.ActionDeny, nil
	}
	return "", fmt.Errorf("invalid action %q: want allow or deny", s)
}

func requireStore(e *env) (*state.SQLiteStore, error) {
	if e.store == nil {
		return nil, monitor.ErrNoStore
	}
	return e.store, nil
}

func runAnnotateSet(args []string) error {
	fs, configFile := newFlagSet("annotate set")
	name := fs.String("name", "", "Display name (required)")
	desc := fs.String("description", "", "Free-form description")
	zone := fs.String("zone", "", "Restrict the annotation to one zone")
	in := fs.String("in", "", "Intended incoming action: allow or deny")
	out := fs.String("out", "", "Intended outgoing action: allow or deny")
	spec, err := parseWithPositional(fs, args, "port/proto")
	if err != nil {
		return err
	}

	r, proto, err := firewall.ParsePortSpec(spec)
	if err != nil {
		return err
	}
	a := state.PortAnnotation{Range: r, Protocol: proto}
	a.Name = strings.TrimSpace(*name)
	a.Description = *desc
	a.Zone = *zone
	if a.Zone != "" {
		if err := validation.ValidateIdentifier(a.Zone); err != nil {
			return fmt.Errorf("--zone: %w", err)
		}
	}
	if a.IncomingAction, err = ParseAction(*in); err != nil {
		return err
	}
	if a.OutgoingAction, err = ParseAction(*out); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()
	store, err := requireStore(e)
	if err != nil {
		return err
	}
	if err := store.SetAnnotation(a); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Annotated %s as %q\n", a.Key(), a.Name)
	if a.Denies() {
		Printer.Fprintf(Stdout, "Suggested rule: %s\n", monitor.SuggestRejectRule(a.Range, a.Protocol))
	}
	return nil
}

func runAnnotateRemove(args []string) error {
	fs, configFile := newFlagSet("annotate rm")
	zone := fs.String("zone", "", "Zone of a zone-scoped annotation")
	spec, err := parseWithPositional(fs, args, "port/proto")
	if err != nil {
		return err
	}
	r, proto, err := firewall.ParsePortSpec(spec)
	if err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()
	store, err := requireStore(e)
	if err != nil {
		return err
	}
	if err := store.DeleteAnnotation(r, proto, *zone); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Removed annotation for %s\n", state.PortAnnotation{Range: r, Protocol: proto, Annotation: firewall.Annotation{Zone: *zone}}.Key())
	return nil
}

func runAnnotateList(args []string) error {
	fs, configFile := newFlagSet("annotate list")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()
	store, err := requireStore(e)
	if err != nil {
		return err
	}
	list, err := store.ListAnnotations()
	if err != nil {
		return err
	}
	if *asJSON {
		if list == nil {
			list = []state.PortAnnotation{}
		}
		return writeJSON(list)
	}
	if len(list) == 0 {
		Printer.Fprintln(Stdout, "No annotations.")
		return nil
	}
	fmt.Fprintln(Stdout, renderTable([]string{"PORT", "ZONE", "NAME", "IN", "OUT", "DESCRIPTION"}, annotationRows(list), nil))
	return nil
}

func annotationRows(list []state.PortAnnotation) [][]string {
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		rows = append(rows, []string{
			a.Range.String() + "/" + string(a.Protocol),
			orDash(a.Zone),
			a.Name,
			orDash(a.IncomingAction),
			orDash(a.OutgoingAction),
			a.Description,
		})
	}
	return rows
}

func runAnnotateImport(args []string) error {
	fs, configFile := newFlagSet("annotate import")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	path := brand.GetLegacyMetadataPath(e.cfg.StateDir)
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	store, err := requireStore(e)
	if err != nil {
		return err
	}
	n, err := store.ImportLegacyFile(path)
	Printer.Fprintf(Stdout, "Imported %d annotations from %s\n", n, path)
	if err != nil {
		return fmt.Errorf("some records were not imported: %w", err)
	}
	return nil
}
