package main

import (
	"errors"
	"flag"
	"os"

	"grimm.is/warden/cmd"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "ports":
		// Consolidated open ports, with --diff and --rejects views
		run("Ports", cmd.RunPorts(args))

	case "exposure":
		run("Exposure", cmd.RunExposure(args))

	case "stats":
		run("Stats", cmd.RunStats(args))

	case "zones":
		run("Zones", cmd.RunZones(args))

	case "annotate":
		run("Annotate", cmd.RunAnnotate(args))

	case "watch":
		// Poller plus /metrics and the JSON API
		run("Watch", cmd.RunWatch(args))

	case "top":
		run("Dashboard", cmd.RunTop(args))

	case "health":
		run("Health", cmd.RunHealth(args))

	case "fixture":
		run("Fixture", cmd.RunFixture(args))

	case "config":
		run("Config", cmd.RunConfig(args))

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Build: %s (%s)\n", brand.BuildTime, brand.GitCommit)

	case "help", "-h", "--help":
		if len(os.Args) > 2 {
			switch os.Args[2] {
			case "annotate":
				cmd.RunAnnotate([]string{"help"})
			case "config":
				cmd.RunConfig(nil)
			default:
				printer.Printf("No detailed help available for '%s'\n", os.Args[2])
				printUsage()
			}
		} else {
			printUsage()
		}

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run(what string, err error) {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return
	}
	printer.Fprintf(os.Stderr, "%s failed: %v\n", what, err)
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Inspection Commands:
  ports     Consolidated open ports across zones
            Options: --json, --diff, --rejects
  exposure  Listening sockets and whether the firewall lets them through
            Options: --json, --all
  stats     Cached traffic, connection and zone statistics
            Options: [traffic|connections|zones], --json
  zones     Per-zone rule counts
  top       Live terminal dashboard
            Options: --interval <duration>
  health    Check the firewall, socket tables, cache and state store
            Options: --json

Management Commands:
  annotate  Name ports and record intended actions
            Subcommands: set, rm, list, import
  config    Manage the configuration file
            Subcommands: init, check, show
  fixture   Capture firewall state for offline analysis
            Subcommands: export
  watch     Poll in the background and serve /metrics and the JSON API
            Options: --listen <addr>
  version   Print version information

Every command accepts --config (-c) <file>.

Examples:
  %s ports --diff
  %s exposure --all
  %s annotate set 8443/tcp --name "Admin UI" --in deny
  %s watch --listen 127.0.0.1:9469

For command-specific help: %s help <command>
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.LowerName, brand.LowerName, brand.LowerName, brand.LowerName,
		brand.LowerName)
}
