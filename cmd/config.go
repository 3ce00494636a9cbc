package cmd

import (
	"fmt"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
)

// RunConfig manages the configuration file.
//
//	warden config init [--force] [path]
//	warden config check [path]
//	warden config show [path]
func RunConfig(args []string) error {
	if len(args) < 1 {
		printConfigUsage()
		return fmt.Errorf("missing config command")
	}

	switch args[0] {
	case "init":
		return runConfigInit(args[1:])
	case "check":
		return runConfigCheck(args[1:])
	case "show":
		return runConfigShow(args[1:])
	default:
		printConfigUsage()
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func printConfigUsage() {
	Printer.Fprintf(Stderr, `Usage: %s config <command> [path]

Commands:
  init [--force]   Write a default configuration file
  check            Validate a configuration file
  show             Print the effective configuration
`, brand.BinaryName)
}

func configPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return brand.GetConfigPath()
}

func runConfigInit(args []string) error {
	fs, _ := newFlagSet("config init")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := configPath(fs.Args())
	if err := config.WriteDefault(path, *force); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Wrote %s\n", path)
	return nil
}

func runConfigCheck(args []string) error {
	path := configPath(args)
	result, err := config.LoadFileWithResult(path)
	if err != nil {
		return err
	}
	if result.Path == "" {
		return fmt.Errorf("%s does not exist", path)
	}
	printWarnings(Stdout, result.Warnings)
	Printer.Fprintf(Stdout, "%s is valid\n", path)
	return nil
}

func runConfigShow(args []string) error {
	result, err := config.LoadFileWithResult(configPath(args))
	if err != nil {
		return err
	}
	printWarnings(Stderr, result.Warnings)
	_, err = Stdout.Write(config.Render(result.Config))
	return err
}
