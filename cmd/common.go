package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/i18n"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/state"
)

// Printer formats user-facing output for the caller's locale.
var Printer = i18n.NewCLIPrinter()

// Stdout and Stderr are swapped out in tests.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// env is everything a command needs once the config is loaded.
type env struct {
	cfg   *config.Config
	log   *logging.Logger
	store *state.SQLiteStore
	svc   *monitor.Service
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// newFlagSet returns a flag set carrying the --config flag every command accepts.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(Stderr)
	configFile := fs.String("config", brand.GetConfigPath(), "Configuration file")
	fs.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
	return fs, configFile
}

// loadConfig reads the config and installs the process logger.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	result, err := config.LoadFileWithResult(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := result.Config

	// Validate already rejected unknown levels.
	log, _ := logging.Setup(cfg.LogLevel, cfg.LogJSON, Stderr)

	for _, w := range result.Warnings {
		if result.Path == "" {
			log.Debug(w)
		} else {
			log.Warn("configuration warning", "detail", w)
		}
	}
	return cfg, log, nil
}

func openStore(cfg *config.Config) (*state.SQLiteStore, error) {
	path := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return state.NewSQLiteStore(state.DefaultOptions(path))
}

// open loads the config and wires the monitor service. A state store that
// cannot be opened only disables annotations and persistence.
func open(configFile string) (*env, error) {
	cfg, log, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Warn("state store unavailable, annotations disabled", "error", err)
		store = nil
	}

	svc, err := monitor.FromConfig(cfg, store, metrics.Get(), log)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return &env{cfg: cfg, log: log, store: store, svc: svc}, nil
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
