package cmd

import (
	"errors"
	"fmt"

	"grimm.is/warden/internal/monitor"
	"grimm.is/warden/internal/stats"
)

type statsOutput struct {
	Kind  stats.Kind `json:"kind"`
	Error string     `json:"error,omitempty"`
	stats.Result
}

// RunStats prints cached statistics for one kind or every enabled kind.
//
//	warden stats [traffic|connections|zones] [--json]
func RunStats(args []string) error {
	fs, configFile := newFlagSet("stats")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var only stats.Kind
	if fs.NArg() > 0 {
		k, err := stats.ParseKind(fs.Arg(0))
		if err != nil {
			return err
		}
		only = k
		// Flags may follow the kind.
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return err
		}
	}

	e, err := open(*configFile)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := commandContext()
	defer cancel()

	cache := e.svc.Cache()
	if cache == nil {
		return monitor.ErrStatsDisabled
	}
	kinds := cache.Kinds()
	if only != "" {
		kinds = []stats.Kind{only}
	}
	cache.Warm()

	var out []statsOutput
	var errs []error
	for _, kind := range kinds {
		res, err := e.svc.Stats(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if *asJSON {
			out = append(out, statsOutput{Kind: kind, Error: res.ErrText(), Result: res})
			continue
		}
		RenderStats(Stdout, kind, res)
	}
	if *asJSON {
		if err := writeJSON(out); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// RunZones prints per-zone rule counts.
//
//	warden zones [--json]
func RunZones(args []string) error {
	return RunStats(append([]string{string(stats.KindZones)}, args...))
}
