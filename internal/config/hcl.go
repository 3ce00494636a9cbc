package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Render serializes cfg as HCL. Kinds without a kind block are written with
// their default freshness so the generated file documents every window.
func Render(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("log_level", cty.StringVal(cfg.LogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(cfg.LogJSON))
	body.SetAttributeValue("state_dir", cty.StringVal(cfg.StateDir))
	if cfg.ProcRoot != "" {
		body.SetAttributeValue("proc_root", cty.StringVal(cfg.ProcRoot))
	}
	body.SetAttributeValue("poll_interval", cty.StringVal(cfg.PollInterval))
	body.SetAttributeValue("collector_timeout", cty.StringVal(cfg.CollectorTimeout))

	if fw := cfg.Firewall; fw != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("firewall", nil).Body()
		b.SetAttributeValue("backend", cty.StringVal(fw.Backend))
		if fw.Fixture != "" {
			b.SetAttributeValue("fixture", cty.StringVal(fw.Fixture))
		}
		b.SetAttributeValue("command", cty.StringVal(fw.Command))
		b.SetAttributeValue("command_timeout", cty.StringVal(fw.CommandTimeout))
		b.SetAttributeValue("retries", cty.NumberIntVal(int64(fw.Retries)))
		if len(fw.ServiceDirs) > 0 {
			dirs := make([]cty.Value, len(fw.ServiceDirs))
			for i, d := range fw.ServiceDirs {
				dirs[i] = cty.StringVal(d)
			}
			b.SetAttributeValue("service_dirs", cty.ListVal(dirs))
		}
	}

	if st := cfg.Stats; st != nil {
		body.AppendNewline()
		st.renderInto(body.AppendNewBlock("stats", nil).Body())
	}

	if m := cfg.Metrics; m != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("metrics", nil).Body()
		b.SetAttributeValue("listen", cty.StringVal(m.Listen))
		b.SetAttributeValue("rate_limit", cty.NumberIntVal(int64(m.RateLimit)))
	}
	return f.Bytes()
}

func (s *StatsConfig) renderInto(b *hclwrite.Body) {
	b.SetAttributeValue("history", cty.NumberIntVal(int64(s.History)))
	b.SetAttributeValue("persist_max_age", cty.StringVal(s.PersistMaxAge))

	names := make([]string, 0, len(DefaultFreshness))
	for name := range DefaultFreshness {
		names = append(names, name)
	}
	for _, k := range s.Kinds {
		if _, ok := DefaultFreshness[k.Name]; !ok {
			names = append(names, k.Name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		b.AppendNewline()
		kb := b.AppendNewBlock("kind", []string{name}).Body()
		kb.SetAttributeValue("freshness", cty.StringVal(s.Freshness(name).String()))
		if !s.Enabled(name) {
			kb.SetAttributeValue("disabled", cty.True)
		}
	}
}

// WriteDefault writes the default configuration to path. An existing file
// is left untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, Render(Default()), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
