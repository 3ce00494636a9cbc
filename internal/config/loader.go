package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grimm.is/warden/internal/brand"
)

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config *Config
	// Path is the file that was read; empty when defaults were used.
	Path     string
	Warnings []string
}

// LoadFile loads and validates the config at path. A missing file yields
// the defaults.
func LoadFile(path string) (*Config, error) {
	result, err := LoadFileWithResult(path)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadFileWithResult is LoadFile with load metadata.
func LoadFileWithResult(path string) (*LoadResult, error) {
	if path == "" {
		path = brand.GetConfigPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		applyEnv(cfg)
		return &LoadResult{
			Config:   cfg,
			Warnings: []string{fmt.Sprintf("config file %s not found, using defaults", path)},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	result, err := loadHCL(data, path)
	if err != nil {
		return nil, err
	}
	result.Path = path
	return result, nil
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	result, err := loadHCL(data, filename)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

func loadHCL(data []byte, filename string) (*LoadResult, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.applyDefaults()
	applyEnv(&cfg)

	errs := cfg.Validate()
	var warnings []string
	var fatal ValidationErrors
	for _, e := range errs {
		if e.Severity == SeverityWarning {
			warnings = append(warnings, e.Error())
			continue
		}
		fatal = append(fatal, e)
	}
	if fatal.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", fatal)
	}
	return &LoadResult{Config: &cfg, Warnings: warnings}, nil
}

// applyEnv applies WARDEN_LOG_LEVEL and WARDEN_STATE_DIR.
func applyEnv(cfg *Config) {
	if v := brand.Env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := brand.Env("STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
}
