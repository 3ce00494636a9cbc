// Package brand holds the product identity loaded from brand.json.
//
// The file is embedded at compile time so packaging scripts can read the
// same values.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name               string `json:"name"`
	LowerName          string `json:"lowerName"`
	Description        string `json:"description"`
	ConfigEnvPrefix    string `json:"configEnvPrefix"`
	DefaultConfigDir   string `json:"defaultConfigDir"`
	DefaultStateDir    string `json:"defaultStateDir"`
	BinaryName         string `json:"binaryName"`
	ConfigFileName     string `json:"configFileName"`
	LegacyMetadataFile string `json:"legacyMetadataFile"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir = b.DefaultStateDir
	BinaryName = b.BinaryName
	ConfigFileName = b.ConfigFileName
	LegacyMetadataFile = b.LegacyMetadataFile
}

var (
	Name               string
	LowerName          string
	Description        string
	ConfigEnvPrefix    string
	DefaultConfigDir   string
	DefaultStateDir    string
	BinaryName         string
	ConfigFileName     string
	LegacyMetadataFile string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// EnvVar returns the name of a WARDEN_-prefixed environment variable.
func EnvVar(name string) string {
	return ConfigEnvPrefix + "_" + name
}

// Env reads a WARDEN_-prefixed environment variable, trimmed.
func Env(name string) string {
	return strings.TrimSpace(os.Getenv(EnvVar(name)))
}

// dir resolves a directory from its own variable, then WARDEN_PREFIX/sub,
// then the packaged default.
func dir(envName, sub, fallback string) string {
	if d := Env(envName); d != "" {
		return d
	}
	if prefix := Env("PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return fallback
}

// GetStateDir returns the state directory.
// Priority: WARDEN_STATE_DIR > WARDEN_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	return dir("STATE_DIR", "state", DefaultStateDir)
}

// GetConfigDir returns the config directory.
// Priority: WARDEN_CONFIG_DIR > WARDEN_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	return dir("CONFIG_DIR", "config", DefaultConfigDir)
}

// GetConfigPath returns the default config file location, or WARDEN_CONFIG.
func GetConfigPath() string {
	if p := Env("CONFIG"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// GetDatabasePath returns the SQLite file holding annotations and snapshots.
func GetDatabasePath() string {
	return filepath.Join(GetStateDir(), LowerName+".db")
}

// GetLegacyMetadataPath is where older releases kept port annotations.
func GetLegacyMetadataPath(stateDir string) string {
	return filepath.Join(stateDir, LegacyMetadataFile)
}
