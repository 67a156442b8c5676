package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the workspace root.
const FileName = ".eggdrive.yml"

// Config captures CLI options sourced from config files or flags.
type Config struct {
	Step Step `yaml:"step"`

	Workspace  string            `yaml:"workspace"`
	ModuleRoot string            `yaml:"module_root"`
	Node       string            `yaml:"node"`
	BuildURL   string            `yaml:"build_url"`
	Variables  map[string]string `yaml:"variables"`

	InstallationsFile string `yaml:"installations_file"`
	MetricsFile       string `yaml:"metrics_file"`

	DryRun    bool   `yaml:"dry_run"`
	StripANSI bool   `yaml:"strip_ansi"`
	Format    string `yaml:"format"`

	Log LogConfig `yaml:"log"`
}

// Step is the build-step configuration handed to the test tool. Field names
// follow the tool's own vocabulary.
type Step struct {
	Script                   string `yaml:"script" json:"script"`
	SUT                      string `yaml:"sut" json:"sut,omitempty"`
	Port                     string `yaml:"port" json:"port,omitempty"`
	Password                 string `yaml:"password" json:"-"`
	ColorDepth               string `yaml:"colorDepth" json:"colorDepth,omitempty"`
	GlobalResultsFolder      string `yaml:"globalResultsFolder" json:"globalResultsFolder,omitempty"`
	DefaultDocumentDirectory string `yaml:"defaultDocumentDirectory" json:"defaultDocumentDirectory,omitempty"`
	Params                   string `yaml:"params" json:"params,omitempty"`
	ReportFailures           bool   `yaml:"reportFailures" json:"reportFailures"`
	CommandLineOutput        bool   `yaml:"commandLineOutput" json:"commandLineOutput"`
	InstallationName         string `yaml:"installationName" json:"installationName"`
}

// LogConfig controls the diagnostic logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"

	// DefaultInstallationsFile is resolved relative to the user config dir.
	DefaultInstallationsFile = "installations.yml"
)

// Default returns the baseline configuration used when no flags or config file specify values.
func Default() Config {
	return Config{
		Format: FormatPretty,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file. An explicit path must exist; otherwise
// .eggdrive.yml is read from root when present and missing files are ignored.
func Load(root, explicit string) (Config, error) {
	cfg := Default()

	path := explicit
	if path == "" {
		path = filepath.Join(root, FileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if explicit == "" && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg = merge(cfg, fileCfg)
	return cfg, nil
}

func merge(base, override Config) Config {
	out := base

	out.Step = override.Step
	if override.Workspace != "" {
		out.Workspace = override.Workspace
	}
	if override.ModuleRoot != "" {
		out.ModuleRoot = override.ModuleRoot
	}
	if override.Node != "" {
		out.Node = override.Node
	}
	if override.BuildURL != "" {
		out.BuildURL = override.BuildURL
	}
	if len(override.Variables) > 0 {
		out.Variables = make(map[string]string, len(override.Variables))
		for k, v := range override.Variables {
			out.Variables[k] = v
		}
	}
	if override.InstallationsFile != "" {
		out.InstallationsFile = override.InstallationsFile
	}
	if override.MetricsFile != "" {
		out.MetricsFile = override.MetricsFile
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.DryRun {
		out.DryRun = true
	}
	if override.StripANSI {
		out.StripANSI = true
	}
	if override.Log.Level != "" {
		out.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		out.Log.Format = override.Log.Format
	}

	return out
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are present.
func ApplyFlags(cfg *Config, flags FlagValues) error {
	if flags.Workspace.Set {
		cfg.Workspace = flags.Workspace.Value
	}
	if flags.ModuleRoot.Set {
		cfg.ModuleRoot = flags.ModuleRoot.Value
	}
	if flags.Node.Set {
		cfg.Node = flags.Node.Value
	}
	if flags.BuildURL.Set {
		cfg.BuildURL = flags.BuildURL.Value
	}
	if flags.Installation.Set {
		cfg.Step.InstallationName = flags.Installation.Value
	}
	if len(flags.Variables.Values) > 0 {
		vars := make(map[string]string, len(cfg.Variables)+len(flags.Variables.Values))
		for k, v := range cfg.Variables {
			vars[k] = v
		}
		for _, kv := range flags.Variables.Values {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid variable %q; expected KEY=VALUE", kv)
			}
			vars[k] = v
		}
		cfg.Variables = vars
	}
	if flags.InstallationsFile.Set {
		cfg.InstallationsFile = flags.InstallationsFile.Value
	}
	if flags.MetricsFile.Set {
		cfg.MetricsFile = flags.MetricsFile.Value
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.DryRun.Set {
		cfg.DryRun = flags.DryRun.Value
	}
	if flags.StripANSI.Set {
		cfg.StripANSI = flags.StripANSI.Value
	}
	if flags.LogLevel.Set {
		cfg.Log.Level = flags.LogLevel.Value
	}
	if flags.LogFormat.Set {
		cfg.Log.Format = flags.LogFormat.Value
	}
	return nil
}

// FlagValues captures CLI flag state with knowledge of whether each flag was set explicitly.
type FlagValues struct {
	Workspace         StringFlag
	ModuleRoot        StringFlag
	Node              StringFlag
	BuildURL          StringFlag
	Installation      StringFlag
	Variables         SliceFlag
	InstallationsFile StringFlag
	MetricsFile       StringFlag
	Format            StringFlag
	DryRun            BoolFlag
	StripANSI         BoolFlag
	LogLevel          StringFlag
	LogFormat         StringFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// SliceFlag represents a slice flag and whether it captured values via CLI.
type SliceFlag struct {
	Values []string
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}
