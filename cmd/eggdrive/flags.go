package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgricker/eggdrive/internal/config"
)

var stringFlags = []struct {
	name string
	dest func(*config.FlagValues) *config.StringFlag
}{
	{"workspace", func(v *config.FlagValues) *config.StringFlag { return &v.Workspace }},
	{"module-root", func(v *config.FlagValues) *config.StringFlag { return &v.ModuleRoot }},
	{"node", func(v *config.FlagValues) *config.StringFlag { return &v.Node }},
	{"build-url", func(v *config.FlagValues) *config.StringFlag { return &v.BuildURL }},
	{"installation", func(v *config.FlagValues) *config.StringFlag { return &v.Installation }},
	{"installations", func(v *config.FlagValues) *config.StringFlag { return &v.InstallationsFile }},
	{"metrics-file", func(v *config.FlagValues) *config.StringFlag { return &v.MetricsFile }},
	{"format", func(v *config.FlagValues) *config.StringFlag { return &v.Format }},
	{"log-level", func(v *config.FlagValues) *config.StringFlag { return &v.LogLevel }},
	{"log-format", func(v *config.FlagValues) *config.StringFlag { return &v.LogFormat }},
}

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues

	for _, f := range stringFlags {
		if flags.Lookup(f.name) == nil || !flags.Changed(f.name) {
			continue
		}
		v, err := flags.GetString(f.name)
		if err != nil {
			return values, fmt.Errorf("parse --%s: %w", f.name, err)
		}
		*f.dest(&values) = config.StringFlag{Value: v, Set: true}
	}

	if flags.Lookup("var") != nil && flags.Changed("var") {
		v, err := flags.GetStringArray("var")
		if err != nil {
			return values, fmt.Errorf("parse --var: %w", err)
		}
		values.Variables = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Lookup("dry-run") != nil && flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return values, fmt.Errorf("parse --dry-run: %w", err)
		}
		values.DryRun = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Lookup("strip-ansi") != nil && flags.Changed("strip-ansi") {
		v, err := flags.GetBool("strip-ansi")
		if err != nil {
			return values, fmt.Errorf("parse --strip-ansi: %w", err)
		}
		values.StripANSI = config.BoolFlag{Value: v, Set: true}
	}

	return values, nil
}
