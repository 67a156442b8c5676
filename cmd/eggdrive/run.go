package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bgricker/eggdrive/internal/config"
	"github.com/bgricker/eggdrive/internal/ctxlog"
	"github.com/bgricker/eggdrive/internal/exitcodes"
	"github.com/bgricker/eggdrive/internal/install"
	"github.com/bgricker/eggdrive/internal/macro"
	"github.com/bgricker/eggdrive/internal/metrics"
	"github.com/bgricker/eggdrive/internal/output"
	"github.com/bgricker/eggdrive/internal/report"
	"github.com/bgricker/eggdrive/internal/runner"
	"github.com/bgricker/eggdrive/internal/step"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured eggPlant script and collect its results",
		Args:  cobra.NoArgs,
		RunE:  runStep,
	}
	flags := cmd.Flags()
	flags.String("module-root", "", "directory the tool runs in (default workspace)")
	flags.String("node", "", "node the step executes on; selects home translations")
	flags.String("build-url", "", "build identifier linked from every record")
	flags.String("installation", "", "installation name, overriding the config file")
	flags.StringArray("var", nil, "build variable KEY=VALUE (repeatable)")
	flags.Bool("dry-run", false, "print the command line without launching the tool")
	flags.Bool("strip-ansi", false, "strip ANSI escapes from tool output")
	flags.String("metrics-file", "", "write Prometheus metrics to this file")
	return cmd
}

func runStep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := ctxlog.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	ctx := ctxlog.WithLogger(cmd.Context(), logger)

	file, err := install.Load(cfg.InstallationsFile)
	if err != nil {
		return err
	}
	registry := install.NewRegistry(file.Installations...)

	buildID := uuid.NewString()
	if cfg.BuildURL == "" {
		cfg.BuildURL = "local/" + buildID + "/"
	}

	// With JSON output stdout carries only the document; the build console
	// moves to stderr.
	console := cmd.OutOrStdout()
	if strings.EqualFold(cfg.Format, config.FormatJSON) {
		console = cmd.ErrOrStderr()
	}

	var holder report.Holder = report.NewFileHolder(cfg.Workspace)
	if cfg.DryRun {
		existing, err := holder.Get()
		if err != nil {
			return err
		}
		holder = &report.MemoryHolder{Report: existing}
	}

	vars := buildVars(cfg, buildID)
	m := metrics.New()
	builder := &step.Builder{
		Step:     cfg.Step,
		Registry: registry,
		Launcher: runner.New(runner.Options{
			Stdout:    console,
			DryRun:    cfg.DryRun,
			StripANSI: cfg.StripANSI,
			TailLines: 20,
			ExtraEnv:  vars,
		}),
		Metrics: m,
	}
	build := &step.Build{
		URL:        cfg.BuildURL,
		Workspace:  cfg.Workspace,
		ModuleRoot: cfg.ModuleRoot,
		Node:       file.Node(cfg.Node),
		Env:        macro.EnvMap(os.Environ()),
		Vars:       vars,
		Console:    console,
		Holder:     holder,
	}

	logger.Info("running step", "build", cfg.BuildURL, "script", cfg.Step.Script, "node", cfg.Node)
	out := builder.Perform(ctx, build)
	if step.IsInterrupted(out.Err) {
		fmt.Fprintln(console, "eggPlant execution interrupted, results not collected")
	}

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("metrics not written", "err", err)
		}
	}

	if err := renderOutcome(cmd.OutOrStdout(), cfg, buildID, out); err != nil {
		return err
	}
	return outcomeError(out)
}

func renderOutcome(w io.Writer, cfg config.Config, buildID string, out step.Outcome) error {
	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		renderer := output.NewPretty(w)
		if out.State < step.StateResultsParsed {
			return nil
		}
		if err := renderer.RenderReport(out.Report); err != nil {
			return err
		}
		return renderer.RenderFailures(out.Report)
	case config.FormatJSON:
		rep := output.Report{
			BuildID:     buildID,
			BuildURL:    cfg.BuildURL,
			Command:     out.Exit.Command,
			Tail:        out.Exit.Tail,
			DryRun:      out.Exit.DryRun,
			ExitCode:    out.Exit.ExitCode,
			BuildResult: string(out.BuildResult),
			State:       out.State.String(),
			Verdict:     out.Verdict,
			ResultFiles: out.ResultFiles,
			Warnings:    out.Warnings,
		}
		if out.Err != nil {
			rep.Error = out.Err.Error()
		}
		if out.Report != nil {
			rep.Records = out.Report.Records
			rep.Summary = out.Report.Summary()
		} else {
			rep.Summary = report.New("").Summary()
		}
		return output.NewJSON(w).Render(rep)
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}
}

// outcomeError maps a step outcome onto the process exit code.
func outcomeError(out step.Outcome) error {
	switch {
	case out.Err != nil && !errors.Is(out.Err, step.ErrVerdict):
		return &exitError{code: exitcodes.RuntimeErr, err: out.Err}
	case !out.Verdict:
		return &exitError{code: exitcodes.TestFailure, err: out.Err}
	case out.BuildResult == step.BuildFailure:
		return &exitError{code: exitcodes.TestFailure, err: fmt.Errorf("eggPlant exited with code %d", out.Exit.ExitCode)}
	}
	return nil
}

// buildVars returns the variables a host build would expose, overlaid with
// the configured ones. They feed macro expansion and the tool's environment.
func buildVars(cfg config.Config, buildID string) map[string]string {
	vars := map[string]string{
		"BUILD_ID":  buildID,
		"BUILD_URL": cfg.BuildURL,
		"WORKSPACE": cfg.Workspace,
	}
	if cfg.Node != "" {
		vars["NODE_NAME"] = cfg.Node
	}
	for k, v := range cfg.Variables {
		vars[k] = v
	}
	return vars
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags, err := gatherFlags(cmd)
	if err != nil {
		return config.Config{}, err
	}

	root := flags.Workspace.Value
	if !flags.Workspace.Set {
		if root, err = os.Getwd(); err != nil {
			return config.Config{}, fmt.Errorf("determine working directory: %w", err)
		}
	}

	explicit, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("parse --config: %w", err)
	}
	cfg, err := config.Load(root, explicit)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.ApplyFlags(&cfg, flags); err != nil {
		return config.Config{}, err
	}

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty, config.FormatJSON:
	default:
		return config.Config{}, fmt.Errorf("unsupported format %q", cfg.Format)
	}

	if cfg.Workspace == "" {
		cfg.Workspace = root
	}
	if cfg.Workspace, err = filepath.Abs(cfg.Workspace); err != nil {
		return config.Config{}, fmt.Errorf("resolve workspace: %w", err)
	}
	if cfg.ModuleRoot == "" {
		cfg.ModuleRoot = cfg.Workspace
	} else if !filepath.IsAbs(cfg.ModuleRoot) {
		cfg.ModuleRoot = filepath.Join(cfg.Workspace, cfg.ModuleRoot)
	}
	if cfg.InstallationsFile == "" {
		cfg.InstallationsFile, err = defaultInstallationsFile()
		if err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func defaultInstallationsFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "eggdrive", config.DefaultInstallationsFile), nil
}
