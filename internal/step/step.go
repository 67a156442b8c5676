// Package step runs the test tool as a build step: it resolves the
// installation, builds the command line, launches the tool, parses the run
// history it leaves in the workspace and computes the step verdict.
package step

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bgricker/eggdrive/internal/args"
	"github.com/bgricker/eggdrive/internal/config"
	"github.com/bgricker/eggdrive/internal/ctxlog"
	"github.com/bgricker/eggdrive/internal/discovery"
	"github.com/bgricker/eggdrive/internal/install"
	"github.com/bgricker/eggdrive/internal/macro"
	"github.com/bgricker/eggdrive/internal/metrics"
	"github.com/bgricker/eggdrive/internal/report"
	"github.com/bgricker/eggdrive/internal/results"
	"github.com/bgricker/eggdrive/internal/runner"
)

// State is a stage of a step invocation.
type State int

const (
	StateInit State = iota
	StateArgsBuilt
	StateProcessRun
	StateResultsScanned
	StateResultsParsed
	StateVerdictComputed
)

var stateNames = [...]string{
	StateInit:            "INIT",
	StateArgsBuilt:       "ARGS_BUILT",
	StateProcessRun:      "PROCESS_RUN",
	StateResultsScanned:  "RESULTS_SCANNED",
	StateResultsParsed:   "RESULTS_PARSED",
	StateVerdictComputed: "VERDICT_COMPUTED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// BuildResult is the overall result of the enclosing build.
type BuildResult string

const (
	BuildSuccess BuildResult = "SUCCESS"
	BuildFailure BuildResult = "FAILURE"
)

// Build is what the host provides about the build the step belongs to.
type Build struct {
	// URL identifies the build; records link back to it.
	URL        string
	Workspace  string
	ModuleRoot string
	Node       install.Node
	Env        map[string]string
	Vars       map[string]string
	// Console is the build log.
	Console io.Writer
	// Holder stores the build report across steps.
	Holder report.Holder
	// Result is set to BuildFailure when the tool exits non-zero.
	Result BuildResult
}

// Launcher starts the tool and waits for it.
type Launcher interface {
	Run(ctx context.Context, argv []string, dir string) (runner.Result, error)
}

// Builder performs the configured step.
type Builder struct {
	Step     config.Step
	Registry *install.Registry
	Launcher Launcher
	// Workspace overrides the local workspace rooted at Build.Workspace.
	Workspace discovery.Workspace
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Outcome is everything a step invocation produced.
type Outcome struct {
	// Verdict is true when every record held by the build report passed.
	Verdict bool
	// State is the last stage reached.
	State       State
	Err         error
	Argv        []string
	Exit        runner.Result
	ResultFiles int
	Warnings    []string
	Report      *report.BuildReport
	BuildResult BuildResult
}

// Perform runs the step. Failures never escape as panics or errors: they are
// written to the build console and reflected in the returned Outcome.
func (b *Builder) Perform(ctx context.Context, build *Build) Outcome {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	if build.Console == nil {
		build.Console = io.Discard
	}
	if build.Result == "" {
		build.Result = BuildSuccess
	}
	if build.Holder == nil {
		build.Holder = &report.MemoryHolder{}
	}

	out := b.perform(ctx, build)
	out.BuildResult = build.Result

	logger := ctxlog.FromContext(ctx)
	outcome := "success"
	if !out.Verdict {
		outcome = "failure"
		logger.Warn("step failed", "state", out.State.String(), "err", out.Err)
	} else {
		logger.Info("step passed", "records", recordCount(out.Report))
	}
	if b.Metrics != nil {
		b.Metrics.RecordResultFiles(out.ResultFiles)
		b.Metrics.RecordReport(out.Report)
		b.Metrics.RecordStep(outcome, now().Sub(start))
	}
	return out
}

func (b *Builder) perform(ctx context.Context, build *Build) Outcome {
	logger := ctxlog.FromContext(ctx)
	console := build.Console
	out := Outcome{State: StateInit}

	fail := func(kind Kind, msg string, err error) Outcome {
		out.Err = newError(kind, msg, err)
		out.Verdict = false
		if err != nil {
			fmt.Fprintf(console, "%s: %v\n", msg, err)
		} else {
			fmt.Fprintln(console, msg)
		}
		return out
	}

	if strings.TrimSpace(b.Step.Script) == "" {
		return fail(KindConfiguration, "Script name required for eggPlant execution.", nil)
	}

	fmt.Fprintln(console, "eggPlant execution started")

	var inst install.Installation
	ok := false
	if b.Registry != nil {
		inst, ok = b.Registry.Lookup(b.Step.InstallationName, build.Node)
	}
	if !ok {
		return fail(KindConfiguration, "eggPlant installation not found for this node.", nil)
	}
	if inst.Home == "" {
		return fail(KindConfiguration, "eggPlant runtime not defined.", nil)
	}
	logger.Debug("installation resolved", "name", inst.Name, "home", inst.Home)

	vars := macro.Context{Env: build.Env, BuildVars: build.Vars}
	argv, err := args.Build(b.Step, inst.Home, vars, build.Workspace)
	if err != nil {
		return fail(KindConfiguration, "Unable to build the eggPlant command line", err)
	}
	out.Argv = argv
	out.State = StateArgsBuilt

	launcher := b.Launcher
	if launcher == nil {
		launcher = runner.New(runner.Options{Stdout: console})
	}
	exit, err := launcher.Run(ctx, argv, build.ModuleRoot)
	out.Exit = exit
	if err != nil {
		return fail(KindExecution, "eggPlant execution failed", err)
	}
	out.State = StateProcessRun
	if b.Metrics != nil {
		b.Metrics.RecordExit(exit.ExitCode)
	}
	if exit.ExitCode != 0 {
		build.Result = BuildFailure
		fmt.Fprintf(console, "Runscript exited with code %d\n", exit.ExitCode)
	}
	fmt.Fprintln(console, "Runscript execution completed")

	fmt.Fprintln(console, "Parsing results...")
	ws := b.Workspace
	if ws == nil {
		ws = discovery.NewLocal(build.Workspace)
	}
	parser := results.Parser{Host: b.Step.SUT, BuildURL: build.URL}
	collector := &discovery.Collector{
		Workspace: ws,
		Console:   console,
		Parse: func(r io.Reader, file discovery.FilePath) ([]report.Record, error) {
			records, warnings, err := parser.Parse(r, file.ParentName())
			for _, w := range warnings {
				msg := fmt.Sprintf("%s: %s", file.Path(), w)
				out.Warnings = append(out.Warnings, msg)
				fmt.Fprintf(console, "warning: result row in %s\n", msg)
				logger.Warn("malformed result row", "file", file.Path(), "line", w.Line, "reason", w.Message)
			}
			for i := range records {
				records[i].Source = file.Path()
			}
			return records, err
		},
	}

	files, err := collector.Scan(ctx)
	if err != nil {
		return fail(KindResultIO, "Unable to scan the workspace for results", err)
	}
	out.State = StateResultsScanned

	var rep *report.BuildReport
	attach := func() (*report.BuildReport, error) {
		existing, err := heldReport(build)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing = report.New(build.URL)
		}
		rep = existing
		return rep, nil
	}
	if err := collector.ParseAll(ctx, files, attach); err != nil {
		return fail(KindResultIO, "Unable to parse eggPlant results", err)
	}
	out.ResultFiles = len(files)
	if rep != nil {
		if err := build.Holder.Attach(rep); err != nil {
			return fail(KindResultIO, "Unable to store the build report", err)
		}
	} else if rep, err = heldReport(build); err != nil {
		return fail(KindResultIO, "Unable to read the build report", err)
	}
	out.Report = rep
	out.State = StateResultsParsed
	fmt.Fprintln(console, "Finished parsing eggPlant results")

	out.State = StateVerdictComputed
	out.Verdict = rep == nil || rep.Verdict()
	if !out.Verdict {
		failed := len(rep.Failed())
		out.Err = newError(KindVerdict, fmt.Sprintf("%d of %d eggPlant tests failed", failed, len(rep.Records)), nil)
		fmt.Fprintf(console, "%d of %d eggPlant tests failed\n", failed, len(rep.Records))
	}
	return out
}

// heldReport returns the report attached to build. A report left behind by a
// different build in the same workspace is ignored.
func heldReport(build *Build) (*report.BuildReport, error) {
	rep, err := build.Holder.Get()
	if err != nil || rep == nil {
		return nil, err
	}
	if rep.BuildURL != build.URL {
		return nil, nil
	}
	return rep, nil
}

func recordCount(rep *report.BuildReport) int {
	if rep == nil {
		return 0
	}
	return len(rep.Records)
}

// IsInterrupted reports whether err came from cancelling the step.
func IsInterrupted(err error) bool {
	return errors.Is(err, runner.ErrInterrupted) || errors.Is(err, context.Canceled)
}
