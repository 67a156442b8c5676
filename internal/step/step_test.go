package step

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgricker/eggdrive/internal/config"
	"github.com/bgricker/eggdrive/internal/install"
	"github.com/bgricker/eggdrive/internal/metrics"
	"github.com/bgricker/eggdrive/internal/report"
	"github.com/bgricker/eggdrive/internal/runner"
)

const header = "RunDate\tStatus\tDuration\tErrors\tWarnings\tExceptions\tErrorMessage\tLogFile\n"

// fakeLauncher stands in for the tool: it records invocations and drops
// result files into the workspace.
type fakeLauncher struct {
	calls    int
	argv     []string
	dir      string
	exitCode int
	err      error
	files    map[string]string
	root     string
}

func (f *fakeLauncher) Run(_ context.Context, argv []string, dir string) (runner.Result, error) {
	f.calls++
	f.argv = argv
	f.dir = dir
	for rel, content := range f.files {
		path := filepath.Join(f.root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return runner.Result{}, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return runner.Result{}, err
		}
	}
	return runner.Result{ExitCode: f.exitCode}, f.err
}

func newFixture(t *testing.T) (*Builder, *Build, *fakeLauncher, *bytes.Buffer) {
	t.Helper()
	ws := t.TempDir()
	launcher := &fakeLauncher{root: ws}
	console := &bytes.Buffer{}
	b := &Builder{
		Step:     config.Step{Script: "/suites/Smoke.suite/Scripts/login", SUT: "sut-1", InstallationName: "ep"},
		Registry: install.NewRegistry(install.Installation{Name: "ep", Home: "/opt/eggplant/runscript"}),
		Launcher: launcher,
	}
	build := &Build{
		URL:        "job/smoke/5/",
		Workspace:  ws,
		ModuleRoot: ws,
		Node:       install.LocalNode{},
		Console:    console,
		Holder:     &report.MemoryHolder{},
	}
	return b, build, launcher, console
}

func TestPerformNoResultFilesPasses(t *testing.T) {
	b, build, launcher, console := newFixture(t)

	out := b.Perform(context.Background(), build)

	require.NoError(t, out.Err)
	assert.True(t, out.Verdict)
	assert.Equal(t, StateVerdictComputed, out.State)
	assert.Equal(t, BuildSuccess, out.BuildResult)
	assert.Equal(t, 1, launcher.calls)
	assert.Zero(t, out.ResultFiles)
	assert.Nil(t, out.Report, "no report is attached without result files")
	assert.Contains(t, console.String(), "eggPlant execution started\n")
	assert.Contains(t, console.String(), "Finished parsing eggPlant results\n")
}

func TestPerformThreeRowsOneFailure(t *testing.T) {
	b, build, launcher, console := newFixture(t)
	launcher.files = map[string]string{
		filepath.Join("Smoke.suite", "Results", "login", "RunHistory.csv"): header +
			"2024-03-01 10:00:00\tPass\t1\t0\t0\t0\t\ta/LogFile.txt\n" +
			"2024-03-01 10:01:00\tFail\t1\t1\t0\t0\tboom\tb/LogFile.txt\n" +
			"2024-03-01 10:02:00\tPass\t1\t0\t0\t0\t\tc/LogFile.txt\n",
	}

	out := b.Perform(context.Background(), build)

	assert.False(t, out.Verdict)
	require.ErrorIs(t, out.Err, ErrVerdict)
	require.NotNil(t, out.Report)
	require.Len(t, out.Report.Records, 3)
	var logs []string
	for _, r := range out.Report.Records {
		logs = append(logs, r.LogFile)
		assert.Equal(t, "login", r.Test)
		assert.Equal(t, "sut-1", r.Host)
		assert.Equal(t, "job/smoke/5/", r.BuildURL)
	}
	assert.Equal(t, []string{"a/LogFile.txt", "b/LogFile.txt", "c/LogFile.txt"}, logs)
	assert.Equal(t, BuildSuccess, out.BuildResult)
	assert.Contains(t, console.String(), "Parsing results for test: login\n")
	assert.Contains(t, console.String(), "1 of 3 eggPlant tests failed")

	held, err := build.Holder.Get()
	require.NoError(t, err)
	assert.Same(t, out.Report, held)
}

func TestPerformNonZeroExitWithPassingRecords(t *testing.T) {
	b, build, launcher, console := newFixture(t)
	launcher.exitCode = 2
	launcher.files = map[string]string{
		filepath.Join("r", "login", "RunHistory.csv"): header + "2024-03-01 10:00:00\tPass\t1\t0\t0\t0\t\t\n",
	}

	out := b.Perform(context.Background(), build)

	require.NoError(t, out.Err)
	assert.True(t, out.Verdict, "exit status does not decide the step verdict")
	assert.Equal(t, BuildFailure, out.BuildResult)
	assert.Equal(t, BuildFailure, build.Result)
	assert.Equal(t, 2, out.Exit.ExitCode)
	assert.Contains(t, console.String(), "Runscript exited with code 2\n")
	assert.Len(t, out.Report.Records, 1)
}

func TestPerformUnknownInstallationNeverLaunches(t *testing.T) {
	b, build, launcher, console := newFixture(t)
	b.Step.InstallationName = "missing"

	out := b.Perform(context.Background(), build)

	assert.False(t, out.Verdict)
	require.ErrorIs(t, out.Err, ErrConfiguration)
	assert.Equal(t, StateInit, out.State)
	assert.Zero(t, launcher.calls)
	assert.Contains(t, console.String(), "eggPlant installation not found for this node.")
}

func TestPerformConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b *Builder)
		message string
	}{
		{
			name:    "blank script",
			mutate:  func(b *Builder) { b.Step.Script = "  " },
			message: "Script name required for eggPlant execution.",
		},
		{
			name: "empty home",
			mutate: func(b *Builder) {
				b.Registry = install.NewRegistry(install.Installation{Name: "ep"})
			},
			message: "eggPlant runtime not defined.",
		},
		{
			name:    "no registry",
			mutate:  func(b *Builder) { b.Registry = nil },
			message: "eggPlant installation not found for this node.",
		},
		{
			name:    "bad quoting",
			mutate:  func(b *Builder) { b.Step.Params = `"open` },
			message: "Unable to build the eggPlant command line",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, build, launcher, console := newFixture(t)
			tt.mutate(b)

			out := b.Perform(context.Background(), build)

			assert.False(t, out.Verdict)
			require.ErrorIs(t, out.Err, ErrConfiguration)
			assert.Zero(t, launcher.calls)
			assert.Contains(t, console.String(), tt.message)
		})
	}
}

func TestPerformExecutionError(t *testing.T) {
	b, build, launcher, console := newFixture(t)
	launcher.err = runner.ErrInterrupted

	out := b.Perform(context.Background(), build)

	assert.False(t, out.Verdict)
	require.ErrorIs(t, out.Err, ErrExecution)
	assert.True(t, IsInterrupted(out.Err))
	assert.Equal(t, StateArgsBuilt, out.State)
	assert.Contains(t, console.String(), "eggPlant execution failed")
	assert.NotContains(t, console.String(), "Parsing results...")
}

func TestPerformResultIOError(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	launcher.files = map[string]string{
		filepath.Join("x", "RunHistory.csv"): "Date,Result\n",
	}

	out := b.Perform(context.Background(), build)

	assert.False(t, out.Verdict)
	require.ErrorIs(t, out.Err, ErrResultIO)
	assert.Equal(t, StateResultsScanned, out.State)
}

func TestPerformHolderError(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	launcher.files = map[string]string{
		filepath.Join("x", "RunHistory.csv"): header,
	}
	build.Holder = failingHolder{err: errors.New("disk full")}

	out := b.Perform(context.Background(), build)
	require.ErrorIs(t, out.Err, ErrResultIO)
}

func TestPerformVerdictCoversEarlierSteps(t *testing.T) {
	b, build, _, _ := newFixture(t)
	earlier := report.New(build.URL)
	earlier.Add(report.Record{Test: "previous", Passed: false})
	build.Holder = &report.MemoryHolder{Report: earlier}

	out := b.Perform(context.Background(), build)

	assert.False(t, out.Verdict, "records from an earlier step still count")
	require.ErrorIs(t, out.Err, ErrVerdict)
}

func TestPerformAccumulatesAcrossSteps(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	build.Holder = report.NewFileHolder(build.Workspace)
	launcher.files = map[string]string{
		filepath.Join("a", "RunHistory.csv"): header + "2024-03-01 10:00:00\tPass\t1\t0\t0\t0\t\t\n",
	}

	first := b.Perform(context.Background(), build)
	require.True(t, first.Verdict)
	require.Len(t, first.Report.Records, 1)

	second := b.Perform(context.Background(), build)
	require.True(t, second.Verdict)
	assert.Len(t, second.Report.Records, 2, "the same history parsed by a second step is appended")
}

func TestPerformMalformedRowsAreWarnings(t *testing.T) {
	b, build, launcher, console := newFixture(t)
	launcher.files = map[string]string{
		filepath.Join("a", "RunHistory.csv"): header +
			"not a date\tFail\t1\t0\t0\t0\t\t\n" +
			"2024-03-01 10:00:00\tPass\t1\t0\t0\t0\t\t\n",
	}

	out := b.Perform(context.Background(), build)

	assert.False(t, out.Verdict, "a failing row with a bad date still counts")
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, console.String(), "warning: result row in")
	assert.Len(t, out.Report.Records, 2)
}

func TestPerformIgnoresReportOfOtherBuild(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	build.Holder = report.NewFileHolder(build.Workspace)
	history := filepath.Join("Smoke.suite", "Results", "login", "RunHistory.csv")
	launcher.files = map[string]string{
		history: header + "2024-03-01 10:00:00\tFail\t1\t1\t0\t0\tboom\t\n",
	}

	first := b.Perform(context.Background(), build)
	require.False(t, first.Verdict)

	build.URL = "job/smoke/6/"
	launcher.files[history] = header + "2024-03-02 10:00:00\tPass\t1\t0\t0\t0\t\t\n"
	second := b.Perform(context.Background(), build)

	require.NoError(t, second.Err)
	assert.True(t, second.Verdict)
	require.Len(t, second.Report.Records, 1)
	assert.Equal(t, "job/smoke/6/", second.Report.BuildURL)

	held, err := build.Holder.Get()
	require.NoError(t, err)
	assert.Equal(t, "job/smoke/6/", held.BuildURL)
}

func TestPerformNoFilesIgnoresReportOfOtherBuild(t *testing.T) {
	b, build, _, _ := newFixture(t)
	old := report.New("job/smoke/4/")
	old.Add(report.Record{Test: "login", Passed: false})
	build.Holder = &report.MemoryHolder{Report: old}

	out := b.Perform(context.Background(), build)

	require.NoError(t, out.Err)
	assert.True(t, out.Verdict)
	assert.Nil(t, out.Report)
}

func TestPerformPassesArgumentsAndDirectory(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	build.ModuleRoot = filepath.Join(build.Workspace, "module")
	b.Step.GlobalResultsFolder = "$RESULTS/${BUILD_NUMBER}"
	build.Env = map[string]string{"RESULTS": "/results"}
	build.Vars = map[string]string{"BUILD_NUMBER": "5"}

	out := b.Perform(context.Background(), build)
	require.NoError(t, out.Err)

	assert.Equal(t, build.ModuleRoot, launcher.dir)
	assert.Equal(t, "/opt/eggplant/runscript", launcher.argv[0])
	assert.Equal(t, "/suites/Smoke.suite/Scripts/login", launcher.argv[1])
	assert.Equal(t, []string{"-GlobalResultsFolder", "/results/5"}, launcher.argv[len(launcher.argv)-2:])
	assert.Equal(t, out.Argv, launcher.argv)
}

func TestPerformResolvesInstallationForNode(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	build.Node = install.AgentNode{NodeName: "mac", Overrides: map[string]string{"ep": "/Applications/runscript"}}

	out := b.Perform(context.Background(), build)
	require.NoError(t, out.Err)
	assert.Equal(t, "/Applications/runscript", launcher.argv[0])
}

func TestPerformRecordsMetrics(t *testing.T) {
	b, build, launcher, _ := newFixture(t)
	b.Metrics = metrics.New()
	launcher.exitCode = 1
	launcher.files = map[string]string{
		filepath.Join("a", "RunHistory.csv"): header + "2024-03-01 10:00:00\tFail\t1\t0\t0\t0\t\t\n",
	}

	b.Perform(context.Background(), build)

	count, err := testutil.GatherAndCount(b.Metrics.Registry, "eggdrive_step_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "VERDICT_COMPUTED", StateVerdictComputed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestErrorKinds(t *testing.T) {
	err := newError(KindResultIO, "read", errors.New("eof"))
	assert.ErrorIs(t, err, ErrResultIO)
	assert.NotErrorIs(t, err, ErrExecution)
	assert.Equal(t, "ResultIOError: read: eof", err.Error())
}

type failingHolder struct{ err error }

func (h failingHolder) Get() (*report.BuildReport, error) { return nil, h.err }
func (h failingHolder) Attach(*report.BuildReport) error  { return h.err }
