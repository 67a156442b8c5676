package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgricker/eggdrive/internal/exitcodes"
	"github.com/bgricker/eggdrive/internal/install"
	"github.com/bgricker/eggdrive/internal/output"
)

const historyHeader = `RunDate\tStatus\tDuration\tErrors\tWarnings\tExceptions\tErrorMessage\tLogFile\n`

type fixture struct {
	workspace     string
	installations string
	tool          string
}

// newFixture prepares a workspace, a fake runscript that writes one run
// history row with status, and a registry pointing at it.
func newFixture(t *testing.T, status string, exit int) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a shell script")
	}
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	require.NoError(t, os.MkdirAll(ws, 0o755))

	tool := filepath.Join(dir, "runscript")
	body := "#!/bin/sh\n" +
		"echo \"runscript $*\"\n" +
		"echo \"build url $BUILD_URL\"\n" +
		"mkdir -p Results/login\n" +
		"printf '" + historyHeader + "' > Results/login/RunHistory.csv\n" +
		"printf '2024-03-01 10:00:00\\t" + status + "\\t2\\t0\\t0\\t0\\t\\tResults/login/1/LogFile.txt\\n' >> Results/login/RunHistory.csv\n" +
		"exit " + strconv.Itoa(exit) + "\n"
	require.NoError(t, os.WriteFile(tool, []byte(body), 0o755))

	regPath := filepath.Join(dir, "installations.yml")
	require.NoError(t, install.Save(regPath, install.File{
		Installations: []install.Installation{{Name: "ep", Home: tool}},
	}))

	cfg := "step:\n  script: login\n  sut: sut-1\n  password: hunter2\n  installationName: ep\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".eggdrive.yml"), []byte(cfg), 0o644))

	return fixture{workspace: ws, installations: regPath, tool: tool}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func requireExit(t *testing.T, err error, code int) {
	t.Helper()
	var ee *exitError
	require.True(t, errors.As(err, &ee), "expected exit error, got %v", err)
	assert.Equal(t, code, ee.code)
}

func TestRunCommandPassingJSON(t *testing.T) {
	fx := newFixture(t, "Pass", 0)

	stdout, stderr, err := execute(t, "run",
		"--workspace", fx.workspace,
		"--installations", fx.installations,
		"--build-url", "job/ui/7/",
		"--format", "json",
	)
	require.NoError(t, err)

	var rep output.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.True(t, rep.Verdict)
	assert.Equal(t, "SUCCESS", rep.BuildResult)
	assert.Equal(t, "VERDICT_COMPUTED", rep.State)
	assert.Equal(t, 1, rep.ResultFiles)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "login", rep.Records[0].Test)
	assert.Equal(t, "sut-1", rep.Records[0].Host)
	assert.Equal(t, "job/ui/7/", rep.Records[0].BuildURL)
	assert.Contains(t, rep.Command, "********")
	assert.NotContains(t, rep.Command, "hunter2")
	assert.Contains(t, rep.Tail, "build url job/ui/7/")

	assert.Contains(t, stderr, "eggPlant execution started")
	assert.Contains(t, stderr, "runscript login -host sut-1")
	assert.Contains(t, stderr, "build url job/ui/7/")
	assert.Contains(t, stderr, "Parsing results for test: login")
}

func TestRunCommandFailingTestPretty(t *testing.T) {
	fx := newFixture(t, "Fail", 0)

	stdout, _, err := execute(t, "run", "--workspace", fx.workspace, "--installations", fx.installations)
	requireExit(t, err, exitcodes.TestFailure)
	assert.Contains(t, stdout, "1 of 1 eggPlant tests failed")
	assert.Contains(t, stdout, "SUMMARY: 0 passed, 1 failed of 1")
	assert.Contains(t, stdout, "log: Results/login/1/LogFile.txt")
}

func TestRunCommandNonZeroExit(t *testing.T) {
	fx := newFixture(t, "Pass", 2)

	stdout, _, err := execute(t, "run", "--workspace", fx.workspace, "--installations", fx.installations)
	requireExit(t, err, exitcodes.TestFailure)
	assert.Contains(t, stdout, "Runscript exited with code 2")
	assert.Contains(t, stdout, "verdict PASS")
}

func TestRunCommandUnknownInstallation(t *testing.T) {
	fx := newFixture(t, "Pass", 0)

	stdout, _, err := execute(t, "run",
		"--workspace", fx.workspace,
		"--installations", fx.installations,
		"--installation", "missing",
	)
	requireExit(t, err, exitcodes.RuntimeErr)
	assert.Contains(t, stdout, "eggPlant installation not found for this node.")
	_, statErr := os.Stat(filepath.Join(fx.workspace, "Results"))
	assert.True(t, os.IsNotExist(statErr), "tool must not run")
}

func TestRunCommandInterrupted(t *testing.T) {
	fx := newFixture(t, "Pass", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, _, err := executeContext(t, ctx, "run", "--workspace", fx.workspace, "--installations", fx.installations)
	requireExit(t, err, exitcodes.RuntimeErr)
	assert.Contains(t, stdout, "eggPlant execution interrupted, results not collected")
	assert.NotContains(t, stdout, "Parsing results...")
	_, statErr := os.Stat(filepath.Join(fx.workspace, ".eggdrive", "report.json"))
	assert.True(t, os.IsNotExist(statErr), "interrupted run must not persist a report")
}

func TestRunCommandDryRun(t *testing.T) {
	fx := newFixture(t, "Fail", 0)

	stdout, _, err := execute(t, "run",
		"--workspace", fx.workspace,
		"--installations", fx.installations,
		"--dry-run",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "[dry-run] "+fx.tool+" login -host sut-1 -password ********")
	assert.NotContains(t, stdout, "hunter2")
	assert.Contains(t, stdout, "No eggPlant results recorded")
	_, statErr := os.Stat(filepath.Join(fx.workspace, ".eggdrive", "report.json"))
	assert.True(t, os.IsNotExist(statErr), "dry run must not persist a report")
}

func TestRunCommandAccumulatesAndReports(t *testing.T) {
	fx := newFixture(t, "Pass", 0)
	base := []string{"--workspace", fx.workspace, "--installations", fx.installations, "--build-url", "job/ui/9/"}

	_, _, err := execute(t, append([]string{"run"}, base...)...)
	require.NoError(t, err)
	_, _, err = execute(t, append([]string{"run"}, base...)...)
	require.NoError(t, err)

	stdout, _, err := execute(t, "report", "--workspace", fx.workspace, "--format", "json")
	require.NoError(t, err)
	var rep output.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.True(t, rep.Verdict)
	assert.Equal(t, "job/ui/9/", rep.BuildURL)
	assert.Len(t, rep.Records, 2)
	assert.Equal(t, 2, rep.Summary.Passed)
}

func TestRunCommandNewBuildStartsFresh(t *testing.T) {
	tests := []struct {
		name   string
		first  []string
		second []string
		url    string
	}{
		{
			name:   "different build urls",
			first:  []string{"--build-url", "job/ui/9/"},
			second: []string{"--build-url", "job/ui/10/"},
			url:    "job/ui/10/",
		},
		{
			name: "local builds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, "Pass", 0)
			base := []string{"run", "--workspace", fx.workspace, "--installations", fx.installations}

			_, _, err := execute(t, append(append([]string{}, base...), tt.first...)...)
			require.NoError(t, err)
			_, _, err = execute(t, append(append([]string{}, base...), tt.second...)...)
			require.NoError(t, err)

			stdout, _, err := execute(t, "report", "--workspace", fx.workspace, "--format", "json")
			require.NoError(t, err)
			var rep output.Report
			require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
			assert.Len(t, rep.Records, 1)
			if tt.url != "" {
				assert.Equal(t, tt.url, rep.BuildURL)
			} else {
				assert.True(t, strings.HasPrefix(rep.BuildURL, "local/"), rep.BuildURL)
			}
		})
	}
}

func TestRunCommandMetricsFile(t *testing.T) {
	fx := newFixture(t, "Pass", 0)
	metricsPath := filepath.Join(t.TempDir(), "eggdrive.prom")

	_, _, err := execute(t, "run",
		"--workspace", fx.workspace,
		"--installations", fx.installations,
		"--metrics-file", metricsPath,
	)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `eggdrive_step_runs_total{outcome="success"} 1`)
	assert.Contains(t, string(data), `eggdrive_tests_total{status="passed"} 1`)
}

func TestRunCommandVariables(t *testing.T) {
	fx := newFixture(t, "Pass", 0)

	stdout, _, err := execute(t, "run",
		"--workspace", fx.workspace,
		"--installations", fx.installations,
		"--dry-run",
		"--var", "OUT=/results",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "-DefaultDocumentDirectory "+fx.workspace)

	_, _, err = execute(t, "run", "--workspace", fx.workspace, "--installations", fx.installations, "--var", "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected KEY=VALUE")
}

func TestRunCommandRejectsUnknownFormat(t *testing.T) {
	fx := newFixture(t, "Pass", 0)

	_, _, err := execute(t, "run", "--workspace", fx.workspace, "--installations", fx.installations, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported format "xml"`)
	_, statErr := os.Stat(filepath.Join(fx.workspace, "Results"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReportCommandEmptyWorkspace(t *testing.T) {
	stdout, _, err := execute(t, "report", "--workspace", t.TempDir(), "--installations", filepath.Join(t.TempDir(), "i.yml"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout, "No eggPlant results recorded"))
}

func TestExitCode(t *testing.T) {
	buf := &bytes.Buffer{}
	assert.Equal(t, exitcodes.Success, exitCode(nil, buf))
	assert.Equal(t, exitcodes.RuntimeErr, exitCode(errors.New("boom"), buf))
	assert.Equal(t, exitcodes.TestFailure, exitCode(&exitError{code: exitcodes.TestFailure}, buf))
	assert.Equal(t, "error: boom\n", buf.String())
}
