package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/bgricker/eggdrive/internal/args"
	"github.com/bgricker/eggdrive/internal/ctxlog"
)

// ErrInterrupted is returned when the step is cancelled while the tool runs.
var ErrInterrupted = errors.New("execution interrupted")

// waitDelay bounds how long output pipes are drained after the tool is killed.
const waitDelay = 2 * time.Second

// Options configure how the runner launches the tool.
type Options struct {
	// Stdout is the build console; tool output is streamed to it line by line.
	Stdout    io.Writer
	DryRun    bool
	StripANSI bool
	TailLines int
	Env       []string
	ExtraEnv  map[string]string
	Now       func() time.Time
}

// Result is the outcome of one tool invocation.
type Result struct {
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Tail       string        `json:"tail,omitempty"`
	DryRun     bool          `json:"dry_run"`
}

// Runner launches the test tool.
type Runner struct {
	opts Options
}

// New creates a runner with the supplied options.
func New(opts Options) *Runner {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}
}

// Run executes argv in dir and waits for it to exit. A non-zero exit status
// is reported through Result.ExitCode, not as an error; errors mean the tool
// could not be started or waited for.
func (r *Runner) Run(ctx context.Context, argv []string, dir string) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	if len(argv) == 0 {
		return Result{}, errors.New("empty command line")
	}

	result := Result{Command: args.String(args.Mask(argv)), DryRun: r.opts.DryRun}

	workingDir, err := resolveWorkingDirectory(dir)
	if err != nil {
		return result, err
	}

	if r.opts.DryRun {
		fmt.Fprintf(r.opts.Stdout, "[dry-run] %s\n", result.Command)
		logger.Info("dry run, tool not launched", "command", result.Command)
		return result, nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workingDir
	cmd.Env = mergeEnv(r.opts.Env, r.opts.ExtraEnv)
	cmd.WaitDelay = waitDelay

	sink := &lineWriter{out: r.opts.Stdout, strip: r.opts.StripANSI, tail: r.opts.TailLines}
	cmd.Stdout = sink
	cmd.Stderr = sink

	logger.Debug("launching tool", "command", result.Command, "dir", workingDir)
	start := r.opts.Now()
	err = cmd.Run()
	sink.Flush()
	result.Duration = r.opts.Now().Sub(start)
	result.DurationMS = result.Duration.Milliseconds()
	result.Tail = sink.Tail()

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = exitCode(err)
		return result, fmt.Errorf("%w: %v", ErrInterrupted, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("run %s: %w", filepath.Base(argv[0]), err)
		}
	}
	result.ExitCode = exitCode(err)
	logger.Debug("tool exited", "exit_code", result.ExitCode, "duration", result.Duration)
	return result, nil
}

func resolveWorkingDirectory(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		return wd, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("working directory %q not found", dir)
		}
		return "", fmt.Errorf("stat working directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %q is not a directory", dir)
	}
	return dir, nil
}

func mergeEnv(base []string, overlays ...map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlays)*4)
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx != -1 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			envMap[k] = v
		}
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

// lineWriter forwards complete lines to out as they arrive and remembers the
// last few for error reporting.
type lineWriter struct {
	mu    sync.Mutex
	out   io.Writer
	strip bool
	tail  int
	buf   bytes.Buffer
	lines []string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		if err := w.emit(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	line := w.buf.String() + "\n"
	w.buf.Reset()
	_ = w.emit(line)
}

func (w *lineWriter) emit(line string) error {
	if w.strip {
		line = stripansi.Strip(line)
	}
	w.lines = append(w.lines, strings.TrimRight(line, "\r\n"))
	if len(w.lines) > w.tail {
		w.lines = w.lines[len(w.lines)-w.tail:]
	}
	_, err := io.WriteString(w.out, line)
	return err
}

// Tail returns the last captured lines joined by newlines.
func (w *lineWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}
