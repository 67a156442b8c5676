// Package args turns a step configuration into the test tool's command line.
package args

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/bgricker/eggdrive/internal/config"
	"github.com/bgricker/eggdrive/internal/macro"
)

var (
	// ErrBlankScript indicates the step has no script to run.
	ErrBlankScript = errors.New("script name required")
	// ErrNoExecutable indicates the resolved installation has no executable path.
	ErrNoExecutable = errors.New("runtime executable not defined")
)

const (
	flagHost              = "-host"
	flagPort              = "-port"
	flagPassword          = "-password"
	flagColorDepth        = "-colorDepth"
	flagReportFailures    = "-ReportFailures"
	flagCommandLineOutput = "-CommandLineOutput"
	flagDocumentDirectory = "-DefaultDocumentDirectory"
	flagResultsFolder     = "-GlobalResultsFolder"

	yes  = "YES"
	mask = "********"
)

// Build returns the argument list for exe. The same inputs always produce the
// same list.
func Build(step config.Step, exe string, vars macro.Context, workspace string) ([]string, error) {
	if strings.TrimSpace(step.Script) == "" {
		return nil, ErrBlankScript
	}
	if exe == "" {
		return nil, ErrNoExecutable
	}

	argv := []string{exe}

	scripts, err := splitOrTokenize(step.Script)
	if err != nil {
		return nil, fmt.Errorf("tokenize script: %w", err)
	}
	argv = append(argv, scripts...)

	argv = appendOption(argv, flagHost, step.SUT)
	argv = appendOption(argv, flagPort, step.Port)
	argv = appendOption(argv, flagPassword, step.Password)
	argv = appendOption(argv, flagColorDepth, step.ColorDepth)
	if step.ReportFailures {
		argv = append(argv, flagReportFailures, yes)
	}
	if step.CommandLineOutput {
		argv = append(argv, flagCommandLineOutput, yes)
	}

	params, err := splitOrTokenize(step.Params)
	if err != nil {
		return nil, fmt.Errorf("tokenize params: %w", err)
	}
	argv = append(argv, params...)

	wsPath, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %q: %w", workspace, err)
	}
	argv = append(argv, flagDocumentDirectory, resolvedOr(step.DefaultDocumentDirectory, vars, wsPath))
	argv = append(argv, flagResultsFolder, resolvedOr(step.GlobalResultsFolder, vars, wsPath))

	return argv, nil
}

func appendOption(argv []string, flag, value string) []string {
	if value == "" {
		return argv
	}
	return append(argv, flag, value)
}

func resolvedOr(value string, vars macro.Context, fallback string) string {
	if value == "" {
		return fallback
	}
	return vars.Resolve(value)
}

// splitOrTokenize splits a comma list into literal arguments, or tokenizes the
// field on whitespace with quoting when there is no comma past the first rune.
func splitOrTokenize(field string) ([]string, error) {
	if field == "" {
		return nil, nil
	}
	if strings.Index(field, ",") > 0 {
		parts := strings.Split(field, ",")
		for len(parts) > 0 && parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		return parts, nil
	}
	return shlex.Split(shellQuote(field))
}

// shellQuote rewrites field so shlex reads it with the tool's own rules.
// Outside quotes a backslash is an ordinary character (Windows paths) and '#'
// does not start a comment. Single and double quotes both group, and inside
// either a backslash escapes the next rune.
func shellQuote(field string) string {
	var b strings.Builder
	b.Grow(len(field) + 8)
	var quote rune
	escaped := false
	for _, r := range field {
		switch {
		case quote == 0 && (r == '\\' || r == '#'):
			b.WriteRune('\\')
			b.WriteRune(r)
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			b.WriteRune('"')
		case quote == 0:
			b.WriteRune(r)
		case escaped:
			escaped = false
			if r == '"' || r == '\\' || r == '$' || r == '`' {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case r == '\\':
			escaped = true
		case r == quote:
			quote = 0
			b.WriteRune('"')
		case r == '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		b.WriteString(`\\`)
	}
	// An unterminated quote is left open so shlex rejects it.
	return b.String()
}

// Mask returns a copy of argv with the password value hidden.
func Mask(argv []string) []string {
	out := append([]string(nil), argv...)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == flagPassword {
			out[i+1] = mask
			i++
		}
	}
	return out
}

// String renders argv as a single shell-like line, quoting arguments that
// contain whitespace or quotes.
func String(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			parts[i] = strconv.Quote(a)
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
