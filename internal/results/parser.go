// Package results reads the run history files written by the test tool.
package results

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/bgricker/eggdrive/internal/report"
)

// ErrSchema indicates a result file whose header lacks a required column.
var ErrSchema = errors.New("unexpected result file schema")

// Column names of the run history header.
const (
	ColRunDate      = "rundate"
	ColStatus       = "status"
	ColDuration     = "duration"
	ColErrors       = "errors"
	ColWarnings     = "warnings"
	ColExceptions   = "exceptions"
	ColErrorMessage = "errormessage"
	ColLogFile      = "logfile"
)

// StatusPass is the status value of a passing run, compared case-insensitively.
const StatusPass = "pass"

// maxLine bounds a single run history line.
const maxLine = 1024 * 1024

var dateLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006 15:04:05",
}

// Warning records a row that was skipped.
type Warning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

// Parser converts run history rows into report records.
type Parser struct {
	// Host is the system under test the rows were recorded against.
	Host string
	// BuildURL links records back to the build that produced them.
	BuildURL string
}

// Parse reads one run history file for test. Records keep file row order. A
// row whose status can be read is always kept, with unreadable fields left at
// their zero value; every such defect, and every row dropped for lacking a
// status, is returned as a warning.
func (p Parser) Parse(r io.Reader, test string) ([]report.Record, []Warning, error) {
	br := bufio.NewReader(r)
	var rows rowReader
	if sniffDelimiter(br) == '\t' {
		rows = newTabRows(br)
	} else {
		rows = newCommaRows(br)
	}

	header, _, err := rows.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []report.Record{}, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := indexColumns(header)
	for _, required := range []string{ColRunDate, ColStatus} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("%w: missing %q column", ErrSchema, required)
		}
	}

	records := []report.Record{}
	var warnings []Warning
	for {
		row, line, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				warnings = append(warnings, Warning{Line: parseErr.StartLine, Message: parseErr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read results: %w", err)
		}
		if isBlank(row) {
			continue
		}
		if len(row) != len(header) {
			warnings = append(warnings, Warning{Line: line, Message: fmt.Sprintf("expected %d fields, found %d", len(header), len(row))})
		}
		if cols[ColStatus] >= len(row) {
			warnings = append(warnings, Warning{Line: line, Message: "row dropped: no status field"})
			continue
		}

		rec, problems := p.record(cols, row, test)
		for _, msg := range problems {
			warnings = append(warnings, Warning{Line: line, Message: msg})
		}
		records = append(records, rec)
	}
	return records, warnings, nil
}

// record builds a record from row. Fields that do not parse are left at
// their zero value and reported as problems.
func (p Parser) record(cols map[string]int, row []string, test string) (report.Record, []string) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var problems []string
	ts, err := parseDate(field(ColRunDate))
	if err != nil {
		problems = append(problems, err.Error())
	}
	duration, err := parseSeconds(field(ColDuration))
	if err != nil {
		problems = append(problems, err.Error())
	}
	counts := make([]int, 3)
	for i, name := range []string{ColErrors, ColWarnings, ColExceptions} {
		if counts[i], err = parseCount(name, field(name)); err != nil {
			problems = append(problems, err.Error())
		}
	}

	status := field(ColStatus)
	logFile := field(ColLogFile)
	rec := report.Record{
		Test:       test,
		Passed:     strings.EqualFold(status, StatusPass),
		Status:     status,
		Timestamp:  ts,
		Host:       p.Host,
		Duration:   duration,
		DurationMS: duration.Milliseconds(),
		Errors:     counts[0],
		Warnings:   counts[1],
		Exceptions: counts[2],
		Message:    field(ColErrorMessage),
		LogFile:    logFile,
		BuildURL:   p.BuildURL,
	}
	if logFile != "" {
		// Screen captures are written next to the run's log file.
		rec.Screenshot = path.Dir(strings.ReplaceAll(logFile, "\\", "/"))
	}
	return rec, problems
}

// rowReader yields the fields of one row and the line it started on.
type rowReader interface {
	next() ([]string, int, error)
}

// tabRows reads the tool's native format: one row per line, fields split on
// tabs, quotes taken literally.
type tabRows struct {
	sc   *bufio.Scanner
	line int
}

func newTabRows(r io.Reader) *tabRows {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &tabRows{sc: sc}
}

func (t *tabRows) next() ([]string, int, error) {
	if !t.sc.Scan() {
		if err := t.sc.Err(); err != nil {
			return nil, t.line, err
		}
		return nil, t.line, io.EOF
	}
	t.line++
	return strings.Split(strings.TrimSuffix(t.sc.Text(), "\r"), "\t"), t.line, nil
}

// commaRows reads comma-separated exports, which do use CSV quoting.
type commaRows struct {
	cr *csv.Reader
}

func newCommaRows(r io.Reader) *commaRows {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &commaRows{cr: cr}
}

func (c *commaRows) next() ([]string, int, error) {
	row, err := c.cr.Read()
	if err != nil {
		return nil, 0, err
	}
	line, _ := c.cr.FieldPos(0)
	return row, line, nil
}

func isBlank(row []string) bool {
	return len(row) == 1 && strings.TrimSpace(row[0]) == ""
}

// sniffDelimiter picks tab or comma from the header line. The tool writes
// tab-separated history despite the .csv extension; older exports use commas.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(br.Size())
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.IndexByte(head, '\t') >= 0 {
		return '\t'
	}
	return ','
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "")
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing run date")
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised run date %q", s)
}

func parseSeconds(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseCount(name, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s count %q", name, s)
	}
	return n, nil
}
