package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bgricker/eggdrive/internal/install"
	"github.com/bgricker/eggdrive/internal/report"
)

// PrettyRenderer renders reports in a human-friendly format.
type PrettyRenderer struct {
	out io.Writer
}

// NewPretty creates a PrettyRenderer writing to the provided writer.
func NewPretty(out io.Writer) *PrettyRenderer {
	return &PrettyRenderer{out: out}
}

// RenderReport prints one row per record followed by a totals footer and the
// summary line. A nil report renders as empty.
func (p *PrettyRenderer) RenderReport(rep *report.BuildReport) error {
	if rep == nil {
		rep = report.New("")
	}
	summary := rep.Summary()

	if len(rep.Records) == 0 {
		if _, err := fmt.Fprintln(p.out, "No eggPlant results recorded"); err != nil {
			return err
		}
		return p.renderSummary(summary)
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	if rep.BuildURL != "" {
		t.SetTitle(fmt.Sprintf("eggPlant results (%s)", rep.BuildURL))
	}
	t.AppendHeader(table.Row{"", "Test", "Run date", "Duration", "Errors", "Warnings", "Exceptions", "Message"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", AutoMerge: true},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Errors", Align: text.AlignRight},
		{Name: "Warnings", Align: text.AlignRight},
		{Name: "Exceptions", Align: text.AlignRight},
		{Name: "Message", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, r := range rep.Records {
		t.AppendRow(table.Row{
			statusGlyph(r.Passed),
			r.Test,
			formatTimestamp(r.Timestamp),
			formatDuration(time.Duration(r.DurationMS) * time.Millisecond),
			r.Errors,
			r.Warnings,
			r.Exceptions,
			r.Message,
		})
	}
	t.AppendFooter(table.Row{
		"",
		"TOTAL",
		"",
		formatDuration(time.Duration(summary.DurationMS) * time.Millisecond),
		summary.Errors,
		summary.Warnings,
		summary.Exceptions,
		"",
	})
	t.Render()

	return p.renderSummary(summary)
}

func (p *PrettyRenderer) renderSummary(s report.Summary) error {
	verdict := "PASS"
	if !s.Verdict {
		verdict = "FAIL"
	}
	_, err := fmt.Fprintf(p.out, "SUMMARY: %d passed, %d failed of %d (%s) verdict %s\n",
		s.Passed, s.Failed, s.Total, formatDuration(time.Duration(s.DurationMS)*time.Millisecond), verdict)
	return err
}

// RenderFailures lists failed records with their log and screenshot
// locations so they can be found in the workspace.
func (p *PrettyRenderer) RenderFailures(rep *report.BuildReport) error {
	if rep == nil {
		return nil
	}
	for _, r := range rep.Failed() {
		if _, err := fmt.Fprintf(p.out, "%s %s (%s)\n", statusGlyph(false), r.Test, r.Status); err != nil {
			return err
		}
		if r.Message != "" {
			fmt.Fprintf(p.out, "  message: %s\n", indent(r.Message, "  "))
		}
		if r.LogFile != "" {
			fmt.Fprintf(p.out, "  log: %s\n", r.LogFile)
		}
		if r.Screenshot != "" {
			fmt.Fprintf(p.out, "  screenshots: %s\n", r.Screenshot)
		}
	}
	return nil
}

// RenderInstallations lists the registry. For a remote node the translated
// homes are shown; locally each home is checked on disk.
func (p *PrettyRenderer) RenderInstallations(installs []install.Installation, node install.Node) error {
	if len(installs) == 0 {
		_, err := fmt.Fprintln(p.out, "No eggPlant installations configured")
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	header := table.Row{"Name", "Home"}
	translate := node != nil && node.Name() != ""
	if translate {
		header = append(header, fmt.Sprintf("Home on %s", node.Name()))
	} else {
		header = append(header, "Status")
	}
	t.AppendHeader(header)
	for _, inst := range installs {
		row := table.Row{inst.Name, inst.Home}
		if translate {
			row = append(row, inst.Resolve(node).Home)
		} else {
			row = append(row, install.Status(inst))
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

func statusGlyph(passed bool) string {
	if passed {
		return "✓"
	}
	return "✗"
}

func indent(s, pad string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Truncate(time.Millisecond).String()
}
