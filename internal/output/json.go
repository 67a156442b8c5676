package output

import (
	"encoding/json"
	"io"

	"github.com/bgricker/eggdrive/internal/report"
)

// JSONRenderer emits structured execution data.
type JSONRenderer struct {
	out io.Writer
}

// NewJSON creates a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Report captures JSON output schema.
type Report struct {
	BuildID     string          `json:"build_id,omitempty"`
	BuildURL    string          `json:"build_url,omitempty"`
	Command     string          `json:"command,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
	ExitCode    int             `json:"exit_code"`
	Tail        string          `json:"tail,omitempty"`
	BuildResult string          `json:"build_result"`
	State       string          `json:"state"`
	Verdict     bool            `json:"verdict"`
	Error       string          `json:"error,omitempty"`
	ResultFiles int             `json:"result_files"`
	Records     []report.Record `json:"records"`
	Summary     report.Summary  `json:"summary"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// Render encodes the report as JSON.
func (j *JSONRenderer) Render(rep Report) error {
	if rep.Records == nil {
		rep.Records = []report.Record{}
	}
	return j.RenderValue(rep)
}

// RenderValue encodes any value with the same indentation as Render.
func (j *JSONRenderer) RenderValue(v any) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
