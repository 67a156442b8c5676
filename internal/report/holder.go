package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Holder persists the BuildReport attached to a build.
type Holder interface {
	// Get returns the attached report, or nil when none exists yet.
	Get() (*BuildReport, error)
	// Attach stores rep as the build's report.
	Attach(rep *BuildReport) error
}

// StateDir is the directory, relative to the workspace, that holds build state.
const StateDir = ".eggdrive"

// FileHolder keeps the report as JSON on disk so later steps of the same
// build, and the report command, can read it back.
type FileHolder struct {
	Path string
}

// NewFileHolder returns a holder for the report of the build in workspace.
func NewFileHolder(workspace string) *FileHolder {
	return &FileHolder{Path: filepath.Join(workspace, StateDir, "report.json")}
}

// Get implements Holder.
func (h *FileHolder) Get() (*BuildReport, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read report %q: %w", h.Path, err)
	}
	var rep BuildReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report %q: %w", h.Path, err)
	}
	if rep.Records == nil {
		rep.Records = []Record{}
	}
	return &rep, nil
}

// Attach implements Holder.
func (h *FileHolder) Attach(rep *BuildReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.Path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(h.Path, data, 0o644); err != nil {
		return fmt.Errorf("write report %q: %w", h.Path, err)
	}
	return nil
}

// MemoryHolder keeps the report in memory.
type MemoryHolder struct {
	Report *BuildReport
}

// Get implements Holder.
func (h *MemoryHolder) Get() (*BuildReport, error) { return h.Report, nil }

// Attach implements Holder.
func (h *MemoryHolder) Attach(rep *BuildReport) error {
	h.Report = rep
	return nil
}
