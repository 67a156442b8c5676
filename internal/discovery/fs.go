package discovery

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bgricker/eggdrive/internal/ctxlog"
	"github.com/bgricker/eggdrive/internal/report"
)

// ResultFileName is the per-script run history the test tool writes.
const ResultFileName = "RunHistory.csv"

// FilePath is a file in a workspace, wherever that workspace lives.
type FilePath interface {
	// Path is the location relative to the workspace root.
	Path() string
	// ParentName is the name of the directory holding the file.
	ParentName() string
	// Act runs fn against the file contents.
	Act(fn func(io.Reader) error) error
}

// Workspace enumerates files under a build workspace.
type Workspace interface {
	Root() string
	// List returns every file named basename below the root in traversal order.
	List(ctx context.Context, basename string) ([]FilePath, error)
}

// LocalWorkspace is a workspace on the local filesystem.
type LocalWorkspace struct {
	root string
}

// NewLocal returns a workspace rooted at root.
func NewLocal(root string) *LocalWorkspace {
	return &LocalWorkspace{root: root}
}

// Root implements Workspace.
func (w *LocalWorkspace) Root() string { return w.root }

// List implements Workspace. Zero matches is not an error.
func (w *LocalWorkspace) List(ctx context.Context, basename string) ([]FilePath, error) {
	var found []FilePath
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("scan %q: %w", path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != w.root && d.Name() == report.StateDir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && d.Name() == basename {
			found = append(found, localFile{root: w.root, full: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

type localFile struct {
	root string
	full string
}

func (f localFile) Path() string { return mustRelOrClean(f.root, f.full) }

func (f localFile) ParentName() string { return filepath.Base(filepath.Dir(f.full)) }

func (f localFile) Act(fn func(io.Reader) error) error {
	file, err := os.Open(f.full)
	if err != nil {
		return fmt.Errorf("open %q: %w", f.Path(), err)
	}
	defer file.Close()
	return fn(file)
}

func mustRelOrClean(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Clean(path)
	}
	rel = filepath.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Clean(path)
	}
	return rel
}

// ParseFunc reads the records out of one result file.
type ParseFunc func(r io.Reader, file FilePath) ([]report.Record, error)

// Collector finds result files and feeds their records into the build report.
type Collector struct {
	Workspace Workspace
	Console   io.Writer
	Parse     ParseFunc
}

// Scan lists the result files in the workspace.
func (c *Collector) Scan(ctx context.Context) ([]FilePath, error) {
	files, err := c.Workspace.List(ctx, ResultFileName)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("result files discovered", "count", len(files), "root", c.Workspace.Root())
	return files, nil
}

// ParseAll parses files in order and appends their records to the report
// returned by attach, which is only called when there is at least one file.
func (c *Collector) ParseAll(ctx context.Context, files []FilePath, attach func() (*report.BuildReport, error)) error {
	logger := ctxlog.FromContext(ctx)
	console := c.Console
	if console == nil {
		console = io.Discard
	}

	var rep *report.BuildReport
	for _, fp := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rep == nil {
			var err error
			if rep, err = attach(); err != nil {
				return err
			}
		}
		fmt.Fprintf(console, "Parsing results for test: %s\n", fp.ParentName())

		var records []report.Record
		err := fp.Act(func(r io.Reader) error {
			var parseErr error
			records, parseErr = c.Parse(r, fp)
			return parseErr
		})
		if err != nil {
			return fmt.Errorf("parse %q: %w", fp.Path(), err)
		}
		rep.Add(records...)
		logger.Debug("result file parsed", "file", fp.Path(), "records", len(records))
	}
	return nil
}
