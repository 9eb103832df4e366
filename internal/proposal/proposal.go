// Package proposal submits layer artifacts for review as change proposals and
// reports whether they have been approved.
//
// A proposal is approved only when its changes have landed on the base
// branch: a merged pull request, or a local branch merged into base.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// ErrNotConfigured is returned when a backend is missing required settings.
var ErrNotConfigured = errors.New("proposal backend not configured")

// Request describes a proposal to create.
type Request struct {
	RunID     string
	Layer     models.Layer
	Title     string
	Body      string
	Artifacts models.Artifacts
}

// Status is the state of a proposal at the time it was checked. Transport
// failures are reported as errors, never as a Status.
type Status struct {
	Approved bool
	State    string
	URL      string
}

// Backend creates proposals and reports their status.
type Backend interface {
	CreateProposal(ctx context.Context, req Request) (models.ApprovalHandle, error)
	GetStatus(ctx context.Context, handle models.ApprovalHandle) (Status, error)
}

// Merger is implemented by backends that can approve a proposal themselves.
type Merger interface {
	Merge(ctx context.Context, handle models.ApprovalHandle) error
}

// File is one artifact file committed with a proposal.
type File struct {
	Path    string
	Content string
}

// Files lays out the artifacts of req under dir as
// <dir>/<run>/<layer>/{transform.sql,transform.py,tests.py,validation.sql}.
// Empty artifacts produce no file.
func Files(dir string, req Request) []File {
	base := path.Join(dir, req.RunID, string(req.Layer))
	a := req.Artifacts

	var files []File
	if sql := JoinStatements(a.SQL); sql != "" {
		files = append(files, File{Path: path.Join(base, "transform.sql"), Content: sql})
	}
	if strings.TrimSpace(a.Script) != "" {
		files = append(files, File{Path: path.Join(base, "transform.py"), Content: ensureNewline(a.Script)})
	}
	if strings.TrimSpace(a.Tests) != "" {
		files = append(files, File{Path: path.Join(base, "tests.py"), Content: ensureNewline(a.Tests)})
	}
	if sql := JoinStatements(a.Validation); sql != "" {
		files = append(files, File{Path: path.Join(base, "validation.sql"), Content: sql})
	}
	return files
}

// JoinStatements renders SQL statements as one script.
func JoinStatements(stmts []string) string {
	var b strings.Builder
	for _, s := range stmts {
		s = strings.TrimRight(strings.TrimSpace(s), ";")
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
		b.WriteString(";\n")
	}
	return b.String()
}

// BranchName returns the branch used for a run's layer.
func BranchName(runID string, layer models.Layer) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("medallion/%s/%s", short, layer)
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
