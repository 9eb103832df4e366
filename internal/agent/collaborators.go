// Package agent implements the pipeline steps. Every step is layer
// polymorphic: the current layer selects prompts and context, never the shape
// of the work.
package agent

import (
	"context"

	"github.com/ShayCichocki/medallion/internal/analysis"
	"github.com/ShayCichocki/medallion/internal/api"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/internal/warehouse"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// Inference completes a prompt. The reply is free text that may or may not
// hold the structure a step asked for.
type Inference interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Warehouse executes statements and describes tables.
type Warehouse interface {
	ExecuteQuery(ctx context.Context, query string) (warehouse.Result, error)
	GetSchema(ctx context.Context, ref string) (warehouse.Schema, error)
	GetRowCount(ctx context.Context, ref string) (int64, error)
}

// SyntaxChecker is implemented by warehouses that can check a statement
// without running it.
type SyntaxChecker interface {
	ValidateSyntax(ctx context.Context, query string) error
}

// Proposals creates change proposals and reports their status.
type Proposals interface {
	CreateProposal(ctx context.Context, req proposal.Request) (models.ApprovalHandle, error)
	GetStatus(ctx context.Context, handle models.ApprovalHandle) (proposal.Status, error)
}

// Analyzer inspects a layer's output.
type Analyzer interface {
	Analyze(ctx context.Context, ref string, sampleSize int) (analysis.Report, error)
}

// Archive stores a copy of submitted artifacts.
type Archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

var (
	_ Inference     = (*api.Client)(nil)
	_ Warehouse     = (*warehouse.Postgres)(nil)
	_ SyntaxChecker = (*warehouse.Postgres)(nil)
	_ Proposals     = (*proposal.GitHub)(nil)
	_ Proposals     = (*proposal.LocalGit)(nil)
	_ Analyzer      = (*analysis.Analyzer)(nil)
)
