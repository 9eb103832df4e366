// Package mcpserver exposes the pipeline to MCP clients as tools: start a run,
// resume a paused run, check a change proposal, and show the rules.
package mcpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ShayCichocki/medallion/internal/pipeline"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/internal/report"
	"github.com/ShayCichocki/medallion/internal/rules"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// Runner starts and resumes runs.
type Runner interface {
	Start(ctx context.Context, req pipeline.Request) (*models.PipelineState, error)
	Resume(ctx context.Context, runID string) (*models.PipelineState, error)
}

// StatusReader reports the status of a change proposal.
type StatusReader interface {
	GetStatus(ctx context.Context, handle models.ApprovalHandle) (proposal.Status, error)
}

var _ Runner = (*pipeline.Pipeline)(nil)

// Config holds the server's collaborators.
type Config struct {
	Runner    Runner
	Proposals StatusReader
	// RulesPath is read on every run so edits apply without a restart.
	RulesPath string
	Version   string
}

// RunInput is the input of run_pipeline.
type RunInput struct {
	Query           string `json:"query" jsonschema:"the transformation request in plain language"`
	SourceReference string `json:"source_reference" jsonschema:"fully qualified source table, e.g. raw.orders"`
}

// ResumeInput is the input of resume_pipeline.
type ResumeInput struct {
	RunID string `json:"run_id" jsonschema:"ID of a run paused for approval"`
}

// StatusInput is the input of check_transformation_status.
type StatusInput struct {
	Proposal string `json:"proposal" jsonschema:"pull request number or proposal branch"`
}

// RulesInput is the input of view_transformation_rules.
type RulesInput struct{}

// RunOutput is the structured result of run_pipeline and resume_pipeline.
type RunOutput struct {
	RunID           string   `json:"run_id"`
	Status          string   `json:"status"`
	LayersCompleted []string `json:"layers_completed,omitempty"`
	WaitingOn       string   `json:"waiting_on,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// StatusOutput is the structured result of check_transformation_status.
type StatusOutput struct {
	Proposal string `json:"proposal"`
	State    string `json:"state"`
	Approved bool   `json:"approved"`
	URL      string `json:"url,omitempty"`
}

// Server holds the tool handlers.
type Server struct {
	cfg Config
}

// New creates an MCP server with the pipeline tools registered.
func New(cfg Config) (*mcp.Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("mcp server: runner is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{cfg: cfg}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "medallion",
		Version: cfg.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "run_pipeline",
		Description: "Run the bronze, silver and gold layers for a source table. " +
			"Each layer is planned, generated, reviewed and submitted as a change proposal; " +
			"the run pauses until the proposal is approved and can then be resumed.",
	}, s.runPipeline)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume_pipeline",
		Description: "Resume a run that paused waiting for a change proposal to be approved.",
	}, s.resumePipeline)

	if cfg.Proposals != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "check_transformation_status",
			Description: "Check whether a layer's change proposal has been approved.",
		}, s.checkStatus)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "view_transformation_rules",
		Description: "Show the business transformation rules applied to every run.",
	}, s.viewRules)

	return server, nil
}

// Run serves the tools over stdio until ctx is done or the client leaves.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	log.Printf("[mcp] serving medallion %s over stdio", cfg.Version)
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) runPipeline(ctx context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, RunOutput, error) {
	r, err := s.loadRules()
	if err != nil {
		return errorResult(err), RunOutput{}, nil
	}
	st, err := s.cfg.Runner.Start(ctx, pipeline.Request{
		Query:           in.Query,
		SourceReference: in.SourceReference,
		Rules:           r.Text(),
	})
	if err != nil {
		return errorResult(fmt.Errorf("run pipeline: %w", err)), RunOutput{}, nil
	}
	return runResult(st)
}

func (s *Server) resumePipeline(ctx context.Context, _ *mcp.CallToolRequest, in ResumeInput) (*mcp.CallToolResult, RunOutput, error) {
	if strings.TrimSpace(in.RunID) == "" {
		return errorResult(errors.New("run_id is required")), RunOutput{}, nil
	}
	st, err := s.cfg.Runner.Resume(ctx, in.RunID)
	if err != nil {
		return errorResult(err), RunOutput{}, nil
	}
	return runResult(st)
}

func (s *Server) checkStatus(ctx context.Context, _ *mcp.CallToolRequest, in StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	handle, err := parseHandle(in.Proposal)
	if err != nil {
		return errorResult(err), StatusOutput{}, nil
	}
	st, err := s.cfg.Proposals.GetStatus(ctx, handle)
	if err != nil {
		return errorResult(fmt.Errorf("check proposal %s: %w", in.Proposal, err)), StatusOutput{}, nil
	}

	out := StatusOutput{Proposal: in.Proposal, State: st.State, Approved: st.Approved, URL: st.URL}

	var b strings.Builder
	fmt.Fprintf(&b, "# Transformation status: %s\n\n", in.Proposal)
	fmt.Fprintf(&b, "- **State:** %s\n", strings.ToUpper(orUnknown(st.State)))
	if st.Approved {
		b.WriteString("- **Approved:** yes\n")
	} else {
		b.WriteString("- **Approved:** not yet\n")
	}
	if st.URL != "" {
		fmt.Fprintf(&b, "- **URL:** %s\n", st.URL)
	}
	b.WriteString("\n")
	if st.Approved {
		b.WriteString("The change has been approved. Resume the run to execute it.\n")
	} else {
		b.WriteString("Awaiting review. The layer executes once the proposal is approved and the run is resumed.\n")
	}
	return textResult(b.String()), out, nil
}

func (s *Server) viewRules(_ context.Context, _ *mcp.CallToolRequest, _ RulesInput) (*mcp.CallToolResult, any, error) {
	r, err := s.loadRules()
	if err != nil {
		return errorResult(err), nil, nil
	}
	var b strings.Builder
	b.WriteString("# Current transformation rules\n\n")
	b.WriteString(r.Text())
	b.WriteString("\n")
	if p := r.Path(); p != "" {
		fmt.Fprintf(&b, "\nEdit %s to change transformation logic for every run.\n", p)
	} else {
		fmt.Fprintf(&b, "\nNo rules file found. Create %s to set rules for every run.\n", s.rulesPath())
	}
	return textResult(b.String()), nil, nil
}

// loadRules reads the rules file, falling back to the defaults when it does
// not exist.
func (s *Server) loadRules() (*rules.Rules, error) {
	r, err := rules.Load(s.rulesPath())
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	return r, err
}

func (s *Server) rulesPath() string {
	if s.cfg.RulesPath == "" {
		return "rules.yaml"
	}
	return s.cfg.RulesPath
}

func runResult(st *models.PipelineState) (*mcp.CallToolResult, RunOutput, error) {
	var buf bytes.Buffer
	if err := report.Markdown(&buf, st); err != nil {
		return errorResult(err), RunOutput{}, nil
	}
	out := RunOutput{
		RunID:           st.RunID,
		Status:          string(st.Status),
		LayersCompleted: make([]string, 0, len(st.LayersCompleted)),
		Errors:          st.ErrorLog,
	}
	for _, l := range st.LayersCompleted {
		out.LayersCompleted = append(out.LayersCompleted, string(l))
	}
	if st.Status == models.RunStatusAwaitingApproval {
		out.WaitingOn = report.HandleRef(st.ApprovalHandle)
	}
	return textResult(buf.String()), out, nil
}

// parseHandle turns a pull request number or branch name into a handle.
func parseHandle(ref string) (models.ApprovalHandle, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if ref == "" {
		return models.ApprovalHandle{}, errors.New("proposal is required")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n <= 0 {
			return models.ApprovalHandle{}, fmt.Errorf("invalid proposal number %d", n)
		}
		return models.ApprovalHandle{ID: ref, Number: n}, nil
	}
	return models.ApprovalHandle{ID: ref, Branch: ref}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
