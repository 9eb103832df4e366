package mcpserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/medallion/internal/pipeline"
	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/pkg/models"
)

type fakeRunner struct {
	requests []pipeline.Request
	resumed  []string
	startErr error
	paused   *models.PipelineState
}

func (f *fakeRunner) Start(_ context.Context, req pipeline.Request) (*models.PipelineState, error) {
	f.requests = append(f.requests, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	s := models.NewPipelineState("run-1", req.Query, req.SourceReference)
	s.Rules = req.Rules
	s.Status = models.RunStatusAwaitingApproval
	s.ResumeStep = models.StepExecute
	s.ApprovalHandle = &models.ApprovalHandle{ID: "7", Number: 7, URL: "https://github.com/acme/dw/pull/7"}
	f.paused = s
	return s, nil
}

func (f *fakeRunner) Resume(_ context.Context, runID string) (*models.PipelineState, error) {
	f.resumed = append(f.resumed, runID)
	if f.paused == nil || f.paused.RunID != runID {
		return nil, errors.New("run not found: " + runID)
	}
	s := f.paused
	s.LayersCompleted = models.CanonicalLayers()
	s.LayersRemaining = []models.Layer{}
	s.Status = models.RunStatusCompleted
	s.ApprovalHandle = nil
	return s, nil
}

type fakeStatus struct {
	handles []models.ApprovalHandle
	status  proposal.Status
	err     error
}

func (f *fakeStatus) GetStatus(_ context.Context, h models.ApprovalHandle) (proposal.Status, error) {
	f.handles = append(f.handles, h)
	return f.status, f.err
}

func connect(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()
	server, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return res, text.Text
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestListTools(t *testing.T) {
	cs := connect(t, Config{Runner: &fakeRunner{}, Proposals: &fakeStatus{}})

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"run_pipeline",
		"resume_pipeline",
		"check_transformation_status",
		"view_transformation_rules",
	}, names)
}

func TestListToolsWithoutProposals(t *testing.T) {
	cs := connect(t, Config{Runner: &fakeRunner{}})

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	for _, tool := range res.Tools {
		assert.NotEqual(t, "check_transformation_status", tool.Name)
	}
}

func TestRunPipelinePassesRules(t *testing.T) {
	runner := &fakeRunner{}
	cs := connect(t, Config{Runner: runner, RulesPath: writeRules(t, "Mask every email column.\n")})

	res, text := callTool(t, cs, "run_pipeline", map[string]any{
		"query":            "clean customer orders",
		"source_reference": "raw.orders",
	})
	assert.False(t, res.IsError)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, "clean customer orders", runner.requests[0].Query)
	assert.Equal(t, "raw.orders", runner.requests[0].SourceReference)
	assert.Equal(t, "Mask every email column.", runner.requests[0].Rules)

	assert.Contains(t, text, "# Pipeline run run-1")
	assert.Contains(t, text, "- **Waiting on:** https://github.com/acme/dw/pull/7")
	assert.Contains(t, text, "medallion resume run-1")
}

func TestRunPipelineDefaultRules(t *testing.T) {
	runner := &fakeRunner{}
	cs := connect(t, Config{Runner: runner, RulesPath: filepath.Join(t.TempDir(), "missing.yaml")})

	res, _ := callTool(t, cs, "run_pipeline", map[string]any{"query": "q", "source_reference": "raw.t"})
	assert.False(t, res.IsError)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "# Default transformation rules", runner.requests[0].Rules)
}

func TestRunPipelineError(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("invalid request: query is required")}
	cs := connect(t, Config{Runner: runner, RulesPath: writeRules(t, "x")})

	res, text := callTool(t, cs, "run_pipeline", map[string]any{"query": "", "source_reference": "raw.t"})
	assert.True(t, res.IsError)
	assert.Equal(t, "run pipeline: invalid request: query is required", text)
}

func TestResumePipeline(t *testing.T) {
	runner := &fakeRunner{}
	cs := connect(t, Config{Runner: runner, RulesPath: writeRules(t, "x")})

	callTool(t, cs, "run_pipeline", map[string]any{"query": "q", "source_reference": "raw.t"})

	res, text := callTool(t, cs, "resume_pipeline", map[string]any{"run_id": "run-1"})
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"run-1"}, runner.resumed)
	assert.Contains(t, text, "- **Status:** completed")
	assert.Contains(t, text, "- **Layers completed:** bronze, silver, gold")

	res, text = callTool(t, cs, "resume_pipeline", map[string]any{"run_id": "run-404"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "run-404")
}

func TestResumePipelineRequiresRunID(t *testing.T) {
	runner := &fakeRunner{}
	cs := connect(t, Config{Runner: runner})

	res, text := callTool(t, cs, "resume_pipeline", map[string]any{"run_id": "  "})
	assert.True(t, res.IsError)
	assert.Equal(t, "run_id is required", text)
	assert.Empty(t, runner.resumed)
}

func TestCheckTransformationStatus(t *testing.T) {
	tests := []struct {
		name       string
		proposal   string
		status     proposal.Status
		wantHandle models.ApprovalHandle
		wantText   []string
	}{
		{
			name:       "merged pull request",
			proposal:   "#12",
			status:     proposal.Status{Approved: true, State: "merged", URL: "https://github.com/acme/dw/pull/12"},
			wantHandle: models.ApprovalHandle{ID: "12", Number: 12},
			wantText:   []string{"- **State:** MERGED", "- **Approved:** yes", "Resume the run"},
		},
		{
			name:       "open branch",
			proposal:   "medallion/run-1/silver",
			status:     proposal.Status{State: "open"},
			wantHandle: models.ApprovalHandle{ID: "medallion/run-1/silver", Branch: "medallion/run-1/silver"},
			wantText:   []string{"- **State:** OPEN", "- **Approved:** not yet", "Awaiting review"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := &fakeStatus{status: tt.status}
			cs := connect(t, Config{Runner: &fakeRunner{}, Proposals: status})

			res, text := callTool(t, cs, "check_transformation_status", map[string]any{"proposal": tt.proposal})
			assert.False(t, res.IsError)
			require.Len(t, status.handles, 1)
			assert.Equal(t, tt.wantHandle, status.handles[0])
			for _, want := range tt.wantText {
				assert.Contains(t, text, want)
			}
		})
	}
}

func TestCheckTransformationStatusError(t *testing.T) {
	status := &fakeStatus{err: errors.New("HTTP 502")}
	cs := connect(t, Config{Runner: &fakeRunner{}, Proposals: status})

	res, text := callTool(t, cs, "check_transformation_status", map[string]any{"proposal": "5"})
	assert.True(t, res.IsError)
	assert.Equal(t, "check proposal 5: HTTP 502", text)

	res, text = callTool(t, cs, "check_transformation_status", map[string]any{"proposal": "0"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "invalid proposal number")
}

func TestViewTransformationRules(t *testing.T) {
	path := writeRules(t, "1. Use UTC timestamps\n")
	cs := connect(t, Config{Runner: &fakeRunner{}, RulesPath: path})

	res, text := callTool(t, cs, "view_transformation_rules", map[string]any{})
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(text, "# Current transformation rules\n\n1. Use UTC timestamps\n"))
	assert.Contains(t, text, "Edit "+path)
}

func TestViewTransformationRulesMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	cs := connect(t, Config{Runner: &fakeRunner{}, RulesPath: path})

	res, text := callTool(t, cs, "view_transformation_rules", map[string]any{})
	assert.False(t, res.IsError)
	assert.Contains(t, text, "# Default transformation rules")
	assert.Contains(t, text, "No rules file found. Create "+path)
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
