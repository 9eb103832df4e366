package proposal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cli/go-gh/v2/pkg/api"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// RESTClient is the subset of the go-gh REST client used here.
type RESTClient interface {
	DoWithContext(ctx context.Context, method string, path string, body io.Reader, response interface{}) error
}

// GitHubConfig configures the pull request backend.
type GitHubConfig struct {
	Owner string
	Repo  string
	Base  string
	Host  string
	Token string
	// Dir is the repository directory artifacts are committed under.
	Dir string
}

// Validate checks the required settings.
func (c GitHubConfig) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("%w: github owner and repo are required", ErrNotConfigured)
	}
	return nil
}

// GitHub proposes changes as pull requests. A pull request is approved once
// it has been merged.
type GitHub struct {
	client RESTClient
	cfg    GitHubConfig
}

// NewGitHub creates a backend authenticated with cfg.Token, or with the gh
// CLI's stored credentials when the token is empty.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := api.NewRESTClient(api.ClientOptions{AuthToken: cfg.Token, Host: cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("create github client: %w", err)
	}
	return NewGitHubWithClient(client, cfg), nil
}

// NewGitHubWithClient creates a backend over an existing REST client.
func NewGitHubWithClient(client RESTClient, cfg GitHubConfig) *GitHub {
	if cfg.Base == "" {
		cfg.Base = "main"
	}
	if cfg.Dir == "" {
		cfg.Dir = "transformations"
	}
	return &GitHub{client: client, cfg: cfg}
}

type gitRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type contentInfo struct {
	SHA string `json:"sha"`
}

type pullRequest struct {
	Number  int    `json:"number"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
}

// CreateProposal creates a branch off base, commits the artifact files to it
// and opens a pull request.
func (g *GitHub) CreateProposal(ctx context.Context, req Request) (models.ApprovalHandle, error) {
	files := Files(g.cfg.Dir, req)
	if len(files) == 0 {
		return models.ApprovalHandle{}, errors.New("create pull request: no artifact files")
	}
	branch := BranchName(req.RunID, req.Layer)

	var base gitRef
	if err := g.do(ctx, http.MethodGet, g.repoPath("git/ref/heads/"+g.cfg.Base), nil, &base); err != nil {
		return models.ApprovalHandle{}, fmt.Errorf("resolve base branch %s: %w", g.cfg.Base, err)
	}

	err := g.do(ctx, http.MethodPost, g.repoPath("git/refs"), map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": base.Object.SHA,
	}, nil)
	if err != nil && !isStatus(err, http.StatusUnprocessableEntity) {
		return models.ApprovalHandle{}, fmt.Errorf("create branch %s: %w", branch, err)
	}
	if err != nil {
		log.Printf("[proposal] branch %s already exists, reusing it", branch)
	}

	for _, f := range files {
		if err := g.putFile(ctx, branch, f, fmt.Sprintf("Add %s transformation for %s", req.Layer, req.RunID)); err != nil {
			return models.ApprovalHandle{}, err
		}
	}

	var pr pullRequest
	err = g.do(ctx, http.MethodPost, g.repoPath("pulls"), map[string]string{
		"title": req.Title,
		"body":  req.Body,
		"head":  branch,
		"base":  g.cfg.Base,
	}, &pr)
	if err != nil {
		return models.ApprovalHandle{}, fmt.Errorf("open pull request: %w", err)
	}
	log.Printf("[proposal] opened pull request #%d for %s", pr.Number, req.Layer)

	return models.ApprovalHandle{
		ID:     strconv.Itoa(pr.Number),
		Number: pr.Number,
		URL:    pr.HTMLURL,
		Branch: branch,
		State:  pr.State,
	}, nil
}

// GetStatus reports whether the pull request has been merged.
func (g *GitHub) GetStatus(ctx context.Context, handle models.ApprovalHandle) (Status, error) {
	n, err := prNumber(handle)
	if err != nil {
		return Status{}, err
	}
	var pr pullRequest
	if err := g.do(ctx, http.MethodGet, g.repoPath(fmt.Sprintf("pulls/%d", n)), nil, &pr); err != nil {
		return Status{}, fmt.Errorf("get pull request #%d: %w", n, err)
	}
	st := Status{Approved: pr.Merged, State: pr.State, URL: pr.HTMLURL}
	if pr.Merged {
		st.State = "merged"
	}
	return st, nil
}

// Merge merges the pull request into base.
func (g *GitHub) Merge(ctx context.Context, handle models.ApprovalHandle) error {
	n, err := prNumber(handle)
	if err != nil {
		return err
	}
	err = g.do(ctx, http.MethodPut, g.repoPath(fmt.Sprintf("pulls/%d/merge", n)), map[string]string{
		"merge_method": "squash",
	}, nil)
	if err != nil {
		return fmt.Errorf("merge pull request #%d: %w", n, err)
	}
	return nil
}

func (g *GitHub) putFile(ctx context.Context, branch string, f File, message string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(f.Content)),
		"branch":  branch,
	}

	var existing contentInfo
	err := g.do(ctx, http.MethodGet, g.repoPath("contents/"+f.Path+"?ref="+url.QueryEscape(branch)), nil, &existing)
	switch {
	case err == nil:
		body["sha"] = existing.SHA
	case !isStatus(err, http.StatusNotFound):
		return fmt.Errorf("look up %s: %w", f.Path, err)
	}

	if err := g.do(ctx, http.MethodPut, g.repoPath("contents/"+f.Path), body, nil); err != nil {
		return fmt.Errorf("commit %s: %w", f.Path, err)
	}
	return nil
}

func (g *GitHub) repoPath(suffix string) string {
	return fmt.Sprintf("repos/%s/%s/%s", g.cfg.Owner, g.cfg.Repo, suffix)
}

func (g *GitHub) do(ctx context.Context, method, p string, payload any, resp any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return g.client.DoWithContext(ctx, method, p, body, resp)
}

func isStatus(err error, code int) bool {
	var httpErr *api.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}

func prNumber(handle models.ApprovalHandle) (int, error) {
	if handle.Number > 0 {
		return handle.Number, nil
	}
	n, err := strconv.Atoi(handle.ID)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("proposal %q is not a pull request number", handle.ID)
	}
	return n, nil
}

var (
	_ Backend = (*GitHub)(nil)
	_ Merger  = (*GitHub)(nil)
)
