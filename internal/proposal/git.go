package proposal

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ShayCichocki/medallion/internal/exec"
	"github.com/ShayCichocki/medallion/pkg/models"
)

// GitConfig configures the local branch backend.
type GitConfig struct {
	RepoPath string
	Base     string
	Dir      string
}

// LocalGit proposes changes as branches of a local repository. A branch is
// approved once it has been merged into base.
type LocalGit struct {
	runner exec.CommandRunner
	cfg    GitConfig
}

// NewLocalGit creates a backend for the repository at cfg.RepoPath.
func NewLocalGit(runner exec.CommandRunner, cfg GitConfig) (*LocalGit, error) {
	if cfg.RepoPath == "" {
		return nil, fmt.Errorf("%w: git repo path is required", ErrNotConfigured)
	}
	if cfg.Base == "" {
		cfg.Base = "main"
	}
	if cfg.Dir == "" {
		cfg.Dir = "transformations"
	}
	return &LocalGit{runner: runner, cfg: cfg}, nil
}

// CreateProposal commits the artifact files to a branch off base using a
// temporary worktree, leaving the main checkout untouched.
func (g *LocalGit) CreateProposal(ctx context.Context, req Request) (models.ApprovalHandle, error) {
	files := Files(g.cfg.Dir, req)
	if len(files) == 0 {
		return models.ApprovalHandle{}, fmt.Errorf("create branch proposal: no artifact files")
	}
	branch := BranchName(req.RunID, req.Layer)

	wt, err := os.MkdirTemp("", "medallion-proposal-*")
	if err != nil {
		return models.ApprovalHandle{}, fmt.Errorf("create worktree dir: %w", err)
	}
	defer os.RemoveAll(wt)

	if g.branchExists(ctx, branch) {
		_, err = g.git(ctx, "", "worktree", "add", wt, branch)
	} else {
		_, err = g.git(ctx, "", "worktree", "add", "-b", branch, wt, g.cfg.Base)
	}
	if err != nil {
		return models.ApprovalHandle{}, err
	}
	defer func() {
		if _, err := g.git(context.WithoutCancel(ctx), "", "worktree", "remove", "--force", wt); err != nil {
			log.Printf("[proposal] failed to remove worktree %s: %v", wt, err)
		}
	}()

	paths := make([]string, 0, len(files))
	for _, f := range files {
		full := filepath.Join(wt, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return models.ApprovalHandle{}, fmt.Errorf("write %s: %w", f.Path, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0644); err != nil {
			return models.ApprovalHandle{}, fmt.Errorf("write %s: %w", f.Path, err)
		}
		paths = append(paths, f.Path)
	}

	if _, err := g.git(ctx, wt, append([]string{"add", "--"}, paths...)...); err != nil {
		return models.ApprovalHandle{}, err
	}
	if out, err := g.git(ctx, wt, "commit", "-m", req.Title, "-m", req.Body); err != nil && !strings.Contains(out, "nothing to commit") {
		return models.ApprovalHandle{}, err
	}

	ahead, err := g.git(ctx, "", "rev-list", "--count", g.cfg.Base+".."+branch)
	if err != nil {
		return models.ApprovalHandle{}, err
	}
	if n, _ := strconv.Atoi(ahead); n == 0 {
		return models.ApprovalHandle{}, fmt.Errorf("create branch proposal: %s has no changes over %s", branch, g.cfg.Base)
	}
	log.Printf("[proposal] committed %d files to branch %s", len(files), branch)

	return models.ApprovalHandle{ID: branch, Branch: branch, State: "open"}, nil
}

// GetStatus reports whether the branch has been merged into base.
func (g *LocalGit) GetStatus(ctx context.Context, handle models.ApprovalHandle) (Status, error) {
	branch := handleBranch(handle)
	if !g.branchExists(ctx, branch) {
		return Status{}, fmt.Errorf("branch %s does not exist", branch)
	}
	_, err := g.runner.Run(ctx, g.cfg.RepoPath, "git", "merge-base", "--is-ancestor", branch, g.cfg.Base)
	if err == nil {
		return Status{Approved: true, State: "merged"}, nil
	}
	if exec.ExitCode(err) == 1 {
		return Status{State: "open"}, nil
	}
	return Status{}, fmt.Errorf("git merge-base --is-ancestor %s %s: %w", branch, g.cfg.Base, err)
}

// Merge merges the branch into base. Base must be checked out in the
// repository.
func (g *LocalGit) Merge(ctx context.Context, handle models.ApprovalHandle) error {
	branch := handleBranch(handle)
	current, err := g.git(ctx, "", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return err
	}
	if current != g.cfg.Base {
		return fmt.Errorf("merge %s: check out %s first (on %s)", branch, g.cfg.Base, current)
	}
	if _, err := g.git(ctx, "", "merge", "--no-ff", "-m", "Merge "+branch, branch); err != nil {
		return err
	}
	return nil
}

func (g *LocalGit) branchExists(ctx context.Context, branch string) bool {
	_, err := g.runner.Run(ctx, g.cfg.RepoPath, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// git runs a git command in dir, or in the repository when dir is empty.
func (g *LocalGit) git(ctx context.Context, dir string, args ...string) (string, error) {
	if dir == "" {
		dir = g.cfg.RepoPath
	}
	out, err := g.runner.Run(ctx, dir, "git", args...)
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, trimmed)
	}
	return trimmed, nil
}

func handleBranch(h models.ApprovalHandle) string {
	if h.Branch != "" {
		return h.Branch
	}
	return h.ID
}

var (
	_ Backend = (*LocalGit)(nil)
	_ Merger  = (*LocalGit)(nil)
)
