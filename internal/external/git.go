package external

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/cascade/internal/model"
)

// Git drives the git command line inside the workspace.
type Git struct {
	// CheckoutDir holds one working tree per repository, named by the
	// descriptor's Dir.
	CheckoutDir string
	Remote      string
	AuthorName  string
	AuthorEmail string
}

func NewGit(cfg model.Config) *Git {
	return &Git{
		CheckoutDir: cfg.Workspace.CheckoutDir,
		Remote:      cfg.Commit.Remote,
		AuthorName:  cfg.Commit.AuthorName,
		AuthorEmail: cfg.Commit.AuthorEmail,
	}
}

func (g *Git) remote() string {
	if g.Remote == "" {
		return model.DefaultRemote
	}
	return g.Remote
}

func (g *Git) git(ctx context.Context, dir string, args ...string) (string, error) {
	return Run(ctx, dir, []string{"GIT_TERMINAL_PROMPT=0"}, "git", args...)
}

// Checkout clones the repository or brings an existing working tree to the
// tip of the requested branch, discarding local changes. It returns the
// working tree root.
func (g *Git) Checkout(ctx context.Context, desc model.Descriptor) (string, error) {
	root := filepath.Join(g.CheckoutDir, desc.Dir)
	if _, err := os.Stat(filepath.Join(root, ".git")); os.IsNotExist(err) {
		if err := os.MkdirAll(g.CheckoutDir, 0755); err != nil {
			return "", fmt.Errorf("create checkout dir: %w", err)
		}
		args := []string{"clone", "--origin", g.remote()}
		if desc.Branch != "" && desc.Branch != model.DefaultBranch {
			args = append(args, "--branch", desc.Branch)
		}
		args = append(args, desc.URL, root)
		if _, err := g.git(ctx, g.CheckoutDir, args...); err != nil {
			return "", err
		}
		return root, nil
	}

	if _, err := g.git(ctx, root, "fetch", "--tags", "--force", g.remote()); err != nil {
		return "", err
	}
	branch, err := g.remoteBranch(ctx, root, desc.Branch)
	if err != nil {
		return "", err
	}
	if _, err := g.git(ctx, root, "checkout", "--force", "-B", branch, g.remote()+"/"+branch); err != nil {
		return "", err
	}
	if _, err := g.git(ctx, root, "clean", "-fdx"); err != nil {
		return "", err
	}
	return root, nil
}

// remoteBranch resolves the HEAD sentinel to the remote's default branch.
func (g *Git) remoteBranch(ctx context.Context, root, branch string) (string, error) {
	if branch != "" && branch != model.DefaultBranch {
		return branch, nil
	}
	out, err := g.git(ctx, root, "symbolic-ref", "--short", "refs/remotes/"+g.remote()+"/HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(out), g.remote()+"/"), nil
}

// Commit stages every change in root and commits it. It reports false when
// there was nothing to commit.
func (g *Git) Commit(ctx context.Context, root, message string) (bool, error) {
	if _, err := g.git(ctx, root, "add", "-A"); err != nil {
		return false, err
	}
	status, err := g.git(ctx, root, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	args := []string{}
	if g.AuthorName != "" {
		args = append(args, "-c", "user.name="+g.AuthorName)
	}
	if g.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+g.AuthorEmail)
	}
	args = append(args, "commit", "--no-verify", "-m", message)
	if _, err := g.git(ctx, root, args...); err != nil {
		return false, err
	}
	return true, nil
}

// Tag creates an annotated tag at HEAD.
func (g *Git) Tag(ctx context.Context, root, tag, message string) error {
	args := []string{}
	if g.AuthorName != "" {
		args = append(args, "-c", "user.name="+g.AuthorName)
	}
	if g.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+g.AuthorEmail)
	}
	args = append(args, "tag", "-a", tag, "-m", message)
	_, err := g.git(ctx, root, args...)
	return err
}

// Push publishes the current branch and the given tags.
func (g *Git) Push(ctx context.Context, root string, desc model.Descriptor, tags []string) error {
	branch, err := g.remoteBranch(ctx, root, desc.Branch)
	if err != nil {
		return err
	}
	args := []string{"push", "--atomic", g.remote(), "HEAD:refs/heads/" + branch}
	for _, t := range tags {
		args = append(args, "refs/tags/"+t)
	}
	_, err = g.git(ctx, root, args...)
	return err
}
