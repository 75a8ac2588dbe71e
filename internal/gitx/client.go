// Package gitx wraps the git subprocess invocations lanekeeper needs:
// fetch, ref-snapshot reads, worktree management, and per-worktree status
// queries. It never touches the git object database directly.
package gitx

import (
	"bytes"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

type Client struct {
	repoPath string
	logger   *log.Logger
}

func NewClient(repoPath string, logger *log.Logger) *Client {
	return &Client{repoPath: repoPath, logger: logger}
}

// RepoPath returns the repository root this client operates on.
func (c *Client) RepoPath() string {
	return c.repoPath
}

// Fetch updates the remote-tracking ref for branch. At most one attempt;
// callers treat failure as fail-open degradation, not a hard error.
func (c *Client) Fetch(remote, branch string) error {
	return c.run(c.repoPath, "fetch", remote, branch)
}

// ShowFile reads relPath as of ref (e.g. "origin/main") without touching
// the working tree. This is the snapshot mechanism the merge engine uses
// to observe the main branch's event log.
func (c *Client) ShowFile(ref, relPath string) ([]byte, error) {
	out, err := c.output(c.repoPath, "show", ref+":"+relPath)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// WorktreeList returns the raw `git worktree list` output.
func (c *Client) WorktreeList() (string, error) {
	return c.output(c.repoPath, "worktree", "list")
}

// AddWorktree creates a detached worktree at path checked out at ref.
func (c *Client) AddWorktree(path, ref string) error {
	return c.run(c.repoPath, "worktree", "add", "--detach", path, ref)
}

// AddWorktreeBranch checks out branch in a new worktree at path. With
// createBranch set, the branch is created from baseRef first.
func (c *Client) AddWorktreeBranch(path, branch, baseRef string, createBranch bool) error {
	args := []string{"worktree", "add"}
	if createBranch {
		args = append(args, "-b", branch, path, baseRef)
	} else {
		args = append(args, path, branch)
	}
	return c.run(c.repoPath, args...)
}

// RemoveWorktree removes the worktree at path.
func (c *Client) RemoveWorktree(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return c.run(c.repoPath, args...)
}

// StatusPorcelain returns `git status --porcelain` output for the working
// tree at dir.
func (c *Client) StatusPorcelain(dir string) (string, error) {
	return c.output(dir, "status", "--porcelain")
}

// LastCommitTime returns the author timestamp of the last commit in dir.
func (c *Client) LastCommitTime(dir string) (time.Time, error) {
	out, err := c.output(dir, "log", "-1", "--format=%aI")
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(out))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit timestamp %q: %w", strings.TrimSpace(out), err)
	}
	return ts, nil
}

// BranchExists checks whether a local or remote-tracking branch resolves.
func (c *Client) BranchExists(branch string) bool {
	// rev-parse fails when the ref doesn't exist; that's the answer, not an error
	err := c.run(c.repoPath, "rev-parse", "--verify", "--quiet", branch)
	return err == nil
}

func (c *Client) run(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c *Client) output(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
