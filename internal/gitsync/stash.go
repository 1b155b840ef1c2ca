package gitsync

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const stashTimeout = 30 * time.Second

// Stasher shelves and restores uncommitted modifications in a checkout.
// go-git has no stash support, so the production implementation shells out
// to the git binary; tests substitute a fake.
type Stasher interface {
	Push(ctx context.Context, repoPath string) error
	Pop(ctx context.Context, repoPath string) error
}

type cliStasher struct{}

func (cliStasher) Push(ctx context.Context, repoPath string) error {
	return runGit(ctx, repoPath, "stash", "push", "--include-untracked", "-m", "confsync auto-stash")
}

func (cliStasher) Pop(ctx context.Context, repoPath string) error {
	return runGit(ctx, repoPath, "stash", "pop")
}

func runGit(ctx context.Context, repoPath string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, stashTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repoPath}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
