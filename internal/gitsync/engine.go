// Package gitsync reconciles a service's local checkout with its remote:
// clone when missing, fast-forward when behind, and roll back to the
// pre-pull commit whenever a clean merge is impossible. After any pass the
// checkout is either the previous stable commit or a fully reconciled
// remote commit, never a partially merged tree.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/logfields"
	"git.home.luguber.info/inful/confsync/internal/retry"
	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// Engine performs checkout reconciliation for watched services. It is
// stateless across services; all per-service inputs arrive in the resolved
// effective configuration.
type Engine struct {
	policy retry.Policy
	stash  Stasher
}

// NewEngine creates an engine using the given retry policy for remote calls.
func NewEngine(policy retry.Policy) *Engine {
	return &Engine{policy: policy, stash: &cliStasher{}}
}

// WithStasher overrides the stash implementation (tests).
func (e *Engine) WithStasher(s Stasher) *Engine {
	e.stash = s
	return e
}

// Sync runs one reconciliation pass for the service.
func (e *Engine) Sync(ctx context.Context, eff config.Effective) (Result, error) {
	if _, err := os.Stat(filepath.Join(eff.LocalPath, ".git")); err != nil {
		return e.clone(ctx, eff)
	}

	repo, err := git.PlainOpen(eff.LocalPath)
	if err != nil {
		return Result{Phase: PhaseFailed}, fmt.Errorf("open checkout %s: %w", eff.LocalPath, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Result{Phase: PhaseFailed}, fmt.Errorf("worktree: %w", err)
	}

	if err := e.ensureBranch(ctx, repo, wt, eff); err != nil {
		return Result{Phase: PhaseFailed}, err
	}

	if err := e.fetch(ctx, repo, eff); err != nil {
		return Result{Phase: PhaseFailed}, err
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", eff.Branch), true)
	if err != nil {
		return Result{Phase: PhaseFailed}, &NotFoundError{Op: "resolve", URL: eff.RepoURL, Err: fmt.Errorf("branch %s: %w", eff.Branch, err)}
	}
	head, err := repo.Head()
	if err != nil {
		return Result{Phase: PhaseFailed}, fmt.Errorf("head: %w", err)
	}

	if head.Hash() == remoteRef.Hash() {
		slog.Debug("checkout up to date", logfields.Service(eff.Name), logfields.Commit(head.Hash().String()))
		return Result{Phase: PhaseUpToDate, Commit: head.Hash().String(), Previous: head.Hash().String()}, nil
	}

	return e.applyRemote(ctx, repo, wt, eff, head.Hash(), remoteRef.Hash())
}

// applyRemote moves the checkout from prev to remote, stashing a dirty tree
// first and rolling back to prev if the update cannot be applied cleanly.
func (e *Engine) applyRemote(ctx context.Context, repo *git.Repository, wt *git.Worktree, eff config.Effective, prev, remote plumbing.Hash) (Result, error) {
	previous := prev.String()
	slog.Info("changes detected",
		logfields.Service(eff.Name),
		logfields.Branch(eff.Branch),
		slog.String("local", previous[:8]),
		slog.String("remote", remote.String()[:8]))

	stashed := false
	if dirty, derr := isDirty(wt); derr != nil {
		slog.Warn("worktree status failed", logfields.Service(eff.Name), logfields.Error(derr))
	} else if dirty {
		slog.Warn("uncommitted local modifications, stashing", logfields.Service(eff.Name))
		if err := e.stash.Push(ctx, eff.LocalPath); err != nil {
			slog.Warn("stash failed", logfields.Service(eff.Name), logfields.Error(err))
		} else {
			stashed = true
		}
	}

	ff, ferr := isAncestor(repo, prev, remote)
	if ferr != nil {
		slog.Warn("ancestor check failed", logfields.Service(eff.Name), logfields.Error(ferr))
	}
	if !ff {
		// The remote history does not contain the local commit; a merge
		// would be required and could conflict. Restore the pre-pull state.
		if err := wt.Reset(&git.ResetOptions{Commit: prev, Mode: git.HardReset}); err != nil {
			slog.Error("rollback reset failed", logfields.Service(eff.Name), logfields.Error(err))
		}
		return Result{Phase: PhaseFailed, Previous: previous, Commit: previous},
			&ConflictError{Service: eff.Name, Branch: eff.Branch, Previous: previous, Err: errors.New("remote history diverged, fast-forward impossible")}
	}

	if err := wt.Reset(&git.ResetOptions{Commit: remote, Mode: git.HardReset}); err != nil {
		if rerr := wt.Reset(&git.ResetOptions{Commit: prev, Mode: git.HardReset}); rerr != nil {
			slog.Error("rollback reset failed", logfields.Service(eff.Name), logfields.Error(rerr))
		}
		return Result{Phase: PhaseFailed, Previous: previous, Commit: previous},
			&ConflictError{Service: eff.Name, Branch: eff.Branch, Previous: previous, Err: err}
	}

	if stashed {
		// Re-applying may fail against the new tree; the changes stay queued
		// in the stash and the cycle still succeeds.
		if err := e.stash.Pop(ctx, eff.LocalPath); err != nil {
			slog.Warn("could not re-apply stashed changes, they remain stashed",
				logfields.Service(eff.Name), logfields.Error(err))
		}
	}

	slog.Info("checkout synchronized",
		logfields.Service(eff.Name),
		logfields.Branch(eff.Branch),
		logfields.Commit(remote.String()))
	return Result{Phase: PhaseSynced, Changed: true, Previous: previous, Commit: remote.String()}, nil
}

// clone creates the checkout from scratch: any non-repository directory
// occupying the path is removed first. Clone failure is reported to the
// caller and retried on the next cycle, never process-fatal.
func (e *Engine) clone(ctx context.Context, eff config.Effective) (Result, error) {
	slog.Info("cloning repository",
		logfields.Service(eff.Name),
		logfields.URL(eff.RepoURL),
		logfields.Branch(eff.Branch),
		logfields.Path(eff.LocalPath))

	if _, err := os.Stat(eff.LocalPath); err == nil {
		slog.Warn("path exists but is not a repository, removing", logfields.Path(eff.LocalPath))
		if err := os.RemoveAll(eff.LocalPath); err != nil {
			return Result{Phase: PhaseFailed}, fmt.Errorf("remove non-repository path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(eff.LocalPath), 0o750); err != nil {
		return Result{Phase: PhaseFailed}, fmt.Errorf("create parent directory: %w", err)
	}

	var repo *git.Repository
	err := e.policy.Do(ctx, "clone "+eff.Name, func() error {
		r, cerr := git.PlainCloneContext(ctx, eff.LocalPath, false, &git.CloneOptions{
			URL:           eff.RepoURL,
			ReferenceName: plumbing.NewBranchReferenceName(eff.Branch),
			SingleBranch:  true,
		})
		if cerr != nil {
			// A partial clone must not poison the next attempt.
			_ = os.RemoveAll(eff.LocalPath)
			cerr = classifyRemoteError("clone", eff.RepoURL, cerr)
			if isPermanentError(cerr) {
				return retry.Terminal(cerr)
			}
			return cerr
		}
		repo = r
		return nil
	})
	if err != nil {
		return Result{Phase: PhaseFailed}, err
	}

	head, err := repo.Head()
	if err != nil {
		return Result{Phase: PhaseFailed}, fmt.Errorf("head after clone: %w", err)
	}
	slog.Info("repository cloned", logfields.Service(eff.Name), logfields.Commit(head.Hash().String()))
	return Result{Phase: PhaseSynced, Changed: true, Cloned: true, Commit: head.Hash().String()}, nil
}

// ensureBranch verifies the checkout is on the desired branch, stashing any
// uncommitted modifications before switching and creating a local tracking
// branch from the remote when none exists yet.
func (e *Engine) ensureBranch(ctx context.Context, repo *git.Repository, wt *git.Worktree, eff config.Effective) error {
	head, err := repo.Head()
	if err == nil && head.Name().IsBranch() && head.Name().Short() == eff.Branch {
		return nil
	}
	current := "detached"
	if err == nil && head.Name().IsBranch() {
		current = head.Name().Short()
	}
	slog.Warn("switching branch",
		logfields.Service(eff.Name),
		slog.String("from", current),
		slog.String("to", eff.Branch))

	if dirty, derr := isDirty(wt); derr == nil && dirty {
		slog.Warn("uncommitted local modifications, stashing before switch", logfields.Service(eff.Name))
		if serr := e.stash.Push(ctx, eff.LocalPath); serr != nil {
			slog.Warn("stash before switch failed", logfields.Service(eff.Name), logfields.Error(serr))
		}
	}

	localRef := plumbing.NewBranchReferenceName(eff.Branch)
	if _, err := repo.Reference(localRef, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: localRef, Force: true}); err != nil {
			return fmt.Errorf("checkout %s: %w", eff.Branch, err)
		}
		return nil
	}

	// No local ref yet: materialize one from the remote branch.
	if err := e.fetch(ctx, repo, eff); err != nil {
		return err
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", eff.Branch), true)
	if err != nil {
		return &NotFoundError{Op: "branch", URL: eff.RepoURL, Err: fmt.Errorf("branch %s not found on remote: %w", eff.Branch, err)}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: localRef, Hash: remoteRef.Hash(), Create: true, Force: true}); err != nil {
		return fmt.Errorf("create tracking branch %s: %w", eff.Branch, err)
	}
	return nil
}

// fetch updates remote refs, retrying transient failures per the policy.
func (e *Engine) fetch(ctx context.Context, repo *git.Repository, eff config.Effective) error {
	return e.policy.Do(ctx, "fetch "+eff.Name, func() error {
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			Tags:       git.NoTags,
			RefSpecs:   []ggitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			err = classifyRemoteError("fetch", eff.RepoURL, err)
			if isPermanentError(err) {
				return retry.Terminal(err)
			}
			return err
		}
		return nil
	})
}

func isDirty(wt *git.Worktree) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	return !status.IsClean(), nil
}

// isAncestor walks b's history looking for a.
func isAncestor(repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := map[plumbing.Hash]struct{}{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == a {
			return true, nil
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return false, nil
}
