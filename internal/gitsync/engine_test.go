package gitsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/retry"
)

type fakeStasher struct {
	pushes int
	pops   int
}

func (f *fakeStasher) Push(context.Context, string) error { f.pushes++; return nil }
func (f *fakeStasher) Pop(context.Context, string) error  { f.pops++; return nil }

func testEngine() (*Engine, *fakeStasher) {
	stash := &fakeStasher{}
	policy := retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1)
	return NewEngine(policy).WithStasher(stash), stash
}

// initOrigin creates a local origin repository with one commit on master.
func initOrigin(t *testing.T) (string, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "origin")
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("init origin: %v", err)
	}
	hash := commitFile(t, dir, "app.conf", "listen 80;\n", "initial")
	return dir, hash
}

func commitFile(t *testing.T, dir, name, content, msg string) string {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open %s: %v", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

func headHash(t *testing.T, dir string) string {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open %s: %v", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	return head.Hash().String()
}

func effectiveFor(origin, local string) config.Effective {
	return config.Effective{
		Name:      "web",
		RepoURL:   origin,
		Branch:    "master",
		LocalPath: local,
	}
}

func TestSyncClonesMissingCheckout(t *testing.T) {
	origin, initial := initOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")
	engine, _ := testEngine()

	res, err := engine.Sync(context.Background(), effectiveFor(origin, local))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Cloned || !res.Changed {
		t.Fatalf("fresh clone should report cloned+changed: %+v", res)
	}
	if res.Commit != initial {
		t.Fatalf("commit = %s, want %s", res.Commit, initial)
	}
	if _, err := os.Stat(filepath.Join(local, "app.conf")); err != nil {
		t.Fatalf("cloned file missing: %v", err)
	}
}

func TestSyncReplacesNonRepositoryPath(t *testing.T) {
	origin, _ := initOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")
	if err := os.MkdirAll(local, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(local, "stray.txt"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	engine, _ := testEngine()

	res, err := engine.Sync(context.Background(), effectiveFor(origin, local))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Cloned {
		t.Fatalf("expected clone: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(local, "stray.txt")); !os.IsNotExist(err) {
		t.Fatal("stray file should be gone after replacement clone")
	}
}

func TestSyncUpToDateIsNoOp(t *testing.T) {
	origin, initial := initOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")
	engine, stash := testEngine()
	ctx := context.Background()
	eff := effectiveFor(origin, local)

	if _, err := engine.Sync(ctx, eff); err != nil {
		t.Fatalf("clone: %v", err)
	}
	res, err := engine.Sync(ctx, eff)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Phase != PhaseUpToDate || res.Changed {
		t.Fatalf("expected up-to-date no-op: %+v", res)
	}
	if res.Commit != initial {
		t.Fatalf("commit = %s, want %s", res.Commit, initial)
	}
	if stash.pushes != 0 {
		t.Fatal("clean up-to-date checkout must not be stashed")
	}
}

func TestSyncFastForwards(t *testing.T) {
	origin, _ := initOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")
	engine, _ := testEngine()
	ctx := context.Background()
	eff := effectiveFor(origin, local)

	if _, err := engine.Sync(ctx, eff); err != nil {
		t.Fatalf("clone: %v", err)
	}
	updated := commitFile(t, origin, "app.conf", "listen 8080;\n", "bump port")

	res, err := engine.Sync(ctx, eff)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Phase != PhaseSynced || !res.Changed {
		t.Fatalf("expected synced change: %+v", res)
	}
	if res.Commit != updated {
		t.Fatalf("commit = %s, want %s", res.Commit, updated)
	}
	content, err := os.ReadFile(filepath.Join(local, "app.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "listen 8080;\n" {
		t.Fatalf("checkout content not updated: %q", content)
	}
}

func TestSyncConflictRollsBack(t *testing.T) {
	origin, _ := initOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")
	engine, _ := testEngine()
	ctx := context.Background()
	eff := effectiveFor(origin, local)

	if _, err := engine.Sync(ctx, eff); err != nil {
		t.Fatalf("clone: %v", err)
	}

	// Histories diverge: one commit locally, a different one upstream.
	localCommit := commitFile(t, local, "app.conf", "listen 81;\n", "local change")
	commitFile(t, origin, "app.conf", "listen 82;\n", "upstream change")

	res, err := engine.Sync(ctx, eff)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if res.Phase != PhaseFailed || res.Changed {
		t.Fatalf("conflict must not report a change: %+v", res)
	}
	if head := headHash(t, local); head != localCommit {
		t.Fatalf("checkout not rolled back: head %s, want %s", head, localCommit)
	}
	content, err := os.ReadFile(filepath.Join(local, "app.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "listen 81;\n" {
		t.Fatalf("rolled-back content wrong: %q", content)
	}
}

func TestSyncStashesDirtyWorktree(t *testing.T) {
	origin, _ := initOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")
	engine, stash := testEngine()
	ctx := context.Background()
	eff := effectiveFor(origin, local)

	if _, err := engine.Sync(ctx, eff); err != nil {
		t.Fatalf("clone: %v", err)
	}

	// Uncommitted modification, then an upstream commit.
	if err := os.WriteFile(filepath.Join(local, "app.conf"), []byte("listen 90;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	commitFile(t, origin, "other.conf", "server {}\n", "add other")

	res, err := engine.Sync(ctx, eff)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Changed {
		t.Fatalf("expected fast-forward: %+v", res)
	}
	if stash.pushes != 1 {
		t.Fatalf("dirty tree should be stashed once, got %d", stash.pushes)
	}
	if stash.pops != 1 {
		t.Fatalf("stash should be re-applied once, got %d", stash.pops)
	}
}

func TestSyncMissingRemoteIsTerminal(t *testing.T) {
	local := filepath.Join(t.TempDir(), "checkout")
	engine, _ := testEngine()

	eff := effectiveFor(filepath.Join(t.TempDir(), "no-such-origin"), local)
	_, err := engine.Sync(context.Background(), eff)
	if err == nil {
		t.Fatal("expected clone failure")
	}
	if _, statErr := os.Stat(local); !os.IsNotExist(statErr) {
		t.Fatal("failed clone must not leave a partial checkout behind")
	}
}
