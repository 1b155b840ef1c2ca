package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/confsync/internal/engine"
)

// downRunner simulates an engine whose CLI is unreachable.
type downRunner struct{}

func (downRunner) Run(context.Context, string, ...string) (string, error) {
	return "", errors.New("cannot connect to the docker daemon")
}

func (downRunner) RunCombined(context.Context, string, ...string) (string, error) {
	return "", errors.New("cannot connect to the docker daemon")
}

func TestShutdownLetsInFlightCyclesFinish(t *testing.T) {
	d, err := New("confsync.yaml", testDocument("web"))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var forceCanceled atomic.Bool

	_, err = d.scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := d.stopAwareContext(context.Background())
			defer cancel()
			close(started)
			select {
			case <-ctx.Done():
				forceCanceled.Store(true)
			case <-release:
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	require.NoError(t, err)
	d.scheduler.Start()
	<-started

	done := make(chan error, 1)
	go func() { done <- d.shutdown() }()

	// The in-flight cycle must keep its context while shutdown waits.
	time.Sleep(100 * time.Millisecond)
	require.False(t, forceCanceled.Load(), "cycle canceled before the grace window")

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish after the cycle completed")
	}
	require.False(t, forceCanceled.Load(), "completed cycle should never see cancellation")

	// After shutdown the stop channel is closed, so new contexts are dead.
	ctx, cancel := d.stopAwareContext(context.Background())
	defer cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("contexts must be canceled once shutdown completed")
	}
}

func TestShutdownDoesNotWaitOnConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherConfigV1), 0o644))

	d, err := New(path, testDocument("web"))
	require.NoError(t, err)

	cw, err := newConfigWatcher(path, d)
	require.NoError(t, err)
	require.NoError(t, cw.Start(context.Background()))
	defer cw.Stop()

	done := make(chan error, 1)
	go func() { done <- d.shutdown() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown blocked on config watcher goroutines")
	}
}

func TestRunFailsWhenEngineUnreachable(t *testing.T) {
	doc := testDocument("web")
	doc.Global.Lockfile = filepath.Join(t.TempDir(), "confsync.lock")

	d, err := New("confsync.yaml", doc)
	require.NoError(t, err)
	d.engine = engine.NewClient().WithRunner(downRunner{})

	err = d.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "container engine unreachable")

	// The lock must be released on the failure path.
	_, readErr := os.ReadFile(doc.Global.Lockfile)
	require.True(t, os.IsNotExist(readErr), "lockfile should be gone after Run fails")
}
