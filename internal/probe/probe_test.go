package probe

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"git.home.luguber.info/inful/confsync/internal/config"
)

func TestReportHealthy(t *testing.T) {
	r := &Report{}
	r.add("a", OK, "fine")
	r.add("b", Warning, "meh")
	if !r.Healthy() {
		t.Fatal("warnings alone must not fail the probe")
	}
	r.add("c", Critical, "broken")
	if r.Healthy() {
		t.Fatal("critical finding must fail the probe")
	}
}

func globalWithLockfile(t *testing.T, grace string) (config.GlobalSettings, string) {
	t.Helper()
	dir := t.TempDir()
	g := config.GlobalSettings{
		Lockfile:           filepath.Join(dir, "confsync.lock"),
		StartupGracePeriod: grace,
	}
	return g, g.Lockfile
}

func TestCheckLockLiveHolder(t *testing.T) {
	g, path := globalWithLockfile(t, "0s")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	report := &Report{}
	New(nil).checkLock(report, g)
	if !report.Healthy() {
		t.Fatalf("live holder should be healthy: %+v", report.Findings)
	}
}

func TestCheckLockDeadHolderIsCritical(t *testing.T) {
	g, path := globalWithLockfile(t, "1h")
	// PID 1 exists; use an impossible pid instead by writing a huge value.
	if err := os.WriteFile(path, []byte("99999999"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := &Report{}
	New(nil).checkLock(report, g)
	if report.Healthy() {
		t.Fatal("stale lockfile must be critical even within grace")
	}
}

func TestCheckLockAbsentWithinGraceIsWarning(t *testing.T) {
	g, _ := globalWithLockfile(t, "1h")

	report := &Report{}
	p := New(nil)
	p.started = time.Now()
	p.checkLock(report, g)

	if !report.Healthy() {
		t.Fatalf("absent lockfile within grace should only warn: %+v", report.Findings)
	}
	if len(report.Findings) != 1 || report.Findings[0].Severity != Warning {
		t.Fatalf("expected a single warning: %+v", report.Findings)
	}
}

func TestCheckLockAbsentPastGraceIsCritical(t *testing.T) {
	g, _ := globalWithLockfile(t, "1ms")

	report := &Report{}
	p := New(nil)
	p.started = time.Now().Add(-time.Minute)
	p.checkLock(report, g)

	if report.Healthy() {
		t.Fatal("absent lockfile past grace must be critical")
	}
}
