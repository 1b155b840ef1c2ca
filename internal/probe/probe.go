// Package probe implements the health check behind `confsync check`. It is
// designed for use as a container or systemd health command: exit code zero
// means healthy, anything else means the watcher cannot be doing its job.
package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/engine"
	"git.home.luguber.info/inful/confsync/internal/lock"
)

// Severity of a single finding.
type Severity int

const (
	OK Severity = iota
	Warning
	Critical
)

// Finding is one health check result.
type Finding struct {
	Check    string
	Severity Severity
	Detail   string
}

// Report collects findings from one probe run.
type Report struct {
	Findings []Finding
}

func (r *Report) add(check string, sev Severity, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Check:    check,
		Severity: sev,
		Detail:   fmt.Sprintf(format, args...),
	})
}

// Healthy reports whether no finding is critical. Warnings are allowed.
func (r *Report) Healthy() bool {
	for _, f := range r.Findings {
		if f.Severity == Critical {
			return false
		}
	}
	return true
}

// Prober runs the health checks.
type Prober struct {
	engine *engine.Client

	// started anchors the startup grace period. When the probe runs in a
	// separate process it falls back to the lock directory's mtime.
	started time.Time
}

func New(eng *engine.Client) *Prober {
	return &Prober{engine: eng, started: time.Now()}
}

// requiredCommands must be on PATH for the watcher to operate.
var requiredCommands = []string{"git", "docker"}

// Run executes all checks against the given config document.
func (p *Prober) Run(ctx context.Context, configPath string) *Report {
	report := &Report{}

	for _, cmd := range requiredCommands {
		if _, err := exec.LookPath(cmd); err != nil {
			report.add("commands", Critical, "%s not found on PATH", cmd)
		}
	}

	doc, err := config.Load(configPath)
	if err != nil {
		report.add("config", Critical, "%v", err)
		return report
	}
	report.add("config", OK, "%d services configured", len(doc.Services))

	p.checkLock(report, doc.Global)
	p.checkWorkDirs(report, doc)
	p.checkEngine(ctx, report, doc)

	return report
}

// checkLock verifies a live watcher holds the lockfile. Inside the startup
// grace period an absent lockfile is only a warning; the daemon may still be
// coming up.
func (p *Prober) checkLock(report *Report, g config.GlobalSettings) {
	pid, err := lock.ReadPID(g.Lockfile)
	switch {
	case err == nil && lock.ProcessAlive(pid):
		report.add("watcher", OK, "running (pid %d)", pid)
	case err == nil:
		report.add("watcher", Critical, "lockfile holds dead pid %d", pid)
	case os.IsNotExist(err):
		if p.inGracePeriod(g) {
			report.add("watcher", Warning, "not started yet (within grace period)")
		} else {
			report.add("watcher", Critical, "not running (no lockfile at %s)", g.Lockfile)
		}
	default:
		report.add("watcher", Critical, "lockfile unreadable: %v", err)
	}
}

func (p *Prober) inGracePeriod(g config.GlobalSettings) bool {
	grace := g.GracePeriod()
	if grace <= 0 {
		return false
	}
	start := p.started
	if info, err := os.Stat(filepath.Dir(g.Lockfile)); err == nil && info.ModTime().Before(start) {
		start = info.ModTime()
	}
	return time.Since(start) < grace
}

// checkWorkDirs verifies each service's local path parent is writable, since
// sync needs to create and replace the checkout.
func (p *Prober) checkWorkDirs(report *Report, doc *config.Document) {
	seen := make(map[string]struct{})
	for _, svc := range doc.Services {
		dir := filepath.Dir(svc.LocalPath)
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}

		probeFile := filepath.Join(dir, ".confsync-probe")
		if err := os.WriteFile(probeFile, nil, 0o644); err != nil {
			report.add("workdir", Critical, "%s not writable: %v", dir, err)
			continue
		}
		_ = os.Remove(probeFile)
	}
}

// checkEngine pings the container engine, but only when at least one service
// would actually restart containers.
func (p *Prober) checkEngine(ctx context.Context, report *Report, doc *config.Document) {
	needed := false
	for _, svc := range doc.Services {
		if !doc.Resolve(svc).DisableRestart {
			needed = true
			break
		}
	}
	if !needed {
		report.add("engine", OK, "restarts disabled for all services")
		return
	}
	if err := p.engine.Ping(ctx); err != nil {
		report.add("engine", Critical, "container engine unreachable: %v", err)
		return
	}
	report.add("engine", OK, "container engine reachable")
}
