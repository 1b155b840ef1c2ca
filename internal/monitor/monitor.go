// Package monitor tails container logs between syncs, classifies error
// lines, and drives the auto-fix path when a service is serving access
// errors. Monitoring is advisory: a failed log read never fails a cycle.
package monitor

import (
	"context"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/engine"
	"git.home.luguber.info/inful/confsync/internal/lifecycle"
	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// maxSampleLines caps how many matching lines a report carries, so a log
// storm does not balloon memory or log output.
const maxSampleLines = 20

// Report summarizes one scan of a container's recent log tail.
type Report struct {
	Scanned   int
	Errors    int
	Forbidden int
	Samples   []string
	Fixed     bool
}

// Degraded reports whether the scan found anything worth acting on.
func (r Report) Degraded() bool { return r.Errors > 0 || r.Forbidden > 0 }

// Monitor reads container logs through the engine client and hands degraded
// services to the lifecycle manager for remediation.
type Monitor struct {
	engine    *engine.Client
	lifecycle *lifecycle.Manager
}

func New(eng *engine.Client, lm *lifecycle.Manager) *Monitor {
	return &Monitor{engine: eng, lifecycle: lm}
}

// Check tails the service's container log, scans it, and remediates once if
// auto-fix is enabled and forbidden-access errors were seen. At most one
// remediation pass runs per check; if the service is still degraded
// afterwards the next cycle sees it again.
func (m *Monitor) Check(ctx context.Context, eff config.Effective) Report {
	log := slog.With(logfields.Service(eff.Name), logfields.Container(eff.Container))

	out, err := m.engine.Logs(ctx, eff.Container, eff.LogTailLines)
	if err != nil {
		log.Warn("log tail failed", logfields.Error(err))
		return Report{}
	}

	report := Scan(out, eff.ErrorMarkers)
	if !report.Degraded() {
		return report
	}
	log.Warn("log scan found errors",
		slog.Int("error_lines", report.Errors),
		slog.Int("forbidden", report.Forbidden))
	for _, line := range report.Samples {
		log.Debug("log sample", slog.String("line", line))
	}

	if report.Forbidden > 0 && eff.AutoFix {
		if err := m.lifecycle.Remediate(ctx, eff); err != nil {
			log.Error("auto-fix failed", logfields.Error(err))
		} else {
			report.Fixed = true
			log.Info("auto-fix applied")
		}
	}
	return report
}

// Scan classifies a raw log tail. A line counts as an error when it contains
// any configured marker; forbidden-access lines (HTTP 403 or an explicit
// "forbidden") are counted separately because they gate remediation.
func Scan(logs string, markers []string) Report {
	var report Report
	for _, line := range strings.Split(logs, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		report.Scanned++
		lower := strings.ToLower(line)

		forbidden := strings.Contains(lower, "forbidden") || strings.Contains(line, " 403 ")
		if forbidden {
			report.Forbidden++
		}

		matched := forbidden
		if !matched {
			for _, marker := range markers {
				if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
					matched = true
					break
				}
			}
		}
		if matched {
			report.Errors++
			if len(report.Samples) < maxSampleLines {
				report.Samples = append(report.Samples, strings.TrimSpace(line))
			}
		}
	}
	return report
}
