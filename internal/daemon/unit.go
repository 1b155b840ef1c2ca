package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/confsync/internal/events"
	"git.home.luguber.info/inful/confsync/internal/eventstore"
	"git.home.luguber.info/inful/confsync/internal/gitsync"
	"git.home.luguber.info/inful/confsync/internal/lifecycle"
	"git.home.luguber.info/inful/confsync/internal/logfields"
	"git.home.luguber.info/inful/confsync/internal/metrics"
)

// WatchState is the in-memory state of one watched service. It is rebuilt
// from scratch on process restart; durable history lives in the event store.
type WatchState struct {
	Phase               gitsync.Phase
	LastCommit          string
	ConsecutiveFailures int
	LastRestart         time.Time
}

// watchUnit runs the periodic cycle for one service. Singleton-mode
// scheduling guarantees cycles for the same service never overlap, so state
// updates need no lock beyond the snapshot accessor.
type watchUnit struct {
	daemon *Daemon
	name   string

	firstRun bool
	state    WatchState
}

func newWatchUnit(d *Daemon, name string) *watchUnit {
	return &watchUnit{
		daemon:   d,
		name:     name,
		firstRun: true,
		state:    WatchState{Phase: gitsync.PhaseUninitialized},
	}
}

// runCycle executes one full watch cycle: sync the repository, apply the
// lifecycle action when something changed, scan logs, and ping the
// heartbeat. Failures are contained to this unit.
func (u *watchUnit) runCycle() {
	d := u.daemon
	ctx, cancel := d.stopAwareContext(context.Background())
	defer cancel()

	doc := d.document()
	svc, ok := doc.Service(u.name)
	if !ok {
		// Service was removed by a reload racing this tick.
		return
	}
	eff := doc.Resolve(svc)

	cycleID := uuid.NewString()
	log := slog.With(logfields.Service(u.name), logfields.CycleID(cycleID))
	start := time.Now()

	syncStart := time.Now()
	res, syncErr := d.sync.Sync(ctx, eff)
	d.recorder.ObserveSyncDuration(u.name, time.Since(syncStart), res.Changed)

	u.state.Phase = res.Phase
	if res.Commit != "" {
		u.state.LastCommit = res.Commit
	}

	var cycleErr error
	outcome := metrics.OutcomeNoChange

	switch {
	case syncErr != nil:
		cycleErr = syncErr
		outcome = metrics.OutcomeFailed
		if gitsync.IsConflict(syncErr) {
			outcome = metrics.OutcomeConflict
		}
		log.Error("sync failed", logfields.Error(syncErr))

	case res.Changed || u.firstRun:
		if res.Changed {
			log.Info("change detected",
				logfields.Commit(res.Commit), logfields.Branch(eff.Branch))
		}
		if err := d.lifecycle.Apply(ctx, eff); err != nil {
			cycleErr = err
			outcome = metrics.OutcomeFailed
			d.recorder.IncRestart(u.name, false)
			log.Error("lifecycle action failed", logfields.Error(err))
		} else {
			outcome = metrics.OutcomeSuccess
			if !eff.DisableRestart {
				u.state.LastRestart = time.Now()
				d.recorder.IncRestart(u.name, true)
			}
		}

	default:
		log.Debug("up to date", logfields.Commit(res.Commit))
	}
	u.firstRun = false

	// Monitoring runs regardless of sync or restart outcome: a failed sync
	// must not hide a container that is also serving errors.
	if eff.MonitorLogs {
		report := d.monitor.Check(ctx, eff)
		if report.Fixed {
			d.recorder.IncRemediation(u.name, true)
		}
	}

	if cycleErr != nil {
		u.state.ConsecutiveFailures++
		d.notifier.Failure(ctx, eff.HeartbeatURL, summarizeError(cycleErr))
	} else {
		u.state.ConsecutiveFailures = 0
		d.notifier.Success(ctx, eff.HeartbeatURL, u.heartbeatMessage(res))
	}

	d.recorder.IncCycleOutcome(u.name, outcome)
	d.recorder.ObserveCycleDuration(u.name, time.Since(start))

	if res.Changed || cycleErr != nil {
		u.recordOutcome(ctx, cycleID, res, outcome, cycleErr)
	}

	log.Info("cycle finished",
		logfields.Phase(string(u.state.Phase)),
		slog.String("outcome", string(outcome)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
}

// recordOutcome persists the cycle to the history store and publishes the
// deploy event. Both are best effort.
func (u *watchUnit) recordOutcome(ctx context.Context, cycleID string, res gitsync.Result, outcome metrics.OutcomeLabel, cycleErr error) {
	detail := ""
	if cycleErr != nil {
		detail = cycleErr.Error()
	}
	rec := eventstore.Record{
		CycleID: cycleID,
		Service: u.name,
		Outcome: string(outcome),
		Commit:  res.Commit,
		Detail:  detail,
	}
	if err := u.daemon.history.Append(ctx, rec); err != nil {
		slog.Warn("append deploy history", logfields.Service(u.name), logfields.Error(err))
	}

	u.daemon.publisher.Publish(events.DeployEvent{
		CycleID: cycleID,
		Service: u.name,
		Outcome: string(outcome),
		Commit:  res.Commit,
		Detail:  detail,
	})
}

func (u *watchUnit) heartbeatMessage(res gitsync.Result) string {
	switch {
	case res.Cloned:
		return fmt.Sprintf("cloned at %s", shortCommit(res.Commit))
	case res.Changed:
		return fmt.Sprintf("synced to %s", shortCommit(res.Commit))
	default:
		return "up to date"
	}
}

// summarizeError keeps heartbeat failure messages short enough for a query
// parameter while still naming the failing stage.
func summarizeError(err error) string {
	msg := err.Error()
	var restartErr *lifecycle.RestartError
	var validationErr *lifecycle.ValidationError
	switch {
	case gitsync.IsConflict(err):
		msg = "sync conflict, rolled back"
	case errors.As(err, &restartErr):
		msg = "restart failed"
	case errors.As(err, &validationErr):
		msg = "validation failed"
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func shortCommit(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
