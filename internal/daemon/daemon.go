// Package daemon wires the watch units together: one scheduled job per
// service runs the sync/restart/monitor cycle, guarded by a process-wide
// PID lock, with configuration hot-reload and bounded graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/engine"
	"git.home.luguber.info/inful/confsync/internal/events"
	"git.home.luguber.info/inful/confsync/internal/eventstore"
	"git.home.luguber.info/inful/confsync/internal/gitsync"
	"git.home.luguber.info/inful/confsync/internal/lifecycle"
	"git.home.luguber.info/inful/confsync/internal/lock"
	"git.home.luguber.info/inful/confsync/internal/logfields"
	"git.home.luguber.info/inful/confsync/internal/metrics"
	"git.home.luguber.info/inful/confsync/internal/monitor"
	"git.home.luguber.info/inful/confsync/internal/retry"
)

// shutdownGrace bounds how long in-flight cycles may run after a stop signal.
const shutdownGrace = 30 * time.Second

// Daemon owns the process lock and runs one watch unit per configured
// service until stopped.
type Daemon struct {
	configPath string

	mu  sync.RWMutex
	doc *config.Document

	lock      *lock.Lock
	sync      *gitsync.Engine
	engine    *engine.Client
	lifecycle *lifecycle.Manager
	monitor   *monitor.Monitor
	notifier  *monitor.Notifier
	recorder  metrics.Recorder
	history   eventstore.Store
	publisher events.Publisher

	registry *prom.Registry

	scheduler gocron.Scheduler
	jobs      map[string]uuid.UUID
	units     map[string]*watchUnit

	workers  workerGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New builds a daemon from a loaded configuration document.
func New(configPath string, doc *config.Document) (*Daemon, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithStopTimeout(shutdownGrace))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var registry *prom.Registry
	if doc.Global.MetricsListen != "" {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	policy := retry.FromSettings(doc.Global.Retry).WithRecorder(recorder)
	eng := engine.NewClient()
	lm := lifecycle.NewManager(eng, policy)

	d := &Daemon{
		configPath: configPath,
		doc:        doc,
		lock:       lock.New(doc.Global.Lockfile),
		sync:       gitsync.NewEngine(policy),
		engine:     eng,
		lifecycle:  lm,
		monitor:    monitor.New(eng, lm),
		notifier:   monitor.NewNotifier(doc.Global.HeartbeatDeadline()),
		recorder:   recorder,
		history:    eventstore.NoopStore{},
		publisher:  events.NoopPublisher{},
		registry:   registry,
		scheduler:  scheduler,
		jobs:       make(map[string]uuid.UUID),
		units:      make(map[string]*watchUnit),
		stopChan:   make(chan struct{}),
	}
	return d, nil
}

// Run acquires the lock, starts all watch units, and blocks until the
// context is canceled or a termination signal arrives. The lock is released
// on every exit path.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.lock.Acquire(); err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := d.lock.Release(); err != nil {
			slog.Error("release lock", logfields.Error(err))
		}
	}()

	if err := d.engine.Ping(ctx); err != nil {
		if !d.document().Global.DisableRestart {
			return err
		}
		// Restarts are globally disabled, so syncing alone is still useful.
		slog.Warn("container engine unreachable at startup", logfields.Error(err))
	}
	mode := d.engine.ProbeMode(ctx)
	slog.Info("container engine probed", logfields.EngineMode(string(mode)))

	d.startObservability()
	defer d.history.Close()
	defer d.publisher.Close()

	if err := d.scheduleAll(); err != nil {
		return err
	}
	d.scheduler.Start()
	slog.Info("watching services", slog.Int("count", len(d.units)))

	watcher, err := newConfigWatcher(d.configPath, d)
	if err != nil {
		slog.Warn("config watcher unavailable, document changes need a restart",
			logfields.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watcher failed to start", logfields.Error(err))
	} else {
		defer watcher.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		slog.Info("context canceled, shutting down")
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	}
	return d.shutdown()
}

// startObservability wires the optional metrics endpoint, history database,
// and deploy-event publisher from global settings. All three are optional
// and failures only downgrade to the no-op implementations.
func (d *Daemon) startObservability() {
	g := d.document().Global

	if g.MetricsListen != "" && d.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
		srv := &http.Server{Addr: g.MetricsListen, Handler: mux}
		d.workers.Go(func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", logfields.Error(err))
			}
		})
		d.workers.Go(func() {
			<-d.stopChan
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
		slog.Info("metrics endpoint listening", slog.String("addr", g.MetricsListen))
	}

	if g.HistoryDB != "" {
		store, err := eventstore.NewSQLiteStore(g.HistoryDB)
		if err != nil {
			slog.Warn("deploy history disabled", logfields.Error(err))
		} else {
			d.history = store
			slog.Info("deploy history enabled", logfields.Path(g.HistoryDB))
		}
	}

	if g.Events != nil && g.Events.Enabled {
		pub, err := events.NewNATSPublisher(g.Events)
		if err != nil {
			slog.Warn("deploy events disabled", logfields.Error(err))
		} else {
			d.publisher = pub
		}
	}
}

// scheduleAll creates one singleton-mode job per configured service. Each
// job fires immediately once, then on its effective interval.
func (d *Daemon) scheduleAll() error {
	doc := d.document()
	for _, svc := range doc.Services {
		if err := d.scheduleService(svc); err != nil {
			return err
		}
	}
	d.recorder.SetWatchedServices(len(d.units))
	return nil
}

func (d *Daemon) scheduleService(svc config.ServiceSpec) error {
	eff := d.document().Resolve(svc)
	unit := newWatchUnit(d, svc.Name)

	job, err := d.scheduler.NewJob(
		gocron.DurationJob(eff.Interval),
		gocron.NewTask(unit.runCycle),
		gocron.WithName(svc.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule service %s: %w", svc.Name, err)
	}

	d.mu.Lock()
	d.units[svc.Name] = unit
	d.jobs[svc.Name] = job.ID()
	d.mu.Unlock()
	return nil
}

// document returns the current configuration document.
func (d *Daemon) document() *config.Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc
}

// Reload swaps in a new configuration document. Existing units pick up
// changed settings at their next cycle; added or removed services are
// scheduled or unscheduled here.
func (d *Daemon) Reload(doc *config.Document) error {
	d.mu.Lock()
	old := d.doc
	d.doc = doc
	d.mu.Unlock()

	next := make(map[string]config.ServiceSpec, len(doc.Services))
	for _, svc := range doc.Services {
		next[svc.Name] = svc
	}

	for _, svc := range old.Services {
		if _, keep := next[svc.Name]; keep {
			continue
		}
		d.mu.Lock()
		jobID, ok := d.jobs[svc.Name]
		delete(d.jobs, svc.Name)
		delete(d.units, svc.Name)
		d.mu.Unlock()
		if ok {
			if err := d.scheduler.RemoveJob(jobID); err != nil {
				slog.Warn("remove job", logfields.Service(svc.Name), logfields.Error(err))
			}
		}
		slog.Info("service removed from watch", logfields.Service(svc.Name))
	}

	for _, svc := range doc.Services {
		d.mu.RLock()
		_, known := d.units[svc.Name]
		d.mu.RUnlock()
		if known {
			if err := d.rescheduleIfIntervalChanged(old, svc); err != nil {
				slog.Warn("reschedule service", logfields.Service(svc.Name), logfields.Error(err))
			}
			continue
		}
		if err := d.scheduleService(svc); err != nil {
			return err
		}
		slog.Info("service added to watch", logfields.Service(svc.Name))
	}

	d.mu.RLock()
	n := len(d.units)
	d.mu.RUnlock()
	d.recorder.SetWatchedServices(n)
	return nil
}

// rescheduleIfIntervalChanged updates a surviving service's job when the
// reloaded document resolves to a different poll interval. The existing
// watch unit keeps its state; only the schedule moves.
func (d *Daemon) rescheduleIfIntervalChanged(old *config.Document, svc config.ServiceSpec) error {
	oldSpec, ok := old.Service(svc.Name)
	if !ok {
		return nil
	}
	newInterval := d.document().Resolve(svc).Interval
	if old.Resolve(oldSpec).Interval == newInterval {
		return nil
	}

	d.mu.RLock()
	unit := d.units[svc.Name]
	jobID := d.jobs[svc.Name]
	d.mu.RUnlock()

	if err := d.scheduler.RemoveJob(jobID); err != nil {
		return fmt.Errorf("remove job for %s: %w", svc.Name, err)
	}
	// No immediate start here: the service was already synced on its old
	// schedule, only the cadence changes.
	job, err := d.scheduler.NewJob(
		gocron.DurationJob(newInterval),
		gocron.NewTask(unit.runCycle),
		gocron.WithName(svc.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", svc.Name, err)
	}

	d.mu.Lock()
	d.jobs[svc.Name] = job.ID()
	d.mu.Unlock()
	slog.Info("service interval updated", logfields.Service(svc.Name),
		slog.Duration("interval", newInterval))
	return nil
}

// shutdown stops the scheduler and waits for in-flight cycles within a
// bounded grace window. Cycles keep running until the grace window elapses;
// only then is the stop channel closed, which force-cancels their contexts.
// A cycle mid-restart must never be interrupted between compose steps.
func (d *Daemon) shutdown() error {
	// Shutdown blocks until running jobs finish or the stop timeout expires.
	if err := d.scheduler.Shutdown(); err != nil {
		slog.Error("scheduler shutdown", logfields.Error(err))
	}

	d.stopOnce.Do(func() { close(d.stopChan) })

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.workers.StopAndWait(waitCtx); err != nil {
		slog.Warn("workers did not finish within grace window", logfields.Error(err))
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
