package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// configWatcher reloads the configuration document when the file changes.
// Editors often replace the file rather than write it in place, so the
// containing directory is watched and events are debounced.
type configWatcher struct {
	configPath   string
	daemon       *Daemon
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

func newConfigWatcher(configPath string, d *Daemon) (*configWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &configWatcher{
		configPath:   absPath,
		daemon:       d,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the configuration file.
func (cw *configWatcher) Start(ctx context.Context) error {
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	slog.Info("watching configuration", logfields.Path(cw.configPath))

	cw.daemon.workers.Go(func() { cw.watchLoop(ctx) })
	cw.daemon.workers.Go(func() { cw.reloadLoop(ctx) })
	return nil
}

// Stop stops the watcher.
func (cw *configWatcher) Stop() {
	close(cw.stopChan)
	if err := cw.watcher.Close(); err != nil {
		slog.Error("close file watcher", logfields.Error(err))
	}
}

func (cw *configWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case <-cw.daemon.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				cw.triggerReload()
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("config file removed", logfields.Path(event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", logfields.Error(err))
		}
	}
}

func (cw *configWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer
	stopTimer := func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-cw.stopChan:
			stopTimer()
			return
		case <-cw.daemon.stopChan:
			stopTimer()
			return
		case <-cw.reloadChan:
			stopTimer()
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(); err != nil {
					slog.Error("configuration reload failed", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *configWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
		// reload already pending
	}
}

// performReload loads the new document and hands it to the daemon. A
// document that fails to parse or validate is rejected; the previous
// configuration stays in effect.
func (cw *configWatcher) performReload() error {
	slog.Info("reloading configuration", logfields.Path(cw.configPath))

	doc, err := config.Load(cw.configPath)
	if err != nil {
		return err
	}
	if doc.Global.Lockfile != cw.daemon.document().Global.Lockfile {
		slog.Warn("lockfile path change requires a restart to take effect")
	}
	if err := cw.daemon.Reload(doc); err != nil {
		return fmt.Errorf("apply new configuration: %w", err)
	}
	slog.Info("configuration reloaded")
	return nil
}
