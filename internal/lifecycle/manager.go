// Package lifecycle decides and executes container restart actions after a
// repository change, including pre-restart validation, remediation of
// in-container permissions and content, and the readiness wait that follows
// a restart.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/engine"
	"git.home.luguber.info/inful/confsync/internal/logfields"
	"git.home.luguber.info/inful/confsync/internal/retry"
)

// Manager applies lifecycle decisions for one or more services. It is safe
// for concurrent use: all per-service state arrives through Effective.
type Manager struct {
	engine *engine.Client
	shell  CommandRunner
	policy retry.Policy

	readyAttempts int
	readyDelay    time.Duration
}

// NewManager builds a Manager around a probed engine client.
func NewManager(eng *engine.Client, policy retry.Policy) *Manager {
	return &Manager{
		engine:        eng,
		shell:         NewShellRunner(),
		policy:        policy,
		readyAttempts: 5,
		readyDelay:    time.Second,
	}
}

// WithShell overrides host command execution (tests).
func (m *Manager) WithShell(r CommandRunner) *Manager {
	m.shell = r
	return m
}

// Apply runs the post-change lifecycle sequence for a service: validate,
// restart, wait for readiness, remediate permissions, re-validate. The
// container is never mutated before validation passes.
func (m *Manager) Apply(ctx context.Context, eff config.Effective) error {
	log := slog.With(logfields.Service(eff.Name), logfields.Container(eff.Container))

	if eff.ValidationCommand != "" {
		if err := m.Validate(ctx, eff); err != nil {
			return err
		}
	}

	if eff.DisableRestart {
		log.Info("restart disabled, configuration synced without lifecycle action")
		return nil
	}

	if err := m.restart(ctx, eff, log); err != nil {
		return err
	}

	m.waitReady(ctx, eff, log)

	if eff.FixPermissions {
		if err := m.FixPermissions(ctx, eff); err != nil {
			return err
		}
		if eff.ValidationCommand != "" {
			if err := m.Validate(ctx, eff); err != nil {
				return &RemediationError{Service: eff.Name, Step: "post-fix validation", Err: err}
			}
		}
	}
	return nil
}

// Validate runs the configured validation command once. The command runs on
// the host from the service's local path and must not mutate anything.
func (m *Manager) Validate(ctx context.Context, eff config.Effective) error {
	if eff.ValidationCommand == "" {
		return nil
	}
	if err := m.shell.Run(ctx, eff.LocalPath, eff.ValidationCommand); err != nil {
		return &ValidationError{Service: eff.Name, Command: eff.ValidationCommand, Err: err}
	}
	return nil
}

func (m *Manager) restart(ctx context.Context, eff config.Effective, log *slog.Logger) error {
	if eff.RestartCommand != "" {
		log.Info("running custom restart command")
		if err := m.shell.Run(ctx, eff.LocalPath, eff.RestartCommand); err != nil {
			return &RestartError{Service: eff.Name, Container: eff.Container, Err: err}
		}
		return nil
	}

	mode := m.engine.ProbeMode(ctx)
	switch eff.EngineMode {
	case config.EngineModeCompose:
		if !mode.Compose() {
			return &RestartError{Service: eff.Name, Container: eff.Container,
				Err: retry.Terminal(fmt.Errorf("compose mode requested but no compose binary found"))}
		}
	case config.EngineModeDirect:
		mode = engine.ModeDirect
	}

	if mode.Compose() {
		return m.composeRestart(ctx, eff, log)
	}
	return m.directRestart(ctx, eff, log)
}

// composeRestart tears the service down and brings it back up with a fresh
// build. The sequence aborts on the first failing step; a later cycle
// retries the whole sequence, never an individual step.
func (m *Manager) composeRestart(ctx context.Context, eff config.Effective, log *slog.Logger) error {
	steps := []struct {
		name string
		fn   func(context.Context, string, string) error
	}{
		{"down", m.engine.ComposeDown},
		{"build", m.engine.ComposeBuild},
		{"up", m.engine.ComposeUp},
	}
	for _, step := range steps {
		log.Info("compose step", logfields.Phase(step.name))
		if err := step.fn(ctx, eff.ComposeDir, eff.ComposeFile); err != nil {
			return &RestartError{Service: eff.Name, Container: eff.Container,
				Err: fmt.Errorf("compose %s: %w", step.name, err)}
		}
	}
	return nil
}

// directRestart inspects the container and restarts or starts it. An absent
// container is terminal: direct mode has no way to create one.
func (m *Manager) directRestart(ctx context.Context, eff config.Effective, log *slog.Logger) error {
	var state engine.ContainerState
	err := m.policy.Do(ctx, "inspect container", func() error {
		var err error
		state, err = m.engine.State(ctx, eff.Container)
		return err
	})
	if err != nil {
		return &RestartError{Service: eff.Name, Container: eff.Container, Err: err}
	}

	switch state {
	case engine.StateRunning:
		log.Info("restarting running container")
		err = m.policy.Do(ctx, "restart container", func() error {
			return m.engine.Restart(ctx, eff.Container)
		})
	case engine.StateStopped:
		log.Info("starting stopped container")
		err = m.policy.Do(ctx, "start container", func() error {
			return m.engine.Start(ctx, eff.Container)
		})
	case engine.StateAbsent:
		return &RestartError{Service: eff.Name, Container: eff.Container,
			Err: retry.Terminal(fmt.Errorf("container does not exist and direct mode cannot create it"))}
	}
	if err != nil {
		return &RestartError{Service: eff.Name, Container: eff.Container, Err: err}
	}
	return nil
}

// waitReady polls the container state for a short window after a restart so
// the log monitor does not read a half-started container. Best effort only.
func (m *Manager) waitReady(ctx context.Context, eff config.Effective, log *slog.Logger) {
	for i := 0; i < m.readyAttempts; i++ {
		state, err := m.engine.State(ctx, eff.Container)
		if err == nil && state == engine.StateRunning {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.readyDelay):
		}
	}
	log.Warn("container not running after restart window")
}
