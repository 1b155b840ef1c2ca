// Package engine wraps the container-engine control surface: container
// inspect/start/restart, compose up/down/build, log tailing, and in-container
// command execution. The compose capability is probed once at startup and
// cached for the life of the process.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// ContainerState is the closed three-way result of a container inspection.
type ContainerState string

const (
	StateRunning ContainerState = "running"
	StateStopped ContainerState = "stopped"
	StateAbsent  ContainerState = "absent"
)

// Mode is the strategy used to drive container lifecycle actions.
type Mode string

const (
	ModeComposeV2     Mode = "compose-v2"
	ModeComposeLegacy Mode = "compose-legacy"
	ModeDirect        Mode = "direct"
)

// Compose reports whether the mode drives containers through compose.
func (m Mode) Compose() bool { return m == ModeComposeV2 || m == ModeComposeLegacy }

// Client talks to the container engine through its CLI.
type Client struct {
	runner Runner

	probeOnce sync.Once
	mode      Mode
}

// NewClient creates a container engine client using the real CLI binaries.
func NewClient() *Client {
	return &Client{runner: execRunner{}}
}

// WithRunner overrides command execution (tests).
func (c *Client) WithRunner(r Runner) *Client {
	c.runner = r
	return c
}

// Ping verifies the engine daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("container engine unreachable: %w", err)
	}
	return nil
}

// ProbeMode detects the best available compose capability, in priority order
// compose-v2, legacy compose, direct engine calls. The result is cached for
// the process lifetime.
func (c *Client) ProbeMode(ctx context.Context) Mode {
	c.probeOnce.Do(func() {
		if _, err := c.runner.Run(ctx, "docker", "compose", "version"); err == nil {
			c.mode = ModeComposeV2
		} else if _, err := c.runner.Run(ctx, "docker-compose", "--version"); err == nil {
			c.mode = ModeComposeLegacy
		} else {
			c.mode = ModeDirect
		}
		slog.Info("container engine mode resolved", logfields.EngineMode(string(c.mode)))
	})
	return c.mode
}

// State inspects a container by exact name.
func (c *Client) State(ctx context.Context, container string) (ContainerState, error) {
	nameFilter := "name=^" + container + "$"

	out, err := c.runner.Run(ctx, "docker", "ps", "--format", "{{.Names}}", "--filter", nameFilter)
	if err != nil {
		return StateAbsent, fmt.Errorf("inspect running containers: %w", err)
	}
	if containsLine(out, container) {
		return StateRunning, nil
	}

	out, err = c.runner.Run(ctx, "docker", "ps", "-a", "--format", "{{.Names}}", "--filter", nameFilter)
	if err != nil {
		return StateAbsent, fmt.Errorf("inspect all containers: %w", err)
	}
	if containsLine(out, container) {
		return StateStopped, nil
	}
	return StateAbsent, nil
}

// Restart restarts a running container.
func (c *Client) Restart(ctx context.Context, container string) error {
	if _, err := c.runner.Run(ctx, "docker", "restart", container); err != nil {
		return fmt.Errorf("restart %s: %w", container, err)
	}
	return nil
}

// Start starts a stopped container.
func (c *Client) Start(ctx context.Context, container string) error {
	if _, err := c.runner.Run(ctx, "docker", "start", container); err != nil {
		return fmt.Errorf("start %s: %w", container, err)
	}
	return nil
}

// ComposeDown stops and removes the compose project in dir.
func (c *Client) ComposeDown(ctx context.Context, dir, file string) error {
	return c.compose(ctx, dir, file, "down")
}

// ComposeBuild rebuilds the compose project's images.
func (c *Client) ComposeBuild(ctx context.Context, dir, file string) error {
	return c.compose(ctx, dir, file, "build")
}

// ComposeUp starts the compose project detached.
func (c *Client) ComposeUp(ctx context.Context, dir, file string) error {
	return c.compose(ctx, dir, file, "up", "-d")
}

func (c *Client) compose(ctx context.Context, dir, file string, action ...string) error {
	mode := c.ProbeMode(ctx)
	var name string
	var args []string
	switch mode {
	case ModeComposeV2:
		name = "docker"
		args = []string{"compose"}
	case ModeComposeLegacy:
		name = "docker-compose"
	default:
		return fmt.Errorf("compose requested but no compose capability available")
	}
	args = append(args, "--project-directory", dir)
	if file != "" {
		args = append(args, "-f", filepath.Join(dir, file))
	}
	args = append(args, action...)
	if _, err := c.runner.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("compose %s in %s: %w", action[0], dir, err)
	}
	return nil
}

// Logs tails the last n lines of a container's log stream, stdout and
// stderr combined.
func (c *Client) Logs(ctx context.Context, container string, tail int) (string, error) {
	out, err := c.runner.RunCombined(ctx, "docker", "logs", "--tail", strconv.Itoa(tail), container)
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", container, err)
	}
	return out, nil
}

// Exec runs a shell script inside the container. An empty user keeps the
// container's default.
func (c *Client) Exec(ctx context.Context, container, user, script string) (string, error) {
	args := []string{"exec"}
	if user != "" {
		args = append(args, "-u", user)
	}
	args = append(args, container, "sh", "-c", script)
	out, err := c.runner.Run(ctx, "docker", args...)
	if err != nil {
		return "", fmt.Errorf("exec in %s: %w", container, err)
	}
	return out, nil
}

func containsLine(out, want string) bool {
	start := 0
	for i := 0; i <= len(out); i++ {
		if i == len(out) || out[i] == '\n' {
			if out[start:i] == want {
				return true
			}
			start = i + 1
		}
	}
	return false
}
