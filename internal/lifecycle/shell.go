package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes a host-side shell command line. Validation commands
// and custom restart commands go through here.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) error
}

const shellTimeout = 60 * time.Second

type shellRunner struct{}

// NewShellRunner returns a CommandRunner backed by sh -c.
func NewShellRunner() CommandRunner { return shellRunner{} }

func (shellRunner) Run(ctx context.Context, dir, command string) error {
	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
