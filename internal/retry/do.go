package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// TerminalError marks a failure that retrying cannot fix (for example a
// container that does not exist and cannot be created without compose).
// Do short-circuits on it instead of burning attempts.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so Do stops retrying immediately.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// Do runs fn, retrying transient failures according to the policy. Terminal
// errors and context cancellation stop the loop immediately. The returned
// error is the last failure; exhausting retries never panics or escalates
// beyond the caller.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying operation", slog.String("operation", op), logfields.Attempt(attempt))
			if p.rec != nil {
				p.rec.IncRetry(op)
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsTerminal(err) {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt + 1)):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, p.MaxRetries, lastErr)
}
