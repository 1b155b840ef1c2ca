package gitsync

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Base typed errors enabling structured classification without string parsing upstream.

// AuthError is a credential failure against the remote.
type AuthError struct {
	Op, URL string
	Err     error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s auth error for %s: %v", e.Op, e.URL, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError is a missing remote repository or branch.
type NotFoundError struct {
	Op, URL string
	Err     error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found %s: %v", e.Op, e.URL, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// ConflictError reports a reconciliation that could not be applied cleanly.
// The checkout has been rolled back to Previous before this is returned.
type ConflictError struct {
	Service  string
	Branch   string
	Previous string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict for %s@%s, rolled back to %.8s: %v", e.Service, e.Branch, e.Previous, e.Err)
}
func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a reconciliation conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// classifyRemoteError wraps remote-operation failures into typed variants
// when possible.
func classifyRemoteError(op, url string, err error) error {
	if err == nil {
		return nil
	}
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "auth") || strings.Contains(l, "denied") || strings.Contains(l, "could not read username"):
		return &AuthError{Op: op, URL: url, Err: err}
	case strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist"):
		return &NotFoundError{Op: op, URL: url, Err: err}
	default:
		return err
	}
}

// isPermanentError reports failures that no retry can fix: bad credentials,
// missing remotes, unsupported protocols.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	var nfErr *NotFoundError
	if errors.As(err, &authErr) || errors.As(err, &nfErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unsupported protocol") || strings.Contains(msg, "invalid reference") {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return !nerr.Timeout()
	}
	return false
}
