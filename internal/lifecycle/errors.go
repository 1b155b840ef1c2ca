package lifecycle

import "fmt"

// RestartError is a lifecycle action that was rejected or failed. It is
// logged and retried on a later cycle, never fatal to the whole process.
type RestartError struct {
	Service   string
	Container string
	Err       error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart %s (container %s): %v", e.Service, e.Container, e.Err)
}
func (e *RestartError) Unwrap() error { return e.Err }

// ValidationError is a pre-restart validation failure. The restart sequence
// is aborted before any mutation; the running container is left untouched.
type ValidationError struct {
	Service string
	Command string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s (%s): %v", e.Service, e.Command, e.Err)
}
func (e *ValidationError) Unwrap() error { return e.Err }

// RemediationError is a permission/content auto-fix that failed, or a
// post-remediation validation that still fails. Surfaced, not retried
// within the same cycle.
type RemediationError struct {
	Service string
	Step    string
	Err     error
}

func (e *RemediationError) Error() string {
	return fmt.Sprintf("remediation %s failed for %s: %v", e.Step, e.Service, e.Err)
}
func (e *RemediationError) Unwrap() error { return e.Err }
