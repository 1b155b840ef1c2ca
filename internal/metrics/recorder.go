// Package metrics defines observability hooks for watch cycles.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics can be enabled per deployment by swapping in the
// Prometheus implementation without touching call sites.
package metrics

import "time"

// OutcomeLabel enumerates cycle result categories for counters.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeNoChange OutcomeLabel = "no_change"
	OutcomeConflict OutcomeLabel = "conflict"
	OutcomeFailed   OutcomeLabel = "failed"
)

// Recorder defines observability hooks for sync and lifecycle activity.
// All methods must be safe on the NoopRecorder zero value.
type Recorder interface {
	ObserveCycleDuration(service string, d time.Duration)
	ObserveSyncDuration(service string, d time.Duration, changed bool)
	IncCycleOutcome(service string, outcome OutcomeLabel)
	IncRestart(service string, success bool)
	IncRemediation(service string, success bool)
	IncRetry(op string)
	SetWatchedServices(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCycleDuration(string, time.Duration)      {}
func (NoopRecorder) ObserveSyncDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncCycleOutcome(string, OutcomeLabel)            {}
func (NoopRecorder) IncRestart(string, bool)                         {}
func (NoopRecorder) IncRemediation(string, bool)                     {}
func (NoopRecorder) IncRetry(string)                                 {}
func (NoopRecorder) SetWatchedServices(int)                          {}
