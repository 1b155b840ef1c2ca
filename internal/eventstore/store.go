// Package eventstore persists a deploy history: one record per watch cycle
// that changed or tried to change a service. The history is an audit trail
// only; watch decisions never read from it.
package eventstore

import (
	"context"
	"time"
)

// Record is one persisted deploy-history entry.
type Record struct {
	ID        int64
	CycleID   string
	Service   string
	Outcome   string
	Commit    string
	Detail    string
	Timestamp time.Time
}

// Store defines the interface for persisting and reading deploy history.
type Store interface {
	// Append adds a new record to the history.
	Append(ctx context.Context, rec Record) error

	// ByService retrieves the most recent records for a service, newest first.
	ByService(ctx context.Context, service string, limit int) ([]Record, error)

	// Range retrieves records within a time range, oldest first.
	Range(ctx context.Context, start, end time.Time) ([]Record, error)

	// Close closes the store and releases resources.
	Close() error
}

// NoopStore discards history. Used when no history database is configured.
type NoopStore struct{}

func (NoopStore) Append(context.Context, Record) error { return nil }
func (NoopStore) ByService(context.Context, string, int) ([]Record, error) {
	return nil, nil
}
func (NoopStore) Range(context.Context, time.Time, time.Time) ([]Record, error) {
	return nil, nil
}
func (NoopStore) Close() error { return nil }
