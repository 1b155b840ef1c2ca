// Package events publishes deploy events to NATS so other systems (alerting,
// dashboards) can react to restarts without polling. Publishing is optional
// and strictly fire-and-forget: a broken broker never fails a cycle.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/logfields"
)

const defaultSubject = "confsync.deploys"

// DeployEvent is the payload published after a cycle that attempted a deploy.
type DeployEvent struct {
	CycleID   string    `json:"cycle_id"`
	Service   string    `json:"service"`
	Outcome   string    `json:"outcome"`
	Commit    string    `json:"commit,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits deploy events. The zero value (or a nil *NATSPublisher)
// is a safe no-op.
type Publisher interface {
	Publish(ev DeployEvent)
	Close()
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(DeployEvent) {}
func (NoopPublisher) Close()              {}

// NATSPublisher publishes deploy events over a plain NATS connection.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the configured broker. Returns an error only
// for misconfiguration or an unreachable broker at startup; later publish
// failures are logged and dropped.
func NewNATSPublisher(cfg *config.EventsSettings) (*NATSPublisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("event publishing is disabled")
	}
	url := cfg.NATSURL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	slog.Info("deploy event publisher connected", logfields.URL(url),
		slog.String("subject", subject))
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish emits one deploy event. Best effort.
func (p *NATSPublisher) Publish(ev DeployEvent) {
	if p == nil || p.conn == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("marshal deploy event", logfields.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("publish deploy event", logfields.Error(err))
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
