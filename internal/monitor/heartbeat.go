package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// Notifier pings per-service heartbeat URLs after each cycle. Pings are best
// effort: a failed ping is logged and never escalates into a cycle failure,
// since the receiving side treats a missing ping as the alarm.
type Notifier struct {
	client *http.Client
}

func NewNotifier(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{client: &http.Client{Timeout: timeout}}
}

// Success reports a healthy cycle.
func (n *Notifier) Success(ctx context.Context, endpoint, msg string) {
	n.ping(ctx, endpoint, msg, false)
}

// Failure reports a failed cycle with a short reason.
func (n *Notifier) Failure(ctx context.Context, endpoint, msg string) {
	n.ping(ctx, endpoint, msg, true)
}

func (n *Notifier) ping(ctx context.Context, endpoint, msg string, fail bool) {
	if endpoint == "" {
		return
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		slog.Warn("invalid heartbeat url", logfields.URL(endpoint), logfields.Error(err))
		return
	}
	q := u.Query()
	if msg != "" {
		q.Set("msg", msg)
	}
	if fail {
		q.Set("status", "fail")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		slog.Warn("heartbeat request build failed", logfields.URL(endpoint), logfields.Error(err))
		return
	}
	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("heartbeat ping failed", logfields.URL(endpoint), logfields.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		slog.Warn("heartbeat ping rejected",
			logfields.URL(endpoint), slog.Int("status", resp.StatusCode))
	}
}
