package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyService    = "service"
	KeyContainer  = "container"
	KeyCycleID    = "cycle_id"
	KeyPhase      = "phase"
	KeyBranch     = "branch"
	KeyCommit     = "commit"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyEngineMode = "engine_mode"
	KeyDurationMS = "duration_ms"
	KeyAttempt    = "attempt"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Service(name string) slog.Attr   { return slog.String(KeyService, name) }
func Container(name string) slog.Attr { return slog.String(KeyContainer, name) }
func CycleID(id string) slog.Attr     { return slog.String(KeyCycleID, id) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func EngineMode(m string) slog.Attr   { return slog.String(KeyEngineMode, m) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }

// Commit logs an abbreviated commit hash.
func Commit(hash string) slog.Attr {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return slog.String(KeyCommit, hash)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
