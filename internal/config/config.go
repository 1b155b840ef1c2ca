// Package config loads and validates the confsync configuration document:
// a list of watched services plus process-wide global settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Document is the top-level configuration: watched services plus global defaults.
type Document struct {
	Services []ServiceSpec  `yaml:"services"`
	Global   GlobalSettings `yaml:"global"`
}

// ServiceSpec describes one watched service. Unset fields fall back to
// GlobalSettings when the effective configuration is resolved.
type ServiceSpec struct {
	Name      string `yaml:"name"`
	Container string `yaml:"container"`

	RepoURL   string `yaml:"repo_url"`
	Branch    string `yaml:"branch,omitempty"`
	LocalPath string `yaml:"local_path"`

	EngineMode  EngineMode `yaml:"engine_mode,omitempty"`
	ComposeDir  string     `yaml:"compose_dir,omitempty"`
	ComposeFile string     `yaml:"compose_file,omitempty"`

	RestartCommand    string `yaml:"restart_command,omitempty"`
	ValidationCommand string `yaml:"validation_command,omitempty"`

	Interval       string   `yaml:"interval,omitempty"`
	HeartbeatURL   string   `yaml:"heartbeat_url,omitempty"`
	WebRoot        string   `yaml:"web_root,omitempty"`
	LogTailLines   int      `yaml:"log_tail_lines,omitempty"`
	ErrorMarkers   []string `yaml:"error_markers,omitempty"`
	AutoFix        *bool    `yaml:"auto_fix,omitempty"`
	MonitorLogs    *bool    `yaml:"monitor_logs,omitempty"`
	DisableRestart *bool    `yaml:"disable_restart,omitempty"`

	Permissions *PermissionPolicy `yaml:"permissions,omitempty"`
}

// PermissionPolicy controls post-restart ownership/mode remediation for a
// service's content root.
type PermissionPolicy struct {
	Fix   *bool  `yaml:"fix,omitempty"`
	User  string `yaml:"user,omitempty"`
	Group string `yaml:"group,omitempty"`
}

// GlobalSettings holds process-wide defaults applied to every service that
// does not override them.
type GlobalSettings struct {
	Interval           string     `yaml:"interval,omitempty"`
	DefaultBranch      string     `yaml:"default_branch,omitempty"`
	EngineMode         EngineMode `yaml:"engine_mode,omitempty"`
	AutoFix            bool       `yaml:"auto_fix,omitempty"`
	FixPermissions     *bool      `yaml:"fix_permissions,omitempty"`
	MonitorLogs        *bool      `yaml:"monitor_logs,omitempty"`
	DisableRestart     bool       `yaml:"disable_restart,omitempty"`
	StartupGracePeriod string     `yaml:"startup_grace_period,omitempty"`
	Lockfile           string     `yaml:"lockfile,omitempty"`
	HeartbeatTimeout   string     `yaml:"heartbeat_timeout,omitempty"`

	ComposeDir  string `yaml:"compose_dir,omitempty"`
	ComposeFile string `yaml:"compose_file,omitempty"`

	WebRoot string `yaml:"web_root,omitempty"`
	User    string `yaml:"user,omitempty"`
	Group   string `yaml:"group,omitempty"`

	LogTailLines int      `yaml:"log_tail_lines,omitempty"`
	ErrorMarkers []string `yaml:"error_markers,omitempty"`

	Retry RetrySettings `yaml:"retry,omitempty"`

	MetricsListen string          `yaml:"metrics_listen,omitempty"`
	HistoryDB     string          `yaml:"history_db,omitempty"`
	Events        *EventsSettings `yaml:"events,omitempty"`
}

// RetrySettings configures the shared retry policy for external calls.
type RetrySettings struct {
	MaxRetries   int    `yaml:"max_retries,omitempty"`
	InitialDelay string `yaml:"initial_delay,omitempty"`
	MaxDelay     string `yaml:"max_delay,omitempty"`
	Backoff      string `yaml:"backoff,omitempty"`
}

// EventsSettings configures the optional NATS deploy-event publisher.
type EventsSettings struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// ConfigError marks a fatal configuration problem (missing or malformed
// document, invalid service definition). It always aborts startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads, expands, parses, defaults, and validates the configuration
// document. Any failure is a *ConfigError and fatal to startup.
func Load(path string) (*Document, error) {
	// .env values fill gaps in the process environment before expansion.
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			break
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}

	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &doc, nil
}

// ApplyDefaults fills unset global fields with the built-in defaults.
func (d *Document) ApplyDefaults() {
	g := &d.Global
	if g.Interval == "" {
		g.Interval = "60s"
	}
	if g.DefaultBranch == "" {
		g.DefaultBranch = "main"
	}
	if g.EngineMode == "" {
		g.EngineMode = EngineModeAuto
	}
	if g.FixPermissions == nil {
		g.FixPermissions = boolPtr(true)
	}
	if g.MonitorLogs == nil {
		g.MonitorLogs = boolPtr(true)
	}
	if g.StartupGracePeriod == "" {
		g.StartupGracePeriod = "30s"
	}
	if g.Lockfile == "" {
		g.Lockfile = "/var/run/confsync.lock"
	}
	if g.HeartbeatTimeout == "" {
		g.HeartbeatTimeout = "5s"
	}
	if g.ComposeFile == "" {
		g.ComposeFile = "docker-compose.yml"
	}
	if g.WebRoot == "" {
		g.WebRoot = "/var/www/html"
	}
	if g.User == "" {
		g.User = "www-data"
	}
	if g.Group == "" {
		g.Group = g.User
	}
	if g.LogTailLines <= 0 {
		g.LogTailLines = 100
	}
	if len(g.ErrorMarkers) == 0 {
		g.ErrorMarkers = []string{"error"}
	}
	if g.Retry.MaxRetries <= 0 {
		g.Retry.MaxRetries = 3
	}
	if g.Retry.InitialDelay == "" {
		g.Retry.InitialDelay = "2s"
	}
	if g.Retry.MaxDelay == "" {
		g.Retry.MaxDelay = "30s"
	}
	if g.Retry.Backoff == "" {
		g.Retry.Backoff = string(RetryBackoffFixed)
	}
}

// Validate checks structural invariants of the document.
func (d *Document) Validate() error {
	if len(d.Services) == 0 {
		return fmt.Errorf("no services defined")
	}
	seen := make(map[string]struct{}, len(d.Services))
	for i, svc := range d.Services {
		if svc.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("service %q: duplicate name", svc.Name)
		}
		seen[svc.Name] = struct{}{}
		if svc.Container == "" {
			return fmt.Errorf("service %q: container is required", svc.Name)
		}
		if svc.RepoURL == "" {
			return fmt.Errorf("service %q: repo_url is required", svc.Name)
		}
		if svc.LocalPath == "" {
			return fmt.Errorf("service %q: local_path is required", svc.Name)
		}
		if svc.Interval != "" {
			if _, err := ParseDuration(svc.Interval); err != nil {
				return fmt.Errorf("service %q: interval: %w", svc.Name, err)
			}
		}
		if svc.EngineMode != "" && NormalizeEngineMode(string(svc.EngineMode)) == "" {
			return fmt.Errorf("service %q: unknown engine_mode %q", svc.Name, svc.EngineMode)
		}
	}
	for field, raw := range map[string]string{
		"interval":             d.Global.Interval,
		"startup_grace_period": d.Global.StartupGracePeriod,
		"heartbeat_timeout":    d.Global.HeartbeatTimeout,
		"retry.initial_delay":  d.Global.Retry.InitialDelay,
		"retry.max_delay":      d.Global.Retry.MaxDelay,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("global %s: %w", field, err)
		}
	}
	if NormalizeEngineMode(string(d.Global.EngineMode)) == "" {
		return fmt.Errorf("global engine_mode: unknown mode %q", d.Global.EngineMode)
	}
	if NormalizeRetryBackoff(d.Global.Retry.Backoff) == "" {
		return fmt.Errorf("global retry.backoff: unknown mode %q", d.Global.Retry.Backoff)
	}
	return nil
}

// Service returns the service definition with the given name.
func (d *Document) Service(name string) (ServiceSpec, bool) {
	for _, svc := range d.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceSpec{}, false
}

// ParseDuration parses a duration string, accepting a bare number as seconds
// for compatibility with interval values like "300".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func boolPtr(b bool) *bool { return &b }
