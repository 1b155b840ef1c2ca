package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "confsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
services:
  - name: web
    container: web-app
    repo_url: https://git.example.com/ops/web.git
    local_path: /srv/web
`

func TestLoadAppliesDefaults(t *testing.T) {
	doc, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	g := doc.Global
	if g.Interval != "60s" {
		t.Errorf("interval default: got %q", g.Interval)
	}
	if g.DefaultBranch != "main" {
		t.Errorf("branch default: got %q", g.DefaultBranch)
	}
	if g.EngineMode != EngineModeAuto {
		t.Errorf("engine mode default: got %q", g.EngineMode)
	}
	if g.FixPermissions == nil || !*g.FixPermissions {
		t.Error("fix_permissions should default to true")
	}
	if g.Lockfile != "/var/run/confsync.lock" {
		t.Errorf("lockfile default: got %q", g.Lockfile)
	}
	if g.Retry.MaxRetries != 3 || g.Retry.Backoff != "fixed" {
		t.Errorf("retry defaults: %+v", g.Retry)
	}
	if len(g.ErrorMarkers) != 1 || g.ErrorMarkers[0] != "error" {
		t.Errorf("error markers default: %v", g.ErrorMarkers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "services: ["))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CONFSYNC_TEST_REPO", "https://git.example.com/ops/env.git")
	doc, err := Load(writeConfig(t, `
services:
  - name: web
    container: web-app
    repo_url: ${CONFSYNC_TEST_REPO}
    local_path: /srv/web
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Services[0].RepoURL != "https://git.example.com/ops/env.git" {
		t.Fatalf("env not expanded: %q", doc.Services[0].RepoURL)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no services", `global: {interval: 60s}`},
		{"missing container", `
services:
  - name: web
    repo_url: u
    local_path: /p
`},
		{"missing repo url", `
services:
  - name: web
    container: c
    local_path: /p
`},
		{"missing local path", `
services:
  - name: web
    container: c
    repo_url: u
`},
		{"duplicate names", `
services:
  - {name: web, container: c, repo_url: u, local_path: /p}
  - {name: web, container: c2, repo_url: u2, local_path: /p2}
`},
		{"bad interval", `
services:
  - {name: web, container: c, repo_url: u, local_path: /p, interval: soon}
`},
		{"bad engine mode", `
services:
  - {name: web, container: c, repo_url: u, local_path: /p, engine_mode: podman}
`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, c.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"300", 300 * time.Second, true}, // bare seconds
		{"90s", 90 * time.Second, true},
		{"5m", 5 * time.Minute, true},
		{" 10 ", 10 * time.Second, true},
		{"", 0, false},
		{"-5", 0, false},
		{"-5s", 0, false},
		{"soon", 0, false},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseDuration(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseDuration(%q) should fail", c.in)
		}
	}
}
