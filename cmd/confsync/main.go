package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/daemon"
	"git.home.luguber.info/inful/confsync/internal/engine"
	"git.home.luguber.info/inful/confsync/internal/eventstore"
	"git.home.luguber.info/inful/confsync/internal/probe"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"confsync.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
	LogFile string `help:"Append logs to this file in addition to stderr"`

	Watch struct{} `cmd:"" help:"Watch configured services and deploy repository changes"`

	Check struct{} `cmd:"" help:"Probe watcher health; exit non-zero when critical"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`

	Show struct{} `cmd:"" help:"Print the effective configuration per service"`

	History struct {
		Service string        `arg:"" optional:"" help:"Limit output to one service"`
		Limit   int           `default:"20" help:"Maximum records per service"`
		Since   time.Duration `default:"168h" help:"How far back to look when no service is given"`
	} `cmd:"" help:"Show recent deploys from the history database"`
}

func main() {
	ctx := kong.Parse(&CLI)
	closeLog := setupLogging()
	defer closeLog()

	var err error
	switch ctx.Command() {
	case "watch":
		err = runWatch()
	case "check":
		err = runCheck()
	case "init":
		err = runInit()
	case "show":
		err = runShow()
	case "history", "history <service>":
		err = runHistory()
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// setupLogging configures the default slog logger: text to stderr, optionally
// duplicated into an append-only log file. Returns a close func for the file.
func setupLogging() func() {
	level := slog.LevelInfo
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if CLI.LogFile != "" {
		f, err := os.OpenFile(CLI.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", CLI.LogFile, err)
		} else {
			w = io.MultiWriter(os.Stderr, f)
			closeFn = func() { _ = f.Close() }
		}
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn
}

func runWatch() error {
	doc, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	d, err := daemon.New(CLI.Config, doc)
	if err != nil {
		return err
	}
	return d.Run(context.Background())
}

func runCheck() error {
	report := probe.New(engine.NewClient()).Run(context.Background(), CLI.Config)
	for _, f := range report.Findings {
		label := "ok"
		switch f.Severity {
		case probe.Warning:
			label = "warning"
		case probe.Critical:
			label = "critical"
		}
		fmt.Printf("%-10s %-8s %s\n", f.Check, label, f.Detail)
	}
	if !report.Healthy() {
		return fmt.Errorf("health check failed")
	}
	return nil
}

const starterConfig = `# confsync configuration
services:
  - name: example
    container: example-app
    repo_url: https://git.example.com/ops/example-config.git
    local_path: /srv/example
    # branch: main
    # validation_command: nginx -t
    # heartbeat_url: https://hc.example.com/ping/example

global:
  interval: 60s
  # engine_mode: auto
  # lockfile: /var/run/confsync.lock
  # metrics_listen: :9120
  # history_db: /var/lib/confsync/history.db
`

func runInit() error {
	if _, err := os.Stat(CLI.Config); err == nil && !CLI.Init.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", CLI.Config)
	}
	if err := os.WriteFile(CLI.Config, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", CLI.Config, err)
	}
	fmt.Printf("wrote %s\n", CLI.Config)
	return nil
}

// runHistory prints recent deploy records from the history database, newest
// first for a named service, oldest first across all services.
func runHistory() error {
	doc, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if doc.Global.HistoryDB == "" {
		return fmt.Errorf("no history_db configured in %s", CLI.Config)
	}
	store, err := eventstore.NewSQLiteStore(doc.Global.HistoryDB)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	var records []eventstore.Record
	if CLI.History.Service != "" {
		records, err = store.ByService(ctx, CLI.History.Service, CLI.History.Limit)
	} else {
		records, err = store.Range(ctx, time.Now().Add(-CLI.History.Since), time.Now())
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no deploy history")
		return nil
	}
	for _, rec := range records {
		commit := rec.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Printf("%s  %-15s %-10s %-8s %s\n",
			rec.Timestamp.Format(time.RFC3339), rec.Service, rec.Outcome, commit, rec.Detail)
	}
	return nil
}

// runShow prints the effective per-service configuration after defaulting
// and merging, which is what the watch cycles will actually use.
func runShow() error {
	doc, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	for _, svc := range doc.Services {
		eff := doc.Resolve(svc)
		out, err := yaml.Marshal(eff)
		if err != nil {
			return err
		}
		fmt.Printf("--- %s\n%s", svc.Name, out)
	}
	return nil
}
