package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/confsync/internal/eventstore"
)

func writeHistoryConfig(t *testing.T, dbPath string) string {
	t.Helper()
	body := fmt.Sprintf(`
services:
  - name: web
    container: web-app
    repo_url: https://git.example.com/ops/web.git
    local_path: /srv/web
global:
  history_db: %s
`, dbPath)
	path := filepath.Join(t.TempDir(), "confsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunHistoryReadsStoredDeploys(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := eventstore.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := eventstore.Record{
		CycleID:   "cycle-1",
		Service:   "web",
		Outcome:   "success",
		Commit:    "0123456789abcdef",
		Detail:    "synced to 01234567",
		Timestamp: time.Now(),
	}
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	CLI.Config = writeHistoryConfig(t, dbPath)
	CLI.History.Service = "web"
	CLI.History.Limit = 20
	if err := runHistory(); err != nil {
		t.Fatalf("history for one service: %v", err)
	}

	CLI.History.Service = ""
	CLI.History.Since = 24 * time.Hour
	if err := runHistory(); err != nil {
		t.Fatalf("history across services: %v", err)
	}
}

func TestRunHistoryRequiresHistoryDB(t *testing.T) {
	body := `
services:
  - name: web
    container: web-app
    repo_url: https://git.example.com/ops/web.git
    local_path: /srv/web
`
	path := filepath.Join(t.TempDir(), "confsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	CLI.Config = path
	CLI.History.Service = ""
	if err := runHistory(); err == nil {
		t.Fatal("expected an error without history_db configured")
	}
}
