package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"git.home.luguber.info/inful/confsync/internal/config"
	"git.home.luguber.info/inful/confsync/internal/engine"
	"git.home.luguber.info/inful/confsync/internal/lifecycle"
	"git.home.luguber.info/inful/confsync/internal/retry"
)

type fakeRunner struct {
	calls     []string
	responses map[string]string
}

func (f *fakeRunner) run(name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, out := range f.responses {
		if strings.HasPrefix(call, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	return f.run(name, args...)
}

func (f *fakeRunner) RunCombined(_ context.Context, name string, args ...string) (string, error) {
	return f.run(name, args...)
}

type fakeShell struct {
	commands []string
}

func (f *fakeShell) Run(_ context.Context, _ string, command string) error {
	f.commands = append(f.commands, command)
	return nil
}

func newTestMonitor(fr *fakeRunner, sh *fakeShell) *Monitor {
	eng := engine.NewClient().WithRunner(fr)
	policy := retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 0)
	return New(eng, lifecycle.NewManager(eng, policy).WithShell(sh))
}

func monitorEffective() config.Effective {
	return config.Effective{
		Name:              "web",
		Container:         "web-app",
		WebRoot:           "/var/www/html",
		User:              "www-data",
		Group:             "www-data",
		LogTailLines:      50,
		ErrorMarkers:      []string{"error"},
		AutoFix:           true,
		ValidationCommand: "nginx -t",
	}
}

func forbiddenLogs() string {
	return strings.Join([]string{
		`10.0.0.1 - - "GET /admin" 403 153`,
		`directory index of /var/www/html/ is forbidden`,
		`10.0.0.2 - - "GET /" 200 512`,
	}, "\n")
}

func execCalls(fr *fakeRunner) []string {
	var execs []string
	for _, c := range fr.calls {
		if strings.HasPrefix(c, "docker exec") {
			execs = append(execs, c)
		}
	}
	return execs
}

func TestCheckRemediatesForbiddenWithAutoFix(t *testing.T) {
	fr := &fakeRunner{responses: map[string]string{"docker logs": forbiddenLogs()}}
	sh := &fakeShell{}

	report := newTestMonitor(fr, sh).Check(context.Background(), monitorEffective())

	if report.Forbidden != 2 {
		t.Fatalf("forbidden = %d, want 2", report.Forbidden)
	}
	if !report.Fixed {
		t.Fatalf("auto-fix should have run: %+v", report)
	}
	execs := execCalls(fr)
	if len(execs) != 2 {
		t.Fatalf("expected content and permission fixes, got %v", execs)
	}
	if !strings.Contains(execs[0], "for d in") {
		t.Fatalf("content fix should run first: %v", execs)
	}
	if !strings.Contains(execs[1], "chown") {
		t.Fatalf("permission fix should run second: %v", execs)
	}
	if len(sh.commands) != 1 || sh.commands[0] != "nginx -t" {
		t.Fatalf("remediation should validate once: %v", sh.commands)
	}
}

func TestCheckLeavesForbiddenAloneWithoutAutoFix(t *testing.T) {
	fr := &fakeRunner{responses: map[string]string{"docker logs": forbiddenLogs()}}
	sh := &fakeShell{}

	eff := monitorEffective()
	eff.AutoFix = false
	report := newTestMonitor(fr, sh).Check(context.Background(), eff)

	if report.Fixed {
		t.Fatal("auto-fix disabled, nothing should be fixed")
	}
	if execs := execCalls(fr); len(execs) != 0 {
		t.Fatalf("no remediation expected: %v", execs)
	}
}

func TestScanCleanLogs(t *testing.T) {
	logs := "GET / 200\nGET /about 200\n\nGET /contact 200\n"
	report := Scan(logs, []string{"error"})
	if report.Degraded() {
		t.Fatalf("clean logs flagged degraded: %+v", report)
	}
	if report.Scanned != 3 {
		t.Fatalf("scanned %d lines, want 3 (blank skipped)", report.Scanned)
	}
}

func TestScanCountsMarkersCaseInsensitive(t *testing.T) {
	logs := "something ERROR here\n[crit] worker died\nall fine\n"
	report := Scan(logs, []string{"error", "crit"})
	if report.Errors != 2 {
		t.Fatalf("errors = %d, want 2", report.Errors)
	}
	if report.Forbidden != 0 {
		t.Fatalf("forbidden = %d, want 0", report.Forbidden)
	}
}

func TestScanClassifiesForbidden(t *testing.T) {
	logs := strings.Join([]string{
		`10.0.0.1 - - "GET /admin" 403 153`,
		`10.0.0.1 - - "GET /admin" 403 153`,
		`directory index of /var/www/html/ is forbidden`,
		`10.0.0.2 - - "GET /" 200 512`,
	}, "\n")
	report := Scan(logs, []string{"error"})
	if report.Forbidden != 3 {
		t.Fatalf("forbidden = %d, want 3", report.Forbidden)
	}
	// forbidden lines count as error lines too
	if report.Errors != 3 {
		t.Fatalf("errors = %d, want 3", report.Errors)
	}
}

func TestScanSampleCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("error line\n")
	}
	report := Scan(b.String(), []string{"error"})
	if report.Errors != 100 {
		t.Fatalf("errors = %d, want 100", report.Errors)
	}
	if len(report.Samples) != maxSampleLines {
		t.Fatalf("samples = %d, want cap %d", len(report.Samples), maxSampleLines)
	}
}

func TestScanIgnoresNon403StatusDigits(t *testing.T) {
	// 4030 bytes served is not a 403 response.
	report := Scan(`10.0.0.1 - - "GET /" 200 4030`, []string{"error"})
	if report.Forbidden != 0 {
		t.Fatalf("forbidden = %d, want 0", report.Forbidden)
	}
}
