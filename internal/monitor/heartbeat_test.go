package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifierSuccessPing(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
	}))
	defer srv.Close()

	NewNotifier(time.Second).Success(context.Background(), srv.URL+"/ping/web", "synced to abc12345")

	if got == nil {
		t.Fatal("no ping received")
	}
	q := got.URL.Query()
	if q.Get("msg") != "synced to abc12345" {
		t.Fatalf("msg = %q", q.Get("msg"))
	}
	if q.Has("status") {
		t.Fatalf("success ping must not carry a status: %v", q)
	}
}

func TestNotifierFailurePing(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
	}))
	defer srv.Close()

	NewNotifier(time.Second).Failure(context.Background(), srv.URL+"/ping/web", "restart failed")

	if got == nil {
		t.Fatal("no ping received")
	}
	q := got.URL.Query()
	if q.Get("status") != "fail" {
		t.Fatalf("status = %q, want fail", q.Get("status"))
	}
	if q.Get("msg") != "restart failed" {
		t.Fatalf("msg = %q", q.Get("msg"))
	}
}

func TestNotifierNeverEscalates(t *testing.T) {
	// Unroutable endpoint; the only acceptable outcome is a logged warning.
	n := NewNotifier(50 * time.Millisecond)
	n.Success(context.Background(), "http://127.0.0.1:1/ping", "msg")
	n.Failure(context.Background(), "http://127.0.0.1:1/ping", "msg")
	n.Success(context.Background(), "://bad-url", "msg")
}

func TestNotifierSkipsEmptyURL(t *testing.T) {
	NewNotifier(time.Second).Success(context.Background(), "", "msg")
}
