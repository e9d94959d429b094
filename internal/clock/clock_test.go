package clock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSystemClock_Now(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("SystemClock.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestNetworkClock_Sync(t *testing.T) {
	// Server reports a time one hour ahead of the local clock
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", time.Now().UTC().Add(time.Hour).Format(http.TimeFormat))
	}))
	defer server.Close()

	clk := NewNetworkClock(server.URL)
	if err := clk.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}

	offset := clk.Offset()
	// Date header has second granularity, allow slack
	if offset < 59*time.Minute || offset > 61*time.Minute {
		t.Errorf("expected roughly one hour offset, got %v", offset)
	}

	now := clk.Now()
	want := time.Now().Add(time.Hour)
	if diff := now.Sub(want); diff < -2*time.Second || diff > 2*time.Second {
		t.Errorf("corrected time off by %v", diff)
	}
}

func TestNetworkClock_SyncFailureKeepsOffset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", time.Now().UTC().Add(30*time.Minute).Format(http.TimeFormat))
	}))

	clk := NewNetworkClock(server.URL)
	if err := clk.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	before := clk.Offset()

	server.Close()
	if err := clk.Sync(context.Background()); err == nil {
		t.Error("expected error syncing against a closed server")
	}
	if clk.Offset() != before {
		t.Errorf("failed sync must keep previous offset, got %v want %v", clk.Offset(), before)
	}
}

func TestNetworkClock_NoDateHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil // suppress automatic Date header
	}))
	defer server.Close()

	clk := NewNetworkClock(server.URL)
	if err := clk.Sync(context.Background()); err == nil {
		t.Error("expected error when response has no Date header")
	}
}
