package auth

import (
	"testing"
	"time"
)

// fakeClock lets tests move time forward explicitly.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func TestSessionStore_CreateAndGet(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := NewSessionStore(clk, time.Hour)

	token := store.Create("alice")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	userID, ok := store.Get(token)
	if !ok || userID != "alice" {
		t.Errorf("Get(%q) = %q, %v; want alice, true", token, userID, ok)
	}

	// two sessions for the same user are independent
	other := store.Create("alice")
	if other == token {
		t.Error("expected unique tokens per session")
	}

	if _, ok := store.Get("no-such-token"); ok {
		t.Error("unknown token must not resolve")
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := NewSessionStore(clk, time.Hour)

	token := store.Create("alice")

	clk.now = clk.now.Add(2 * time.Hour)
	if _, ok := store.Get(token); ok {
		t.Error("expired token must not resolve")
	}
}

func TestSessionStore_Delete(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := NewSessionStore(clk, time.Hour)

	token := store.Create("alice")
	store.Delete(token)
	if _, ok := store.Get(token); ok {
		t.Error("deleted token must not resolve")
	}
}

func TestSessionStore_Purge(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := NewSessionStore(clk, time.Hour)

	expired := store.Create("alice")
	clk.now = clk.now.Add(30 * time.Minute)
	live := store.Create("bob")

	clk.now = clk.now.Add(45 * time.Minute) // alice past TTL, bob not
	if removed := store.Purge(); removed != 1 {
		t.Errorf("expected 1 purged session, got %d", removed)
	}
	if _, ok := store.Get(expired); ok {
		t.Error("purged token must not resolve")
	}
	if userID, ok := store.Get(live); !ok || userID != "bob" {
		t.Error("live session must survive purge")
	}
}
