package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCounterWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	counter := NewMemoryCounter(time.Minute)
	counter.now = func() time.Time { return now }
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := counter.Hit(ctx, "alice|10.0.0.1")
		if err != nil {
			t.Fatalf("Hit: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}

	// A different key has its own budget.
	if got, _ := counter.Hit(ctx, "bob|10.0.0.1"); got != 1 {
		t.Fatalf("keys must be independent, got %d", got)
	}

	// The window elapses and the count starts over.
	now = now.Add(time.Minute)
	if got, _ := counter.Hit(ctx, "alice|10.0.0.1"); got != 1 {
		t.Fatalf("expected fresh window, got %d", got)
	}
}

func TestMemoryCounterReset(t *testing.T) {
	counter := NewMemoryCounter(time.Minute)
	ctx := context.Background()

	if _, err := counter.Hit(ctx, "alice"); err != nil {
		t.Fatalf("Hit: %v", err)
	}
	if err := counter.Reset(ctx, "alice"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got, _ := counter.Hit(ctx, "alice"); got != 1 {
		t.Fatalf("reset should clear the window, got %d", got)
	}
}
