package service_test

import (
	"context"
	"testing"
	"time"

	"shopfeed/internal/service"
)

// ─────────────────────────────────────────────────────────────
// runningFeedsGuard tests
// ─────────────────────────────────────────────────────────────

func TestRunningGuard_TryLock(t *testing.T) {
	var g service.ExportedRunningGuard

	if !g.TryLock("catalog-a") {
		t.Fatal("expected first TryLock to succeed")
	}
	if g.TryLock("catalog-a") {
		t.Fatal("expected second TryLock for same catalog to fail")
	}
	if !g.TryLock("catalog-b") {
		t.Fatal("expected TryLock for different catalog to succeed")
	}
	g.Unlock("catalog-a")
	g.Unlock("catalog-b")

	if !g.TryLock("catalog-a") {
		t.Fatal("expected TryLock to succeed after unlock")
	}
	g.Unlock("catalog-a")
}

func TestRunningGuard_WaitAll(t *testing.T) {
	var g service.ExportedRunningGuard

	if !g.TryLock("catalog-a") {
		t.Fatal("expected lock to succeed")
	}

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("catalog-a")
	}()

	select {
	case <-done:
		// success
	case <-time.After(1 * time.Second):
		t.Fatal("WaitAll timed out")
	}
}

// ─────────────────────────────────────────────────────────────
// MockEmitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "feed:run-started", map[string]string{"run": "r1"})
	m.Emit(ctx, "feed:run-completed", nil)

	if len(m.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(m.Events))
	}
	if m.Events[0].Event != "feed:run-started" {
		t.Errorf("expected 'feed:run-started', got %q", m.Events[0].Event)
	}
	if m.Events[len(m.Events)-1].Event != "feed:run-completed" {
		t.Errorf("last event = %q", m.Events[len(m.Events)-1].Event)
	}
}
