package service

import (
	"context"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningFeedsGuard

// ─────────────────────────────────────────────────────────────
// runningFeedsGuard — prevents concurrent runs of the same feed
// ─────────────────────────────────────────────────────────────

// runningFeedsGuard is a concurrency guard that ensures only one
// run of a given feed key is in flight at a time.
type runningFeedsGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock attempts to mark key as running. Returns true if successful.
// Returns false if a run with the same key is already in flight.
func (g *runningFeedsGuard) TryLock(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[key]; ok {
		return false // already running
	}
	g.running[key] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock marks the key as no longer running. Must be called after TryLock returns true.
func (g *runningFeedsGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
	g.wg.Done()
}

// WaitAll blocks until all in-flight runs complete or ctx is cancelled.
func (g *runningFeedsGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
