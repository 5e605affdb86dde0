package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"mediadesk/internal/coordinator"
	"mediadesk/internal/logging"
	"mediadesk/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type conflictLog struct {
	mu    sync.Mutex
	peers []string
}

func (l *conflictLog) record(peer coordinator.Peer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers = append(l.peers, peer.SessionID)
}

func (l *conflictLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func newPair(t *testing.T) (*coordinator.Coordinator, *coordinator.Coordinator, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	opts := func(id string) []coordinator.Option {
		return []coordinator.Option{
			coordinator.WithSessionID(id),
			coordinator.WithClock(clock.Now),
			coordinator.WithTiming(time.Hour, 20*time.Second),
		}
	}
	a := coordinator.New(cfg.Workspace.Root, cfg, logging.NewNop(), opts("writer-a")...)
	b := coordinator.New(cfg.Workspace.Root, cfg, logging.NewNop(), opts("writer-b")...)
	t.Cleanup(func() {
		_ = a.Cleanup()
		_ = b.Cleanup()
	})
	return a, b, clock
}

func TestSecondWriterDetectedOnce(t *testing.T) {
	a, b, _ := newPair(t)
	var aLog, bLog conflictLog

	if err := a.Setup(context.Background(), aLog.record); err != nil {
		t.Fatalf("a.Setup: %v", err)
	}
	if aLog.count() != 0 {
		t.Fatal("single writer must not report a conflict")
	}
	if !a.HoldsLock() {
		t.Fatal("first writer should hold the writer lock")
	}

	if err := b.Setup(context.Background(), bLog.record); err != nil {
		t.Fatalf("b.Setup: %v", err)
	}
	if bLog.count() != 1 || bLog.peers[0] != "writer-a" {
		t.Fatalf("expected one conflict with writer-a, got %v", bLog.peers)
	}
	if b.HoldsLock() {
		t.Fatal("second writer must not hold the writer lock")
	}

	b.Check()
	b.Check()
	if bLog.count() != 1 {
		t.Fatalf("conflict must fire once per peer, got %d", bLog.count())
	}
	if peers := a.Check(); len(peers) != 1 || peers[0].SessionID != "writer-b" {
		t.Fatalf("expected a to see writer-b, got %+v", peers)
	}
	if aLog.count() != 1 {
		t.Fatalf("expected a to report writer-b once, got %d", aLog.count())
	}
}

func TestConflictRearmsAfterPeerGoesStale(t *testing.T) {
	a, b, clock := newPair(t)
	var bLog conflictLog
	if err := a.Setup(context.Background(), nil); err != nil {
		t.Fatalf("a.Setup: %v", err)
	}
	if err := b.Setup(context.Background(), bLog.record); err != nil {
		t.Fatalf("b.Setup: %v", err)
	}

	clock.Advance(time.Minute)
	if peers := b.Check(); len(peers) != 0 {
		t.Fatalf("expected stale peer to be ignored, got %+v", peers)
	}
	a.Check()
	b.Check()
	if bLog.count() != 2 {
		t.Fatalf("expected conflict to re-arm after staleness, got %d", bLog.count())
	}
}

func TestCleanupUnregistersWriter(t *testing.T) {
	a, b, _ := newPair(t)
	if err := a.Setup(context.Background(), nil); err != nil {
		t.Fatalf("a.Setup: %v", err)
	}
	if err := b.Setup(context.Background(), nil); err != nil {
		t.Fatalf("b.Setup: %v", err)
	}
	if err := a.Cleanup(); err != nil {
		t.Fatalf("a.Cleanup: %v", err)
	}
	if peers := b.Check(); len(peers) != 0 {
		t.Fatalf("expected no peers after cleanup, got %+v", peers)
	}
	if !b.HoldsLock() {
		t.Fatal("remaining writer should take over the writer lock")
	}
	if err := a.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
}

func TestScanReportsRoleWithoutRegistering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	runner := coordinator.New(cfg.Workspace.Root, cfg, logging.NewNop(),
		coordinator.WithSessionID("runner"),
		coordinator.WithRole(coordinator.RoleRun),
		coordinator.WithClock(clock.Now),
		coordinator.WithTiming(time.Hour, 20*time.Second),
	)
	observer := coordinator.New(cfg.Workspace.Root, cfg, logging.NewNop(),
		coordinator.WithSessionID("observer"),
		coordinator.WithClock(clock.Now),
		coordinator.WithTiming(time.Hour, 20*time.Second),
	)
	t.Cleanup(func() { _ = runner.Cleanup() })

	if peers := observer.Scan(); len(peers) != 0 {
		t.Fatalf("expected no peers before setup, got %+v", peers)
	}
	if err := runner.Setup(context.Background(), nil); err != nil {
		t.Fatalf("runner.Setup: %v", err)
	}
	peers := observer.Scan()
	if len(peers) != 1 || peers[0].SessionID != "runner" || !peers[0].Runs() {
		t.Fatalf("expected the running writer, got %+v", peers)
	}
	if got := runner.Check(); len(got) != 0 {
		t.Fatalf("scanning must not register the observer, runner saw %+v", got)
	}
}
