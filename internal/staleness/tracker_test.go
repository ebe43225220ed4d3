package staleness

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source for deterministic sweeps.
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(cfg Config, ids ...string) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	tr := New(nil, cfg)
	tr.now = clock.Now
	for _, id := range ids {
		tr.spaces[id] = &spaceState{lastSeen: clock.Now()}
	}
	return tr, clock
}

func TestTouch_RecordsSamples(t *testing.T) {
	tr, clock := newTestTracker(Config{StaleAfter: 30 * time.Second}, "A1", "A2")

	clock.Advance(5 * time.Second)
	tr.Touch("A1", clock.Now())
	tr.Touch("A1", clock.Now())
	tr.Touch("ZZ", clock.Now()) // unknown space is ignored

	if len(tr.spaces) != 2 {
		t.Fatalf("expected 2 spaces, got %d", len(tr.spaces))
	}
	a1 := tr.spaces["A1"]
	if a1.samples != 2 || !a1.lastSeen.Equal(clock.Now()) {
		t.Errorf("A1 = %+v", *a1)
	}
	if a2 := tr.spaces["A2"]; a2.samples != 0 || clock.Now().Sub(a2.lastSeen) != 5*time.Second {
		t.Errorf("A2 = %+v", *a2)
	}
}

func TestTouch_IgnoresOlderSample(t *testing.T) {
	tr, clock := newTestTracker(Config{}, "A1")
	clock.Advance(10 * time.Second)
	later := clock.Now()
	tr.Touch("A1", later)
	tr.Touch("A1", later.Add(-5*time.Second))

	if got := tr.spaces["A1"].lastSeen; !got.Equal(later) {
		t.Errorf("last seen moved back to %v", got)
	}
}

func TestSweep_MarksStaleAndFresh(t *testing.T) {
	var (
		stale []string
		fresh []string
	)
	tr, clock := newTestTracker(Config{
		StaleAfter: 30 * time.Second,
		OnStale:    func(id string, _ time.Time) { stale = append(stale, id) },
		OnFresh:    func(id string, _ time.Time) { fresh = append(fresh, id) },
	}, "A1", "A2")

	clock.Advance(20 * time.Second)
	tr.Touch("A1", clock.Now())
	clock.Advance(20 * time.Second)
	tr.sweep()

	if !tr.IsStale("A2") || tr.IsStale("A1") {
		t.Fatalf("A1 stale=%v A2 stale=%v", tr.IsStale("A1"), tr.IsStale("A2"))
	}
	if len(stale) != 1 || stale[0] != "A2" {
		t.Errorf("OnStale calls = %v", stale)
	}
	if tr.StaleCount() != 1 || tr.AllStale() {
		t.Errorf("StaleCount=%d AllStale=%v", tr.StaleCount(), tr.AllStale())
	}

	// A second sweep does not re-report.
	tr.sweep()
	if len(stale) != 1 {
		t.Errorf("OnStale called again: %v", stale)
	}

	tr.Touch("A2", clock.Now())
	if tr.IsStale("A2") {
		t.Error("A2 should be fresh after a sample")
	}
	if len(fresh) != 1 || fresh[0] != "A2" {
		t.Errorf("OnFresh calls = %v", fresh)
	}
}

func TestAllStale(t *testing.T) {
	tr, clock := newTestTracker(Config{StaleAfter: time.Second}, "A1", "A2")
	if tr.AllStale() {
		t.Fatal("fresh tracker should not be all stale")
	}
	clock.Advance(2 * time.Second)
	tr.sweep()
	if !tr.AllStale() {
		t.Error("expected every space stale")
	}

	empty, _ := newTestTracker(Config{})
	if empty.AllStale() {
		t.Error("tracker without spaces is never all stale")
	}
}

func TestReaper_StartStop(t *testing.T) {
	var mu sync.Mutex
	var stale []string
	tr := New([]string{"A1"}, Config{
		StaleAfter:    20 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
		OnStale: func(id string, _ time.Time) {
			mu.Lock()
			stale = append(stale, id)
			mu.Unlock()
		},
	})
	tr.StartReaper()
	defer tr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.IsStale("A1") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !tr.IsStale("A1") {
		t.Fatal("reaper never marked A1 stale")
	}
	tr.Stop()
	tr.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	if len(stale) != 1 {
		t.Errorf("OnStale calls = %v", stale)
	}
}
