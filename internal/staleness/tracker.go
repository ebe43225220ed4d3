// Package staleness tracks when each parking space last received a
// processed sample. A background reaper marks spaces stale once they go
// quiet for longer than a threshold, so dashboards can tell a confirmed
// status from one that is merely the last known value.
package staleness

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Config configures the reaper.
type Config struct {
	// StaleAfter is how long a space may go without a sample before it is
	// reported stale. Default: 30 seconds.
	StaleAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: StaleAfter / 3.
	SweepInterval time.Duration

	// OnStale is called for each space newly marked stale, outside the lock.
	OnStale func(spaceID string, lastSeen time.Time)

	// OnFresh is called when a stale space receives a sample again, outside
	// the lock.
	OnFresh func(spaceID string, at time.Time)
}

// Tracker holds per-space liveness. Only registered spaces are tracked.
type Tracker struct {
	mu     sync.RWMutex
	spaces map[string]*spaceState
	cfg    Config
	now    func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type spaceState struct {
	lastSeen   time.Time
	samples    int64
	stale      bool
	staleSince time.Time
}

// New creates a tracker for the given spaces. Every space starts as seen at
// creation time, so one that never receives a sample turns stale after
// StaleAfter.
func New(spaceIDs []string, cfg Config) *Tracker {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = max(cfg.StaleAfter/3, 10*time.Millisecond)
	}
	t := &Tracker{
		spaces: make(map[string]*spaceState, len(spaceIDs)),
		cfg:    cfg,
		now:    time.Now,
	}
	start := t.now()
	for _, id := range spaceIDs {
		t.spaces[id] = &spaceState{lastSeen: start}
	}
	return t
}

// Touch records a processed sample for a space taken at the given time.
// Samples older than the latest one seen are ignored.
func (t *Tracker) Touch(spaceID string, at time.Time) {
	t.mu.Lock()
	state, ok := t.spaces[spaceID]
	if !ok {
		t.mu.Unlock()
		return
	}
	state.samples++
	if at.After(state.lastSeen) {
		state.lastSeen = at
	}
	revived := state.stale && t.now().Sub(state.lastSeen) <= t.cfg.StaleAfter
	if revived {
		state.stale = false
		state.staleSince = time.Time{}
	}
	t.mu.Unlock()

	if revived {
		slog.Info("staleness: space fresh again", "space", spaceID)
		if t.cfg.OnFresh != nil {
			t.cfg.OnFresh(spaceID, at)
		}
	}
}

// IsStale reports whether a space is currently marked stale. Unknown spaces
// are never stale.
func (t *Tracker) IsStale(spaceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.spaces[spaceID]
	return ok && state.stale
}

// StaleCount returns how many spaces are marked stale.
func (t *Tracker) StaleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, state := range t.spaces {
		if state.stale {
			n++
		}
	}
	return n
}

// AllStale reports whether every tracked space is stale, meaning the
// monitor has effectively lost sight of the lot.
func (t *Tracker) AllStale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.spaces) == 0 {
		return false
	}
	for _, state := range t.spaces {
		if !state.stale {
			return false
		}
	}
	return true
}

// StartReaper launches the background sweep. Call Stop to shut it down.
func (t *Tracker) StartReaper() {
	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop()
	slog.Info("staleness: reaper started",
		"stale_after", t.cfg.StaleAfter,
		"sweep_interval", t.cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop() {
	defer close(t.reaperDone)

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	now := t.now()

	type staleSpace struct {
		id       string
		lastSeen time.Time
	}
	var newlyStale []staleSpace

	t.mu.Lock()
	for id, state := range t.spaces {
		if state.stale {
			continue
		}
		if now.Sub(state.lastSeen) > t.cfg.StaleAfter {
			state.stale = true
			state.staleSince = now
			newlyStale = append(newlyStale, staleSpace{id: id, lastSeen: state.lastSeen})
		}
	}
	t.mu.Unlock()

	slices.SortFunc(newlyStale, func(a, b staleSpace) int { return cmp.Compare(a.id, b.id) })
	for _, s := range newlyStale {
		slog.Warn("staleness: space has no recent samples",
			"space", s.id,
			"last_seen", s.lastSeen,
			"threshold", t.cfg.StaleAfter)
		if t.cfg.OnStale != nil {
			t.cfg.OnStale(s.id, s.lastSeen)
		}
	}
}
