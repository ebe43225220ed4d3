// Package reconcile turns per-sample detections into committed space status
// changes and occupancy intervals.
//
// The engine owns the live state table. Process is its only writer and must
// be fed samples in temporal order; Snapshot and Space are read-only
// accessors that may be called from any goroutine.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/events"
	"github.com/alfredjeanlab/atlasgrid/internal/idgen"
	"github.com/alfredjeanlab/atlasgrid/internal/metrics"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/retry"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
	"github.com/alfredjeanlab/atlasgrid/internal/zone"
)

// ClassChange selects what happens to an open interval when the occupant
// switches between vehicle and obstacle without an available sample between.
type ClassChange string

const (
	// ClassChangeSplit closes the open interval and opens a new one in the
	// same ledger transaction.
	ClassChangeSplit ClassChange = "split"
	// ClassChangeMerge keeps the open interval and only updates the status.
	ClassChangeMerge ClassChange = "merge"
)

// ParseClassChange converts a configuration value into a ClassChange.
func ParseClassChange(v string) (ClassChange, error) {
	switch c := ClassChange(v); c {
	case ClassChangeSplit, ClassChangeMerge:
		return c, nil
	}
	return "", fmt.Errorf("invalid class change policy %q (want split or merge)", v)
}

// DefaultDebounceSamples is the number of consecutive agreeing samples
// required before a transition is committed.
const DefaultDebounceSamples = 2

// Sample is one processed frame: its position in the sampled sequence, its
// wall-clock capture time, and either the detector output or the failure
// that prevented it.
type Sample struct {
	Index      uint64
	Time       time.Time
	Detections []model.Detection
	Err        error
}

// Liveness records when spaces last received a processed sample.
type Liveness interface {
	Touch(spaceID string, at time.Time)
	IsStale(spaceID string) bool
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Classifier      *Classifier
	Publisher       events.Publisher
	Tracker         Liveness
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	DebounceSamples int
	ClassChange     ClassChange
	Retry           retry.Config
	RunID           string
}

// slot is the live state of one zone. Index matches the registry order.
type slot struct {
	zone           model.Zone
	state          model.SpaceState
	debounce       Debounce
	verdict        Verdict
	lastSeen       time.Time
	lastSeenSample uint64
}

// Engine is the reconciliation state machine for every zone of one camera.
type Engine struct {
	reg        *zone.Registry
	matcher    *zone.Matcher
	ledger     store.Store
	classifier *Classifier
	publisher  events.Publisher
	tracker    Liveness
	metrics    *metrics.Metrics
	logger     *slog.Logger
	k          int
	change     ClassChange
	retry      retry.Config
	runID      string

	procMu sync.Mutex // serializes Process and Restore

	mu    sync.RWMutex // guards slots for readers
	slots []slot
}

// New creates an engine with every zone Available and no open interval.
// Call Restore before the first Process to register the zones in the ledger
// and adopt state left by a previous run.
func New(reg *zone.Registry, matcher *zone.Matcher, ledger store.Store, opts Options) *Engine {
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(0.5, nil)
	}
	if opts.Publisher == nil {
		opts.Publisher = &events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DebounceSamples < 1 {
		opts.DebounceSamples = DefaultDebounceSamples
	}
	if opts.ClassChange == "" {
		opts.ClassChange = ClassChangeSplit
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.RunID == "" {
		opts.RunID = idgen.RunID()
	}

	e := &Engine{
		reg:        reg,
		matcher:    matcher,
		ledger:     ledger,
		classifier: opts.Classifier,
		publisher:  opts.Publisher,
		tracker:    opts.Tracker,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		k:          opts.DebounceSamples,
		change:     opts.ClassChange,
		retry:      opts.Retry,
		runID:      opts.RunID,
		slots:      make([]slot, reg.Len()),
	}
	for i, z := range reg.Zones() {
		e.slots[i] = slot{zone: z, state: *model.NewSpaceState(z)}
	}
	return e
}

// RunID returns the identifier stamped on this engine's events.
func (e *Engine) RunID() string {
	return e.runID
}

// Restore registers every zone in the ledger and adopts the persisted state,
// including any interval left open by a previous run. The ledger's open
// intervals win over a stored status that disagrees with them. Each zone is
// read and repaired in its own transaction.
func (e *Engine) Restore(ctx context.Context) error {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if err := e.ledger.EnsureSpaces(ctx, e.reg.Zones()); err != nil {
		return model.NewFailure(model.PersistenceFailure, "restore", err)
	}

	restored := make([]model.SpaceState, len(e.slots))
	adopted := 0
	for i := range e.slots {
		z := e.slots[i].zone
		var st model.SpaceState
		var open bool
		err := e.ledger.RunInTransaction(ctx, func(tx store.Store) error {
			var err error
			st, open, err = e.restoreZone(ctx, tx, z)
			return err
		})
		if err != nil {
			return model.NewFailure(model.PersistenceFailure, "restore "+z.ID, err)
		}
		if open {
			adopted++
		}
		restored[i] = st
	}

	e.mu.Lock()
	for i := range e.slots {
		e.slots[i].state = restored[i]
		e.slots[i].debounce = Debounce{}
		e.slots[i].verdict = Verdict{Status: restored[i].Status}
	}
	e.mu.Unlock()

	e.logger.Info("reconcile: state restored", "zones", len(restored), "open_intervals", adopted)
	e.metrics.SetSpaces(e.Stats())
	return nil
}

// restoreZone reconciles one zone's stored state with its open interval and
// saves the repaired state when they disagree. open reports whether the zone
// has an open interval.
func (e *Engine) restoreZone(ctx context.Context, tx store.Store, z model.Zone) (model.SpaceState, bool, error) {
	st := *model.NewSpaceState(z)
	stored, err := tx.GetSpaceState(ctx, z.ID)
	switch {
	case err == nil:
		st = *stored
		st.Section = z.Section
	case !errors.Is(err, model.ErrNotFound):
		return st, false, err
	}

	iv, err := tx.GetOpenInterval(ctx, z.ID)
	open := err == nil
	repaired := false
	switch {
	case open:
		if !st.Status.IsOccupied() || st.CurrentOccupancyID != iv.ID {
			e.logger.Warn("reconcile: stored status disagrees with open interval, adopting interval",
				"zone", z.ID, "status", st.Status, "occupancy", iv.ID)
			st.Status = model.StatusForOccupant(iv.IsVehicle)
			st.CurrentOccupancyID = iv.ID
			repaired = true
		}
	case errors.Is(err, model.ErrNotFound):
		if st.Status != model.StatusAvailable || st.CurrentOccupancyID != "" {
			e.logger.Warn("reconcile: stored status has no open interval, resetting to available",
				"zone", z.ID, "status", st.Status, "occupancy", st.CurrentOccupancyID)
			st.Status = model.StatusAvailable
			st.CurrentOccupancyID = ""
			repaired = true
		}
	default:
		return st, false, err
	}
	if repaired {
		if err := tx.SaveSpaceState(ctx, &st); err != nil {
			return st, false, err
		}
	}
	return st, open, nil
}

// Process reconciles one sample against every zone in registry order.
//
// A sample carrying an error is skipped: debounce counters are neither
// advanced nor reset and last-seen times are not refreshed. Persistence
// failures leave the affected zone's committed state unchanged; the
// remaining zones are still processed and the failures are returned joined.
func (e *Engine) Process(ctx context.Context, s Sample) error {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if s.Err != nil {
		kind := model.KindOf(s.Err)
		if kind == 0 {
			kind = model.DetectionFailure
		}
		e.metrics.Failure(kind)
		e.logger.Debug("reconcile: sample skipped", "sample", s.Index, "kind", kind, "err", s.Err)
		return nil
	}

	evidence := e.matcher.Match(s.Detections)
	var errs []error
	for i := range e.slots {
		if err := e.reconcileZone(ctx, i, s, evidence[e.slots[i].zone.ID]); err != nil {
			errs = append(errs, err)
		}
	}
	e.metrics.SetSpaces(e.Stats())
	return errors.Join(errs...)
}

func (e *Engine) reconcileZone(ctx context.Context, i int, s Sample, evidence []model.Detection) error {
	sl := &e.slots[i]
	verdict := e.classifier.Classify(evidence)
	prev := sl.debounce
	next, due := Reduce(prev, verdict.Status, sl.state.Status, e.k)
	if !prev.Idle() && next.Pending != prev.Pending {
		e.metrics.Flicker()
	}

	e.mu.Lock()
	sl.debounce = next
	sl.verdict = verdict
	if s.Time.After(sl.lastSeen) {
		sl.lastSeen = s.Time
	}
	sl.lastSeenSample = s.Index
	e.mu.Unlock()

	if e.tracker != nil {
		e.tracker.Touch(sl.zone.ID, s.Time)
	}
	if !due {
		return nil
	}
	return e.commit(ctx, sl, next.Pending, s)
}

// commit persists a debounced transition as one ledger transaction and
// updates the live state only after it succeeds.
func (e *Engine) commit(ctx context.Context, sl *slot, to model.Status, s Sample) error {
	z := sl.zone
	from := sl.state.Status
	start := time.Now()

	var (
		committed model.SpaceState
		opened    *model.OccupancyInterval
		closed    *model.OccupancyInterval
	)
	cfg := e.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error) {
		e.metrics.PersistRetry()
		e.logger.Warn("reconcile: ledger write failed, retrying",
			"zone", z.ID, "from", from, "to", to, "attempt", attempt, "err", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	err := retry.Do(ctx, cfg, func() error {
		opened, closed = nil, nil
		err := e.ledger.RunInTransaction(ctx, func(tx store.Store) error {
			st := sl.state
			st.Status = to
			st.LastChangedSample = s.Index
			st.UpdatedAt = s.Time

			var err error
			switch {
			case from == model.StatusAvailable:
				opened, err = openInterval(ctx, tx, z.ID, s.Time, to)
				if err != nil {
					return err
				}
				st.CurrentOccupancyID = opened.ID
			case to == model.StatusAvailable:
				if closed, err = closeInterval(ctx, tx, st.CurrentOccupancyID, s.Time); err != nil {
					return err
				}
				st.CurrentOccupancyID = ""
			case e.change == ClassChangeMerge:
			default:
				if closed, err = closeInterval(ctx, tx, st.CurrentOccupancyID, s.Time); err != nil {
					return err
				}
				if opened, err = openInterval(ctx, tx, z.ID, s.Time, to); err != nil {
					return err
				}
				st.CurrentOccupancyID = opened.ID
			}

			if err := tx.SaveSpaceState(ctx, &st); err != nil {
				return err
			}
			committed = st
			return nil
		})
		if errors.Is(err, model.ErrIntervalOpen) || errors.Is(err, model.ErrNotFound) {
			return retry.NonRetryable(err)
		}
		return err
	})
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.Commit(elapsed, false)
		e.logger.Error("reconcile: transition not committed",
			"zone", z.ID, "from", from, "to", to, "sample", s.Index, "err", err)
		return model.NewFailure(model.PersistenceFailure, "commit "+z.ID, err)
	}

	e.mu.Lock()
	sl.state = committed
	sl.debounce = Debounce{}
	e.mu.Unlock()

	e.metrics.Commit(elapsed, true)
	e.metrics.Transition(from, to)
	e.logger.Info("reconcile: transition committed",
		"zone", z.ID, "from", from, "to", to, "sample", s.Index, "occupancy", committed.CurrentOccupancyID)

	if closed != nil {
		e.publish(ctx, events.TopicOccupancyClosed, events.OccupancyClosed{RunID: e.runID, Section: z.Section, Interval: closed})
	}
	if opened != nil {
		e.publish(ctx, events.TopicOccupancyOpened, events.OccupancyOpened{RunID: e.runID, Section: z.Section, Interval: opened})
	}
	e.publish(ctx, events.TopicStatusChanged, events.StatusChanged{
		RunID:       e.runID,
		SpaceID:     z.ID,
		Section:     z.Section,
		From:        from,
		To:          to,
		OccupancyID: committed.CurrentOccupancyID,
		Sample:      s.Index,
		At:          s.Time,
	})
	return nil
}

// openInterval opens an interval and reads it back so callers see the
// ledger's stored entry time.
func openInterval(ctx context.Context, tx store.Store, spaceID string, at time.Time, to model.Status) (*model.OccupancyInterval, error) {
	id, err := tx.OpenInterval(ctx, spaceID, at, to == model.StatusOccupied)
	if err != nil {
		return nil, err
	}
	return tx.GetInterval(ctx, id)
}

// closeInterval closes id and reads it back with its derived duration. An
// empty id means nothing is open and nothing is closed.
func closeInterval(ctx context.Context, tx store.Store, id string, at time.Time) (*model.OccupancyInterval, error) {
	if id == "" {
		return nil, nil
	}
	if err := tx.CloseInterval(ctx, id, at); err != nil {
		return nil, err
	}
	return tx.GetInterval(ctx, id)
}

// publish emits an event after a successful commit. Failures are logged and
// counted; the ledger is the source of truth.
func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		e.metrics.PublishFailed(topic)
		e.logger.Warn("reconcile: publish failed", "topic", topic, "space", events.KeyOf(event), "err", err)
	}
}

// Snapshot returns the live state of every zone in registry order.
func (e *Engine) Snapshot() []model.SpaceSnapshot {
	e.mu.RLock()
	out := make([]model.SpaceSnapshot, len(e.slots))
	for i := range e.slots {
		out[i] = e.slots[i].snapshot()
	}
	e.mu.RUnlock()

	if e.tracker != nil {
		for i := range out {
			out[i].Stale = e.tracker.IsStale(out[i].SpaceID)
		}
	}
	return out
}

// Space returns the live state of one zone.
func (e *Engine) Space(id string) (model.SpaceSnapshot, bool) {
	i, ok := e.reg.Index(id)
	if !ok {
		return model.SpaceSnapshot{}, false
	}
	e.mu.RLock()
	snap := e.slots[i].snapshot()
	e.mu.RUnlock()

	if e.tracker != nil {
		snap.Stale = e.tracker.IsStale(id)
	}
	return snap, true
}

// Stats summarises the live state.
func (e *Engine) Stats() model.Stats {
	return model.ComputeStats(e.Snapshot())
}

func (sl *slot) snapshot() model.SpaceSnapshot {
	return model.SpaceSnapshot{
		SpaceState:     sl.state,
		PendingStatus:  sl.debounce.Pending,
		PendingCount:   sl.debounce.Count,
		Label:          sl.verdict.Label,
		Confidence:     sl.verdict.Confidence,
		LastSeen:       sl.lastSeen,
		LastSeenSample: sl.lastSeenSample,
	}
}
