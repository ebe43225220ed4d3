// Package memory implements store.Store in process memory. It backs
// single-node demos and tests, and follows the same idempotence and
// consistency rules as the PostgreSQL ledger.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/idgen"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
)

// MemoryStore implements store.Store with a mutex-guarded dataset.
// Transactions write to the live dataset and journal the prior value of
// every record they touch; rollback replays the journal.
type MemoryStore struct {
	mu     sync.Mutex
	data   *dataset
	now    func() time.Time
	closed bool
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New returns an empty ledger.
func New() *MemoryStore {
	return &MemoryStore{data: newDataset(), now: time.Now}
}

func (s *MemoryStore) do(fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return fn(s.data)
}

func (s *MemoryStore) EnsureSpaces(ctx context.Context, zones []model.Zone) error {
	return s.do(func(d *dataset) error { return d.ensureSpaces(zones, s.now()) })
}

func (s *MemoryStore) GetCurrentStatus(ctx context.Context, spaceID string) (model.Status, error) {
	var st model.Status
	err := s.do(func(d *dataset) (err error) { st, err = d.currentStatus(spaceID); return })
	return st, err
}

func (s *MemoryStore) GetSpaceState(ctx context.Context, spaceID string) (*model.SpaceState, error) {
	var out *model.SpaceState
	err := s.do(func(d *dataset) (err error) { out, err = d.spaceState(spaceID); return })
	return out, err
}

func (s *MemoryStore) ListSpaceStates(ctx context.Context) ([]*model.SpaceState, error) {
	var out []*model.SpaceState
	err := s.do(func(d *dataset) error { out = d.listSpaceStates(); return nil })
	return out, err
}

func (s *MemoryStore) SaveSpaceState(ctx context.Context, state *model.SpaceState) error {
	return s.do(func(d *dataset) error { return d.saveSpaceState(state) })
}

func (s *MemoryStore) OpenInterval(ctx context.Context, spaceID string, entry time.Time, isVehicle bool) (string, error) {
	var id string
	err := s.do(func(d *dataset) (err error) { id, err = d.openInterval(spaceID, entry, isVehicle); return })
	return id, err
}

func (s *MemoryStore) CloseInterval(ctx context.Context, id string, departure time.Time) error {
	return s.do(func(d *dataset) error { return d.closeInterval(id, departure) })
}

func (s *MemoryStore) GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error) {
	var out *model.OccupancyInterval
	err := s.do(func(d *dataset) (err error) { out, err = d.interval(id); return })
	return out, err
}

func (s *MemoryStore) GetOpenInterval(ctx context.Context, spaceID string) (*model.OccupancyInterval, error) {
	var out *model.OccupancyInterval
	err := s.do(func(d *dataset) (err error) { out, err = d.openIntervalFor(spaceID); return })
	return out, err
}

func (s *MemoryStore) ListIntervals(ctx context.Context, filter model.IntervalFilter) ([]*model.OccupancyInterval, error) {
	var out []*model.OccupancyInterval
	err := s.do(func(d *dataset) error { out = d.listIntervals(filter); return nil })
	return out, err
}

func (s *MemoryStore) HourlyEntries(ctx context.Context, from, to time.Time, loc *time.Location) (map[int]int, error) {
	var out map[int]int
	err := s.do(func(d *dataset) error { out = d.hourlyEntries(from, to, loc); return nil })
	return out, err
}

// RunInTransaction runs fn under the store lock and undoes its writes unless
// fn succeeds. Other callers block until the transaction finishes.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	s.data.begin()
	// Rolls back on error and on panic.
	defer s.data.rollback()

	if err := fn(&txStore{data: s.data, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.data.commit()
	return nil
}

// Close marks the store closed; later calls fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// txStore implements store.Store inside a transaction. The parent store's
// lock is held for the transaction's lifetime.
type txStore struct {
	data *dataset
	now  func() time.Time
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) EnsureSpaces(ctx context.Context, zones []model.Zone) error {
	return s.data.ensureSpaces(zones, s.now())
}

func (s *txStore) GetCurrentStatus(ctx context.Context, spaceID string) (model.Status, error) {
	return s.data.currentStatus(spaceID)
}

func (s *txStore) GetSpaceState(ctx context.Context, spaceID string) (*model.SpaceState, error) {
	return s.data.spaceState(spaceID)
}

func (s *txStore) ListSpaceStates(ctx context.Context) ([]*model.SpaceState, error) {
	return s.data.listSpaceStates(), nil
}

func (s *txStore) SaveSpaceState(ctx context.Context, state *model.SpaceState) error {
	return s.data.saveSpaceState(state)
}

func (s *txStore) OpenInterval(ctx context.Context, spaceID string, entry time.Time, isVehicle bool) (string, error) {
	return s.data.openInterval(spaceID, entry, isVehicle)
}

func (s *txStore) CloseInterval(ctx context.Context, id string, departure time.Time) error {
	return s.data.closeInterval(id, departure)
}

func (s *txStore) GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error) {
	return s.data.interval(id)
}

func (s *txStore) GetOpenInterval(ctx context.Context, spaceID string) (*model.OccupancyInterval, error) {
	return s.data.openIntervalFor(spaceID)
}

func (s *txStore) ListIntervals(ctx context.Context, filter model.IntervalFilter) ([]*model.OccupancyInterval, error) {
	return s.data.listIntervals(filter), nil
}

func (s *txStore) HourlyEntries(ctx context.Context, from, to time.Time, loc *time.Location) (map[int]int, error) {
	return s.data.hourlyEntries(from, to, loc), nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store.
func (s *txStore) Close() error {
	return nil
}

// dataset is the ledger content. Values are never shared with callers.
type dataset struct {
	spaces    map[string]*model.SpaceState
	intervals map[string]*model.OccupancyInterval
	open      map[string]string // space id -> open interval id

	// undo is non-nil while a transaction is running.
	undo []func()
}

func newDataset() *dataset {
	return &dataset{
		spaces:    make(map[string]*model.SpaceState),
		intervals: make(map[string]*model.OccupancyInterval),
		open:      make(map[string]string),
	}
}

func (d *dataset) begin() {
	d.undo = make([]func(), 0, 8)
}

func (d *dataset) commit() {
	d.undo = nil
}

// rollback restores every journaled record, newest first. It is a no-op
// after commit.
func (d *dataset) rollback() {
	for i := len(d.undo) - 1; i >= 0; i-- {
		d.undo[i]()
	}
	d.undo = nil
}

func (d *dataset) touchSpace(id string) {
	if d.undo == nil {
		return
	}
	prev, ok := d.spaces[id]
	d.undo = append(d.undo, func() {
		if ok {
			d.spaces[id] = prev
		} else {
			delete(d.spaces, id)
		}
	})
}

func (d *dataset) touchInterval(id string) {
	if d.undo == nil {
		return
	}
	var prev *model.OccupancyInterval
	if iv, ok := d.intervals[id]; ok {
		prev = copyInterval(iv)
	}
	d.undo = append(d.undo, func() {
		if prev != nil {
			d.intervals[id] = prev
		} else {
			delete(d.intervals, id)
		}
	})
}

func (d *dataset) touchOpen(spaceID string) {
	if d.undo == nil {
		return
	}
	prev, ok := d.open[spaceID]
	d.undo = append(d.undo, func() {
		if ok {
			d.open[spaceID] = prev
		} else {
			delete(d.open, spaceID)
		}
	})
}

func (d *dataset) ensureSpaces(zones []model.Zone, now time.Time) error {
	for _, z := range zones {
		if _, ok := d.spaces[z.ID]; ok {
			continue
		}
		st := model.NewSpaceState(z)
		st.UpdatedAt = now
		d.touchSpace(z.ID)
		d.spaces[z.ID] = st
	}
	return nil
}

func (d *dataset) currentStatus(spaceID string) (model.Status, error) {
	sp, ok := d.spaces[spaceID]
	if !ok {
		return "", fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	return sp.Status, nil
}

func (d *dataset) spaceState(spaceID string) (*model.SpaceState, error) {
	sp, ok := d.spaces[spaceID]
	if !ok {
		return nil, fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	return copySpace(sp), nil
}

func (d *dataset) listSpaceStates() []*model.SpaceState {
	out := make([]*model.SpaceState, 0, len(d.spaces))
	for _, id := range slices.Sorted(maps.Keys(d.spaces)) {
		out = append(out, copySpace(d.spaces[id]))
	}
	return out
}

func (d *dataset) saveSpaceState(state *model.SpaceState) error {
	if _, ok := d.spaces[state.SpaceID]; !ok {
		return fmt.Errorf("space %s: %w", state.SpaceID, model.ErrNotFound)
	}
	if !state.Status.IsValid() {
		return fmt.Errorf("space %s: invalid status %q", state.SpaceID, state.Status)
	}
	if !state.Consistent() {
		return fmt.Errorf("space %s: status %s inconsistent with occupancy %q",
			state.SpaceID, state.Status, state.CurrentOccupancyID)
	}
	if state.CurrentOccupancyID != "" {
		if _, ok := d.intervals[state.CurrentOccupancyID]; !ok {
			return fmt.Errorf("occupancy %s: %w", state.CurrentOccupancyID, model.ErrNotFound)
		}
	}
	d.touchSpace(state.SpaceID)
	d.spaces[state.SpaceID] = copySpace(state)
	return nil
}

func (d *dataset) openInterval(spaceID string, entry time.Time, isVehicle bool) (string, error) {
	if _, ok := d.spaces[spaceID]; !ok {
		return "", fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	if openID, ok := d.open[spaceID]; ok {
		cur := d.intervals[openID]
		if cur.EnteredAt.Equal(entry) && cur.IsVehicle == isVehicle {
			return cur.ID, nil
		}
		return "", fmt.Errorf("space %s (open %s): %w", spaceID, openID, model.ErrIntervalOpen)
	}
	id, err := idgen.IntervalID()
	if err != nil {
		return "", err
	}
	d.touchInterval(id)
	d.touchOpen(spaceID)
	d.intervals[id] = &model.OccupancyInterval{
		ID:        id,
		SpaceID:   spaceID,
		EnteredAt: entry,
		IsVehicle: isVehicle,
	}
	d.open[spaceID] = id
	return id, nil
}

func (d *dataset) closeInterval(id string, departure time.Time) error {
	iv, ok := d.intervals[id]
	if !ok {
		return fmt.Errorf("occupancy %s: %w", id, model.ErrNotFound)
	}
	if !iv.IsOpen() {
		return nil
	}
	if departure.Before(iv.EnteredAt) {
		return fmt.Errorf("occupancy %s: departure %s before entry %s", id,
			departure.Format(time.RFC3339Nano), iv.EnteredAt.Format(time.RFC3339Nano))
	}
	d.touchInterval(id)
	d.touchOpen(iv.SpaceID)
	iv.CloseAt(departure)
	delete(d.open, iv.SpaceID)
	return nil
}

func (d *dataset) interval(id string) (*model.OccupancyInterval, error) {
	iv, ok := d.intervals[id]
	if !ok {
		return nil, fmt.Errorf("occupancy %s: %w", id, model.ErrNotFound)
	}
	return copyInterval(iv), nil
}

func (d *dataset) openIntervalFor(spaceID string) (*model.OccupancyInterval, error) {
	id, ok := d.open[spaceID]
	if !ok {
		return nil, fmt.Errorf("open occupancy for %s: %w", spaceID, model.ErrNotFound)
	}
	return copyInterval(d.intervals[id]), nil
}

func (d *dataset) listIntervals(f model.IntervalFilter) []*model.OccupancyInterval {
	var out []*model.OccupancyInterval
	for _, iv := range d.intervals {
		switch {
		case f.SpaceID != "" && iv.SpaceID != f.SpaceID:
			continue
		case f.OpenOnly && !iv.IsOpen():
			continue
		case f.VehiclesOnly && !iv.IsVehicle:
			continue
		case f.Since != nil && iv.EnteredAt.Before(*f.Since):
			continue
		case f.Until != nil && !iv.EnteredAt.Before(*f.Until):
			continue
		}
		out = append(out, copyInterval(iv))
	}
	// Newest first, matching the SQL ledger.
	slices.SortFunc(out, func(a, b *model.OccupancyInterval) int {
		if c := b.EnteredAt.Compare(a.EnteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (d *dataset) hourlyEntries(from, to time.Time, loc *time.Location) map[int]int {
	if loc == nil {
		loc = time.UTC
	}
	counts := make(map[int]int)
	for _, iv := range d.intervals {
		if !iv.IsVehicle || iv.EnteredAt.Before(from) || !iv.EnteredAt.Before(to) {
			continue
		}
		counts[iv.EnteredAt.In(loc).Hour()]++
	}
	return counts
}

func copySpace(s *model.SpaceState) *model.SpaceState {
	c := *s
	return &c
}

func copyInterval(iv *model.OccupancyInterval) *model.OccupancyInterval {
	c := *iv
	if iv.DepartedAt != nil {
		t := *iv.DepartedAt
		c.DepartedAt = &t
	}
	if iv.Duration != nil {
		d := *iv.Duration
		c.Duration = &d
	}
	return &c
}
