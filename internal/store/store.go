// Package store defines the occupancy ledger: durable per-space status and
// the history of occupancy intervals.
package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// Store defines the persistence interface for the occupancy ledger.
//
// Writes are idempotent under retry: closing an already closed interval is a
// no-op, and re-opening a space with the same entry time and occupant class
// as its open interval returns that interval's ID. Any other attempt to open
// a second interval for a space fails with model.ErrIntervalOpen.
type Store interface {
	// Spaces
	EnsureSpaces(ctx context.Context, zones []model.Zone) error
	GetCurrentStatus(ctx context.Context, spaceID string) (model.Status, error)
	GetSpaceState(ctx context.Context, spaceID string) (*model.SpaceState, error)
	ListSpaceStates(ctx context.Context) ([]*model.SpaceState, error)
	SaveSpaceState(ctx context.Context, state *model.SpaceState) error

	// Occupancy intervals
	OpenInterval(ctx context.Context, spaceID string, entry time.Time, isVehicle bool) (string, error)
	CloseInterval(ctx context.Context, id string, departure time.Time) error
	GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error)
	GetOpenInterval(ctx context.Context, spaceID string) (*model.OccupancyInterval, error)
	ListIntervals(ctx context.Context, filter model.IntervalFilter) ([]*model.OccupancyInterval, error)

	// Reports
	HourlyEntries(ctx context.Context, from, to time.Time, loc *time.Location) (map[int]int, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
