// Package client provides a transport-agnostic interface for the atlasgrid
// read API and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// OccupancyClient is the interface CLI commands use to query a running
// atlasgrid server.
type OccupancyClient interface {
	// Live state
	ListSpaces(ctx context.Context, req *ListSpacesRequest) ([]model.SpaceSnapshot, error)
	GetSpace(ctx context.Context, id string) (*model.SpaceSnapshot, error)
	Stats(ctx context.Context, section string) (*model.Stats, error)

	// History
	ListIntervals(ctx context.Context, req *ListIntervalsRequest) ([]*model.OccupancyInterval, error)
	GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error)
	PeakHours(ctx context.Context, from, to string) (*PeakHoursReport, error)

	// Health
	Health(ctx context.Context) (*Health, error)

	// Lifecycle
	Close() error
}

// ListSpacesRequest holds optional filters for ListSpaces.
type ListSpacesRequest struct {
	Section string
	Status  string
}

// ListIntervalsRequest holds optional filters for ListIntervals.
type ListIntervalsRequest struct {
	SpaceID      string
	OpenOnly     bool
	VehiclesOnly bool
	Since        *time.Time
	Until        *time.Time
	Limit        int
}

// PeakHoursReport is the average vehicle entries per hour over a day range.
type PeakHoursReport struct {
	From  string             `json:"from"`
	To    string             `json:"to"`
	Days  int                `json:"days"`
	Hours []model.HourBucket `json:"hours"`
}

// Health is the server's liveness summary.
type Health struct {
	Status    string     `json:"status"`
	Spaces    int        `json:"spaces"`
	Stale     int        `json:"stale"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	SyncError string     `json:"sync_error,omitempty"`
}
