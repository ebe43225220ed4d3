// Package server exposes the live occupancy view and the ledger history over
// HTTP (JSON + SSE) and reports pipeline liveness over gRPC health.
package server

import (
	"log/slog"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/metrics"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
)

// SpaceReader is the live per-space view maintained by the reconciliation
// engine.
type SpaceReader interface {
	Snapshot() []model.SpaceSnapshot
	Space(id string) (model.SpaceSnapshot, bool)
	Stats() model.Stats
}

// Liveness reports whether zones are still receiving processed samples.
type Liveness interface {
	StaleCount() int
	AllStale() bool
}

// SyncStatus reports the outcome of the last ledger export.
type SyncStatus interface {
	LastSync() (time.Time, error)
}

// Options configures a Server. Every field is optional.
type Options struct {
	Liveness Liveness
	Sync     SyncStatus
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Location is the time zone used for date parameters and hourly reports.
	// Defaults to time.Local.
	Location *time.Location
}

// Server serves read-only views of the occupancy state.
type Server struct {
	spaces   SpaceReader
	ledger   store.Store
	hub      *sseHub
	live     Liveness
	sync     SyncStatus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	location *time.Location
}

// New returns a Server reading live state from spaces and history from ledger.
func New(spaces SpaceReader, ledger store.Store, opts Options) *Server {
	s := &Server{
		spaces:   spaces,
		ledger:   ledger,
		hub:      newSSEHub(),
		live:     opts.Liveness,
		sync:     opts.Sync,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		location: opts.Location,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.location == nil {
		s.location = time.Local
	}
	return s
}

// Events returns the publisher feeding the SSE stream. Add it to the
// engine's publisher fan-out.
func (s *Server) Events() *SSEPublisher {
	return &SSEPublisher{hub: s.hub}
}
