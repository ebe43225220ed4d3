package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// Event topic constants
const (
	TopicOccupancyOpened = "atlasgrid.occupancy.opened"
	TopicOccupancyClosed = "atlasgrid.occupancy.closed"
	TopicStatusChanged   = "atlasgrid.space.status_changed"
	TopicSpaceStale      = "atlasgrid.space.stale"
	TopicSpaceFresh      = "atlasgrid.space.fresh"

	// TopicAll matches every lifecycle topic on NATS.
	TopicAll = "atlasgrid.>"
)

// Event types

type OccupancyOpened struct {
	RunID    string                   `json:"run_id"`
	Section  string                   `json:"section"`
	Interval *model.OccupancyInterval `json:"interval"`
}

type OccupancyClosed struct {
	RunID    string                   `json:"run_id"`
	Section  string                   `json:"section"`
	Interval *model.OccupancyInterval `json:"interval"`
}

type StatusChanged struct {
	RunID       string       `json:"run_id"`
	SpaceID     string       `json:"space_id"`
	Section     string       `json:"section"`
	From        model.Status `json:"from"`
	To          model.Status `json:"to"`
	OccupancyID string       `json:"occupancy_id,omitempty"`
	Sample      uint64       `json:"sample"`
	At          time.Time    `json:"at"`
}

type SpaceStale struct {
	RunID    string    `json:"run_id"`
	SpaceID  string    `json:"space_id"`
	LastSeen time.Time `json:"last_seen"`
}

type SpaceFresh struct {
	RunID   string    `json:"run_id"`
	SpaceID string    `json:"space_id"`
	At      time.Time `json:"at"`
}

// Keyed is implemented by events that belong to one space. Brokers that
// partition or route by key use it to keep a space's events in order.
type Keyed interface {
	EventKey() string
}

func (e OccupancyOpened) EventKey() string { return e.Interval.SpaceID }
func (e OccupancyClosed) EventKey() string { return e.Interval.SpaceID }
func (e StatusChanged) EventKey() string   { return e.SpaceID }
func (e SpaceStale) EventKey() string      { return e.SpaceID }
func (e SpaceFresh) EventKey() string      { return e.SpaceID }

// KeyOf returns the event's space key, or "" for unkeyed events.
func KeyOf(event any) string {
	if k, ok := event.(Keyed); ok {
		return k.EventKey()
	}
	return ""
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
