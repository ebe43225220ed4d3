package model

import (
	"fmt"
	"time"
)

// Status is the discrete occupancy state of a parking space.
type Status string

const (
	StatusAvailable Status = "available"
	StatusOccupied  Status = "occupied"
	StatusObstacle  Status = "obstacle"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusAvailable, StatusOccupied, StatusObstacle}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusObstacle:
		return true
	}
	return false
}

// IsOccupied reports whether the space holds something, vehicle or not.
func (s Status) IsOccupied() bool {
	return s == StatusOccupied || s == StatusObstacle
}

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid status %q", v)
	}
	return s, nil
}

// StatusForOccupant returns the occupied status matching an interval's
// occupant class.
func StatusForOccupant(isVehicle bool) Status {
	if isVehicle {
		return StatusOccupied
	}
	return StatusObstacle
}

// SpaceState is the persisted current state of one parking space.
type SpaceState struct {
	SpaceID            string    `json:"space_id"`
	Section            string    `json:"section"`
	Status             Status    `json:"status"`
	CurrentOccupancyID string    `json:"current_occupancy_id,omitempty"`
	LastChangedSample  uint64    `json:"last_changed_sample"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewSpaceState returns the startup state for a zone: available, nothing open.
func NewSpaceState(z Zone) *SpaceState {
	return &SpaceState{
		SpaceID: z.ID,
		Section: z.Section,
		Status:  StatusAvailable,
	}
}

// Consistent reports whether status and open-interval link agree: a space is
// linked to an interval exactly when it is not available.
func (s *SpaceState) Consistent() bool {
	return s.Status.IsOccupied() == (s.CurrentOccupancyID != "")
}

// SpaceSnapshot is the read-only view of a space served to dashboards. It
// adds the live, non-persisted detail tracked by the reconciliation engine.
type SpaceSnapshot struct {
	SpaceState
	PendingStatus  Status    `json:"pending_status,omitempty"`
	PendingCount   int       `json:"pending_count,omitempty"`
	Label          string    `json:"label,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
	LastSeenSample uint64    `json:"last_seen_sample"`
	Stale          bool      `json:"stale"`
}

// Stats summarises the current state of all spaces.
type Stats struct {
	Total         int     `json:"total"`
	Available     int     `json:"available"`
	Occupied      int     `json:"occupied"`
	Obstacles     int     `json:"obstacles"`
	Stale         int     `json:"stale"`
	OccupancyRate float64 `json:"occupancy_rate"`
}

// ComputeStats counts spaces per status. OccupancyRate is the percentage of
// spaces holding a vehicle.
func ComputeStats(spaces []SpaceSnapshot) Stats {
	var st Stats
	st.Total = len(spaces)
	for _, sp := range spaces {
		switch sp.Status {
		case StatusAvailable:
			st.Available++
		case StatusOccupied:
			st.Occupied++
		case StatusObstacle:
			st.Obstacles++
		}
		if sp.Stale {
			st.Stale++
		}
	}
	if st.Total > 0 {
		st.OccupancyRate = float64(st.Occupied) / float64(st.Total) * 100
	}
	return st
}
