package model

import "time"

// OccupancyInterval is one continuous stretch during which a space was not
// available. DepartedAt and Duration stay nil while the interval is open.
type OccupancyInterval struct {
	ID         string         `json:"id"`
	SpaceID    string         `json:"space_id"`
	EnteredAt  time.Time      `json:"entered_at"`
	DepartedAt *time.Time     `json:"departed_at,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
	IsVehicle  bool           `json:"is_vehicle"`
}

// IsOpen reports whether the interval still has no departure.
func (iv *OccupancyInterval) IsOpen() bool {
	return iv.DepartedAt == nil
}

// CloseAt sets the departure time and derives the duration. Closing an
// already closed interval leaves it untouched.
func (iv *OccupancyInterval) CloseAt(departure time.Time) {
	if iv.DepartedAt != nil {
		return
	}
	d := departure.Sub(iv.EnteredAt)
	iv.DepartedAt = &departure
	iv.Duration = &d
}

// IntervalFilter holds criteria for querying occupancy history.
type IntervalFilter struct {
	SpaceID      string     `json:"space_id,omitempty"`
	OpenOnly     bool       `json:"open_only,omitempty"`
	VehiclesOnly bool       `json:"vehicles_only,omitempty"`
	Since        *time.Time `json:"since,omitempty"` // entered at or after
	Until        *time.Time `json:"until,omitempty"` // entered before
	Limit        int        `json:"limit,omitempty"`
}

// HourBucket is one row of the peak-hours report: the average number of
// vehicle entries per day that started within Hour.
type HourBucket struct {
	Hour    int     `json:"hour"`
	Entries int     `json:"entries"`
	Average float64 `json:"average"`
}

// Business hours covered by the peak-hours report.
const (
	PeakFirstHour = 7
	PeakLastHour  = 22
)

// PeakHours folds per-hour entry counts into the report for a range of days.
// Hours outside PeakFirstHour..PeakLastHour are ignored.
func PeakHours(counts map[int]int, days int) []HourBucket {
	if days < 1 {
		days = 1
	}
	out := make([]HourBucket, 0, PeakLastHour-PeakFirstHour+1)
	for h := PeakFirstHour; h <= PeakLastHour; h++ {
		n := counts[h]
		out = append(out, HourBucket{Hour: h, Entries: n, Average: float64(n) / float64(days)})
	}
	return out
}
