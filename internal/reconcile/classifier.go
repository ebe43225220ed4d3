package reconcile

import (
	"strings"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// DefaultVehicleLabels are the detector labels treated as vehicles.
var DefaultVehicleLabels = []string{"car", "vehicle"}

// Verdict is the classifier's output for one zone and sample: the status and
// the strongest detection that decided it.
type Verdict struct {
	Status     model.Status
	Label      string
	Confidence float64
}

// Classifier reduces a zone's evidence set to a status. It is stateless and
// safe for concurrent use.
type Classifier struct {
	minConfidence float64
	vehicles      map[string]bool
}

// NewClassifier returns a classifier that counts a detection as a vehicle
// when its label is one of vehicleLabels (case-insensitive) and its
// confidence is at least minConfidence. A nil label list selects
// DefaultVehicleLabels.
func NewClassifier(minConfidence float64, vehicleLabels []string) *Classifier {
	if vehicleLabels == nil {
		vehicleLabels = DefaultVehicleLabels
	}
	c := &Classifier{
		minConfidence: minConfidence,
		vehicles:      make(map[string]bool, len(vehicleLabels)),
	}
	for _, l := range vehicleLabels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			c.vehicles[l] = true
		}
	}
	return c
}

// IsVehicle reports whether d counts as a confident vehicle detection.
func (c *Classifier) IsVehicle(d model.Detection) bool {
	return c.vehicles[strings.ToLower(d.Label)] && d.Confidence >= c.minConfidence
}

// Classify maps evidence to a status. Empty evidence is Available. Any
// confident vehicle makes the zone Occupied, whatever else is present.
// Anything else (obstacles, weak vehicle detections) is an Obstacle.
func (c *Classifier) Classify(evidence []model.Detection) Verdict {
	if len(evidence) == 0 {
		return Verdict{Status: model.StatusAvailable}
	}

	var vehicle, best *model.Detection
	for i := range evidence {
		d := &evidence[i]
		if best == nil || d.Confidence > best.Confidence {
			best = d
		}
		if c.IsVehicle(*d) && (vehicle == nil || d.Confidence > vehicle.Confidence) {
			vehicle = d
		}
	}
	if vehicle != nil {
		return Verdict{Status: model.StatusOccupied, Label: vehicle.Label, Confidence: vehicle.Confidence}
	}
	return Verdict{Status: model.StatusObstacle, Label: best.Label, Confidence: best.Confidence}
}
