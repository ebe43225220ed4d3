package zone

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// Mode selects the rule that makes a detection a candidate for a zone.
type Mode string

const (
	// ModeCentroid: the zone contains the centre of the detection box.
	// Points on the zone boundary count as inside.
	ModeCentroid Mode = "centroid"
	// ModeOverlap: the box covers at least Threshold of the zone area.
	ModeOverlap Mode = "overlap"
)

// ParseMode converts a configuration value into a Mode.
func ParseMode(v string) (Mode, error) {
	switch m := Mode(v); m {
	case ModeCentroid, ModeOverlap:
		return m, nil
	}
	return "", fmt.Errorf("invalid match mode %q (want centroid or overlap)", v)
}

// Evidence maps every zone id to the detections attributed to it for one
// sample. Zones without detections map to an empty slice.
type Evidence map[string][]model.Detection

// Matcher assigns each detection to at most one zone. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	mode      Mode
	threshold float64
	reg       *Registry
	polygons  []orb.Polygon
	areas     []float64
}

// NewMatcher prepares zone geometry for matching. threshold is only used in
// overlap mode and must lie in (0, 1].
func NewMatcher(reg *Registry, mode Mode, threshold float64) (*Matcher, error) {
	if mode == ModeOverlap && (threshold <= 0 || threshold > 1 || math.IsNaN(threshold)) {
		return nil, model.NewFailure(model.ConfigurationError, "new matcher",
			fmt.Errorf("overlap threshold must be in (0, 1], got %v", threshold))
	}
	m := &Matcher{
		mode:      mode,
		threshold: threshold,
		reg:       reg,
		polygons:  make([]orb.Polygon, reg.Len()),
		areas:     make([]float64, reg.Len()),
	}
	for i := range reg.Len() {
		p := reg.At(i).Polygon()
		m.polygons[i] = p
		m.areas[i] = math.Abs(planar.Area(p))
	}
	return m, nil
}

// Mode returns the candidate rule in use.
func (m *Matcher) Mode() Mode {
	return m.mode
}

// Match distributes detections over the registry. It has no side effects and
// the result depends only on the detections and the registry.
func (m *Matcher) Match(dets []model.Detection) Evidence {
	ev := make(Evidence, m.reg.Len())
	for i := range m.reg.Len() {
		ev[m.reg.At(i).ID] = []model.Detection{}
	}
	for _, d := range dets {
		if i, ok := m.Assign(d); ok {
			id := m.reg.At(i).ID
			ev[id] = append(ev[id], d)
		}
	}
	return ev
}

// Assign returns the load position of the zone a detection belongs to.
// Among candidate zones the one with the largest covered fraction of its
// area wins; equal coverage goes to the zone loaded first.
func (m *Matcher) Assign(d model.Detection) (int, bool) {
	box, ok := toBound(d.Box)
	if !ok {
		return 0, false
	}
	center := box.Center()

	best, bestCover := -1, -1.0
	for i, poly := range m.polygons {
		if !poly.Bound().Intersects(box) {
			continue
		}
		cover := m.coverage(i, box)
		switch m.mode {
		case ModeOverlap:
			if cover < m.threshold {
				continue
			}
		default:
			if !planar.PolygonContains(poly, center) {
				continue
			}
		}
		if cover > bestCover {
			best, bestCover = i, cover
		}
	}
	return best, best >= 0
}

// coverage returns the fraction of zone i's area covered by box.
func (m *Matcher) coverage(i int, box orb.Bound) float64 {
	if m.areas[i] == 0 {
		return 0
	}
	clipped := clip.Polygon(box, m.polygons[i].Clone())
	if len(clipped) == 0 {
		return 0
	}
	return math.Abs(planar.Area(clipped)) / m.areas[i]
}

// toBound normalises a detection box; corners may arrive in either order.
func toBound(b model.BBox) (orb.Bound, bool) {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return orb.Bound{}, false
		}
	}
	return orb.MultiPoint{{b.X1, b.Y1}, {b.X2, b.Y2}}.Bound(), true
}
