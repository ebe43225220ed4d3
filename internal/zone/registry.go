// Package zone loads the static set of monitored parking spaces and matches
// per-frame detections onto them.
package zone

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// fileFormat is the on-disk TOML layout of a zones file.
type fileFormat struct {
	Section string      `toml:"section"`
	Zones   []zoneEntry `toml:"zone"`
}

type zoneEntry struct {
	ID      string      `toml:"id"`
	Section string      `toml:"section"`
	Rect    []float64   `toml:"rect"`
	Polygon [][]float64 `toml:"polygon"`
}

// Registry is the immutable, ordered set of zones for one run. Load order is
// significant: it breaks matching ties and fixes the layout of per-zone tables.
type Registry struct {
	zones []model.Zone
	index map[string]int
}

// New validates zones and builds a registry preserving their order. Invalid
// zone sets are reported as a configuration failure.
func New(zones []model.Zone) (*Registry, error) {
	if err := model.ValidateZones(zones); err != nil {
		return nil, model.NewFailure(model.ConfigurationError, "load zones", err)
	}
	r := &Registry{
		zones: make([]model.Zone, len(zones)),
		index: make(map[string]int, len(zones)),
	}
	for i, z := range zones {
		z.Outline = append([]model.Point(nil), z.Outline...)
		r.zones[i] = z
		r.index[z.ID] = i
	}
	return r, nil
}

// LoadFile reads a zones TOML file from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewFailure(model.ConfigurationError, "load zones", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a zones TOML document. Unknown keys are rejected so typos in
// hand-edited files do not silently drop geometry.
func Load(r io.Reader) (*Registry, error) {
	var ff fileFormat
	meta, err := toml.NewDecoder(r).Decode(&ff)
	if err != nil {
		return nil, model.NewFailure(model.ConfigurationError, "parse zones", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, model.NewFailure(model.ConfigurationError, "parse zones",
			fmt.Errorf("unknown keys: %s", strings.Join(keys, ", ")))
	}

	zones := make([]model.Zone, 0, len(ff.Zones))
	for i, e := range ff.Zones {
		z, err := e.toZone(ff.Section)
		if err != nil {
			return nil, model.NewFailure(model.ConfigurationError, "parse zones",
				fmt.Errorf("zone[%d]: %w", i, err))
		}
		zones = append(zones, z)
	}
	return New(zones)
}

func (e zoneEntry) toZone(defaultSection string) (model.Zone, error) {
	z := model.Zone{ID: e.ID, Section: e.Section}
	if z.Section == "" {
		z.Section = defaultSection
	}
	switch {
	case len(e.Rect) > 0 && len(e.Polygon) > 0:
		return z, fmt.Errorf("rect and polygon are mutually exclusive")
	case len(e.Rect) > 0:
		if len(e.Rect) != 4 {
			return z, fmt.Errorf("rect needs 4 values (x1, y1, x2, y2), got %d", len(e.Rect))
		}
		x1, y1 := min(e.Rect[0], e.Rect[2]), min(e.Rect[1], e.Rect[3])
		x2, y2 := max(e.Rect[0], e.Rect[2]), max(e.Rect[1], e.Rect[3])
		z.Outline = model.RectOutline(x1, y1, x2, y2)
	case len(e.Polygon) > 0:
		for j, p := range e.Polygon {
			if len(p) != 2 {
				return z, fmt.Errorf("polygon vertex %d needs 2 values, got %d", j, len(p))
			}
			z.Outline = append(z.Outline, model.Point{X: p[0], Y: p[1]})
		}
	default:
		return z, fmt.Errorf("one of rect or polygon is required")
	}
	return z, nil
}

// Zones returns a copy of the zones in load order.
func (r *Registry) Zones() []model.Zone {
	out := make([]model.Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// IDs returns the zone identifiers in load order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.zones))
	for i, z := range r.zones {
		ids[i] = z.ID
	}
	return ids
}

// Len returns the number of zones.
func (r *Registry) Len() int {
	return len(r.zones)
}

// Index returns the load position of the zone with the given id.
func (r *Registry) Index(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Get returns the zone with the given id.
func (r *Registry) Get(id string) (model.Zone, bool) {
	i, ok := r.index[id]
	if !ok {
		return model.Zone{}, false
	}
	return r.zones[i], true
}

// At returns the zone at load position i.
func (r *Registry) At(i int) model.Zone {
	return r.zones[i]
}
