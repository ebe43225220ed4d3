package zone

import (
	"strings"
	"testing"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

func newTestMatcher(t *testing.T, mode Mode, threshold float64, zones ...model.Zone) *Matcher {
	t.Helper()
	reg, err := New(zones)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, err := NewMatcher(reg, mode, threshold)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func rectZone(id string, x1, y1, x2, y2 float64) model.Zone {
	return model.Zone{ID: id, Section: "SEC-A", Outline: model.RectOutline(x1, y1, x2, y2)}
}

func car(x1, y1, x2, y2 float64) model.Detection {
	return model.Detection{Label: "car", Confidence: 0.9, Box: model.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}}
}

func TestMatch_EveryZoneHasEvidence(t *testing.T) {
	m := newTestMatcher(t, ModeCentroid, 0,
		rectZone("A1", 0, 0, 100, 100),
		rectZone("A2", 100, 0, 200, 100),
	)
	ev := m.Match([]model.Detection{car(10, 10, 90, 90)})
	if len(ev) != 2 {
		t.Fatalf("got %d zones, want 2", len(ev))
	}
	if len(ev["A1"]) != 1 {
		t.Errorf("A1 evidence = %v", ev["A1"])
	}
	if ev["A2"] == nil || len(ev["A2"]) != 0 {
		t.Errorf("A2 evidence = %#v, want empty non-nil", ev["A2"])
	}
}

func TestMatch_Centroid(t *testing.T) {
	m := newTestMatcher(t, ModeCentroid, 0,
		rectZone("A1", 0, 0, 100, 100),
		rectZone("A2", 100, 0, 200, 100),
	)
	for _, tc := range []struct {
		name string
		det  model.Detection
		want string
	}{
		{"Inside", car(20, 20, 60, 60), "A1"},
		{"CentreInNeighbour", car(60, 10, 180, 90), "A2"},
		{"Outside", car(300, 300, 340, 340), ""},
		{"SwappedCorners", car(190, 90, 110, 10), "A2"},
		{"SharedEdgeTieGoesToFirst", car(90, 40, 110, 60), "A1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := ""
			if i, ok := m.Assign(tc.det); ok {
				got = m.reg.At(i).ID
			}
			if got != tc.want {
				t.Errorf("Assign() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMatch_BoundaryCountsInside(t *testing.T) {
	m := newTestMatcher(t, ModeCentroid, 0, rectZone("A1", 0, 0, 100, 100))
	// Centre at (100, 50) sits on the right edge.
	if _, ok := m.Assign(car(80, 30, 120, 70)); !ok {
		t.Error("centroid on the zone edge should match")
	}
}

func TestMatch_TieGoesToFirstLoaded(t *testing.T) {
	m := newTestMatcher(t, ModeOverlap, 0.1,
		rectZone("A1", 0, 0, 100, 100),
		rectZone("A2", 100, 0, 200, 100),
	)
	// Straddles the shared edge with equal cover on both sides.
	i, ok := m.Assign(car(50, 0, 150, 100))
	if !ok || m.reg.At(i).ID != "A1" {
		t.Errorf("tie should go to A1, got %d %v", i, ok)
	}

	m = newTestMatcher(t, ModeOverlap, 0.1,
		rectZone("A2", 100, 0, 200, 100),
		rectZone("A1", 0, 0, 100, 100),
	)
	i, ok = m.Assign(car(50, 0, 150, 100))
	if !ok || m.reg.At(i).ID != "A2" {
		t.Errorf("tie should follow load order, got %d %v", i, ok)
	}
}

func TestMatch_OverlapThreshold(t *testing.T) {
	m := newTestMatcher(t, ModeOverlap, 0.3, rectZone("A1", 0, 0, 100, 100))
	for _, tc := range []struct {
		name string
		det  model.Detection
		want bool
	}{
		{"HalfCovered", car(0, 0, 50, 100), true},
		{"ExactlyThreshold", car(0, 0, 30, 100), true},
		{"Sliver", car(0, 0, 10, 100), false},
		{"LargerThanZone", car(-50, -50, 150, 150), true},
		{"Disjoint", car(200, 200, 300, 300), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := m.Assign(tc.det); ok != tc.want {
				t.Errorf("Assign() matched = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestMatch_Polygon(t *testing.T) {
	// A diamond: the corners of its bounding box lie outside the zone.
	diamond := model.Zone{ID: "D1", Section: "SEC-B", Outline: []model.Point{{X: 50, Y: 0}, {X: 100, Y: 50}, {X: 50, Y: 100}, {X: 0, Y: 50}}}
	m := newTestMatcher(t, ModeCentroid, 0, diamond)
	if _, ok := m.Assign(car(40, 40, 60, 60)); !ok {
		t.Error("detection at the diamond centre should match")
	}
	if _, ok := m.Assign(car(0, 0, 10, 10)); ok {
		t.Error("detection in the bounding-box corner should not match")
	}
}

func TestMatch_EachDetectionAtMostOnce(t *testing.T) {
	reg, err := Load(strings.NewReader(lotTOML))
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewMatcher(reg, ModeOverlap, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	dets := []model.Detection{car(150, 10, 300, 110), car(200, 40, 260, 80), car(5, 210, 35, 270)}
	ev := m.Match(dets)
	total := 0
	for _, d := range ev {
		total += len(d)
	}
	if total != len(dets) {
		t.Errorf("assigned %d detections, want %d", total, len(dets))
	}
	if len(ev["B1"]) != 1 {
		t.Errorf("B1 evidence = %v", ev["B1"])
	}
}

func TestNewMatcher_BadThreshold(t *testing.T) {
	reg, _ := New([]model.Zone{rectZone("A1", 0, 0, 10, 10)})
	for _, th := range []float64{0, -0.5, 1.5} {
		if _, err := NewMatcher(reg, ModeOverlap, th); !model.IsKind(err, model.ConfigurationError) {
			t.Errorf("threshold %v: expected configuration error, got %v", th, err)
		}
	}
	if _, err := NewMatcher(reg, ModeCentroid, 0); err != nil {
		t.Errorf("centroid mode ignores threshold, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("overlap"); err != nil || m != ModeOverlap {
		t.Errorf("ParseMode(overlap) = %q, %v", m, err)
	}
	if _, err := ParseMode("iou"); err == nil {
		t.Error("ParseMode(iou) should fail")
	}
}
