package model

import "github.com/paulmach/orb"

// Point is a position in frame (pixel) coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned box (x1,y1) top-left to (x2,y2) bottom-right in
// frame coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Zone is one monitored parking space. Its outline is a simple polygon in
// frame coordinates; rectangles are stored as four-vertex polygons.
type Zone struct {
	ID      string  `json:"id"`
	Section string  `json:"section"`
	Outline []Point `json:"outline"`
}

// RectOutline converts a rectangle to a closed-order polygon outline.
func RectOutline(x1, y1, x2, y2 float64) []Point {
	return []Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

// Polygon returns the outline as a closed orb polygon.
func (z Zone) Polygon() orb.Polygon {
	ring := make(orb.Ring, 0, len(z.Outline)+1)
	for _, p := range z.Outline {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Bounds returns the bounding box of the zone outline.
func (z Zone) Bounds() BBox {
	if len(z.Outline) == 0 {
		return BBox{}
	}
	b := BBox{X1: z.Outline[0].X, Y1: z.Outline[0].Y, X2: z.Outline[0].X, Y2: z.Outline[0].Y}
	for _, p := range z.Outline[1:] {
		b.X1 = min(b.X1, p.X)
		b.Y1 = min(b.Y1, p.Y)
		b.X2 = max(b.X2, p.X)
		b.Y2 = max(b.Y2, p.Y)
	}
	return b
}

// Detection is one object reported by the detector for a sampled frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"bbox"`
}
