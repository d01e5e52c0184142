package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// CRS is an EPSG code.
type CRS int

const (
	EPSG4326 CRS = 4326 // WGS84 geographic
	EPSG3857 CRS = 3857 // WGS84 web mercator
	EPSG3031 CRS = 3031 // Antarctic polar stereographic
	EPSG3413 CRS = 3413 // NSIDC sea ice polar stereographic north
	EPSG3995 CRS = 3995 // Arctic polar stereographic
)

func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// BoundingBox is an axis-aligned extent in a stated CRS. Operations that change the
// CRS produce a new box; a box is never reinterpreted in place.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	CRS  CRS
}

// BoundsFromOrb converts an orb bound into a BoundingBox in crs.
func BoundsFromOrb(b orb.Bound, crs CRS) BoundingBox {
	return BoundingBox{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1], CRS: crs}
}

// Orb returns the box as an orb bound, dropping the CRS.
func (b BoundingBox) Orb() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

func (b BoundingBox) Width() float64  { return b.MaxX - b.MinX }
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

// Valid reports whether the box has finite, ordered edges.
func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Buffer grows every edge by margin, which equals the bounds of the box buffered by margin.
func (b BoundingBox) Buffer(margin float64) BoundingBox {
	return BoundingBox{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
		CRS:  b.CRS,
	}
}

// ClampLatitude limits a geographic box to [-90, 90] in y.
func (b BoundingBox) ClampLatitude() BoundingBox {
	b.MinY = math.Max(b.MinY, -90)
	b.MaxY = math.Min(b.MaxY, 90)
	return b
}

// ContainsProperly reports strict containment: every edge of other lies inside b
// without touching b's boundary. Boxes in different CRSes never contain each other.
func (b BoundingBox) ContainsProperly(other BoundingBox) bool {
	if b.CRS != other.CRS {
		return false
	}
	return b.MinX < other.MinX && b.MinY < other.MinY && b.MaxX > other.MaxX && b.MaxY > other.MaxY
}

// Union returns the smallest box covering both. Both boxes must share a CRS.
func (b BoundingBox) Union(other BoundingBox) (BoundingBox, error) {
	if b.CRS != other.CRS {
		return BoundingBox{}, fmt.Errorf("union of %s and %s boxes", b.CRS, other.CRS)
	}
	return BoundingBox{
		MinX: math.Min(b.MinX, other.MinX),
		MinY: math.Min(b.MinY, other.MinY),
		MaxX: math.Max(b.MaxX, other.MaxX),
		MaxY: math.Max(b.MaxY, other.MaxY),
		CRS:  b.CRS,
	}, nil
}

// Intersects reports whether the boxes overlap. Boxes in different CRSes never intersect.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	if b.CRS != other.CRS {
		return false
	}
	return b.MinX <= other.MaxX && other.MinX <= b.MaxX && b.MinY <= other.MaxY && other.MinY <= b.MaxY
}

// Ring returns the closed exterior ring of the box, counter-clockwise from the lower-left corner.
func (b BoundingBox) Ring() orb.Ring {
	return orb.Ring{
		{b.MinX, b.MinY},
		{b.MaxX, b.MinY},
		{b.MaxX, b.MaxY},
		{b.MinX, b.MaxY},
		{b.MinX, b.MinY},
	}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.6f, %.6f, %.6f, %.6f) %s", b.MinX, b.MinY, b.MaxX, b.MaxY, b.CRS)
}
