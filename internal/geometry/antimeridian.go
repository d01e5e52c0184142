// Package geometry turns scene footprints into the bounding boxes used for DEM lookup.
// It corrects the two distortions of geographic boxes that matter for coverage:
// footprints straddling the antimeridian and footprints near the poles.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// DefaultMaxSceneWidth is the widest footprint, in degrees of longitude, a single scene
// is expected to have. Sentinel-1 IW frames are roughly 3 degrees wide away from the poles.
const DefaultMaxSceneWidth = 20.0

// CrossesAntimeridian reports whether a geographic box looks like the naive bounds of a
// footprint that wraps from +180 to -180: its west edge lies within maxSceneWidth of -180
// and its east edge within maxSceneWidth of +180. A box reaching the full [-180, 180]
// range is treated as genuinely global rather than wrapped.
func CrossesAntimeridian(b domain.BoundingBox, maxSceneWidth float64) bool {
	if b.CRS != domain.EPSG4326 || !b.Valid() {
		return false
	}
	if maxSceneWidth <= 0 {
		maxSceneWidth = DefaultMaxSceneWidth
	}
	if b.MinX <= -180 && b.MaxX >= 180 {
		return false
	}
	nearWest := b.MinX < -180+maxSceneWidth
	nearEast := b.MaxX > 180-maxSceneWidth
	return nearWest && nearEast && b.Width() > 360-2*maxSceneWidth
}

// FootprintCrossesAntimeridian refines CrossesAntimeridian using the footprint vertices:
// a wide footprint that has vertices well away from both edges of the longitude range
// legitimately spans the globe and is not split.
func FootprintCrossesAntimeridian(polygon orb.Polygon, maxSceneWidth float64) bool {
	if len(polygon) == 0 || len(polygon[0]) == 0 {
		return false
	}
	if maxSceneWidth <= 0 {
		maxSceneWidth = DefaultMaxSceneWidth
	}
	if !CrossesAntimeridian(domain.BoundsFromOrb(polygon.Bound(), domain.EPSG4326), maxSceneWidth) {
		return false
	}
	for _, pt := range polygon[0] {
		if math.Abs(pt[0]) < 180-maxSceneWidth {
			return false
		}
	}
	return true
}

// SplitAntimeridian partitions the footprint vertices by sign of longitude and returns
// the west box (-180 .. max negative x) followed by the east box (min positive x .. 180).
// Both are padded by latBuffer in latitude and clamped to [-90, 90].
func SplitAntimeridian(polygon orb.Polygon, latBuffer float64) ([2]domain.BoundingBox, error) {
	var boxes [2]domain.BoundingBox
	if len(polygon) == 0 || len(polygon[0]) == 0 {
		return boxes, errors.New("split antimeridian: empty polygon")
	}

	minY, maxY := math.Inf(1), math.Inf(-1)
	maxNegX, minPosX := math.Inf(-1), math.Inf(1)
	var neg, pos int
	for _, pt := range polygon[0] {
		minY = math.Min(minY, pt[1])
		maxY = math.Max(maxY, pt[1])
		if pt[0] < 0 {
			maxNegX = math.Max(maxNegX, pt[0])
			neg++
		} else {
			minPosX = math.Min(minPosX, pt[0])
			pos++
		}
	}
	if neg == 0 || pos == 0 {
		return boxes, fmt.Errorf("split antimeridian: footprint has %d negative and %d positive longitudes", neg, pos)
	}

	boxes[0] = domain.BoundingBox{MinX: -180, MinY: minY - latBuffer, MaxX: maxNegX, MaxY: maxY + latBuffer, CRS: domain.EPSG4326}.ClampLatitude()
	boxes[1] = domain.BoundingBox{MinX: minPosX, MinY: minY - latBuffer, MaxX: 180, MaxY: maxY + latBuffer, CRS: domain.EPSG4326}.ClampLatitude()
	return boxes, nil
}
