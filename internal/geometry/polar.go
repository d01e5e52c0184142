package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

const (
	// DefaultHighLatitudeThreshold is the absolute latitude beyond which geographic boxes
	// are corrected through a polar projection.
	DefaultHighLatitudeThreshold = 60.0
	// DefaultSampleStep is the boundary densification step in degrees.
	DefaultSampleStep = 0.1
)

// NeedsHighLatitudeCorrection reports whether any part of a geographic box lies beyond
// the threshold latitude in either hemisphere.
func NeedsHighLatitudeCorrection(b domain.BoundingBox, threshold float64) bool {
	if b.CRS != domain.EPSG4326 {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultHighLatitudeThreshold
	}
	return b.MinY < -threshold || b.MaxY > threshold
}

// ReferenceCRSFor picks the polar stereographic projection for the box's hemisphere.
func ReferenceCRSFor(b domain.BoundingBox) domain.CRS {
	if (b.MinY+b.MaxY)/2 < 0 {
		return domain.EPSG3031
	}
	return domain.EPSG3413
}

// CorrectHighLatitudeBounds densifies the boundary of bbox every sampleStep units,
// projects the points into reference, takes their bounds there and maps the four
// corners of that box back to bbox.CRS. The returned polygon is closed and its
// extent in reference contains the reprojected extent of bbox.
func CorrectHighLatitudeBounds(bbox domain.BoundingBox, reference domain.CRS, sampleStep float64) (orb.Polygon, error) {
	if sampleStep <= 0 {
		sampleStep = DefaultSampleStep
	}
	projected, err := TransformBounds(bbox, reference, sampleStep)
	if err != nil {
		return nil, fmt.Errorf("correct high latitude bounds: %w", err)
	}
	corners := projected.Ring()
	back, err := TransformPoints([]orb.Point(corners), reference, bbox.CRS)
	if err != nil {
		return nil, fmt.Errorf("correct high latitude bounds: %w", err)
	}
	return orb.Polygon{orb.Ring(back)}, nil
}

// PolarEnvelope returns the geographic bounds of the polar-corrected box for bbox.
// Unlike the four-corner polygon it follows the straight projected edges, which bow
// poleward in latitude, and it reaches the pole when the projected box holds the
// projection origin. Longitudes are kept continuous around the box centre, so the
// envelope of a box touching the antimeridian may extend past +/-180.
func PolarEnvelope(bbox domain.BoundingBox, reference domain.CRS, sampleStep float64) (domain.BoundingBox, error) {
	if bbox.CRS != domain.EPSG4326 {
		return domain.BoundingBox{}, &ProjectionError{Src: bbox.CRS, Dst: reference, Err: fmt.Errorf("polar envelope needs geographic bounds")}
	}
	corrected, err := CorrectHighLatitudeBounds(bbox, reference, sampleStep)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	inRef, err := ReprojectPolygon(corrected, bbox.CRS, reference)
	if err != nil {
		return domain.BoundingBox{}, fmt.Errorf("polar envelope: %w", err)
	}
	projected := domain.BoundsFromOrb(inRef.Bound(), reference)

	edgeStep := math.Max(projected.Width(), projected.Height()) / 256
	back, err := TransformPoints(Densify(projected, edgeStep), reference, domain.EPSG4326)
	if err != nil {
		return domain.BoundingBox{}, fmt.Errorf("polar envelope: %w", err)
	}
	centre := (bbox.MinX + bbox.MaxX) / 2
	for i := range back {
		for back[i][0]-centre > 180 {
			back[i][0] -= 360
		}
		for back[i][0]-centre < -180 {
			back[i][0] += 360
		}
	}
	env := domain.BoundsFromOrb(orb.MultiPoint(back).Bound(), domain.EPSG4326)

	if projected.MinX < 0 && projected.MaxX > 0 && projected.MinY < 0 && projected.MaxY > 0 {
		env.MinX, env.MaxX = -180, 180
		if reference == domain.EPSG3031 {
			env.MinY = -90
		} else {
			env.MaxY = 90
		}
	}
	return env.ClampLatitude(), nil
}
