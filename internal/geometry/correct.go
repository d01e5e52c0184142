package geometry

import (
	"errors"

	"github.com/paulmach/orb"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// Options holds the tunable thresholds of the corrector. Zero values fall back to
// the package defaults.
type Options struct {
	MaxSceneWidth         float64
	HighLatitudeThreshold float64
	LatBuffer             float64
	SampleStep            float64
}

func (o Options) withDefaults() Options {
	if o.MaxSceneWidth <= 0 {
		o.MaxSceneWidth = DefaultMaxSceneWidth
	}
	if o.HighLatitudeThreshold <= 0 {
		o.HighLatitudeThreshold = DefaultHighLatitudeThreshold
	}
	if o.SampleStep <= 0 {
		o.SampleStep = DefaultSampleStep
	}
	if o.LatBuffer < 0 {
		o.LatBuffer = 0
	}
	return o
}

// Correction is the outcome of correcting a footprint for DEM lookup.
type Correction struct {
	Bounds              domain.BoundingBox
	CrossesAntimeridian bool
	HighLatitude        bool
	Reference           domain.CRS
	Targets             []domain.BoundingBox
}

// Correct derives the geographic DEM targets for a footprint: one box, or two when the
// footprint wraps the antimeridian, each enlarged through the polar reference
// projection when it reaches beyond the high latitude threshold.
func Correct(footprint orb.Polygon, opts Options) (Correction, error) {
	opts = opts.withDefaults()
	if len(footprint) == 0 || len(footprint[0]) < 3 {
		return Correction{}, &ProjectionError{Src: domain.EPSG4326, Dst: domain.EPSG4326, Err: errors.New("footprint has fewer than three vertices")}
	}
	bounds := domain.BoundsFromOrb(footprint.Bound(), domain.EPSG4326)
	if !bounds.Valid() || bounds.MinY < -90 || bounds.MaxY > 90 {
		return Correction{}, &ProjectionError{Src: domain.EPSG4326, Dst: domain.EPSG4326, Err: errors.New("footprint is not in geographic range")}
	}

	c := Correction{Bounds: bounds, Targets: []domain.BoundingBox{bounds}}
	if FootprintCrossesAntimeridian(footprint, opts.MaxSceneWidth) {
		halves, err := SplitAntimeridian(footprint, opts.LatBuffer)
		if err != nil {
			return Correction{}, &ProjectionError{Src: domain.EPSG4326, Dst: domain.EPSG4326, Err: err}
		}
		c.CrossesAntimeridian = true
		c.Targets = halves[:]
	}

	for i, t := range c.Targets {
		if !NeedsHighLatitudeCorrection(t, opts.HighLatitudeThreshold) {
			continue
		}
		c.HighLatitude = true
		c.Reference = ReferenceCRSFor(t)
		env, err := PolarEnvelope(t, c.Reference, opts.SampleStep)
		if err != nil {
			return Correction{}, err
		}
		c.Targets[i] = env
	}
	return c, nil
}
