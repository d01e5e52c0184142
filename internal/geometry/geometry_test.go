package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

func TestCrossesAntimeridian(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		box  domain.BoundingBox
		want bool
	}{
		{"wrapped footprint", domain.BoundingBox{MinX: -179.5, MinY: -20, MaxX: 179.5, MaxY: -18, CRS: domain.EPSG4326}, true},
		{"ordinary footprint", domain.BoundingBox{MinX: 130, MinY: -20, MaxX: 133, MaxY: -18, CRS: domain.EPSG4326}, false},
		{"near east edge only", domain.BoundingBox{MinX: 170, MinY: 0, MaxX: 179.9, MaxY: 2, CRS: domain.EPSG4326}, false},
		{"full globe", domain.BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90, CRS: domain.EPSG4326}, false},
		{"projected box", domain.BoundingBox{MinX: -179.5, MinY: 0, MaxX: 179.5, MaxY: 1, CRS: domain.EPSG3031}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CrossesAntimeridian(tc.box, 20))
		})
	}
}

func TestFootprintCrossesAntimeridianRejectsGlobalFootprint(t *testing.T) {
	t.Parallel()

	wrapped := orb.Polygon{orb.Ring{{179.2, -18}, {-179.5, -18.2}, {-179.4, -20}, {179.5, -19.8}, {179.2, -18}}}
	assert.True(t, FootprintCrossesAntimeridian(wrapped, 20))

	wide := orb.Polygon{orb.Ring{{-179.5, 0}, {0, 1}, {179.5, 0}, {0, -1}, {-179.5, 0}}}
	assert.False(t, FootprintCrossesAntimeridian(wide, 20))
}

func TestSplitAntimeridian(t *testing.T) {
	t.Parallel()

	poly := orb.Polygon{orb.Ring{{179.2, 88.9}, {-179.5, 89.1}, {-178.9, 87.5}, {179.6, 87.2}, {179.2, 88.9}}}
	boxes, err := SplitAntimeridian(poly, 1.0)
	require.NoError(t, err)

	west, east := boxes[0], boxes[1]
	assert.Equal(t, -180.0, west.MinX)
	assert.Equal(t, -178.9, west.MaxX)
	assert.Equal(t, 179.2, east.MinX)
	assert.Equal(t, 180.0, east.MaxX)
	for _, b := range boxes {
		assert.Equal(t, domain.EPSG4326, b.CRS)
		assert.InDelta(t, 86.2, b.MinY, 1e-9)
		assert.Equal(t, 90.0, b.MaxY, "latitude must be clamped")
	}
}

func TestSplitAntimeridianNeedsBothSides(t *testing.T) {
	t.Parallel()

	poly := orb.Polygon{orb.Ring{{170, 0}, {171, 0}, {171, 1}, {170, 0}}}
	_, err := SplitAntimeridian(poly, 0.3)
	require.Error(t, err)
}

func TestTransformRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		crs domain.CRS
		pt  orb.Point
	}{
		{domain.EPSG3031, orb.Point{105.3, -72.4}},
		{domain.EPSG3031, orb.Point{-170, -65}},
		{domain.EPSG3413, orb.Point{-40, 78}},
		{domain.EPSG3995, orb.Point{12, 81}},
		{domain.EPSG3857, orb.Point{151.2, -33.9}},
	}
	for _, tc := range cases {
		fwd, err := TransformPoints([]orb.Point{tc.pt}, domain.EPSG4326, tc.crs)
		require.NoError(t, err, tc.crs.String())
		back, err := TransformPoints(fwd, tc.crs, domain.EPSG4326)
		require.NoError(t, err, tc.crs.String())
		assert.InDelta(t, tc.pt[0], back[0][0], 1e-7, tc.crs.String())
		assert.InDelta(t, tc.pt[1], back[0][1], 1e-7, tc.crs.String())
	}
}

func TestPolarStereographicKnownPoint(t *testing.T) {
	t.Parallel()

	// On the latitude of true scale the radius equals a*m_c, so the point sits on the
	// y axis at that distance for lon 0 in EPSG:3031 (y grows toward lon 0).
	pts, err := TransformPoints([]orb.Point{{0, -71}}, domain.EPSG4326, domain.EPSG3031)
	require.NoError(t, err)
	phi := -71 * math.Pi / 180
	want := wgs84A * msfn(-phi)
	assert.InDelta(t, 0, pts[0][0], 1e-6)
	assert.InDelta(t, want, pts[0][1], 1e-3)

	pole, err := TransformPoints([]orb.Point{{0, 0}}, domain.EPSG3031, domain.EPSG4326)
	require.NoError(t, err)
	assert.Equal(t, -90.0, pole[0][1])
}

func TestUnsupportedCRSIsProjectionError(t *testing.T) {
	t.Parallel()

	_, err := ReprojectPolygon(orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, domain.EPSG4326, domain.CRS(32755))
	var perr *ProjectionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.CRS(32755), perr.Dst)

	_, err = TransformPoints([]orb.Point{{0, 10}}, domain.EPSG4326, domain.EPSG3031)
	require.True(t, errors.As(err, &perr), "northern point in southern projection must fail")
}

func TestCorrectHighLatitudeBoundsContainsNaiveExtent(t *testing.T) {
	t.Parallel()

	naive := domain.BoundingBox{MinX: 100, MinY: -76, MaxX: 112, MaxY: -70.5, CRS: domain.EPSG4326}
	require.True(t, NeedsHighLatitudeCorrection(naive, 60))
	ref := ReferenceCRSFor(naive)
	require.Equal(t, domain.EPSG3031, ref)

	corrected, err := CorrectHighLatitudeBounds(naive, ref, 0.1)
	require.NoError(t, err)
	require.Len(t, corrected[0], 5)
	assert.Equal(t, corrected[0][0], corrected[0][4], "ring must be closed")

	inRef, err := ReprojectPolygon(corrected, domain.EPSG4326, ref)
	require.NoError(t, err)
	correctedExtent := inRef.Bound()

	naiveExtent, err := TransformBounds(naive, ref, 0.1)
	require.NoError(t, err)

	const tol = 1e-3
	assert.LessOrEqual(t, correctedExtent.Min[0], naiveExtent.MinX+tol)
	assert.LessOrEqual(t, correctedExtent.Min[1], naiveExtent.MinY+tol)
	assert.GreaterOrEqual(t, correctedExtent.Max[0], naiveExtent.MaxX-tol)
	assert.GreaterOrEqual(t, correctedExtent.Max[1], naiveExtent.MaxY-tol)
}

func TestPolarEnvelopeCoversNaiveBox(t *testing.T) {
	t.Parallel()

	naive := domain.BoundingBox{MinX: 100, MinY: -76, MaxX: 112, MaxY: -70.5, CRS: domain.EPSG4326}
	env, err := PolarEnvelope(naive, domain.EPSG3031, 0.1)
	require.NoError(t, err)
	assert.LessOrEqual(t, env.MinY, naive.MinY)
	assert.GreaterOrEqual(t, env.MaxY, naive.MaxY-1e-6)
	assert.LessOrEqual(t, env.MinX, naive.MinX+1e-6)
	assert.GreaterOrEqual(t, env.MaxX, naive.MaxX-1e-6)

	aroundPole := domain.BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: -85, CRS: domain.EPSG4326}
	env, err = PolarEnvelope(aroundPole, domain.EPSG3031, 1)
	require.NoError(t, err)
	assert.Equal(t, -90.0, env.MinY)
	assert.Equal(t, -180.0, env.MinX)
	assert.Equal(t, 180.0, env.MaxX)
}

func TestNeedsHighLatitudeCorrection(t *testing.T) {
	t.Parallel()

	assert.False(t, NeedsHighLatitudeCorrection(domain.BoundingBox{MinX: 0, MinY: -40, MaxX: 1, MaxY: -39, CRS: domain.EPSG4326}, 60))
	assert.True(t, NeedsHighLatitudeCorrection(domain.BoundingBox{MinX: 0, MinY: 59, MaxX: 1, MaxY: 61, CRS: domain.EPSG4326}, 60))
	assert.Equal(t, domain.EPSG3413, ReferenceCRSFor(domain.BoundingBox{MinY: 70, MaxY: 72}))
}

func TestCorrectFootprint(t *testing.T) {
	t.Parallel()

	t.Run("mid latitude", func(t *testing.T) {
		poly := orb.Polygon{orb.Ring{{130, -20}, {133, -20}, {133, -18}, {130, -18}, {130, -20}}}
		c, err := Correct(poly, Options{})
		require.NoError(t, err)
		assert.False(t, c.CrossesAntimeridian)
		assert.False(t, c.HighLatitude)
		require.Len(t, c.Targets, 1)
		assert.Equal(t, c.Bounds, c.Targets[0])
	})

	t.Run("antimeridian", func(t *testing.T) {
		poly := orb.Polygon{orb.Ring{{179.2, -18}, {-179.5, -18.2}, {-179.4, -20}, {179.5, -19.8}, {179.2, -18}}}
		c, err := Correct(poly, Options{LatBuffer: 0.5})
		require.NoError(t, err)
		assert.True(t, c.CrossesAntimeridian)
		require.Len(t, c.Targets, 2)
		assert.Equal(t, -180.0, c.Targets[0].MinX)
		assert.Equal(t, 180.0, c.Targets[1].MaxX)
	})

	t.Run("high latitude", func(t *testing.T) {
		poly := orb.Polygon{orb.Ring{{60, -72}, {68, -72}, {68, -69}, {60, -69}, {60, -72}}}
		c, err := Correct(poly, Options{})
		require.NoError(t, err)
		assert.True(t, c.HighLatitude)
		assert.Equal(t, domain.EPSG3031, c.Reference)
		require.Len(t, c.Targets, 1)
		got := c.Targets[0]
		assert.LessOrEqual(t, got.MinY, c.Bounds.MinY)
		assert.LessOrEqual(t, got.MinX, c.Bounds.MinX+1e-6)
		assert.GreaterOrEqual(t, got.MaxX, c.Bounds.MaxX-1e-6)
	})

	t.Run("degenerate footprint", func(t *testing.T) {
		_, err := Correct(orb.Polygon{orb.Ring{{0, 0}}}, Options{})
		var perr *ProjectionError
		assert.True(t, errors.As(err, &perr))
	})
}
