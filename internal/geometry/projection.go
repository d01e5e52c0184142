package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

var wgs84E = math.Sqrt(2*wgs84F - wgs84F*wgs84F)

// maxMercatorLat is the latitude where web mercator y reaches the square world extent.
const maxMercatorLat = 85.05112877980659

// ProjectionError reports a transform that could not be carried out, either because
// a CRS is unsupported or because a coordinate lies outside the projection domain.
type ProjectionError struct {
	Src domain.CRS
	Dst domain.CRS
	Err error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("project %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

var errUnsupportedCRS = errors.New("unsupported crs")

// projection converts between geographic WGS84 degrees and a projected plane.
type projection interface {
	forward(lon, lat float64) (x, y float64, err error)
	inverse(x, y float64) (lon, lat float64, err error)
}

type geographic struct{}

func (geographic) forward(lon, lat float64) (float64, float64, error) { return lon, lat, nil }
func (geographic) inverse(x, y float64) (float64, float64, error)     { return x, y, nil }

type webMercator struct{}

func (webMercator) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > maxMercatorLat {
		return 0, 0, fmt.Errorf("latitude %.6f outside mercator domain", lat)
	}
	x := wgs84A * lon * math.Pi / 180
	y := wgs84A * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y, nil
}

func (webMercator) inverse(x, y float64) (float64, float64, error) {
	lon := x / wgs84A * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/wgs84A)) - math.Pi/2) * 180 / math.Pi
	return lon, lat, nil
}

// polarStereographic is the ellipsoidal polar stereographic projection (variant B,
// defined by a latitude of true scale).
type polarStereographic struct {
	south   bool
	latTS   float64 // degrees, sign matches hemisphere
	centreL float64 // central meridian, degrees
}

func (p polarStereographic) hemisphere() (latTS, lon0 float64) {
	if p.south {
		return -p.latTS * math.Pi / 180, -p.centreL * math.Pi / 180
	}
	return p.latTS * math.Pi / 180, p.centreL * math.Pi / 180
}

func tsfn(phi float64) float64 {
	s := wgs84E * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-s)/(1+s), wgs84E/2)
}

func msfn(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-wgs84E*wgs84E*s*s)
}

// forward works in the north-polar frame; the south aspect mirrors lat, lon and the output.
func (p polarStereographic) forward(lon, lat float64) (float64, float64, error) {
	if p.south && lat > 0 || !p.south && lat < 0 {
		return 0, 0, fmt.Errorf("latitude %.6f in the wrong hemisphere", lat)
	}
	phiC, lam0 := p.hemisphere()
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	if p.south {
		phi, lam = -phi, -lam
	}
	rho := wgs84A * msfn(phiC) * tsfn(phi) / tsfn(phiC)
	x := rho * math.Sin(lam-lam0)
	y := -rho * math.Cos(lam-lam0)
	if p.south {
		x, y = -x, -y
	}
	return x, y, nil
}

func (p polarStereographic) inverse(x, y float64) (float64, float64, error) {
	phiC, lam0 := p.hemisphere()
	if p.south {
		x, y = -x, -y
	}
	rho := math.Hypot(x, y)
	if rho == 0 {
		lat := 90.0
		if p.south {
			lat = -90
		}
		return p.centreL, lat, nil
	}
	t := rho * tsfn(phiC) / (wgs84A * msfn(phiC))
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		s := wgs84E * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-s)/(1+s), wgs84E/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	lam := lam0 + math.Atan2(x, -y)
	if p.south {
		phi, lam = -phi, -lam
	}
	return normalizeLon(lam * 180 / math.Pi), phi * 180 / math.Pi, nil
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func lookup(crs domain.CRS) (projection, error) {
	switch crs {
	case domain.EPSG4326:
		return geographic{}, nil
	case domain.EPSG3857:
		return webMercator{}, nil
	case domain.EPSG3031:
		return polarStereographic{south: true, latTS: -71, centreL: 0}, nil
	case domain.EPSG3413:
		return polarStereographic{latTS: 70, centreL: -45}, nil
	case domain.EPSG3995:
		return polarStereographic{latTS: 71, centreL: 0}, nil
	default:
		return nil, errUnsupportedCRS
	}
}

// Supported reports whether crs can be used as a transform source or target.
func Supported(crs domain.CRS) bool {
	_, err := lookup(crs)
	return err == nil
}

// TransformPoints converts points from src to dst. Coordinates are always (x, y),
// which for geographic CRSes means (longitude, latitude).
func TransformPoints(points []orb.Point, src, dst domain.CRS) ([]orb.Point, error) {
	from, err := lookup(src)
	if err != nil {
		return nil, &ProjectionError{Src: src, Dst: dst, Err: fmt.Errorf("%w: %s", err, src)}
	}
	to, err := lookup(dst)
	if err != nil {
		return nil, &ProjectionError{Src: src, Dst: dst, Err: fmt.Errorf("%w: %s", err, dst)}
	}

	out := make([]orb.Point, len(points))
	for i, pt := range points {
		if src == dst {
			out[i] = pt
			continue
		}
		lon, lat, err := from.inverse(pt[0], pt[1])
		if err != nil {
			return nil, &ProjectionError{Src: src, Dst: dst, Err: err}
		}
		x, y, err := to.forward(lon, lat)
		if err != nil {
			return nil, &ProjectionError{Src: src, Dst: dst, Err: err}
		}
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return nil, &ProjectionError{Src: src, Dst: dst, Err: fmt.Errorf("non-finite result for %v", pt)}
		}
		out[i] = orb.Point{x, y}
	}
	return out, nil
}

// ReprojectPolygon transforms the exterior ring of polygon vertex by vertex.
func ReprojectPolygon(polygon orb.Polygon, src, dst domain.CRS) (orb.Polygon, error) {
	if len(polygon) == 0 || len(polygon[0]) == 0 {
		return nil, &ProjectionError{Src: src, Dst: dst, Err: errors.New("empty polygon")}
	}
	pts, err := TransformPoints([]orb.Point(polygon[0]), src, dst)
	if err != nil {
		return nil, err
	}
	return orb.Polygon{orb.Ring(pts)}, nil
}

// TransformBounds densifies the box edges every step units, transforms the points and
// returns their bounds in dst. A box whose interior holds a pole of a polar dst is
// expanded to include the projection origin.
func TransformBounds(b domain.BoundingBox, dst domain.CRS, step float64) (domain.BoundingBox, error) {
	if b.CRS == dst {
		return b, nil
	}
	if !b.Valid() {
		return domain.BoundingBox{}, &ProjectionError{Src: b.CRS, Dst: dst, Err: fmt.Errorf("malformed bounds %v", b)}
	}
	pts, err := TransformPoints(Densify(b, step), b.CRS, dst)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	return domain.BoundsFromOrb(orb.MultiPoint(pts).Bound(), dst), nil
}

// Densify returns points along the box boundary spaced at most step apart, corners included.
func Densify(b domain.BoundingBox, step float64) []orb.Point {
	if step <= 0 {
		step = math.Max(b.Width(), b.Height())
	}
	ring := b.Ring()
	var pts []orb.Point
	for i := 0; i < len(ring)-1; i++ {
		a, c := ring[i], ring[i+1]
		length := math.Hypot(c[0]-a[0], c[1]-a[1])
		n := int(math.Ceil(length / step))
		if n < 1 {
			n = 1
		}
		for k := 0; k < n; k++ {
			f := float64(k) / float64(n)
			pts = append(pts, orb.Point{a[0] + f*(c[0]-a[0]), a[1] + f*(c[1]-a[1])})
		}
	}
	return pts
}
