// Package dem acquires elevation rasters for a scene and guarantees they cover the
// scene's buffered footprint.
package dem

import (
	"context"
	"fmt"
	"math"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// Pixel registration conventions.
const (
	Area  = "Area"
	Point = "Point"
)

// Raster is a single-band north-up elevation grid. OriginX/OriginY is the outer
// top-left corner of the top-left pixel (Area registration) and ResX/ResY are
// positive pixel sizes. Data is row-major, Width*Height long.
type Raster struct {
	OriginX     float64
	OriginY     float64
	ResX        float64
	ResY        float64
	Width       int
	Height      int
	CRS         domain.CRS
	NoData      float64
	AreaOrPoint string
	Data        []float32
}

// Coverage summarises the geospatial extent of a raster.
type Coverage struct {
	Bounds domain.BoundingBox
	ResX   float64
	ResY   float64
	CRS    domain.CRS
	NoData float64
	Width  int
	Height int
}

// Store reads and writes rasters at filesystem paths.
type Store interface {
	Read(ctx context.Context, path string) (*Raster, error)
	Write(ctx context.Context, path string, r *Raster) error
}

// NewRaster allocates a grid filled with fill.
func NewRaster(originX, originY, resX, resY float64, width, height int, crs domain.CRS, nodata float64, fill float32) *Raster {
	r := &Raster{
		OriginX:     originX,
		OriginY:     originY,
		ResX:        resX,
		ResY:        resY,
		Width:       width,
		Height:      height,
		CRS:         crs,
		NoData:      nodata,
		AreaOrPoint: Area,
		Data:        make([]float32, width*height),
	}
	if fill != 0 {
		for i := range r.Data {
			r.Data[i] = fill
		}
	}
	return r
}

// Validate checks the grid is well formed.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("raster is nil")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("raster has empty shape %dx%d", r.Width, r.Height)
	}
	if r.ResX <= 0 || r.ResY <= 0 {
		return fmt.Errorf("raster has non-positive resolution %gx%g", r.ResX, r.ResY)
	}
	if len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("raster data length %d does not match shape %dx%d", len(r.Data), r.Width, r.Height)
	}
	return nil
}

// Bounds derives the extent from the transform and shape.
func (r *Raster) Bounds() domain.BoundingBox {
	return domain.BoundingBox{
		MinX: r.OriginX,
		MinY: r.OriginY - float64(r.Height)*r.ResY,
		MaxX: r.OriginX + float64(r.Width)*r.ResX,
		MaxY: r.OriginY,
		CRS:  r.CRS,
	}
}

// Coverage returns the raster's extent, resolution, CRS and nodata value.
func (r *Raster) Coverage() Coverage {
	return Coverage{
		Bounds: r.Bounds(),
		ResX:   r.ResX,
		ResY:   r.ResY,
		CRS:    r.CRS,
		NoData: r.NoData,
		Width:  r.Width,
		Height: r.Height,
	}
}

// GeoTransform returns the GDAL affine transform of the raster.
func (r *Raster) GeoTransform() [6]float64 {
	return [6]float64{r.OriginX, r.ResX, 0, r.OriginY, 0, -r.ResY}
}

// At returns the value at (col, row).
func (r *Raster) At(col, row int) float32 {
	return r.Data[row*r.Width+col]
}

// Set stores v at (col, row).
func (r *Raster) Set(col, row int, v float32) {
	r.Data[row*r.Width+col] = v
}

// IsNoData reports whether v is the nodata value or NaN.
func (r *Raster) IsNoData(v float32) bool {
	return math.IsNaN(float64(v)) || float64(v) == r.NoData
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Data = append([]float32(nil), r.Data...)
	return &out
}

// PixelCenter returns the map coordinates of the centre of pixel (col, row).
func (r *Raster) PixelCenter(col, row int) (x, y float64) {
	return r.OriginX + (float64(col)+0.5)*r.ResX, r.OriginY - (float64(row)+0.5)*r.ResY
}

// Sample returns the nearest pixel value at map coordinate (x, y) and whether it is
// inside the grid and valid.
func (r *Raster) Sample(x, y float64) (float32, bool) {
	col := int(math.Floor((x - r.OriginX) / r.ResX))
	row := int(math.Floor((r.OriginY - y) / r.ResY))
	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return 0, false
	}
	v := r.At(col, row)
	if r.IsNoData(v) {
		return v, false
	}
	return v, true
}

// ToArea converts a Point-registered raster, whose origin is the centre of the
// top-left pixel, into Area registration by shifting half a pixel.
func (r *Raster) ToArea() {
	if r.AreaOrPoint != Point {
		return
	}
	r.OriginX -= r.ResX / 2
	r.OriginY += r.ResY / 2
	r.AreaOrPoint = Area
}

// AddGeoid converts geoid-referenced heights to ellipsoidal heights by adding the
// undulation sampled from geoid at every valid pixel centre. Both rasters must share
// a CRS; pixels outside the geoid grid are left unchanged.
func (r *Raster) AddGeoid(geoid *Raster) error {
	if geoid.CRS != r.CRS {
		return fmt.Errorf("geoid in %s, dem in %s", geoid.CRS, r.CRS)
	}
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			v := r.At(col, row)
			if r.IsNoData(v) {
				continue
			}
			x, y := r.PixelCenter(col, row)
			if n, ok := geoid.Sample(x, y); ok {
				r.Set(col, row, v+n)
			}
		}
	}
	return nil
}
