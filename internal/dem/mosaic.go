package dem

import (
	"errors"
	"fmt"
	"math"
)

// resTolerance is the relative difference allowed between tile resolutions.
const resTolerance = 1e-6

// Mosaic combines rasters sharing CRS and resolution into one grid covering their
// union. The grid is aligned to the first raster. Overlaps keep the maximum value;
// equal values resolve in favour of the later raster.
func Mosaic(rasters []*Raster) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, errors.New("mosaic: no rasters")
	}
	first := rasters[0]
	if err := first.Validate(); err != nil {
		return nil, fmt.Errorf("mosaic: raster 0: %w", err)
	}
	if len(rasters) == 1 {
		return first.Clone(), nil
	}

	union := first.Bounds()
	for i, r := range rasters[1:] {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("mosaic: raster %d: %w", i+1, err)
		}
		if r.CRS != first.CRS {
			return nil, fmt.Errorf("mosaic: raster %d in %s, expected %s", i+1, r.CRS, first.CRS)
		}
		if !sameRes(r.ResX, first.ResX) || !sameRes(r.ResY, first.ResY) {
			return nil, fmt.Errorf("mosaic: raster %d resolution %gx%g differs from %gx%g", i+1, r.ResX, r.ResY, first.ResX, first.ResY)
		}
		var err error
		if union, err = union.Union(r.Bounds()); err != nil {
			return nil, fmt.Errorf("mosaic: %w", err)
		}
	}

	left := int(math.Ceil((first.OriginX-union.MinX)/first.ResX - pixelEps))
	top := int(math.Ceil((union.MaxY-first.OriginY)/first.ResY - pixelEps))
	originX := first.OriginX - float64(left)*first.ResX
	originY := first.OriginY + float64(top)*first.ResY
	width := int(math.Ceil((union.MaxX-originX)/first.ResX - pixelEps))
	height := int(math.Ceil((originY-union.MinY)/first.ResY - pixelEps))

	out := NewRaster(originX, originY, first.ResX, first.ResY, width, height, first.CRS, first.NoData, float32(first.NoData))
	out.AreaOrPoint = first.AreaOrPoint
	for _, r := range rasters {
		colOff := int(math.Round((r.OriginX - originX) / first.ResX))
		rowOff := int(math.Round((originY - r.OriginY) / first.ResY))
		for row := 0; row < r.Height; row++ {
			dr := row + rowOff
			if dr < 0 || dr >= height {
				continue
			}
			for col := 0; col < r.Width; col++ {
				dc := col + colOff
				if dc < 0 || dc >= width {
					continue
				}
				v := r.At(col, row)
				if r.IsNoData(v) {
					continue
				}
				compositeMax(out, dc, dr, v, r)
			}
		}
	}
	return out, nil
}

// JoinAntimeridian mosaics the tiles either side of the antimeridian into one raster
// in a continuous longitude frame: the west tile is shifted by +360 degrees so the
// result runs from the east tile's west edge past 180.
func JoinAntimeridian(west, east *Raster) (*Raster, error) {
	if west.CRS != east.CRS {
		return nil, fmt.Errorf("join antimeridian: tiles in %s and %s", west.CRS, east.CRS)
	}
	shifted := *west
	shifted.OriginX += 360
	return Mosaic([]*Raster{east, &shifted})
}

func sameRes(a, b float64) bool {
	return math.Abs(a-b) <= resTolerance*math.Max(math.Abs(a), math.Abs(b))
}
