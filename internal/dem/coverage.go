package dem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/geometry"
)

// pixelEps absorbs floating point noise when converting extents to pixel counts.
const pixelEps = 1e-9

// CoverageResult describes the raster left on disk by Guarantor.Ensure.
type CoverageResult struct {
	Path     string
	Target   domain.BoundingBox
	Before   Coverage
	After    Coverage
	Expanded bool
}

// Expand returns a raster whose bounds properly contain target. When r already
// properly contains it, r itself is returned with expanded=false. Otherwise the grid
// is grown on every side that under-covers by whole pixels of the source resolution,
// filled with fill, and r is composited on top with maximum wins. Resolution, CRS and
// nodata are preserved. target must already be expressed in r's CRS.
func Expand(r *Raster, target domain.BoundingBox, fill float32) (*Raster, bool, error) {
	if err := r.Validate(); err != nil {
		return nil, false, err
	}
	if target.CRS != r.CRS {
		return nil, false, fmt.Errorf("expand: target in %s, raster in %s", target.CRS, r.CRS)
	}
	if !target.Valid() {
		return nil, false, fmt.Errorf("expand: malformed target %v", target)
	}

	actual := r.Bounds()
	if actual.ContainsProperly(target) {
		return r, false, nil
	}

	left := growth(actual.MinX-target.MinX, r.ResX)
	right := growth(target.MaxX-actual.MaxX, r.ResX)
	top := growth(target.MaxY-actual.MaxY, r.ResY)
	bottom := growth(actual.MinY-target.MinY, r.ResY)

	out := NewRaster(
		r.OriginX-float64(left)*r.ResX,
		r.OriginY+float64(top)*r.ResY,
		r.ResX, r.ResY,
		r.Width+left+right,
		r.Height+top+bottom,
		r.CRS, r.NoData, fill,
	)
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			compositeMax(out, col+left, row+top, r.At(col, row), r)
		}
	}
	return out, true, nil
}

// growth is the number of whole pixels needed so the grid edge lies strictly beyond
// the target edge, given how far the target reaches past the current edge.
func growth(overshoot, res float64) int {
	if overshoot < 0 {
		return 0
	}
	return int(math.Floor(overshoot/res+pixelEps)) + 1
}

// compositeMax merges v from src into dst at (col, row). Nodata never overwrites a
// value, a value always replaces nodata and otherwise the larger value is kept. Ties
// resolve to the incoming value.
func compositeMax(dst *Raster, col, row int, v float32, src *Raster) {
	if src.IsNoData(v) {
		return
	}
	cur := dst.At(col, row)
	if dst.IsNoData(cur) || v >= cur {
		dst.Set(col, row, v)
	}
}

// Guarantor makes DEM files on disk cover their targets.
type Guarantor struct {
	store  Store
	fill   *float32
	logger *slog.Logger
}

// NewGuarantor builds a guarantor over store. A nil fill pads with each raster's
// nodata value.
func NewGuarantor(store Store, fill *float32, logger *slog.Logger) *Guarantor {
	return &Guarantor{store: store, fill: fill, logger: logger}
}

// Ensure reads the raster at path and, when it does not properly contain target,
// replaces it with an expanded copy. The replacement is written beside the original
// and renamed over it so readers never observe a partial file. A target in another
// CRS is transformed into the raster's CRS first.
func (g *Guarantor) Ensure(ctx context.Context, path string, target domain.BoundingBox) (CoverageResult, error) {
	if g == nil || g.store == nil {
		return CoverageResult{}, fmt.Errorf("coverage guarantor is not configured")
	}
	r, err := g.store.Read(ctx, path)
	if err != nil {
		return CoverageResult{}, fmt.Errorf("read dem %s: %w", path, err)
	}

	if target.CRS != r.CRS {
		target, err = geometry.TransformBounds(target, r.CRS, geometry.DefaultSampleStep)
		if err != nil {
			return CoverageResult{}, fmt.Errorf("%w: %w", domain.ErrCoverage, err)
		}
	}

	res := CoverageResult{Path: path, Target: target, Before: r.Coverage()}
	fill := float32(r.NoData)
	if g.fill != nil {
		fill = *g.fill
	}
	out, expanded, err := Expand(r, target, fill)
	if err != nil {
		return res, fmt.Errorf("%w: %w", domain.ErrCoverage, err)
	}
	res.After = out.Coverage()
	if !expanded {
		g.debug("dem covers target", "path", path, "bounds", res.Before.Bounds.String(), "target", target.String())
		return res, nil
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".expand")
	if err := g.store.Write(ctx, tmp, out); err != nil {
		_ = os.Remove(tmp)
		return res, fmt.Errorf("%w: write expanded dem: %w", domain.ErrCoverage, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return res, fmt.Errorf("%w: replace dem: %w", domain.ErrCoverage, err)
	}
	res.Expanded = true

	if g.logger != nil {
		g.logger.Info("dem expanded to cover target",
			"path", path,
			"before", res.Before.Bounds.String(),
			"after", res.After.Bounds.String(),
			"target", target.String(),
		)
	}
	return res, nil
}

func (g *Guarantor) debug(msg string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}
