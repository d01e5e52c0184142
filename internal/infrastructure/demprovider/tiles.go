// Package demprovider implements the DEM providers: Copernicus GLO-30 tiles, the
// REMA polar mosaic and a user-supplied file.
package demprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// errTileMissing marks a tile the server does not have, e.g. open ocean.
var errTileMissing = errors.New("tile not published")

// tileCache downloads remote tiles once into dir.
type tileCache struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

func newTileCache(dir string, client *http.Client, log *slog.Logger) *tileCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &tileCache{dir: dir, client: client, logger: log}
}

// fetch returns the local path of the tile at url, downloading it when absent.
// A 404 or 403 (S3 reports missing keys as either) yields errTileMissing.
func (c *tileCache) fetch(ctx context.Context, url, name string) (string, error) {
	dst := filepath.Join(c.dir, name)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create tile cache: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", errTileMissing, url)
	default:
		return "", fmt.Errorf("tile %s: unexpected status %s", url, resp.Status)
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}
	_, copyErr := io.Copy(f, resp.Body)
	if err := errors.Join(copyErr, f.Close()); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write tile %s: %w", name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move tile into place: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("tile downloaded", "tile", name)
	}
	return dst, nil
}

// crop keeps the pixels of r intersecting bounds plus one pixel of margin. A raster
// not intersecting bounds is returned unchanged.
func crop(r *dem.Raster, bounds domain.BoundingBox) *dem.Raster {
	c0 := int(math.Floor((bounds.MinX-r.OriginX)/r.ResX)) - 1
	c1 := int(math.Ceil((bounds.MaxX-r.OriginX)/r.ResX)) + 1
	r0 := int(math.Floor((r.OriginY-bounds.MaxY)/r.ResY)) - 1
	r1 := int(math.Ceil((r.OriginY-bounds.MinY)/r.ResY)) + 1
	c0, r0 = max(c0, 0), max(r0, 0)
	c1, r1 = min(c1, r.Width), min(r1, r.Height)
	if c0 >= c1 || r0 >= r1 || (c0 == 0 && r0 == 0 && c1 == r.Width && r1 == r.Height) {
		return r
	}

	out := dem.NewRaster(
		r.OriginX+float64(c0)*r.ResX,
		r.OriginY-float64(r0)*r.ResY,
		r.ResX, r.ResY, c1-c0, r1-r0, r.CRS, r.NoData, 0,
	)
	out.AreaOrPoint = r.AreaOrPoint
	for row := r0; row < r1; row++ {
		copy(out.Data[(row-r0)*out.Width:(row-r0+1)*out.Width], r.Data[row*r.Width+c0:row*r.Width+c1])
	}
	return out
}

// resample returns r on a grid of resX by resY with nearest-neighbour sampling,
// keeping its extent. Tiles from different latitude bands differ in x spacing.
func resample(r *dem.Raster, resX, resY float64) *dem.Raster {
	if r.ResX == resX && r.ResY == resY {
		return r
	}
	width := int(math.Round(float64(r.Width) * r.ResX / resX))
	height := int(math.Round(float64(r.Height) * r.ResY / resY))
	out := dem.NewRaster(r.OriginX, r.OriginY, resX, resY, max(width, 1), max(height, 1), r.CRS, r.NoData, 0)
	out.AreaOrPoint = r.AreaOrPoint
	for row := 0; row < out.Height; row++ {
		srcRow := min(int(float64(row)*resY/r.ResY), r.Height-1)
		for col := 0; col < out.Width; col++ {
			srcCol := min(int(float64(col)*resX/r.ResX), r.Width-1)
			out.Set(col, row, r.At(srcCol, srcRow))
		}
	}
	return out
}

// mosaicTiles brings tiles to the finest resolution among them and mosaics them.
func mosaicTiles(tiles []*dem.Raster) (*dem.Raster, error) {
	resX, resY := math.Inf(1), math.Inf(1)
	for _, t := range tiles {
		resX, resY = math.Min(resX, t.ResX), math.Min(resY, t.ResY)
	}
	aligned := make([]*dem.Raster, 0, len(tiles))
	for _, t := range tiles {
		aligned = append(aligned, resample(t, resX, resY))
	}
	return dem.Mosaic(aligned)
}
