package dem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// PolarResolutions are the resolutions, in metres, the polar mosaic is published at.
var PolarResolutions = []int{2, 10, 32, 100, 500, 1000}

// ValidateResolution rejects resolutions the polar provider does not publish.
func ValidateResolution(res int) error {
	if !slices.Contains(PolarResolutions, res) {
		return fmt.Errorf("%w: %dm not in %v", domain.ErrInvalidResolution, res, PolarResolutions)
	}
	return nil
}

// SubstituteResolution rewrites the resolution token of a tile URL, which appears as a
// path segment ("/32m/") and in the file name ("_32m_"). A URL carrying neither token
// cannot be redirected and yields ErrResolutionUnavailable.
func SubstituteResolution(url string, from, to int) (string, error) {
	if from == to {
		return url, nil
	}
	if err := ValidateResolution(to); err != nil {
		return "", err
	}
	oldDir, newDir := "/"+strconv.Itoa(from)+"m/", "/"+strconv.Itoa(to)+"m/"
	oldName, newName := "_"+strconv.Itoa(from)+"m_", "_"+strconv.Itoa(to)+"m_"
	if !strings.Contains(url, oldDir) && !strings.Contains(url, oldName) {
		return "", fmt.Errorf("%w: no %dm token in %s", domain.ErrResolutionUnavailable, from, url)
	}
	return strings.NewReplacer(oldDir, newDir, oldName, newName).Replace(url), nil
}

// Tile is one entry of a polar tile index.
type Tile struct {
	ID     string
	URL    string
	Bounds domain.BoundingBox
}

// TileIndex lists tiles and their extents in the index CRS.
type TileIndex struct {
	CRS   domain.CRS
	Tiles []Tile
}

// ParseTileIndex decodes a GeoJSON feature collection whose features carry a tile
// identifier and a download URL. Features without a URL are skipped.
func ParseTileIndex(data []byte, crs domain.CRS) (*TileIndex, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode tile index: %w", err)
	}
	idx := &TileIndex{CRS: crs}
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		url := firstString(f.Properties, "s3url", "fileurl", "url")
		if url == "" {
			continue
		}
		id := firstString(f.Properties, "tile", "dem_id", "id")
		if id == "" {
			id = strconv.Itoa(i)
		}
		idx.Tiles = append(idx.Tiles, Tile{
			ID:     id,
			URL:    url,
			Bounds: domain.BoundsFromOrb(f.Geometry.Bound(), crs),
		})
	}
	if len(idx.Tiles) == 0 {
		return nil, errors.New("tile index has no usable features")
	}
	return idx, nil
}

func firstString(props geojson.Properties, keys ...string) string {
	for _, k := range keys {
		if v := props.MustString(k, ""); v != "" {
			return v
		}
	}
	return ""
}

// Intersecting returns the tiles overlapping target, which must be in the index CRS.
func (idx *TileIndex) Intersecting(target domain.BoundingBox) ([]Tile, error) {
	if target.CRS != idx.CRS {
		return nil, fmt.Errorf("tile index in %s, target in %s", idx.CRS, target.CRS)
	}
	var out []Tile
	for _, t := range idx.Tiles {
		if t.Bounds.Intersects(target) {
			out = append(out, t)
		}
	}
	return out, nil
}

// IndexFetcher downloads the raw tile index.
type IndexFetcher func(ctx context.Context) ([]byte, error)

// IndexCache downloads the tile index at most once: it is kept in memory for the
// life of the process and on disk at path across runs.
type IndexCache struct {
	path  string
	crs   domain.CRS
	fetch IndexFetcher

	mu    sync.Mutex
	index *TileIndex
}

// NewIndexCache returns a cache persisting the index at path.
func NewIndexCache(path string, crs domain.CRS, fetch IndexFetcher) *IndexCache {
	return &IndexCache{path: path, crs: crs, fetch: fetch}
}

// Load returns the cached index, reading it from disk or downloading it on first use.
func (c *IndexCache) Load(ctx context.Context) (*TileIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		return c.index, nil
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		if c.fetch == nil {
			return nil, fmt.Errorf("tile index %s missing and no fetcher configured", c.path)
		}
		if data, err = c.fetch(ctx); err != nil {
			return nil, fmt.Errorf("download tile index: %w", err)
		}
		if err := writeFileAtomic(c.path, data); err != nil {
			return nil, fmt.Errorf("cache tile index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read tile index: %w", err)
	}

	idx, err := ParseTileIndex(data, c.crs)
	if err != nil {
		return nil, err
	}
	c.index = idx
	return idx, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
