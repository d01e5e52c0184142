package demprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// DefaultCop30URL hosts the Copernicus GLO-30 cloud-optimised tiles.
const DefaultCop30URL = "https://copernicus-dem-30m.s3.amazonaws.com"

// cop30Res is the tile latitude spacing, one arc-second.
const cop30Res = 1.0 / 3600

// Cop30Config configures the Copernicus provider.
type Cop30Config struct {
	BaseURL   string
	CacheDir  string
	GeoidPath string
}

// Cop30 assembles 1x1 degree Copernicus GLO-30 tiles. Heights are relative to the
// EGM2008 geoid; ellipsoidal heights add the undulation read from GeoidPath.
type Cop30 struct {
	cfg    Cop30Config
	store  dem.Store
	cache  *tileCache
	logger *slog.Logger

	geoidOnce sync.Once
	geoid     *dem.Raster
	geoidErr  error
}

var _ dem.Provider = (*Cop30)(nil)

// NewCop30 wires the tile cache; a nil client downloads with a 10 minute timeout.
func NewCop30(cfg Cop30Config, store dem.Store, client *http.Client, log *slog.Logger) *Cop30 {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCop30URL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Cop30{
		cfg:    cfg,
		store:  store,
		cache:  newTileCache(cfg.CacheDir, client, log),
		logger: log,
	}
}

func (p *Cop30) Name() string { return "cop30" }

// Fetch mosaics every tile touching req.Bounds. Unpublished tiles are sea and are
// filled with zero heights; a request over open water yields a zero-height grid.
// Tiles fetched across the antimeridian are moved into the longitude frame of
// req.Bounds so the mosaic never spans the globe.
func (p *Cop30) Fetch(ctx context.Context, req dem.Request) (*dem.Raster, error) {
	if req.Bounds.CRS != domain.EPSG4326 {
		return nil, fmt.Errorf("cop30 expects geographic bounds, got %s", req.Bounds.CRS)
	}

	var (
		tiles []*dem.Raster
		sea   []tileCell
	)
	for _, cell := range tileCells(req.Bounds) {
		url := p.cfg.BaseURL + "/" + cell.name + "/" + cell.name + ".tif"
		path, err := p.cache.fetch(ctx, url, cell.name+".tif")
		if errors.Is(err, errTileMissing) {
			p.debug("no land tile", "tile", cell.name)
			sea = append(sea, cell)
			continue
		}
		if err != nil {
			return nil, err
		}
		r, err := p.store.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read tile %s: %w", cell.name, err)
		}
		r.OriginX += cell.shift()
		tiles = append(tiles, r)
	}

	var out *dem.Raster
	if len(tiles) == 0 {
		out = seaLevel(req.Bounds)
		p.debug("no land tiles, using sea level", "bounds", req.Bounds.String())
	} else {
		for _, cell := range sea {
			tiles = append(tiles, seaTile(cell, tiles[0]))
		}
		mosaic, err := mosaicTiles(tiles)
		if err != nil {
			return nil, fmt.Errorf("mosaic cop30 tiles: %w", err)
		}
		out = crop(mosaic, req.Bounds)
	}
	if req.AreaOrPoint != "" {
		out.AreaOrPoint = req.AreaOrPoint
	}

	if req.EllipsoidHeights {
		geoid, err := p.loadGeoid(ctx)
		if err != nil {
			return nil, err
		}
		if err := out.AddGeoid(geoid); err != nil {
			return nil, fmt.Errorf("apply geoid: %w", err)
		}
	}
	return out, nil
}

func (p *Cop30) loadGeoid(ctx context.Context) (*dem.Raster, error) {
	p.geoidOnce.Do(func() {
		if p.cfg.GeoidPath == "" {
			p.geoidErr = errors.New("ellipsoid heights requested but dem.geoid_path is not set")
			return
		}
		p.geoid, p.geoidErr = p.store.Read(ctx, p.cfg.GeoidPath)
		if p.geoidErr != nil {
			p.geoidErr = fmt.Errorf("read geoid %s: %w", p.cfg.GeoidPath, p.geoidErr)
		}
	})
	return p.geoid, p.geoidErr
}

// tileCell is one 1 degree tile. lon is in the frame of the requested bounds and
// may lie outside [-180, 180); name always uses the wrapped longitude.
type tileCell struct {
	name string
	lat  int
	lon  int
}

// shift moves a tile from its published longitude into the request frame.
func (c tileCell) shift() float64 {
	return float64(c.lon - wrapLon(c.lon))
}

func tileCells(b domain.BoundingBox) []tileCell {
	latMin := int(math.Floor(b.MinY))
	latMax := int(math.Ceil(b.MaxY)) - 1
	lonMin := int(math.Floor(b.MinX))
	lonMax := int(math.Ceil(b.MaxX)) - 1
	latMin, latMax = max(latMin, -90), min(latMax, 89)

	var cells []tileCell
	seen := map[string]bool{}
	for lat := latMax; lat >= latMin; lat-- {
		for lon := lonMin; lon <= lonMax; lon++ {
			name := tileName(lat, wrapLon(lon))
			if !seen[name] {
				seen[name] = true
				cells = append(cells, tileCell{name: name, lat: lat, lon: lon})
			}
		}
	}
	return cells
}

// TileNames lists the GLO-30 tile identifiers whose 1 degree cells intersect b.
// Longitudes are wrapped into [-180, 180).
func TileNames(b domain.BoundingBox) []string {
	cells := tileCells(b)
	names := make([]string, 0, len(cells))
	for _, c := range cells {
		names = append(names, c.name)
	}
	return names
}

func tileName(lat, lon int) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("Copernicus_DSM_COG_10_%s%02d_00_%s%03d_00_DEM", ns, abs(lat), ew, abs(lon))
}

func wrapLon(lon int) int {
	return ((lon+180)%360+360)%360 - 180
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// seaTile is a zero-height stand-in for an unpublished tile, on the grid of like.
func seaTile(c tileCell, like *dem.Raster) *dem.Raster {
	w := max(int(math.Round(1/like.ResX)), 1)
	h := max(int(math.Round(1/like.ResY)), 1)
	return dem.NewRaster(float64(c.lon), float64(c.lat+1), like.ResX, like.ResY, w, h, domain.EPSG4326, like.NoData, 0)
}

// seaLevel is a zero grid at tile resolution covering b.
func seaLevel(b domain.BoundingBox) *dem.Raster {
	w := max(int(math.Ceil(b.Width()/cop30Res)), 1)
	h := max(int(math.Ceil(b.Height()/cop30Res)), 1)
	return dem.NewRaster(b.MinX, b.MaxY, cop30Res, cop30Res, w, h, domain.EPSG4326, math.NaN(), 0)
}

func (p *Cop30) debug(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
