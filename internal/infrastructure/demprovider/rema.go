package demprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/geometry"
)

// DefaultREMAIndexResolution is the resolution of the URLs listed in the tile index.
const DefaultREMAIndexResolution = 32

// REMAConfig configures the Antarctic polar mosaic provider.
type REMAConfig struct {
	IndexURL        string
	IndexPath       string
	IndexResolution int
	CacheDir        string
	SampleStep      float64
}

// REMA assembles Reference Elevation Model of Antarctica tiles. Tiles are listed in
// a GeoJSON index in polar stereographic coordinates; heights are already relative
// to the WGS84 ellipsoid.
type REMA struct {
	cfg    REMAConfig
	index  *dem.IndexCache
	store  dem.Store
	cache  *tileCache
	logger *slog.Logger
}

var _ dem.Provider = (*REMA)(nil)

// NewREMA wires the index cache and tile downloader.
func NewREMA(cfg REMAConfig, store dem.Store, client *http.Client, log *slog.Logger) *REMA {
	if cfg.IndexResolution == 0 {
		cfg.IndexResolution = DefaultREMAIndexResolution
	}
	if cfg.SampleStep <= 0 {
		cfg.SampleStep = geometry.DefaultSampleStep
	}
	cache := newTileCache(cfg.CacheDir, client, log)
	p := &REMA{cfg: cfg, store: store, cache: cache, logger: log}
	p.index = dem.NewIndexCache(cfg.IndexPath, domain.EPSG3031, p.downloadIndex)
	return p
}

func (p *REMA) Name() string { return "rema" }

// Fetch mosaics the index tiles intersecting req.Bounds at req.Resolution.
func (p *REMA) Fetch(ctx context.Context, req dem.Request) (*dem.Raster, error) {
	res := req.Resolution
	if res == 0 {
		res = p.cfg.IndexResolution
	}
	if err := dem.ValidateResolution(res); err != nil {
		return nil, err
	}
	target, err := geometry.TransformBounds(req.Bounds, domain.EPSG3031, p.cfg.SampleStep)
	if err != nil {
		return nil, fmt.Errorf("rema target: %w", err)
	}

	idx, err := p.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	hits, err := idx.Intersecting(target)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: no rema tiles intersect %s", domain.ErrCoverage, target)
	}

	tiles := make([]*dem.Raster, 0, len(hits))
	for _, t := range hits {
		url, err := dem.SubstituteResolution(t.URL, p.cfg.IndexResolution, res)
		if err != nil {
			return nil, err
		}
		local, err := p.cache.fetch(ctx, url, path.Base(url))
		if errors.Is(err, errTileMissing) {
			return nil, fmt.Errorf("%w: tile %s at %dm", domain.ErrResolutionUnavailable, t.ID, res)
		}
		if err != nil {
			return nil, err
		}
		r, err := p.store.Read(ctx, local)
		if err != nil {
			return nil, fmt.Errorf("read tile %s: %w", t.ID, err)
		}
		tiles = append(tiles, r)
	}
	p.debug("rema tiles assembled", "tiles", len(tiles), "resolution", res, "target", target.String())

	mosaic, err := mosaicTiles(tiles)
	if err != nil {
		return nil, fmt.Errorf("mosaic rema tiles: %w", err)
	}
	out := crop(mosaic, target)
	if req.AreaOrPoint != "" {
		out.AreaOrPoint = req.AreaOrPoint
	}
	return out, nil
}

func (p *REMA) downloadIndex(ctx context.Context) ([]byte, error) {
	if p.cfg.IndexURL == "" {
		return nil, errors.New("dem.tile_index_url is not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.IndexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := p.cache.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile index: unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (p *REMA) debug(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
