// Package gdal reads and writes DEM rasters as GeoTIFFs through GDAL.
package gdal

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

const areaOrPointKey = "AREA_OR_POINT"

var registerOnce sync.Once

// Store implements the DEM raster store and the product CRS inspector.
type Store struct {
	creationOptions []string
}

var (
	_ dem.Store             = (*Store)(nil)
	_ ports.RasterInspector = (*Store)(nil)
)

// NewStore registers the GDAL drivers once per process.
func NewStore() *Store {
	registerOnce.Do(godal.RegisterAll)
	return &Store{creationOptions: []string{"TILED=YES", "COMPRESS=DEFLATE", "BIGTIFF=IF_SAFER"}}
}

// Read loads band 1 as float32. Rasters tagged Point keep that registration so the
// caller can shift them.
func (s *Store) Read(_ context.Context, path string) (*dem.Raster, error) {
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	if st.NBands < 1 {
		return nil, fmt.Errorf("%s has no bands", path)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("geotransform of %s: %w", path, err)
	}
	if gt[2] != 0 || gt[4] != 0 || gt[5] >= 0 {
		return nil, fmt.Errorf("%s is not a north-up raster", path)
	}
	crs, err := epsgOf(ds)
	if err != nil {
		return nil, fmt.Errorf("crs of %s: %w", path, err)
	}

	band := ds.Bands()[0]
	nodata, ok := band.NoData()
	if !ok {
		nodata = math.NaN()
	}
	data := make([]float32, st.SizeX*st.SizeY)
	if err := band.Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	r := &dem.Raster{
		OriginX:     gt[0],
		OriginY:     gt[3],
		ResX:        gt[1],
		ResY:        -gt[5],
		Width:       st.SizeX,
		Height:      st.SizeY,
		CRS:         crs,
		NoData:      nodata,
		AreaOrPoint: dem.Area,
		Data:        data,
	}
	if strings.EqualFold(ds.Metadata(areaOrPointKey), dem.Point) {
		r.AreaOrPoint = dem.Point
	}
	return r, nil
}

// Write creates a single-band float32 GeoTIFF at path.
func (s *Store) Write(_ context.Context, path string, r *dem.Raster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, r.Width, r.Height,
		godal.CreationOption(s.creationOptions...))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writeErr := s.fill(ds, r)
	if closeErr := ds.Close(); writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("close %s: %w", path, closeErr)
	}
	return writeErr
}

func (s *Store) fill(ds *godal.Dataset, r *dem.Raster) error {
	if err := ds.SetGeoTransform(r.GeoTransform()); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(int(r.CRS))
	if err != nil {
		return fmt.Errorf("spatial ref %s: %w", r.CRS, err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("set spatial ref: %w", err)
	}
	area := r.AreaOrPoint
	if area == "" {
		area = dem.Area
	}
	if err := ds.SetMetadata(areaOrPointKey, area); err != nil {
		return fmt.Errorf("set %s: %w", areaOrPointKey, err)
	}

	band := ds.Bands()[0]
	if !math.IsNaN(r.NoData) {
		if err := band.SetNoData(r.NoData); err != nil {
			return fmt.Errorf("set nodata: %w", err)
		}
	}
	if err := band.Write(0, 0, r.Data, r.Width, r.Height); err != nil {
		return fmt.Errorf("write pixels: %w", err)
	}
	return nil
}

// CRS returns the EPSG code of a product raster.
func (s *Store) CRS(_ context.Context, path string) (domain.CRS, error) {
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()
	return epsgOf(ds)
}

func epsgOf(ds *godal.Dataset) (domain.CRS, error) {
	sr := ds.SpatialRef()
	if sr == nil {
		return 0, fmt.Errorf("no spatial reference")
	}
	defer sr.Close()

	code := sr.AuthorityCode("")
	if code == "" {
		if err := sr.AutoIdentifyEPSG(); err == nil {
			code = sr.AuthorityCode("")
		}
	}
	if code == "" {
		return 0, fmt.Errorf("spatial reference has no EPSG code")
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("authority code %q: %w", code, err)
	}
	return domain.CRS(n), nil
}
