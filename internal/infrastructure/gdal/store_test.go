package gdal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "S1A_X_dem.tif")

	src := dem.NewRaster(130, -12, 0.25, 0.25, 4, 3, domain.EPSG4326, -9999, 0)
	for i := range src.Data {
		src.Data[i] = float32(i * 10)
	}
	src.Data[5] = -9999
	src.AreaOrPoint = dem.Point

	require.NoError(t, store.Write(ctx, path, src))

	got, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, src.Width, got.Width)
	assert.Equal(t, src.Height, got.Height)
	assert.Equal(t, domain.EPSG4326, got.CRS)
	assert.Equal(t, -9999.0, got.NoData)
	assert.Equal(t, dem.Point, got.AreaOrPoint)
	assert.Equal(t, src.Data, got.Data)
	assert.Equal(t, src.Bounds(), got.Bounds())

	crs, err := store.CRS(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, domain.EPSG4326, crs)
}

func TestStoreWritePolarCRS(t *testing.T) {
	t.Parallel()

	store := NewStore()
	path := filepath.Join(t.TempDir(), "rema.tif")
	r := dem.NewRaster(-100000, 200000, 32, 32, 8, 8, domain.EPSG3031, -9999, 12.5)
	require.NoError(t, store.Write(context.Background(), path, r))

	crs, err := store.CRS(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, domain.EPSG3031, crs)
}

func TestStoreReadMissing(t *testing.T) {
	t.Parallel()

	_, err := NewStore().Read(context.Background(), filepath.Join(t.TempDir(), "missing.tif"))
	require.Error(t, err)
}
