package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
)

func TestMountsListsEachFolderOnce(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		SceneFolder:           "/data/scenes",
		PreciseOrbitFolder:    "/data/orbits",
		RestitutedOrbitFolder: "/data/orbits/",
		DEMPath:               "/user/dems/site.tif",
		ScratchFolder:         "/data/scratch",
		OutputFolder:          "/data/out",
		ConfigFolder:          " ",
	}
	want := []string{"/data/scenes", "/data/orbits", "/user/dems", "/data/scratch", "/data/out"}
	if diff := cmp.Diff(want, mounts(cfg)); diff != "" {
		t.Fatalf("mounts mismatch (-want +got):\n%s", diff)
	}
}

func TestCoverageFillIsSeaLevelForCopernicus(t *testing.T) {
	t.Parallel()

	fill := coverageFill(config.ProviderCop30)
	if fill == nil || *fill != 0 {
		t.Fatalf("cop30 fill = %v, want sea level", fill)
	}
	if fill := coverageFill(config.ProviderREMA); fill != nil {
		t.Fatalf("rema fill = %v, want raster nodata", *fill)
	}
}
