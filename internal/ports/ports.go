package ports

import (
	"context"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// SceneCatalog looks scenes up by identifier. A miss returns an empty slice, not an error.
type SceneCatalog interface {
	Lookup(ctx context.Context, sceneID string) ([]domain.Scene, error)
}

// SceneDownloader fetches the scene archive into dir and returns its path.
type SceneDownloader interface {
	Download(ctx context.Context, scene domain.Scene, dir string) (string, error)
}

// OrbitDownloader fetches orbit products of the queried rank into dir. No product
// is an empty slice, not an error.
type OrbitDownloader interface {
	Download(ctx context.Context, q domain.OrbitQuery, dir string) ([]domain.OrbitFile, error)
}

// OrbitResolver selects the single orbit file used for a scene.
type OrbitResolver interface {
	Resolve(ctx context.Context, scene domain.Scene) (domain.OrbitFile, error)
}

// DEMSource acquires a DEM that covers the scene targets.
type DEMSource interface {
	Acquire(ctx context.Context, req dem.AcquireRequest) (dem.Acquisition, error)
}

// RasterInspector reads georeferencing metadata of product rasters.
type RasterInspector interface {
	CRS(ctx context.Context, path string) (domain.CRS, error)
}

// ContainerRuntime runs the RTC processor container.
type ContainerRuntime interface {
	Start(ctx context.Context, spec domain.ContainerSpec) (string, error)
	State(ctx context.Context, id string) (string, error)
	Logs(ctx context.Context, id string) ([]byte, error)
	Kill(ctx context.Context, id string) error
}

// ObjectStore uploads a local file to bucket/key.
type ObjectStore interface {
	Put(ctx context.Context, localPath, bucket, key string) error
}

// HistoryRepository persists scene outcomes across runs.
type HistoryRepository interface {
	Published(ctx context.Context, sceneNames []string) (map[string]bool, error)
	SaveResult(ctx context.Context, rec domain.SceneRecord) error
}

// Notifier sends the run report to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Remover deletes local working files and directories.
type Remover interface {
	RemoveAll(ctx context.Context, path string) error
}

// Unpacker extracts a scene archive into dir.
type Unpacker interface {
	Unpack(ctx context.Context, archivePath, dir string) error
}
