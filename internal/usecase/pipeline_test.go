package usecase

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/clock"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/observability"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/processor"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/publish"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/runconfig"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/timing"
)

const (
	missingScene = "S1A_IW_SLC__1SDV_20230101T000000_20230101T000027_046600_059000_AAAA"
	coveredScene = "S1A_IW_SLC__1SDV_20230102T000000_20230102T000027_046615_059011_BBBB"
	shortScene   = "S1B_IW_SLC__1SDV_20210103T000000_20210103T000027_025000_02F000_CCCC"
)

const rtcTemplate = `runconfig:
  name: rtc_s1_workflow_default
  groups:
    input_file_group:
      safe_file_path: [SAFE_PATH]
      orbit_file_path: [ORBIT_PATH]
    dynamic_ancillary_file_group:
      dem_file: DEM_PATH
    product_group:
      product_id: rtc_SCENE_NAME
      output_dir: OPERA_OUTPUT_FOLDER
      scratch_path: OPERA_SCRATCH_FOLDER
    processing:
      polarization: POLARIZATION_TYPE
      geocoding:
        output_epsg: TARGET_CRS
        bursts_geogrid:
          x_posting: X_RESOLUTION
          y_posting: Y_RESOLUTION
`

type fakeCatalog struct {
	scenes map[string]domain.Scene
	err    error
}

func (c *fakeCatalog) Lookup(_ context.Context, id string) ([]domain.Scene, error) {
	if c.err != nil {
		return nil, c.err
	}
	if s, ok := c.scenes[id]; ok {
		return []domain.Scene{s}, nil
	}
	return nil, nil
}

type fakeDownloader struct{}

func (fakeDownloader) Download(_ context.Context, scene domain.Scene, dir string) (string, error) {
	path := filepath.Join(dir, scene.Name+".zip")
	return path, os.WriteFile(path, []byte("zip"), 0o644)
}

type fakeOrbits struct{ dir string }

func (o fakeOrbits) Resolve(_ context.Context, scene domain.Scene) (domain.OrbitFile, error) {
	path := filepath.Join(o.dir, scene.Name+"_POEORB.EOF")
	if err := os.WriteFile(path, []byte("<Earth_Explorer_File/>"), 0o644); err != nil {
		return domain.OrbitFile{}, err
	}
	return domain.OrbitFile{Path: path, Name: filepath.Base(path), Rank: domain.OrbitPrecise}, nil
}

// gobStore persists rasters with gob so the DEM source runs its real rename paths.
type gobStore struct {
	mu           sync.Mutex
	expandWrites int
}

func (s *gobStore) Read(_ context.Context, path string) (*dem.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r dem.Raster
	if err := gob.NewDecoder(f).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *gobStore) Write(_ context.Context, path string, r *dem.Raster) error {
	if strings.HasSuffix(path, ".expand") {
		s.mu.Lock()
		s.expandWrites++
		s.mu.Unlock()
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(r)
}

// tileProvider serves a generous raster for coveredScene and a raster that stops at
// the footprint edge for shortScene.
type tileProvider struct{}

func (tileProvider) Name() string { return "cop30" }

func (tileProvider) Fetch(_ context.Context, req dem.Request) (*dem.Raster, error) {
	var r *dem.Raster
	switch req.SceneName {
	case shortScene:
		r = dem.NewRaster(140, -30, 0.01, 0.01, 100, 100, domain.EPSG4326, -9999, 0)
	default:
		r = dem.NewRaster(129, -16, 0.01, 0.01, 300, 300, domain.EPSG4326, -9999, 0)
	}
	for i := range r.Data {
		r.Data[i] = float32(100 + i%50)
	}
	r.AreaOrPoint = dem.Area
	return r, nil
}

// fakeProcessor leaves the artifacts the RTC container would produce.
type fakeProcessor struct {
	fail map[string]bool
}

func (f fakeProcessor) Run(_ context.Context, inv processor.Invocation) (processor.Result, error) {
	res := processor.Result{
		OutputPath: processor.OutputPath(inv.OutputDir, inv.ProductID),
		LogPath:    processor.LogPath(inv.OutputDir, inv.ProductID),
	}
	if err := os.WriteFile(res.LogPath, []byte("rtc log\n"), 0o644); err != nil {
		return res, err
	}
	if f.fail[inv.SceneName] {
		return res, fmt.Errorf("%w: %s", domain.ErrProcessingFailed, res.OutputPath)
	}
	for _, name := range []string{inv.ProductID + ".h5", inv.SceneName + "_VV.tif", inv.SceneName + "_VH.tif"} {
		if err := os.WriteFile(filepath.Join(inv.OutputDir, name), []byte("data"), 0o644); err != nil {
			return res, err
		}
	}
	return res, nil
}

type fakeInspector struct{}

func (fakeInspector) CRS(context.Context, string) (domain.CRS, error) { return domain.CRS(32752), nil }

type recordingStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingStore) Put(_ context.Context, localPath, bucket, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, bucket+"/"+key)
	return nil
}

type fakeNotifier struct{ reports []string }

func (n *fakeNotifier) PublishReport(_ context.Context, report string) error {
	n.reports = append(n.reports, report)
	return nil
}

type fakeRemover struct{ removed []string }

func (r *fakeRemover) RemoveAll(_ context.Context, path string) error {
	r.removed = append(r.removed, path)
	return os.RemoveAll(path)
}

type fakeHistory struct {
	published map[string]bool
	saved     []domain.SceneRecord
}

func (h *fakeHistory) Published(_ context.Context, names []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, n := range names {
		if h.published[n] {
			out[n] = true
		}
	}
	return out, nil
}

func (h *fakeHistory) SaveResult(_ context.Context, rec domain.SceneRecord) error {
	h.saved = append(h.saved, rec)
	return nil
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

type harness struct {
	root      string
	opts      Options
	deps      PipelineDeps
	store     *gobStore
	objects   *recordingStore
	notifier  *fakeNotifier
	remover   *fakeRemover
	collector *observability.PipelineCollector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	dirs := map[string]string{}
	for _, d := range []string{"scenes", "orbits", "dem", "scratch", "out", "config"} {
		dirs[d] = filepath.Join(root, d)
		require.NoError(t, os.MkdirAll(dirs[d], 0o755))
	}
	templatePath := filepath.Join(root, "rtc_template.yaml")
	require.NoError(t, os.WriteFile(templatePath, []byte(rtcTemplate), 0o644))

	store := &gobStore{}
	reg := dem.NewRegistry()
	reg.Register(tileProvider{})
	source := dem.NewSource(reg, store, dem.NewGuarantor(store, nil, nil), dem.SourceConfig{
		Provider: "cop30", Buffer: dem.DefaultBuffer, AreaOrPoint: dem.Area,
	}, nil)

	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	objects := &recordingStore{}
	publisher := publish.NewPublisher(objects, nil, clk, 0, nil)
	publisher.OnFallback(collector.IncPublishFallback)
	notifier := &fakeNotifier{}
	remover := &fakeRemover{}

	catalog := &fakeCatalog{scenes: map[string]domain.Scene{
		coveredScene: {Name: coveredScene, Footprint: square(130, -18, 131, -17), Polarization: "VV+VH", Platform: "Sentinel-1A"},
		shortScene:   {Name: shortScene, Footprint: square(140, -31, 141, -30), Polarization: "HH", Platform: "Sentinel-1B"},
	}}

	return &harness{
		root:      root,
		store:     store,
		objects:   objects,
		notifier:  notifier,
		remover:   remover,
		collector: collector,
		deps: PipelineDeps{
			Catalog:      catalog,
			Downloader:   fakeDownloader{},
			Orbits:       fakeOrbits{dir: dirs["orbits"]},
			DEM:          source,
			Inspector:    fakeInspector{},
			Materializer: runconfig.NewMaterializer(templatePath, dirs["config"]),
			Processor:    fakeProcessor{},
			Publisher:    publisher,
			Notifier:     notifier,
			Remover:      remover,
			Metrics:      collector,
			Clock:        clk,
		},
		opts: Options{
			Scenes:        []string{missingScene, coveredScene, shortScene},
			SceneFolder:   dirs["scenes"],
			DEMFolder:     dirs["dem"],
			DEMType:       "glo_30",
			ScratchFolder: dirs["scratch"],
			OutputFolder:  dirs["out"],
			XResolution:   20,
			YResolution:   20,
			TargetCRS:     "",
			PushToS3:      true,
			Bucket:        "deant-data",
			Layout:        publish.Layout{Folder: "experimental", Software: "opera-rtc", DEMType: "glo_30"},
			SceneTimeout:  time.Hour,
		},
	}
}

func sceneIDs(results []domain.SceneResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.SceneID)
	}
	return out
}

func TestPipelineIsolatesFailuresAndRepairsCoverage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	report, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff([]string{coveredScene, shortScene}, sceneIDs(report.Succeeded)); diff != "" {
		t.Fatalf("succeeded mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{missingScene}, sceneIDs(report.Failed)); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
	failed := report.Failed[0]
	assert.True(t, errors.Is(failed.Err, domain.ErrSceneNotFound))
	assert.Equal(t, domain.StageLocated, failed.FailedAt)

	for _, res := range report.Succeeded {
		assert.Equal(t, domain.StagePublished, res.Reached, res.SceneID)
		require.Len(t, res.Stages, 7, res.SceneID)
		for _, sr := range res.Stages {
			assert.Equal(t, domain.OutcomeSucceeded, sr.Outcome, "%s %s", res.SceneID, sr.Stage)
		}
	}

	// Only the short DEM was padded, and only once.
	assert.Equal(t, 1, h.store.expandWrites)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.collector.DEMExpansions))

	demPath := filepath.Join(h.opts.DEMFolder, "glo_30", shortScene+"_dem.tif")
	r, err := h.store.Read(context.Background(), demPath)
	require.NoError(t, err)
	target := domain.BoundingBox{MinX: 140, MinY: -31, MaxX: 141, MaxY: -30, CRS: domain.EPSG4326}.Buffer(dem.DefaultBuffer)
	assert.True(t, r.Bounds().ContainsProperly(target), "dem %v must contain %v", r.Bounds(), target)
	assert.Equal(t, 0.01, r.ResX)

	prefix := "deant-data/experimental/opera-rtc/glo_30/32752/" + coveredScene + "/"
	assert.Contains(t, h.objects.keys, prefix+"rtc_"+coveredScene+".h5")
	assert.Contains(t, h.objects.keys, prefix+coveredScene+"_metadata.json")
	assert.Contains(t, h.objects.keys, prefix+coveredScene+".yaml")
	assert.Equal(t, "deant-data/experimental/opera-rtc/glo_30/32752/"+shortScene+"/"+shortScene+"_timing.json",
		h.objects.keys[len(h.objects.keys)-1], "timing file is uploaded last")

	entries, err := timing.Open(filepath.Join(h.opts.OutputFolder, shortScene+"_timing.json")).Entries()
	require.NoError(t, err)
	for _, key := range []string{timing.DownloadScene, timing.DownloadDEM, timing.RTCProcessing, timing.S3Upload, timing.TotalKey} {
		assert.Contains(t, entries, key)
	}

	raw, err := os.ReadFile(filepath.Join(h.opts.OutputFolder, shortScene, shortScene+"_metadata.json"))
	require.NoError(t, err)
	var meta sceneMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, 1, meta.DEM.Expanded)
	assert.Equal(t, "precise", meta.OrbitType)
	assert.Equal(t, report.RunID, meta.RunID)

	require.Len(t, h.notifier.reports, 1)
	assert.Contains(t, h.notifier.reports[0], "1 scenes FAILED")
	assert.Contains(t, h.notifier.reports[0], missingScene)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.collector.SceneOutcomes.WithLabelValues("succeeded")))
}

func TestPipelineCleansUpFailedScene(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.Scenes = []string{coveredScene, shortScene}
	h.opts.DeleteLocalFiles = true
	h.deps.Processor = fakeProcessor{fail: map[string]bool{coveredScene: true}}

	report, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	require.Len(t, report.Succeeded, 1)

	failed := report.Failed[0]
	assert.Equal(t, coveredScene, failed.SceneID)
	assert.Equal(t, domain.StageProcessed, failed.FailedAt)
	assert.True(t, errors.Is(failed.Err, domain.ErrProcessingFailed))
	last := failed.Stages[len(failed.Stages)-1]
	assert.Equal(t, domain.StageCleanedUp, last.Stage)
	assert.Equal(t, domain.OutcomeSucceeded, last.Outcome)

	assert.Equal(t, domain.StageCleanedUp, report.Succeeded[0].Reached)
	assert.Contains(t, h.remover.removed, filepath.Join(h.opts.OutputFolder, coveredScene))
	assert.NoDirExists(t, filepath.Join(h.opts.OutputFolder, coveredScene))
	assert.NoFileExists(t, filepath.Join(h.opts.SceneFolder, shortScene+".zip"))
	assert.DirExists(t, h.opts.ScratchFolder, "scratch folder is recreated")
	assert.NoFileExists(t, filepath.Join(h.opts.OutputFolder, shortScene+"_timing.json"), "uploaded timing file is removed")

	for _, key := range h.objects.keys {
		assert.NotContains(t, key, coveredScene, "failed scenes are not published")
	}
}

func TestPipelineSkipsPublishedScenes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	hist := &fakeHistory{published: map[string]bool{coveredScene: true}}
	h.deps.History = hist
	h.opts.Scenes = []string{coveredScene}
	h.opts.SkipPublished = true

	report, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	assert.True(t, report.Succeeded[0].Skipped)
	assert.Empty(t, h.objects.keys)
	assert.Empty(t, hist.saved)
}

func TestPipelineRecordsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	hist := &fakeHistory{}
	h.deps.History = hist
	h.opts.Scenes = []string{missingScene, coveredScene}

	_, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, hist.saved, 2)
	assert.False(t, hist.saved[0].Succeeded)
	assert.Equal(t, domain.StageLocated, hist.saved[0].Stage)
	assert.True(t, hist.saved[1].Succeeded)
	assert.Equal(t, "experimental/opera-rtc/glo_30/32752/"+coveredScene, hist.saved[1].BucketKey)
}

func TestPipelineStopsOnRunFatalError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Catalog = &fakeCatalog{err: fmt.Errorf("earthdata login: %w", domain.ErrCredentials)}

	report, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRunFatal(err))
	assert.Len(t, report.Failed, 1, "remaining scenes are not attempted")
}

func TestPipelineSkipsPublishWhenDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.Scenes = []string{coveredScene}
	h.opts.PushToS3 = false

	report, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	stages := report.Succeeded[0].Stages
	assert.Equal(t, domain.OutcomeSkipped, stages[len(stages)-1].Outcome)
	assert.Empty(t, h.objects.keys)
}

func TestPipelineStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewPipeline(h.deps, h.opts).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, report.Total())
}

type failingRemover struct{ calls []string }

func (r *failingRemover) RemoveAll(_ context.Context, path string) error {
	r.calls = append(r.calls, path)
	return fmt.Errorf("remove %s: %w", path, os.ErrPermission)
}

func TestPipelineContinuesAfterCleanupFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	remover := &failingRemover{}
	h.deps.Remover = remover
	h.opts.Scenes = []string{coveredScene, shortScene}
	h.opts.DeleteLocalFiles = true

	report, err := NewPipeline(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff([]string{coveredScene, shortScene}, sceneIDs(report.Succeeded)); diff != "" {
		t.Fatalf("succeeded mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, report.Failed)

	for _, res := range report.Succeeded {
		assert.Equal(t, domain.StagePublished, res.Reached, res.SceneID)
		last := res.Stages[len(res.Stages)-1]
		assert.Equal(t, domain.StageCleanedUp, last.Stage)
		assert.Equal(t, domain.OutcomeFailed, last.Outcome)
		assert.Contains(t, last.Error, "permission denied")
	}
	assert.Contains(t, remover.calls, filepath.Join(h.opts.OutputFolder, coveredScene))
	assert.Contains(t, remover.calls, filepath.Join(h.opts.OutputFolder, shortScene))
}

// timingRejectingStore accepts every upload except timing files.
type timingRejectingStore struct{ recordingStore }

func (s *timingRejectingStore) Put(ctx context.Context, localPath, bucket, key string) error {
	if strings.HasSuffix(key, "_timing.json") {
		return errors.New("connection reset")
	}
	return s.recordingStore.Put(ctx, localPath, bucket, key)
}

func TestTimingUploadFailureFailsScene(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Publisher = publish.NewPublisher(&timingRejectingStore{}, nil, h.deps.Clock, 0, nil)
	p := NewPipeline(h.deps, h.opts)

	res, run := p.processScene(context.Background(), "run-1", coveredScene, nil)
	require.Error(t, res.Err)
	assert.Equal(t, domain.StagePublished, res.FailedAt)
	assert.False(t, res.Succeeded())
	assert.False(t, run.state.Success)
}
