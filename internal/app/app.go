package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/clock"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/geometry"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/asf"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/demprovider"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/docker"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/earthdata"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/fsops"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/gdal"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/objectstore"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/storage"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/infrastructure/telegram"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/observability"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/orbit"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/processor"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/publish"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/runconfig"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	metrics  *observability.PipelineCollector
	history  *storage.HistoryRepository
	logger   *slog.Logger
}

// New builds the pipeline and every adapter it drives. Missing credentials and an
// unreachable history database are run-fatal.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	component := func(name string) *slog.Logger { return baseLogger.With("component", name) }

	metrics, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	earthdataCreds, err := config.LoadEarthdataCredentials(cfg.EarthdataCredentials)
	if err != nil {
		return nil, err
	}
	authClient := earthdata.NewClient(ctx, earthdataCreds, earthdata.DefaultTokenURL, 0)
	plainClient := &http.Client{Timeout: cfg.Catalog.Timeout}

	rasters := gdal.NewStore()
	demFolder := cfg.DEMFolder
	if demFolder == "" {
		demFolder = cfg.ScratchFolder
	}

	registry := dem.NewRegistry()
	switch cfg.DEM.Provider {
	case config.ProviderStatic:
		registry.Register(demprovider.NewStatic(cfg.DEMPath, rasters))
	case config.ProviderREMA:
		registry.Register(demprovider.NewREMA(demprovider.REMAConfig{
			IndexURL:   cfg.DEM.TileIndexURL,
			IndexPath:  cfg.DEM.TileIndexPath,
			CacheDir:   filepath.Join(demFolder, "tiles", config.ProviderREMA),
			SampleStep: cfg.Geometry.SampleStep,
		}, rasters, nil, component("dem.rema")))
	default:
		registry.Register(demprovider.NewCop30(demprovider.Cop30Config{
			BaseURL:   cfg.DEM.TileURL,
			CacheDir:  filepath.Join(demFolder, "tiles", config.ProviderCop30),
			GeoidPath: cfg.DEM.GeoidPath,
		}, rasters, nil, component("dem.cop30")))
	}
	demSource := dem.NewSource(registry, rasters, dem.NewGuarantor(rasters, coverageFill(cfg.DEM.Provider), component("dem.coverage")), dem.SourceConfig{
		Provider:         cfg.DEM.Provider,
		Buffer:           cfg.DEM.Buffer,
		Resolution:       cfg.DEM.Resolution,
		EllipsoidHeights: cfg.DEM.EllipsoidHeights,
		AreaOrPoint:      cfg.DEM.AreaOrPoint,
		Overwrite:        cfg.OverwriteDEM,
	}, component("dem"))

	runtime, err := docker.NewRuntime(cfg.Processor.DockerBinary)
	if err != nil && !cfg.SkipRTC {
		return nil, err
	}
	invoker := processor.NewInvoker(runtime, clock.Real{}, processor.Config{
		Image:        cfg.Processor.Image,
		User:         cfg.Processor.User,
		Mounts:       mounts(cfg),
		PollInterval: cfg.Processor.PollInterval,
		Timeout:      cfg.Processor.Timeout,
		Skip:         cfg.SkipRTC,
	}, component("processor"))

	orbits := asf.NewOrbitListing(cfg.Catalog.PreciseOrbitURL, cfg.Catalog.RestitutedOrbURL, plainClient, component("orbits.listing")).
		WithRestitutedClient(authClient)

	deps := usecase.PipelineDeps{
		Catalog:      asf.NewCatalog(cfg.Catalog.SearchURL, plainClient),
		Downloader:   asf.NewDownloader(authClient, component("download")),
		Unpacker:     asf.Unzipper{},
		Orbits:       orbit.NewResolver(orbits, cfg.PreciseOrbitFolder, cfg.RestitutedOrbitFolder, component("orbits")),
		DEM:          demSource,
		Inspector:    rasters,
		Materializer: runconfig.NewMaterializer(cfg.RTCTemplate, cfg.ConfigFolder),
		Processor:    invoker,
		Remover:      fsops.NewRemover([]string{"sudo", "-n"}, component("cleanup")),
		Metrics:      metrics,
		Clock:        clock.Real{},
		Logger:       component("pipeline"),
	}

	if cfg.PushToS3 {
		publisher, err := newPublisher(cfg, metrics, component("publish"))
		if err != nil {
			return nil, err
		}
		deps.Publisher = publisher
	}

	app := &Application{cfg: cfg, metrics: metrics, logger: baseLogger}
	if cfg.History.DSN != "" {
		history, err := storage.OpenHistory(cfg.History.Driver, cfg.History.DSN, component("history"))
		if err != nil {
			return nil, err
		}
		app.history = history
		deps.History = history
	}
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	app.pipeline = usecase.NewPipeline(deps, usecase.Options{
		Scenes:           cfg.Scenes,
		SceneFolder:      cfg.SceneFolder,
		UnzipScene:       cfg.UnzipScene,
		DEMFolder:        demFolder,
		DEMType:          cfg.DEMType,
		ScratchFolder:    cfg.ScratchFolder,
		OutputFolder:     cfg.OutputFolder,
		XResolution:      cfg.XResolution,
		YResolution:      cfg.YResolution,
		TargetCRS:        cfg.TargetCRS,
		Geometry:         geometry.Options(cfg.Geometry),
		PushToS3:         cfg.PushToS3,
		Bucket:           cfg.S3Bucket,
		UploadDEM:        cfg.UploadDEM,
		DeleteLocalFiles: cfg.DeleteLocalFiles,
		SkipPublished:    cfg.History.SkipPublished,
		SceneTimeout:     cfg.SceneTimeout,
		Layout: publish.Layout{
			Folder:      cfg.S3BucketFolder,
			Software:    cfg.Software,
			DEMType:     cfg.DEMType,
			ScenePrefix: cfg.ScenePrefix,
		},
	})
	return app, nil
}

func newPublisher(cfg config.Config, metrics *observability.PipelineCollector, log *slog.Logger) (*publish.Publisher, error) {
	creds, err := config.LoadAWSCredentials(cfg.AWSCredentials)
	if err != nil {
		return nil, err
	}
	primary, err := objectstore.NewMinioStore(objectstore.MinioConfig{
		Endpoint: cfg.Publish.Endpoint,
		Region:   cfg.Publish.Region,
		UseSSL:   cfg.Publish.UseSSL,
	}, creds)
	if err != nil {
		return nil, err
	}
	p := publish.NewPublisher(primary, nil, clock.Real{}, cfg.Publish.RetryDelay, log)
	if cfg.Publish.FallbackBinary != "" {
		fallback, err := objectstore.NewCLIStore(cfg.Publish.FallbackBinary, cfg.Publish.Endpoint, creds)
		if err != nil {
			log.Warn("fallback uploader unavailable", "binary", cfg.Publish.FallbackBinary, "error", err)
		} else {
			p = publish.NewPublisher(primary, fallback, clock.Real{}, cfg.Publish.RetryDelay, log)
		}
	}
	p.OnFallback(metrics.IncPublishFallback)
	return p, nil
}

// coverageFill pads Copernicus DEMs with sea level; other providers pad with nodata.
func coverageFill(provider string) *float32 {
	if provider != config.ProviderCop30 {
		return nil
	}
	seaLevel := float32(0)
	return &seaLevel
}

// mounts lists every folder the processor reads or writes, once each. Paths are
// mounted at the same location inside the container.
func mounts(cfg config.Config) []string {
	demDir := cfg.DEMFolder
	if cfg.DEMPath != "" {
		demDir = filepath.Dir(cfg.DEMPath)
	}
	var out []string
	seen := map[string]bool{}
	for _, dir := range []string{
		cfg.SceneFolder,
		cfg.PreciseOrbitFolder,
		cfg.RestitutedOrbitFolder,
		demDir,
		cfg.DEMFolder,
		cfg.ScratchFolder,
		cfg.OutputFolder,
		cfg.ConfigFolder,
	} {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}

// Run processes every configured scene and pushes the run metrics.
func (a *Application) Run(ctx context.Context) (domain.RunReport, error) {
	if a.pipeline == nil {
		return domain.RunReport{}, errors.New("application is not initialised")
	}
	report, err := a.pipeline.Run(ctx)
	if pushErr := a.metrics.Push(context.WithoutCancel(ctx), a.cfg.Observability.MetricsPushURL, a.cfg.Observability.MetricsJob); pushErr != nil {
		a.logger.Warn("metrics push failed", "error", pushErr)
	}
	if err != nil {
		return report, fmt.Errorf("run %s: %w", report.RunID, err)
	}
	return report, nil
}

// Close releases the history database.
func (a *Application) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}
