package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/geometry"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/processor"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/publish"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/runconfig"
)

// locate resolves the scene in the catalog, downloads the archive and unpacks it.
func (p *Pipeline) locate(ctx context.Context, s *sceneRun) error {
	if p.deps.Catalog == nil || p.deps.Downloader == nil {
		return errors.New("scene catalog is not configured")
	}
	name := s.state.SceneID
	scenes, err := p.deps.Catalog.Lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("search catalog: %w", err)
	}
	if len(scenes) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSceneNotFound, name)
	}
	scene := scenes[0]
	if scene.Name == "" {
		scene.Name = name
	}
	s.state.Scene = scene
	logInfo(s.logger, "scene found", "polarization", scene.Polarization, "platform", scene.Platform)

	if err := os.MkdirAll(p.opts.SceneFolder, 0o755); err != nil {
		return fmt.Errorf("create scene folder: %w", err)
	}
	zipPath, err := p.deps.Downloader.Download(ctx, scene, p.opts.SceneFolder)
	if err != nil {
		return fmt.Errorf("download scene: %w", err)
	}
	s.state.ZipPath = zipPath
	s.state.SafePath = zipPath

	if p.opts.UnzipScene {
		safe := strings.TrimSuffix(zipPath, filepath.Ext(zipPath)) + ".SAFE"
		if !exists(safe) {
			if p.deps.Unpacker == nil {
				return errors.New("scene unpacker is not configured")
			}
			logInfo(s.logger, "unzipping scene", "path", safe)
			if err := p.deps.Unpacker.Unpack(ctx, zipPath, p.opts.SceneFolder); err != nil {
				return fmt.Errorf("unzip scene: %w", err)
			}
		}
		s.state.SafePath = safe
	}

	s.state.OutputDir = filepath.Join(p.opts.OutputFolder, scene.Name)
	if err := os.MkdirAll(s.state.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output folder: %w", err)
	}
	return nil
}

func (p *Pipeline) resolveOrbit(ctx context.Context, s *sceneRun) error {
	if p.deps.Orbits == nil {
		return errors.New("orbit resolver is not configured")
	}
	orbit, err := p.deps.Orbits.Resolve(ctx, s.state.Scene)
	if err != nil {
		return err
	}
	s.state.Orbit = orbit
	logInfo(s.logger, "orbit selected", "rank", orbit.Rank, "path", orbit.Path)
	return nil
}

func (p *Pipeline) correctGeometry(_ context.Context, s *sceneRun) error {
	corr, err := geometry.Correct(s.state.Scene.Footprint, p.opts.Geometry)
	if err != nil {
		return err
	}
	s.correction = corr
	s.state.DEMTargets = corr.Targets
	logInfo(s.logger, "scene bounds", "bounds", corr.Bounds.String(),
		"antimeridian", corr.CrossesAntimeridian, "high_latitude", corr.HighLatitude, "targets", len(corr.Targets))
	return nil
}

func (p *Pipeline) prepareDEM(ctx context.Context, s *sceneRun) error {
	if p.deps.DEM == nil {
		return errors.New("dem source is not configured")
	}
	path := filepath.Join(p.opts.DEMFolder, p.opts.DEMType, s.state.Scene.Name+"_dem.tif")
	acq, err := p.deps.DEM.Acquire(ctx, dem.AcquireRequest{
		SceneName: s.state.Scene.Name,
		Targets:   s.state.DEMTargets,
		Path:      path,
	})
	p.deps.Metrics.AddDEMExpansions(acq.Expanded)
	if err != nil {
		return err
	}
	s.acquisition = acq
	s.state.DEMPath = acq.Path
	s.state.DEMOwned = true
	logInfo(s.logger, "dem ready", "path", acq.Path, "provider", acq.Provider,
		"bounds", acq.Coverage.Bounds.String(), "expanded", acq.Expanded, "reused", acq.Reused)
	return nil
}

func (p *Pipeline) renderConfig(_ context.Context, s *sceneRun) error {
	if p.deps.Materializer == nil {
		return errors.New("runconfig materializer is not configured")
	}
	rendered, err := p.deps.Materializer.Materialize(runconfig.Params{
		SafePath:         s.state.SafePath,
		OrbitPath:        s.state.Orbit.Path,
		DEMPath:          s.state.DEMPath,
		SceneName:        s.state.Scene.Name,
		ScratchFolder:    p.opts.ScratchFolder,
		OutputFolder:     s.state.OutputDir,
		PolarizationType: s.state.Scene.PolarizationType(),
		XResolution:      p.opts.XResolution,
		YResolution:      p.opts.YResolution,
		TargetCRS:        p.opts.TargetCRS,
	})
	if err != nil {
		return err
	}
	s.state.ConfigPath = rendered.Path
	s.state.ProductID = rendered.ProductID
	logInfo(s.logger, "runconfig written", "path", rendered.Path, "product_id", rendered.ProductID)
	return nil
}

func (p *Pipeline) process(ctx context.Context, s *sceneRun) error {
	if p.deps.Processor == nil {
		return errors.New("rtc processor is not configured")
	}
	res, err := p.deps.Processor.Run(ctx, processor.Invocation{
		SceneName:  s.state.Scene.Name,
		ConfigPath: s.state.ConfigPath,
		ProductID:  s.state.ProductID,
		OutputDir:  s.state.OutputDir,
	})
	s.processed = res
	s.state.LogPath = res.LogPath
	if err != nil {
		return err
	}
	s.state.OutputPath = res.OutputPath
	logInfo(s.logger, "rtc backscatter made", "output", res.OutputPath)
	return nil
}

// publish uploads every scene output, the runconfig, optionally the DEM, and the
// scene metadata. The timing file follows after cleanup.
func (p *Pipeline) publish(ctx context.Context, s *sceneRun) error {
	if !p.opts.PushToS3 {
		return errSkipped
	}
	if p.deps.Publisher == nil || p.deps.Inspector == nil {
		return errors.New("publisher is not configured")
	}

	tif, err := publish.FirstRaster(s.state.OutputDir)
	if err != nil {
		return err
	}
	crs, err := p.deps.Inspector.CRS(ctx, tif)
	if err != nil {
		return fmt.Errorf("read output crs: %w", err)
	}
	s.outputCRS = crs
	logInfo(s.logger, "output crs", "crs", crs.String())

	name := s.state.Scene.Name
	metaPath := filepath.Join(s.state.OutputDir, name+"_metadata.json")
	if err := p.writeMetadata(metaPath, s); err != nil {
		return err
	}

	outputs, err := publish.SceneOutputs(s.state.OutputDir, name, s.state.ProductID)
	if err != nil {
		return err
	}
	if s.state.ConfigPath != "" {
		outputs = append(outputs, s.state.ConfigPath)
	}
	if p.opts.UploadDEM && s.state.DEMPath != "" {
		outputs = append(outputs, s.state.DEMPath)
	}

	artifacts := make([]publish.Artifact, 0, len(outputs))
	for _, local := range outputs {
		artifacts = append(artifacts, publish.Artifact{LocalPath: local, Key: p.opts.Layout.Key(name, crs, local)})
	}
	s.bucketKey = p.opts.Layout.SceneFolder(name, crs)
	logInfo(s.logger, "pushing results", "bucket", p.opts.Bucket, "folder", s.bucketKey, "files", len(artifacts))

	rep, err := p.deps.Publisher.Publish(ctx, p.opts.Bucket, artifacts)
	s.published = rep
	return err
}

func (p *Pipeline) publishTiming(ctx context.Context, s *sceneRun) error {
	if !p.opts.PushToS3 || p.deps.Publisher == nil || s.bucketKey == "" {
		return nil
	}
	path := s.ledger.Path()
	if !exists(path) {
		return nil
	}
	key := p.opts.Layout.Key(s.state.Scene.Name, s.outputCRS, path)
	if _, err := p.deps.Publisher.Publish(ctx, p.opts.Bucket, []publish.Artifact{{LocalPath: path, Key: key}}); err != nil {
		return err
	}
	if p.opts.DeleteLocalFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logWarn(s.logger, "remove timing file", "path", path, "error", err)
		}
	}
	return nil
}

// cleanup deletes the scene's working files and recreates an empty scratch folder.
// Every path is attempted; failures are joined.
func (p *Pipeline) cleanup(ctx context.Context, s *sceneRun) error {
	if p.deps.Remover == nil {
		return errors.New("remover is not configured")
	}
	var paths []string
	for _, path := range []string{s.state.ZipPath, s.state.DEMPath, s.state.Orbit.Path, s.state.ConfigPath} {
		if path != "" {
			paths = append(paths, path)
		}
	}
	if s.state.SafePath != "" && s.state.SafePath != s.state.ZipPath {
		paths = append(paths, s.state.SafePath)
	}
	if s.state.OutputDir != "" {
		paths = append(paths, s.state.OutputDir)
	}
	if p.opts.ScratchFolder != "" {
		paths = append(paths, p.opts.ScratchFolder)
	}

	var errs []error
	for _, path := range paths {
		logInfo(s.logger, "deleting", "path", path)
		if err := p.deps.Remover.RemoveAll(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	if p.opts.ScratchFolder != "" {
		if err := os.MkdirAll(p.opts.ScratchFolder, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("recreate scratch folder: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logWarn(s.logger, "cleanup incomplete", "error", err)
		return err
	}
	return nil
}

type stageMetadata struct {
	Stage   domain.Stage   `json:"stage"`
	Outcome domain.Outcome `json:"outcome"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
}

type demMetadata struct {
	Provider string       `json:"provider"`
	File     string       `json:"file"`
	Bounds   [4]float64   `json:"bounds"`
	CRS      int          `json:"crs"`
	ResX     float64      `json:"res_x"`
	ResY     float64      `json:"res_y"`
	Targets  [][4]float64 `json:"targets"`
	Expanded int          `json:"expanded"`
	Reused   bool         `json:"reused"`
	Stats    dem.Stats    `json:"stats"`
}

type sceneMetadata struct {
	RunID               string          `json:"run_id"`
	Scene               string          `json:"scene"`
	ProductID           string          `json:"product_id"`
	Polarization        string          `json:"polarization"`
	Orbit               string          `json:"orbit"`
	OrbitType           string          `json:"orbit_type"`
	CrossesAntimeridian bool            `json:"crosses_antimeridian"`
	HighLatitude        bool            `json:"high_latitude"`
	OutputCRS           int             `json:"output_crs"`
	DEM                 demMetadata     `json:"dem"`
	Stages              []stageMetadata `json:"stages"`
	Generated           time.Time       `json:"generated"`
}

func (p *Pipeline) writeMetadata(path string, s *sceneRun) error {
	acq := s.acquisition
	meta := sceneMetadata{
		RunID:               s.runID,
		Scene:               s.state.Scene.Name,
		ProductID:           s.state.ProductID,
		Polarization:        s.state.Scene.Polarization,
		Orbit:               filepath.Base(s.state.Orbit.Path),
		OrbitType:           s.state.Orbit.Rank.String(),
		CrossesAntimeridian: s.correction.CrossesAntimeridian,
		HighLatitude:        s.correction.HighLatitude,
		OutputCRS:           int(s.outputCRS),
		DEM: demMetadata{
			Provider: acq.Provider,
			File:     filepath.Base(acq.Path),
			Bounds:   boxArray(acq.Coverage.Bounds),
			CRS:      int(acq.Coverage.CRS),
			ResX:     acq.Coverage.ResX,
			ResY:     acq.Coverage.ResY,
			Expanded: acq.Expanded,
			Reused:   acq.Reused,
			Stats:    acq.Stats,
		},
		Generated: p.clock.Now().UTC(),
	}
	for _, sr := range s.stages {
		meta.Stages = append(meta.Stages, stageMetadata{Stage: sr.Stage, Outcome: sr.Outcome, Start: sr.Start, End: sr.End})
	}
	for _, t := range acq.Targets {
		meta.DEM.Targets = append(meta.DEM.Targets, boxArray(t))
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func boxArray(b domain.BoundingBox) [4]float64 {
	return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}
