package dem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// DefaultBuffer is the margin, in degrees, added around scene targets.
const DefaultBuffer = 0.3

// SourceConfig selects the provider and how its output is requested.
type SourceConfig struct {
	Provider         string
	Buffer           float64
	Resolution       int
	EllipsoidHeights bool
	AreaOrPoint      string
	Overwrite        bool
}

// AcquireRequest asks for a DEM covering targets to be placed at Path. Two targets
// are the halves of a footprint split on the antimeridian.
type AcquireRequest struct {
	SceneName string
	Targets   []domain.BoundingBox
	Path      string
}

// Acquisition describes the DEM left at Path.
type Acquisition struct {
	Path     string
	Provider string
	Targets  []domain.BoundingBox
	Coverage Coverage
	Expanded int
	Reused   bool
	Stats    Stats
}

// Source acquires scene DEMs through the configured provider and guarantees their coverage.
type Source struct {
	registry  *Registry
	store     Store
	guarantor *Guarantor
	cfg       SourceConfig
	logger    *slog.Logger
}

// NewSource wires the provider registry with the raster store.
func NewSource(reg *Registry, store Store, guarantor *Guarantor, cfg SourceConfig, log *slog.Logger) *Source {
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	return &Source{
		registry:  reg,
		store:     store,
		guarantor: guarantor,
		cfg:       cfg,
		logger:    log,
	}
}

// Acquire fetches, pads and, for split footprints, joins the DEM for a scene.
func (s *Source) Acquire(ctx context.Context, req AcquireRequest) (Acquisition, error) {
	if s.registry == nil || s.store == nil || s.guarantor == nil {
		return Acquisition{}, fmt.Errorf("dem source is not configured")
	}
	if len(req.Targets) == 0 || len(req.Targets) > 2 {
		return Acquisition{}, fmt.Errorf("dem acquire: expected 1 or 2 targets, got %d", len(req.Targets))
	}
	provider, err := s.registry.Resolve(s.cfg.Provider)
	if err != nil {
		return Acquisition{}, err
	}

	acq := Acquisition{Path: req.Path, Provider: provider.Name()}
	for _, t := range req.Targets {
		buffered := t.Buffer(s.cfg.Buffer)
		if buffered.CRS == domain.EPSG4326 {
			buffered = buffered.ClampLatitude()
		}
		acq.Targets = append(acq.Targets, buffered)
	}
	final := acq.Targets[0]
	if len(acq.Targets) == 2 {
		final = joinedTarget(acq.Targets[0], acq.Targets[1])
	}

	s.debug("acquire dem", "scene", req.SceneName, "provider", provider.Name(), "targets", len(acq.Targets), "path", req.Path)

	if _, statErr := os.Stat(req.Path); statErr == nil && !s.cfg.Overwrite {
		acq.Reused = true
		s.debug("reusing existing dem", "path", req.Path)
	} else {
		if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
			return acq, fmt.Errorf("create dem folder: %w", err)
		}
		if len(acq.Targets) == 1 {
			if err := s.fetchTo(ctx, provider, req.SceneName, acq.Targets[0], req.Path); err != nil {
				return acq, err
			}
		} else {
			if err := s.fetchSplit(ctx, provider, req, &acq); err != nil {
				return acq, err
			}
		}
	}

	res, err := s.guarantor.Ensure(ctx, req.Path, final)
	if err != nil {
		return acq, err
	}
	if res.Expanded {
		acq.Expanded++
	}

	r, err := s.store.Read(ctx, req.Path)
	if err != nil {
		return acq, fmt.Errorf("read final dem: %w", err)
	}
	acq.Coverage = r.Coverage()
	acq.Stats = ComputeStats(r)
	return acq, nil
}

// fetchSplit guarantees coverage of each antimeridian half independently, then joins them.
func (s *Source) fetchSplit(ctx context.Context, provider Provider, req AcquireRequest, acq *Acquisition) error {
	parts := make([]*Raster, 0, 2)
	for i, target := range acq.Targets {
		partPath := req.Path + ".part" + strconv.Itoa(i)
		if err := s.fetchTo(ctx, provider, req.SceneName, target, partPath); err != nil {
			return err
		}
		res, err := s.guarantor.Ensure(ctx, partPath, target)
		if err != nil {
			return err
		}
		if res.Expanded {
			acq.Expanded++
		}
		r, err := s.store.Read(ctx, partPath)
		if err != nil {
			return fmt.Errorf("read dem part %d: %w", i, err)
		}
		parts = append(parts, r)
		_ = os.Remove(partPath)
	}

	joined, err := JoinAntimeridian(parts[0], parts[1])
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCoverage, err)
	}
	return s.writeAtomic(ctx, req.Path, joined)
}

func (s *Source) fetchTo(ctx context.Context, provider Provider, scene string, target domain.BoundingBox, path string) error {
	r, err := provider.Fetch(ctx, Request{
		SceneName:        scene,
		Bounds:           target,
		EllipsoidHeights: s.cfg.EllipsoidHeights,
		AreaOrPoint:      s.cfg.AreaOrPoint,
		Resolution:       s.cfg.Resolution,
	})
	if err != nil {
		return fmt.Errorf("fetch dem from %s: %w", provider.Name(), err)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("fetch dem from %s: %w", provider.Name(), err)
	}
	r.ToArea()
	return s.writeAtomic(ctx, path, r)
}

func (s *Source) writeAtomic(ctx context.Context, path string, r *Raster) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := s.store.Write(ctx, tmp, r); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write dem: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move dem into place: %w", err)
	}
	return nil
}

// joinedTarget expresses the two halves of a split footprint in the continuous
// longitude frame produced by JoinAntimeridian.
func joinedTarget(west, east domain.BoundingBox) domain.BoundingBox {
	shifted := west
	shifted.MinX += 360
	shifted.MaxX += 360
	u, err := east.Union(shifted)
	if err != nil {
		return east
	}
	return u
}

func (s *Source) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
