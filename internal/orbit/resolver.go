// Package orbit selects the orbit state vector file used to process a scene.
package orbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// Resolver prefers precise orbits and falls back to restituted ones. It never
// returns both.
type Resolver struct {
	downloader    ports.OrbitDownloader
	preciseDir    string
	restitutedDir string
	logger        *slog.Logger
}

var _ ports.OrbitResolver = (*Resolver)(nil)

// NewResolver stores precise and restituted products in separate folders.
func NewResolver(dl ports.OrbitDownloader, preciseDir, restitutedDir string, log *slog.Logger) *Resolver {
	return &Resolver{
		downloader:    dl,
		preciseDir:    preciseDir,
		restitutedDir: restitutedDir,
		logger:        log,
	}
}

// Resolve returns the first precise orbit covering the scene, else the first
// restituted one. A failed precise lookup is logged and treated as no precise orbit.
func (r *Resolver) Resolve(ctx context.Context, scene domain.Scene) (domain.OrbitFile, error) {
	if r.downloader == nil {
		return domain.OrbitFile{}, errors.New("orbit downloader is not configured")
	}
	q, err := queryFor(scene)
	if err != nil {
		return domain.OrbitFile{}, err
	}

	q.Rank = domain.OrbitPrecise
	files, err := r.downloader.Download(ctx, q, r.preciseDir)
	switch {
	case err != nil && ctx.Err() != nil:
		return domain.OrbitFile{}, fmt.Errorf("precise orbits: %w", err)
	case err != nil:
		r.warn("precise orbit lookup failed, trying restituted", "scene", scene.Name, "error", err)
	case len(files) > 0:
		r.info("using precise orbits", "scene", scene.Name, "path", files[0].Path)
		return withRank(files[0], domain.OrbitPrecise), nil
	}

	q.Rank = domain.OrbitRestituted
	files, err = r.downloader.Download(ctx, q, r.restitutedDir)
	if err != nil {
		return domain.OrbitFile{}, fmt.Errorf("%w: restituted lookup for %s: %w", domain.ErrOrbitNotFound, scene.Name, err)
	}
	if len(files) == 0 {
		return domain.OrbitFile{}, fmt.Errorf("%w: %s", domain.ErrOrbitNotFound, scene.Name)
	}
	r.info("using restituted orbits", "scene", scene.Name, "path", files[0].Path)
	return withRank(files[0], domain.OrbitRestituted), nil
}

// queryFor takes the sensing window from the scene name, falling back to catalog times.
func queryFor(scene domain.Scene) (domain.OrbitQuery, error) {
	q := domain.OrbitQuery{SceneName: scene.Name, Start: scene.StartTime, Stop: scene.StopTime}
	if parsed, err := domain.ParseSceneName(scene.Name); err == nil {
		q.Mission, q.Start, q.Stop = parsed.Mission, parsed.Start, parsed.Stop
	} else if q.Start.IsZero() || q.Stop.IsZero() {
		return q, fmt.Errorf("orbit query: %w", err)
	} else {
		q.Mission = scene.Platform
	}
	return q, nil
}

func withRank(f domain.OrbitFile, rank domain.OrbitRank) domain.OrbitFile {
	f.Rank = rank
	return f
}

func (r *Resolver) info(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Resolver) warn(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
