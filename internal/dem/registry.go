package dem

import (
	"context"
	"fmt"
	"sort"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// Request carries everything a provider needs to deliver elevations for one target.
type Request struct {
	SceneName        string
	Bounds           domain.BoundingBox
	EllipsoidHeights bool
	AreaOrPoint      string
	Resolution       int
}

// Provider delivers DEM pixels for a bounding box (Copernicus GLO-30, REMA, a user file).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Raster, error)
}

// Registry keeps a mapping from provider names to their implementations.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds or replaces a provider implementation.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = map[string]Provider{}
	}
	r.providers[p.Name()] = p
}

// Resolve returns a provider by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("dem provider %s is not registered (have %v)", name, r.Names())
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
