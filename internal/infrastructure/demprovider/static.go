package demprovider

import (
	"context"
	"fmt"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
)

// Static serves a user-supplied DEM file. The file is only read; the scene DEM is a
// copy, so coverage repair never touches the original.
type Static struct {
	path  string
	store dem.Store
}

var _ dem.Provider = (*Static)(nil)

func NewStatic(path string, store dem.Store) *Static {
	return &Static{path: path, store: store}
}

func (p *Static) Name() string { return "static" }

// Fetch returns the whole user raster regardless of req.Bounds.
func (p *Static) Fetch(ctx context.Context, req dem.Request) (*dem.Raster, error) {
	r, err := p.store.Read(ctx, p.path)
	if err != nil {
		return nil, fmt.Errorf("read user dem %s: %w", p.path, err)
	}
	if req.AreaOrPoint != "" && r.AreaOrPoint == "" {
		r.AreaOrPoint = req.AreaOrPoint
	}
	return r, nil
}
