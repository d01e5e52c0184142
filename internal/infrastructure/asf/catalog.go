package asf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// DefaultSearchURL is the ASF granule search endpoint.
const DefaultSearchURL = "https://api.daac.asf.alaska.edu/services/search/param"

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

// Catalog searches ASF for SLC granules by name.
type Catalog struct {
	searchURL string
	http      *http.Client
}

var _ ports.SceneCatalog = (*Catalog)(nil)

// NewCatalog wires the search endpoint; a nil client gets a 45s timeout.
func NewCatalog(searchURL string, client *http.Client) *Catalog {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	return &Catalog{searchURL: searchURL, http: defaultClient(client, 45*time.Second)}
}

// Lookup returns the SLC products named sceneID. A miss is an empty slice.
func (c *Catalog) Lookup(ctx context.Context, sceneID string) ([]domain.Scene, error) {
	u, err := url.Parse(c.searchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search url %s: %w", c.searchURL, err)
	}
	q := u.Query()
	q.Set("granule_list", sceneID)
	q.Set("processingLevel", "SLC")
	q.Set("output", "geojson")
	u.RawQuery = q.Encode()

	body, err := get(ctx, c.http, u.String())
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", sceneID, err)
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	return parseSearch(raw)
}

func parseSearch(raw []byte) ([]domain.Scene, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	scenes := make([]domain.Scene, 0, len(fc.Features))
	for _, f := range fc.Features {
		scene, ok := sceneFromFeature(f)
		if ok {
			scenes = append(scenes, scene)
		}
	}
	return scenes, nil
}

func sceneFromFeature(f *geojson.Feature) (domain.Scene, bool) {
	footprint := polygonOf(f.Geometry)
	if footprint == nil {
		return domain.Scene{}, false
	}
	p := f.Properties
	name := p.MustString("sceneName", "")
	if name == "" {
		return domain.Scene{}, false
	}
	return domain.Scene{
		ID:           p.MustString("fileID", name),
		Name:         name,
		Footprint:    footprint,
		Polarization: p.MustString("polarization", ""),
		Platform:     p.MustString("platform", ""),
		StartTime:    parseTime(p.MustString("startTime", "")),
		StopTime:     parseTime(p.MustString("stopTime", "")),
		URL:          p.MustString("url", ""),
		Bytes:        int64(p.MustFloat64("bytes", 0)),
	}, true
}

// polygonOf keeps the largest part of a multipolygon footprint.
func polygonOf(g orb.Geometry) orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return v
	case orb.MultiPolygon:
		var best orb.Polygon
		for _, poly := range v {
			if len(poly) > 0 && (best == nil || len(poly[0]) > len(best[0])) {
				best = poly
			}
		}
		return best
	default:
		return nil
	}
}

func parseTime(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
