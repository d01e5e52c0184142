package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Scene is a catalog entry resolved for one pipeline run. It is not mutated after
// the catalog returns it.
type Scene struct {
	ID           string
	Name         string
	Footprint    orb.Polygon
	Polarization string
	Platform     string
	StartTime    time.Time
	StopTime     time.Time
	URL          string
	Bytes        int64
}

// Polarizations splits the catalog polarization string ("VV+VH") into channels.
func (s Scene) Polarizations() []string {
	var out []string
	for _, p := range strings.Split(s.Polarization, "+") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PolarizationType is the value the RTC runconfig expects for the polarization mode.
func (s Scene) PolarizationType() string {
	if len(s.Polarizations()) > 1 {
		return "dual-pol"
	}
	return "co-pol"
}

// FootprintBounds returns the geographic bounding box of the footprint.
func (s Scene) FootprintBounds() BoundingBox {
	return BoundsFromOrb(s.Footprint.Bound(), EPSG4326)
}

var sceneNameExpr = regexp.MustCompile(`^(S1[A-D])_([A-Z0-9]{2})_([A-Z_]{4})_([0-9A-Z]{4})_(\d{8}T\d{6})_(\d{8}T\d{6})_`)

// SceneName describes the parts of a Sentinel-1 product identifier the pipeline relies on.
type SceneName struct {
	Mission string
	Mode    string
	Start   time.Time
	Stop    time.Time
}

// ParseSceneName extracts mission and sensing window from a Sentinel-1 product name.
func ParseSceneName(name string) (SceneName, error) {
	m := sceneNameExpr.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return SceneName{}, fmt.Errorf("unrecognised scene name %q", name)
	}
	start, err := time.Parse("20060102T150405", m[5])
	if err != nil {
		return SceneName{}, fmt.Errorf("scene start time: %w", err)
	}
	stop, err := time.Parse("20060102T150405", m[6])
	if err != nil {
		return SceneName{}, fmt.Errorf("scene stop time: %w", err)
	}
	return SceneName{Mission: m[1], Mode: m[2], Start: start.UTC(), Stop: stop.UTC()}, nil
}
