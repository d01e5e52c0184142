package dem

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the valid elevations of a raster.
type Stats struct {
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	ValidPixels   int     `json:"valid_pixels"`
	ValidFraction float64 `json:"valid_fraction"`
}

// ComputeStats ignores nodata and NaN pixels. A raster without valid pixels yields
// zero statistics.
func ComputeStats(r *Raster) Stats {
	valid := make([]float64, 0, len(r.Data))
	for _, v := range r.Data {
		if !r.IsNoData(v) {
			valid = append(valid, float64(v))
		}
	}
	if len(valid) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(valid, nil)
	if len(valid) == 1 {
		std = 0
	}
	return Stats{
		Min:           floats.Min(valid),
		Max:           floats.Max(valid),
		Mean:          mean,
		StdDev:        std,
		ValidPixels:   len(valid),
		ValidFraction: float64(len(valid)) / float64(len(r.Data)),
	}
}
