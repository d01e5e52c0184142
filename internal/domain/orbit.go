package domain

import "time"

// OrbitRank orders orbit products by accuracy; a lower value is preferred.
type OrbitRank int

const (
	OrbitPrecise OrbitRank = iota + 1
	OrbitRestituted
)

func (r OrbitRank) String() string {
	switch r {
	case OrbitPrecise:
		return "precise"
	case OrbitRestituted:
		return "restituted"
	default:
		return "unknown"
	}
}

// OrbitFile is the single orbit product selected for a scene.
type OrbitFile struct {
	Path string
	Name string
	Rank OrbitRank
}

// OrbitQuery asks an orbit provider for products of one rank covering a sensing window.
type OrbitQuery struct {
	SceneName string
	Mission   string
	Start     time.Time
	Stop      time.Time
	Rank      OrbitRank
}
