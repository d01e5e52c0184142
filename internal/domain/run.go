package domain

import (
	"time"
)

// Stage enumerates the per-scene pipeline milestones in execution order.
type Stage string

const (
	StagePending           Stage = "Pending"
	StageLocated           Stage = "Located"
	StageOrbitResolved     Stage = "OrbitResolved"
	StageGeometryCorrected Stage = "GeometryCorrected"
	StageDemReady          Stage = "DemReady"
	StageConfigRendered    Stage = "ConfigRendered"
	StageProcessed         Stage = "Processed"
	StagePublished         Stage = "Published"
	StageCleanedUp         Stage = "CleanedUp"
	StageFailed            Stage = "Failed"
)

// Outcome is the result of one stage attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StageResult records one stage boundary crossing.
type StageResult struct {
	Stage   Stage
	Start   time.Time
	End     time.Time
	Outcome Outcome
	Error   string
}

// Duration is the wall-clock time spent in the stage.
func (r StageResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// SceneResult is the per-scene marker accumulated by the orchestrator.
type SceneResult struct {
	SceneID    string
	SceneName  string
	OutputPath string
	Reached    Stage
	FailedAt   Stage
	Err        error
	Stages     []StageResult
	Skipped    bool
}

// Succeeded reports whether the scene reached Published.
func (r SceneResult) Succeeded() bool {
	return r.Err == nil
}

// RunReport is what a full pipeline run returns.
type RunReport struct {
	RunID     string
	Started   time.Time
	Elapsed   time.Duration
	Succeeded []SceneResult
	Failed    []SceneResult
}

// Total is the number of scenes attempted.
func (r RunReport) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// ScenePipelineState is the mutable per-scene context. It is created when a scene
// enters the loop and owned by that single iteration.
type ScenePipelineState struct {
	SceneID     string
	Scene       Scene
	Stage       Stage
	ZipPath     string
	SafePath    string
	Orbit       OrbitFile
	DEMTargets  []BoundingBox
	DEMPath     string
	DEMOwned    bool
	ConfigPath  string
	ProductID   string
	OutputDir   string
	OutputPath  string
	LogPath     string
	TimingPath  string
	MetadataDir string
	Success     bool
}

// SceneRecord is the persisted outcome of one scene in one run.
type SceneRecord struct {
	RunID      string
	SceneName  string
	Stage      Stage
	Succeeded  bool
	OutputPath string
	BucketKey  string
	Error      string
	RecordedAt time.Time
}
