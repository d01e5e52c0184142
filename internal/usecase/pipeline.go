package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/clock"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/geometry"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/observability"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/processor"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/publish"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/runconfig"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/timing"
)

const tracerName = "github.com/GeoscienceAustralia/sar-rtc-opera/internal/usecase"

// Materializer renders the processor runconfig for a scene.
type Materializer interface {
	Materialize(p runconfig.Params) (runconfig.Rendered, error)
}

// Processor runs the RTC step and reports the expected output.
type Processor interface {
	Run(ctx context.Context, inv processor.Invocation) (processor.Result, error)
}

// ArtifactPublisher uploads a scene's artifacts.
type ArtifactPublisher interface {
	Publish(ctx context.Context, bucket string, artifacts []publish.Artifact) (publish.Report, error)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Catalog      ports.SceneCatalog
	Downloader   ports.SceneDownloader
	Unpacker     ports.Unpacker
	Orbits       ports.OrbitResolver
	DEM          ports.DEMSource
	Inspector    ports.RasterInspector
	Materializer Materializer
	Processor    Processor
	Publisher    ArtifactPublisher
	History      ports.HistoryRepository
	Notifier     ports.Notifier
	Remover      ports.Remover
	Metrics      *observability.PipelineCollector
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Options are the per-run settings of the pipeline.
type Options struct {
	Scenes           []string
	SceneFolder      string
	UnzipScene       bool
	DEMFolder        string
	DEMType          string
	ScratchFolder    string
	OutputFolder     string
	XResolution      float64
	YResolution      float64
	TargetCRS        string
	Geometry         geometry.Options
	PushToS3         bool
	Bucket           string
	Layout           publish.Layout
	UploadDEM        bool
	DeleteLocalFiles bool
	SkipPublished    bool
	SceneTimeout     time.Duration
}

// Pipeline runs every configured scene through the staged workflow.
type Pipeline struct {
	deps   PipelineDeps
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts Options) *Pipeline {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		clock:  clk,
		logger: deps.Logger,
		tracer: otel.Tracer(tracerName),
	}
}

// errSkipped marks a stage with nothing to do; the scene still advances.
var errSkipped = errors.New("stage skipped")

// sceneRun is everything one iteration of the scene loop learns. It is never shared
// across scenes.
type sceneRun struct {
	runID       string
	state       *domain.ScenePipelineState
	ledger      *timing.Ledger
	logger      *slog.Logger
	correction  geometry.Correction
	acquisition dem.Acquisition
	processed   processor.Result
	outputCRS   domain.CRS
	published   publish.Report
	bucketKey   string
	stages      []domain.StageResult
}

type stage struct {
	name   domain.Stage
	timing string
	run    func(ctx context.Context, s *sceneRun) error
}

// Run processes the configured scenes one at a time. Scene failures are collected in
// the report; only run-fatal errors and cancellation of ctx end the run early.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{RunID: uuid.NewString(), Started: p.clock.Now()}
	log := p.logger
	if log != nil {
		log = log.With("run_id", report.RunID)
	}

	published := map[string]bool{}
	if p.opts.SkipPublished && p.deps.History != nil {
		done, err := p.deps.History.Published(ctx, p.opts.Scenes)
		if err != nil {
			logWarn(log, "load scene history", "error", err)
		} else {
			published = done
		}
	}

	var runErr error
	for i, name := range p.opts.Scenes {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		logInfo(log, "processing scene", "scene", name, "index", i+1, "total", len(p.opts.Scenes))

		if published[name] {
			logInfo(log, "scene already published, skipping", "scene", name)
			report.Succeeded = append(report.Succeeded, domain.SceneResult{
				SceneID: name, SceneName: name, Reached: domain.StagePublished, Skipped: true,
			})
			p.deps.Metrics.IncScene(string(domain.OutcomeSkipped))
			continue
		}

		res, run := p.processScene(ctx, report.RunID, name, log)
		if res.Succeeded() {
			report.Succeeded = append(report.Succeeded, res)
			p.deps.Metrics.IncScene(string(domain.OutcomeSucceeded))
		} else {
			report.Failed = append(report.Failed, res)
			p.deps.Metrics.IncScene(string(domain.OutcomeFailed))
		}
		p.saveHistory(ctx, report.RunID, res, run.bucketKey, log)

		if domain.IsRunFatal(res.Err) {
			runErr = res.Err
			break
		}
	}

	report.Elapsed = p.clock.Since(report.Started)
	p.deps.Metrics.SetRunDuration(report.Elapsed)

	summary := FormatReport(report)
	logInfo(log, "run complete", "succeeded", len(report.Succeeded), "failed", len(report.Failed), "elapsed", report.Elapsed.String())
	for _, line := range strings.Split(strings.TrimSpace(summary), "\n") {
		logInfo(log, line)
	}
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.PublishReport(context.WithoutCancel(ctx), summary); err != nil {
			logWarn(log, "send run report", "error", err)
		}
	}
	return report, runErr
}

func (p *Pipeline) processScene(ctx context.Context, runID, name string, runLog *slog.Logger) (domain.SceneResult, *sceneRun) {
	if p.opts.SceneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.SceneTimeout)
		defer cancel()
	}
	ctx, span := p.tracer.Start(ctx, "scene", trace.WithAttributes(
		attribute.String("scene", name),
		attribute.String("run_id", runID),
	))
	defer span.End()

	s := &sceneRun{
		runID:  runID,
		state:  &domain.ScenePipelineState{SceneID: name, Stage: domain.StagePending},
		ledger: timing.Open(filepath.Join(p.opts.OutputFolder, name+"_timing.json")),
	}
	s.state.TimingPath = s.ledger.Path()
	if runLog != nil {
		s.logger = runLog.With("scene", name)
	}

	result := domain.SceneResult{SceneID: name, SceneName: name, Reached: domain.StagePending}
	for _, st := range p.stages() {
		sr, err := p.runStage(ctx, s, st)
		s.stages = append(s.stages, sr)
		if err != nil {
			result.FailedAt = st.name
			result.Err = fmt.Errorf("%s: %w", st.name, err)
			s.state.Stage = domain.StageFailed
			logError(s.logger, "scene failed", "stage", st.name, "error", err)
			break
		}
		result.Reached = st.name
		s.state.Stage = st.name
	}
	if s.state.Scene.Name != "" {
		result.SceneName = s.state.Scene.Name
	}
	result.OutputPath = s.state.OutputPath

	// Cleanup and the timing upload run even when the scene context has expired.
	teardown := context.WithoutCancel(ctx)
	if p.opts.DeleteLocalFiles {
		sr, _ := p.runStage(teardown, s, stage{name: domain.StageCleanedUp, timing: timing.DeleteFiles, run: p.cleanup})
		s.stages = append(s.stages, sr)
		if sr.Outcome == domain.OutcomeSucceeded && result.Err == nil {
			result.Reached = domain.StageCleanedUp
		}
	}
	if result.Err == nil {
		if err := p.publishTiming(teardown, s); err != nil {
			result.FailedAt = domain.StagePublished
			result.Err = fmt.Errorf("%s: %w", domain.StagePublished, err)
		}
	}

	s.state.Success = result.Err == nil

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	result.Stages = s.stages
	logInfo(s.logger, "scene finished", "succeeded", result.Succeeded(), "reached", result.Reached)
	return result, s
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{name: domain.StageLocated, timing: timing.DownloadScene, run: p.locate},
		{name: domain.StageOrbitResolved, timing: timing.DownloadOrbits, run: p.resolveOrbit},
		{name: domain.StageGeometryCorrected, timing: timing.GeometryCorrection, run: p.correctGeometry},
		{name: domain.StageDemReady, timing: timing.DownloadDEM, run: p.prepareDEM},
		{name: domain.StageConfigRendered, timing: timing.RenderConfig, run: p.renderConfig},
		{name: domain.StageProcessed, timing: timing.RTCProcessing, run: p.process},
		{name: domain.StagePublished, timing: timing.S3Upload, run: p.publish},
	}
}

func (p *Pipeline) runStage(ctx context.Context, s *sceneRun, st stage) (domain.StageResult, error) {
	ctx, span := p.tracer.Start(ctx, string(st.name))
	defer span.End()

	sr := domain.StageResult{Stage: st.name, Start: p.clock.Now(), Outcome: domain.OutcomeSucceeded}
	err := st.run(ctx, s)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	sr.End = p.clock.Now()

	switch {
	case errors.Is(err, errSkipped):
		sr.Outcome = domain.OutcomeSkipped
		err = nil
	case err != nil:
		sr.Outcome = domain.OutcomeFailed
		sr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	p.deps.Metrics.ObserveStage(string(st.name), string(sr.Outcome), sr.Duration())
	if recErr := s.ledger.Record(st.timing, sr.Duration().Seconds(), false); recErr != nil {
		logWarn(s.logger, "record stage timing", "stage", st.timing, "error", recErr)
	}
	logDebug(s.logger, "stage finished", "stage", st.name, "outcome", sr.Outcome, "seconds", sr.Duration().Seconds())
	return sr, err
}

func (p *Pipeline) saveHistory(ctx context.Context, runID string, res domain.SceneResult, bucketKey string, log *slog.Logger) {
	if p.deps.History == nil {
		return
	}
	rec := domain.SceneRecord{
		RunID:      runID,
		SceneName:  res.SceneID,
		Stage:      res.Reached,
		Succeeded:  res.Succeeded(),
		OutputPath: res.OutputPath,
		BucketKey:  bucketKey,
		RecordedAt: p.clock.Now().UTC(),
	}
	if res.Err != nil {
		rec.Stage = res.FailedAt
		rec.Error = res.Err.Error()
	}
	if err := p.deps.History.SaveResult(context.WithoutCancel(ctx), rec); err != nil {
		logWarn(log, "save scene history", "scene", res.SceneID, "error", err)
	}
}

func logDebug(l *slog.Logger, msg string, args ...interface{}) {
	if l != nil {
		l.Debug(msg, args...)
	}
}

func logInfo(l *slog.Logger, msg string, args ...interface{}) {
	if l != nil {
		l.Info(msg, args...)
	}
}

func logWarn(l *slog.Logger, msg string, args ...interface{}) {
	if l != nil {
		l.Warn(msg, args...)
	}
}

func logError(l *slog.Logger, msg string, args ...interface{}) {
	if l != nil {
		l.Error(msg, args...)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
