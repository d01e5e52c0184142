// Package observability exposes pipeline metrics and tracing setup.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PipelineCollector holds the batch metrics of one run.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	StageDuration    *prometheus.HistogramVec
	SceneOutcomes    *prometheus.CounterVec
	DEMExpansions    prometheus.Counter
	PublishFallbacks prometheus.Counter
	RunDuration      prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against the provided registerer.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	stage := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtc_stage_duration_seconds",
		Help:    "Wall-clock duration of each per-scene pipeline stage.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600, 7200},
	}, []string{"stage", "outcome"})
	if err := register(reg, stage, "rtc_stage_duration_seconds"); err != nil {
		return nil, err
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_scenes_total",
		Help: "Scenes finished by outcome.",
	}, []string{"outcome"})
	if err := register(reg, outcomes, "rtc_scenes_total"); err != nil {
		return nil, err
	}

	expansions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtc_dem_expansions_total",
		Help: "DEM rasters padded because they did not cover the scene target.",
	})
	if err := register(reg, expansions, "rtc_dem_expansions_total"); err != nil {
		return nil, err
	}

	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtc_publish_fallbacks_total",
		Help: "Artifacts retried through the fallback transfer path.",
	})
	if err := register(reg, fallbacks, "rtc_publish_fallbacks_total"); err != nil {
		return nil, err
	}

	run := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_run_duration_seconds",
		Help: "Wall-clock duration of the last completed run.",
	})
	if err := register(reg, run, "rtc_run_duration_seconds"); err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:         gatherer,
		StageDuration:    stage,
		SceneOutcomes:    outcomes,
		DEMExpansions:    expansions,
		PublishFallbacks: fallbacks,
		RunDuration:      run,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PipelineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveStage records one stage duration.
func (c *PipelineCollector) ObserveStage(stage, outcome string, d time.Duration) {
	if c == nil || c.StageDuration == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// IncScene counts a finished scene.
func (c *PipelineCollector) IncScene(outcome string) {
	if c == nil || c.SceneOutcomes == nil {
		return
	}
	c.SceneOutcomes.WithLabelValues(outcome).Inc()
}

// AddDEMExpansions counts padded DEM rasters.
func (c *PipelineCollector) AddDEMExpansions(n int) {
	if c == nil || c.DEMExpansions == nil || n <= 0 {
		return
	}
	c.DEMExpansions.Add(float64(n))
}

// IncPublishFallback counts one fallback transfer.
func (c *PipelineCollector) IncPublishFallback() {
	if c == nil || c.PublishFallbacks == nil {
		return
	}
	c.PublishFallbacks.Inc()
}

// SetRunDuration records the elapsed time of a run.
func (c *PipelineCollector) SetRunDuration(d time.Duration) {
	if c == nil || c.RunDuration == nil {
		return
	}
	c.RunDuration.Set(d.Seconds())
}

// Push sends the gathered metrics to a Prometheus Pushgateway under job.
func (c *PipelineCollector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(c.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func register(reg prometheus.Registerer, c prometheus.Collector, name string) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return fmt.Errorf("collector %s already registered", name)
		}
		return err
	}
	return nil
}
