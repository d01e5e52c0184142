package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPipelineCollector(reg)
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}

	c.ObserveStage("DemReady", "succeeded", 3*time.Second)
	c.IncScene("succeeded")
	c.IncScene("failed")
	c.IncScene("failed")
	c.AddDEMExpansions(1)
	c.AddDEMExpansions(0)
	c.IncPublishFallback()

	if got := testutil.ToFloat64(c.SceneOutcomes.WithLabelValues("failed")); got != 2 {
		t.Fatalf("rtc_scenes_total{failed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.DEMExpansions); got != 1 {
		t.Fatalf("rtc_dem_expansions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PublishFallbacks); got != 1 {
		t.Fatalf("rtc_publish_fallbacks_total = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.StageDuration); n != 1 {
		t.Fatalf("stage histogram series = %d, want 1", n)
	}

	if _, err := NewPipelineCollector(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *PipelineCollector
	c.ObserveStage("Located", "failed", time.Second)
	c.IncScene("failed")
	c.AddDEMExpansions(2)
	c.IncPublishFallback()
	c.SetRunDuration(time.Minute)
	if err := c.Push(context.Background(), "http://unused", "job"); err != nil {
		t.Fatalf("nil push: %v", err)
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var body string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPipelineCollector: %v", err)
	}
	c.SetRunDuration(90 * time.Second)
	if err := c.Push(context.Background(), srv.URL, "rtcotf"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(path, "/metrics/job/rtcotf") {
		t.Fatalf("unexpected push path %q", path)
	}
	if body == "" {
		t.Fatalf("expected metrics payload")
	}
}
