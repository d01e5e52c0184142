package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/clock"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

type fakeStore struct {
	fail map[string]bool
	puts []string
}

func (f *fakeStore) Put(_ context.Context, _, bucket, key string) error {
	f.puts = append(f.puts, bucket+"/"+key)
	if f.fail[key] {
		return errors.New("connection reset")
	}
	return nil
}

func TestPublishFallsBackPerArtifact(t *testing.T) {
	t.Parallel()

	primary := &fakeStore{fail: map[string]bool{"b.tif": true, "c.h5": true}}
	fallback := &fakeStore{fail: map[string]bool{"c.h5": true}}
	clk := clock.NewManual(time.Unix(0, 0))
	p := NewPublisher(primary, fallback, clk, DefaultRetryDelay, nil)
	fallbacks := 0
	p.OnFallback(func() { fallbacks++ })

	arts := []Artifact{{"/o/a.tif", "a.tif"}, {"/o/b.tif", "b.tif"}, {"/o/c.h5", "c.h5"}, {"/o/timing.json", "timing.json"}}
	rep, err := p.Publish(context.Background(), "bucket", arts)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPublish))
	assert.Contains(t, err.Error(), "c.h5")
	assert.NotContains(t, err.Error(), "b.tif")

	if diff := cmp.Diff([]string{"a.tif", "b.tif", "timing.json"}, rep.Uploaded); diff != "" {
		t.Fatalf("uploaded mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"b.tif"}, rep.Fallbacks)
	assert.Equal(t, []string{"c.h5"}, rep.Failed)
	assert.Equal(t, 2, fallbacks)
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, clk.Waits())
	assert.Equal(t, "bucket/timing.json", primary.puts[len(primary.puts)-1], "later artifacts still upload")
}

func TestPublishWithoutFallback(t *testing.T) {
	t.Parallel()

	p := NewPublisher(&fakeStore{fail: map[string]bool{"a": true}}, nil, clock.NewManual(time.Unix(0, 0)), 0, nil)
	rep, err := p.Publish(context.Background(), "bucket", []Artifact{{"/a", "a"}})
	assert.True(t, errors.Is(err, domain.ErrPublish))
	assert.Equal(t, []string{"a"}, rep.Failed)
}

func TestLayoutKey(t *testing.T) {
	t.Parallel()

	l := Layout{Folder: "experimental", Software: "opera-rtc", DEMType: "glo_30", ScenePrefix: "t_"}
	got := l.Key("S1A_X", domain.EPSG3031, "/data/out/S1A_X/OPERA_L2_RTC.h5")
	assert.Equal(t, "experimental/opera-rtc/glo_30/3031/t_S1A_X/OPERA_L2_RTC.h5", got)

	l = Layout{Software: "opera-rtc", DEMType: "REMA"}
	assert.Equal(t, "opera-rtc/REMA/32755/S1A_X", l.SceneFolder("S1A_X", domain.CRS(32755)))
}

func TestSceneOutputsAndFirstRaster(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"S1A_X_VV.tif", "S1A_X_VH.tif", "OPERA_P.h5", "unrelated.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "S1A_X_scratch"), 0o755))

	outs, err := SceneOutputs(dir, "S1A_X", "OPERA_P")
	require.NoError(t, err)
	want := []string{filepath.Join(dir, "OPERA_P.h5"), filepath.Join(dir, "S1A_X_VH.tif"), filepath.Join(dir, "S1A_X_VV.tif")}
	if diff := cmp.Diff(want, outs); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}

	first, err := FirstRaster(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "S1A_X_VH.tif"), first)

	_, err = FirstRaster(t.TempDir())
	assert.Error(t, err)
}
