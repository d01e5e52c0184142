package timing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordFirstWriteWins(t *testing.T) {
	t.Parallel()

	l := Open(filepath.Join(t.TempDir(), "S1A_scene_timing.json"))
	if err := l.Record(DownloadScene, 5.0, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(DownloadScene, 9.0, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := l.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if got[DownloadScene] != 5.0 {
		t.Fatalf("expected first write to win, got %v", got[DownloadScene])
	}

	if err := l.Record(DownloadScene, 9.0, true); err != nil {
		t.Fatalf("record replace: %v", err)
	}
	got, _ = l.Entries()
	if got[DownloadScene] != 9.0 {
		t.Fatalf("expected replace to overwrite, got %v", got[DownloadScene])
	}
}

func TestTotalIsRecomputed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "timing.json")
	// A stale Total on disk is ignored.
	if err := os.WriteFile(path, []byte(`{"Download Scene": 2.5, "Total": 1000}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l := Open(path)
	for stage, secs := range map[string]float64{DownloadOrbits: 1.5, DownloadDEM: 4} {
		if err := l.Record(stage, secs, false); err != nil {
			t.Fatalf("record %s: %v", stage, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var onDisk map[string]float64
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]float64{DownloadScene: 2.5, DownloadOrbits: 1.5, DownloadDEM: 4, TotalKey: 8}
	if diff := cmp.Diff(want, onDisk); diff != "" {
		t.Fatalf("side file mismatch (-want +got):\n%s", diff)
	}

	stages, err := l.Stages()
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	if diff := cmp.Diff([]string{DownloadDEM, DownloadOrbits, DownloadScene}, stages); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordRejectsTotal(t *testing.T) {
	t.Parallel()

	l := Open(filepath.Join(t.TempDir(), "timing.json"))
	if err := l.Record(TotalKey, 3, true); err == nil {
		t.Fatalf("expected error recording %s", TotalKey)
	}
}

func TestResumedLedgerKeepsEarlierTimings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "timing.json")
	first := Open(path)
	if err := first.Record(DownloadScene, 12, false); err != nil {
		t.Fatalf("record: %v", err)
	}

	resumed := Open(path)
	if err := resumed.Record(DownloadScene, 1, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := resumed.Record(RTCProcessing, 30, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := resumed.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if got[DownloadScene] != 12 || got[TotalKey] != 42 {
		t.Fatalf("unexpected entries %v", got)
	}
}
