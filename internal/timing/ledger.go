// Package timing keeps the per-scene record of how long each pipeline stage took.
package timing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// TotalKey is derived from the other entries and cannot be recorded directly.
const TotalKey = "Total"

// Stage keys written by the pipeline.
const (
	DownloadScene      = "Download Scene"
	DownloadOrbits     = "Download Orbits"
	GeometryCorrection = "Geometry Correction"
	DownloadDEM        = "Download DEM"
	RenderConfig       = "Render Config"
	RTCProcessing      = "RTC Processing"
	S3Upload           = "S3 Upload"
	DeleteFiles        = "Delete Files"
)

// Ledger is a key to seconds mapping persisted as a JSON object at Path. Every write
// rewrites the whole file with a freshly computed Total.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns a ledger backed by path. The file is created on first Record.
func Open(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the side file location.
func (l *Ledger) Path() string { return l.path }

// Record stores seconds under stage. An existing entry is kept unless replace is set,
// so durations recorded before a crash survive a resumed run.
func (l *Ledger) Record(stage string, seconds float64, replace bool) error {
	if stage == TotalKey {
		return fmt.Errorf("timing: %q is derived and cannot be recorded", TotalKey)
	}
	if stage == "" {
		return errors.New("timing: empty stage name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}
	if _, ok := entries[stage]; !ok || replace {
		entries[stage] = seconds
	}
	return l.save(entries)
}

// Entries returns the stored stage durations, Total included.
func (l *Ledger) Entries() (map[string]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	entries[TotalKey] = total(entries)
	return entries, nil
}

// Stages lists recorded stage keys, Total excluded, sorted.
func (l *Ledger) Stages() ([]string, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		if k != TotalKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads the side file without its Total, which is never trusted from disk.
func (l *Ledger) load() (map[string]float64, error) {
	entries := map[string]float64{}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timing: read %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("timing: decode %s: %w", l.path, err)
	}
	delete(entries, TotalKey)
	return entries, nil
}

func (l *Ledger) save(entries map[string]float64) error {
	out := make(map[string]float64, len(entries)+1)
	for k, v := range entries {
		out[k] = v
	}
	out[TotalKey] = total(entries)

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("timing: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("timing: create folder: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("timing: write: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("timing: replace: %w", err)
	}
	return nil
}

func total(entries map[string]float64) float64 {
	var sum float64
	for k, v := range entries {
		if k != TotalKey {
			sum += v
		}
	}
	return sum
}
