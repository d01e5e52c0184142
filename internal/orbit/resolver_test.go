package orbit

import (
	"context"
	"errors"
	"testing"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

type fakeDownloader struct {
	precise    []domain.OrbitFile
	preciseErr error
	restituted []domain.OrbitFile
	calls      []domain.OrbitQuery
	dirs       []string
}

func (f *fakeDownloader) Download(_ context.Context, q domain.OrbitQuery, dir string) ([]domain.OrbitFile, error) {
	f.calls = append(f.calls, q)
	f.dirs = append(f.dirs, dir)
	if q.Rank == domain.OrbitPrecise {
		return f.precise, f.preciseErr
	}
	return f.restituted, nil
}

var testScene = domain.Scene{Name: "S1A_IW_SLC__1SDV_20220101T010203_20220101T010230_041234_04E6A1_ABCD"}

func TestResolvePrefersPrecise(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{
		precise:    []domain.OrbitFile{{Path: "/orbits/POEORB_1.EOF"}, {Path: "/orbits/POEORB_2.EOF"}},
		restituted: []domain.OrbitFile{{Path: "/orbits/RESORB.EOF"}},
	}
	got, err := NewResolver(dl, "/precise", "/restituted", nil).Resolve(context.Background(), testScene)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Path != "/orbits/POEORB_1.EOF" || got.Rank != domain.OrbitPrecise {
		t.Fatalf("unexpected orbit %+v", got)
	}
	if len(dl.calls) != 1 {
		t.Fatalf("restituted must not be requested when precise exists, calls=%d", len(dl.calls))
	}
	if dl.calls[0].Mission != "S1A" || dl.dirs[0] != "/precise" {
		t.Fatalf("unexpected query %+v in %s", dl.calls[0], dl.dirs[0])
	}
}

func TestResolveFallsBackToRestituted(t *testing.T) {
	t.Parallel()

	for _, preciseErr := range []error{nil, errors.New("listing unavailable")} {
		dl := &fakeDownloader{
			preciseErr: preciseErr,
			restituted: []domain.OrbitFile{{Path: "/orbits/RESORB.EOF"}},
		}
		got, err := NewResolver(dl, "/precise", "/restituted", nil).Resolve(context.Background(), testScene)
		if err != nil {
			t.Fatalf("resolve (precise err %v): %v", preciseErr, err)
		}
		if got.Rank != domain.OrbitRestituted || got.Path != "/orbits/RESORB.EOF" {
			t.Fatalf("unexpected orbit %+v", got)
		}
		if dl.dirs[1] != "/restituted" {
			t.Fatalf("restituted stored in %s", dl.dirs[1])
		}
	}
}

func TestResolveNoOrbit(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(&fakeDownloader{}, "/p", "/r", nil).Resolve(context.Background(), testScene)
	if !errors.Is(err, domain.ErrOrbitNotFound) {
		t.Fatalf("expected ErrOrbitNotFound, got %v", err)
	}
	if domain.IsRunFatal(err) {
		t.Fatalf("missing orbit must only fail the scene")
	}
}
