package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

func openTemp(t *testing.T) (*HistoryRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	repo, err := OpenHistory(DriverSQLite, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func TestPublishedOnlyReturnsUploadedSuccesses(t *testing.T) {
	t.Parallel()

	repo, _ := openTemp(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	records := []domain.SceneRecord{
		{RunID: "r1", SceneName: "S1A_DONE", Stage: domain.StagePublished, Succeeded: true, BucketKey: "ga/opera/cop30/32752/S1A_DONE", RecordedAt: at},
		{RunID: "r1", SceneName: "S1A_LOCAL", Stage: domain.StageProcessed, Succeeded: true, RecordedAt: at},
		{RunID: "r1", SceneName: "S1A_FAILED", Stage: domain.StageDemReady, Succeeded: false, Error: "dem coverage not guaranteed", RecordedAt: at},
	}
	for _, rec := range records {
		require.NoError(t, repo.SaveResult(ctx, rec))
	}

	got, err := repo.Published(ctx, []string{"S1A_DONE", "S1A_LOCAL", "S1A_FAILED", "S1A_UNKNOWN"})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]bool{"S1A_DONE": true}, got); diff != "" {
		t.Fatalf("published mismatch (-want +got):\n%s", diff)
	}

	empty, err := repo.Published(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaveResultUpsertsWithinRun(t *testing.T) {
	t.Parallel()

	repo, _ := openTemp(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveResult(ctx, domain.SceneRecord{RunID: "r1", SceneName: "S1A_X", Stage: domain.StageProcessed, Error: "publish failed", RecordedAt: at}))
	require.NoError(t, repo.SaveResult(ctx, domain.SceneRecord{RunID: "r1", SceneName: "S1A_X", Stage: domain.StagePublished, Succeeded: true, BucketKey: "k", RecordedAt: at.Add(time.Minute)}))
	require.NoError(t, repo.SaveResult(ctx, domain.SceneRecord{RunID: "r2", SceneName: "S1A_X", Stage: domain.StagePublished, Succeeded: true, BucketKey: "k", RecordedAt: at.Add(time.Hour)}))

	recs, err := repo.Records(ctx, "S1A_X")
	require.NoError(t, err)
	want := []domain.SceneRecord{
		{RunID: "r1", SceneName: "S1A_X", Stage: domain.StagePublished, Succeeded: true, BucketKey: "k"},
		{RunID: "r2", SceneName: "S1A_X", Stage: domain.StagePublished, Succeeded: true, BucketKey: "k"},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenHistoryIsIdempotent(t *testing.T) {
	t.Parallel()

	repo, path := openTemp(t)
	require.NoError(t, repo.SaveResult(context.Background(), domain.SceneRecord{RunID: "r1", SceneName: "S1A_X", Stage: domain.StagePublished, Succeeded: true, BucketKey: "k"}))
	require.NoError(t, repo.Close())

	again, err := OpenHistory(DriverSQLite, path, nil)
	require.NoError(t, err)
	defer again.Close()

	got, err := again.Published(context.Background(), []string{"S1A_X"})
	require.NoError(t, err)
	assert.True(t, got["S1A_X"])
}
