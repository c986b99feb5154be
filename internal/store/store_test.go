package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "codecrawler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrationsAndIsReusable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codecrawler.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
}

func TestFileRecordRoundTripsThroughUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := model.FileRecord{
		Path: "main.go", ContentHash: "abc123", ModifiedAt: now,
		LastScanned: now, CreatedAt: now, IssueCount: 2, HealthScore: 90,
	}
	require.NoError(t, s.UpsertFileRecord(ctx, rec))

	got, found, err := s.GetFileRecord(ctx, "main.go")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, 90, got.HealthScore)

	rec.ContentHash = "def456"
	rec.HealthScore = 70
	require.NoError(t, s.UpsertFileRecord(ctx, rec))
	got, found, err = s.GetFileRecord(ctx, "main.go")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "def456", got.ContentHash, "a second upsert for the same path must update in place")
	assert.Equal(t, 70, got.HealthScore)
}

func TestGetFileRecordReportsNotFoundWithoutError(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetFileRecord(context.Background(), "missing.go")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteFileRecordRemovesTheCacheEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertFileRecord(ctx, model.FileRecord{Path: "a.go", ContentHash: "h"}))

	require.NoError(t, s.DeleteFileRecord(ctx, "a.go"))

	_, found, err := s.GetFileRecord(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertIssueAndSelectIssuesFiltersByPathAndSeverity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertIssue(ctx, model.Issue{
		ID: "i1", Path: "a.go", LineStart: 1, Kind: model.KindStyle,
		Severity: model.SeverityLow, Message: "m1", DetectedAt: time.Now(),
	}))
	require.NoError(t, s.InsertIssue(ctx, model.Issue{
		ID: "i2", Path: "b.go", LineStart: 1, Kind: model.KindSecurity,
		Severity: model.SeverityCritical, Message: "m2", DetectedAt: time.Now(),
	}))

	byPath, err := s.SelectIssues(ctx, adapters.IssueFilter{Path: "a.go"})
	require.NoError(t, err)
	require.Len(t, byPath, 1)
	assert.Equal(t, "i1", byPath[0].ID)

	bySeverity, err := s.SelectIssues(ctx, adapters.IssueFilter{Severity: model.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, "i2", bySeverity[0].ID)
}

func TestInsertOutcomeAndSelectOutcomesOrdersMostRecentFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	require.NoError(t, s.InsertOutcome(ctx, model.OutcomeRecord{
		ID: "o1", IssuePath: "a.go", Method: model.MethodSimpleLine, Timestamp: older,
	}))
	require.NoError(t, s.InsertOutcome(ctx, model.OutcomeRecord{
		ID: "o2", IssuePath: "a.go", Method: model.MethodPattern, Timestamp: newer,
	}))

	out, err := s.SelectOutcomes(ctx, adapters.OutcomeFilter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "o2", out[0].ID, "most recent outcome must sort first")
}

func TestUpsertPatternAndSelectPatternsRespectsMinOccurrenceAndActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPattern(ctx, model.Pattern{
		Fingerprint: "p1", OccurrenceCount: 5, SuccessCount: 4, Active: true,
	}))
	require.NoError(t, s.UpsertPattern(ctx, model.Pattern{
		Fingerprint: "p2", OccurrenceCount: 1, SuccessCount: 0, Active: true,
	}))
	require.NoError(t, s.UpsertPattern(ctx, model.Pattern{
		Fingerprint: "p3", OccurrenceCount: 10, SuccessCount: 2, Active: false,
	}))

	out, err := s.SelectPatterns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, out, 1, "p2 falls below min occurrence and p3 is retired")
	assert.Equal(t, "p1", out[0].Fingerprint)
}

func TestFileHealthHelpersTrackScoreAndBelowThreshold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFileRecord(ctx, model.FileRecord{Path: "healthy.go", HealthScore: 95}))
	require.NoError(t, s.UpsertFileRecord(ctx, model.FileRecord{Path: "sick.go", HealthScore: 10}))

	score, found, err := s.SelectFileHealth(ctx, "sick.go")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10, score)

	below, err := s.SelectFileHealthBelow(ctx, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"sick.go"}, below)
}

func TestRunStatsPersistsAndLoadsTheLastRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadRunStats(ctx)
	require.NoError(t, err)
	assert.False(t, found, "a fresh store has no persisted run yet")

	stats := model.RunStats{FilesScanned: 12, IssuesFound: 3, IssuesAutoFixed: 1}
	require.NoError(t, s.PersistRunStats(ctx, stats))

	loaded, found, err := s.LoadRunStats(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12, loaded.FilesScanned)

	stats.FilesScanned = 20
	require.NoError(t, s.PersistRunStats(ctx, stats))
	loaded, _, err = s.LoadRunStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.FilesScanned, "persisting again must replace the single row, not append")
}
