package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/cache"
	"github.com/codekeeper/crawler/internal/model"
)

type memStore struct {
	files map[string]model.FileRecord
}

func newMemStore() *memStore { return &memStore{files: map[string]model.FileRecord{}} }

func (m *memStore) UpsertFileRecord(_ context.Context, rec model.FileRecord) error {
	m.files[rec.Path] = rec
	return nil
}
func (m *memStore) GetFileRecord(_ context.Context, path string) (model.FileRecord, bool, error) {
	rec, ok := m.files[path]
	return rec, ok, nil
}
func (m *memStore) DeleteFileRecord(context.Context, string) error { return nil }
func (m *memStore) InsertIssue(context.Context, model.Issue) error { return nil }
func (m *memStore) SelectIssues(context.Context, adapters.IssueFilter) ([]model.Issue, error) {
	return nil, nil
}
func (m *memStore) InsertOutcome(context.Context, model.OutcomeRecord) error { return nil }
func (m *memStore) SelectOutcomes(context.Context, adapters.OutcomeFilter) ([]model.OutcomeRecord, error) {
	return nil, nil
}
func (m *memStore) UpsertPattern(context.Context, model.Pattern) error { return nil }
func (m *memStore) SelectPatterns(context.Context, int) ([]model.Pattern, error) { return nil, nil }
func (m *memStore) SelectFileHealth(context.Context, string) (int, bool, error) { return 0, false, nil }
func (m *memStore) SelectFileHealthBelow(context.Context, int, int) ([]string, error) {
	return nil, nil
}

type fakeReview struct {
	result adapters.ReviewResult
	err    error
}

func (f fakeReview) Review(context.Context, string, string) (adapters.ReviewResult, error) {
	return f.result, f.err
}

func TestAnalyzeSkipsTooShortContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.go")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	a := New(cache.New(newMemStore(), time.Hour, true), fakeReview{})
	res := a.Analyze(context.Background(), path)
	assert.True(t, res.Skipped)
	assert.Equal(t, "content too short to scan", res.Reason)
}

func TestAnalyzeSkipsOversizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(path, make([]byte, 600*1024), 0o644))

	a := New(cache.New(newMemStore(), time.Hour, true), fakeReview{})
	res := a.Analyze(context.Background(), path)
	assert.True(t, res.Skipped)
	assert.Equal(t, "exceeds size ceiling", res.Reason)
}

func TestAnalyzeSkipsWithinTTLUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	content := []byte("package main\n\nfunc main() {}\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	store := newMemStore()
	c := cache.New(store, time.Hour, true)
	hash := HashBytes(content)
	require.NoError(t, c.Update(context.Background(), path, hash, time.Now(), 0, 100))

	a := New(c, fakeReview{})
	res := a.Analyze(context.Background(), path)
	assert.True(t, res.Skipped)
	assert.Equal(t, "unchanged within TTL", res.Reason)
}

func TestAnalyzeReturnsIssuesFromReviewClient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	content := []byte("package main\n\nfunc main() { x := 1 }\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	review := fakeReview{result: adapters.ReviewResult{
		Success: true,
		Issues:  []model.Issue{{Path: path, LineStart: 3, Kind: model.KindUnused, Severity: model.SeverityLow}},
	}}
	a := New(cache.New(newMemStore(), time.Hour, true), review)
	res := a.Analyze(context.Background(), path)
	require.False(t, res.Errored)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.KindUnused, res.Issues[0].Kind)
}

func TestAnalyzeErrorsOnReviewClientFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644))

	a := New(cache.New(newMemStore(), time.Hour, true), fakeReview{result: adapters.ReviewResult{Success: false, Message: "boom"}})
	res := a.Analyze(context.Background(), path)
	assert.True(t, res.Errored)
	assert.Equal(t, "boom", res.Reason)
}
