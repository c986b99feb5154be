package learner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/patterns"
)

type memStore struct {
	patterns map[string]model.Pattern
}

func newMemStore() *memStore { return &memStore{patterns: map[string]model.Pattern{}} }

func (m *memStore) UpsertFileRecord(context.Context, model.FileRecord) error { return nil }
func (m *memStore) GetFileRecord(context.Context, string) (model.FileRecord, bool, error) {
	return model.FileRecord{}, false, nil
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
func (m *memStore) UpsertPattern(_ context.Context, p model.Pattern) error {
	m.patterns[p.Fingerprint] = p
	return nil
}
func (m *memStore) SelectPatterns(_ context.Context, minOcc int) ([]model.Pattern, error) {
	var out []model.Pattern
	for _, p := range m.patterns {
		if p.OccurrenceCount >= minOcc {
			out = append(out, p)
		}
	}
	return out, nil
}
func (m *memStore) SelectFileHealth(context.Context, string) (int, bool, error) { return 0, false, nil }
func (m *memStore) SelectFileHealthBelow(context.Context, int, int) ([]string, error) {
	return nil, nil
}

func TestObserveUpdatesCalibrationBucket(t *testing.T) {
	backing := newMemStore()
	reg, err := patterns.New(context.Background(), backing)
	require.NoError(t, err)
	l := New(reg)

	rec := model.OutcomeRecord{Method: model.MethodSimpleLine, IssueKind: model.KindStyle, Applied: true}
	require.NoError(t, l.Observe(context.Background(), rec, "", "go"))

	rate, ok := l.Calibrate(model.MethodSimpleLine, model.KindStyle, "go")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)

	require.NoError(t, l.Observe(context.Background(), model.OutcomeRecord{Method: model.MethodSimpleLine, IssueKind: model.KindStyle, Applied: false}, "", "go"))
	rate, ok = l.Calibrate(model.MethodSimpleLine, model.KindStyle, "go")
	require.True(t, ok)
	assert.Equal(t, 0.5, rate)
}

func TestObserveRecordsPatternOutcomeWhenFingerprintPresent(t *testing.T) {
	backing := newMemStore()
	reg, err := patterns.New(context.Background(), backing)
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), model.Pattern{
		Fingerprint: patterns.Fingerprint("x"), MatcherSource: "x", Template: "y",
	}))
	l := New(reg)

	fp := patterns.Fingerprint("x")
	for i := 0; i < 9; i++ {
		require.NoError(t, l.Observe(context.Background(), model.OutcomeRecord{Method: model.MethodPattern}, fp, ""))
	}
	require.NoError(t, l.Observe(context.Background(), model.OutcomeRecord{Method: model.MethodPattern, Applied: true}, fp, ""))

	_, ok := reg.BestMatch("x")
	assert.False(t, ok, "pattern with 1/10 success rate should have retired")
}

func TestObserveEvolvesPatternAfterThreeDistinctFiles(t *testing.T) {
	backing := newMemStore()
	reg, err := patterns.New(context.Background(), backing)
	require.NoError(t, err)
	l := New(reg)

	for _, path := range []string{"a.go", "b.go", "c.go"} {
		rec := model.OutcomeRecord{
			Method: model.MethodGeneratorContext, IssueKind: model.KindStyle,
			Applied: true, IssuePath: path,
			BeforeContent: "if (v == null)", AfterContent: "if (v === null)",
		}
		require.NoError(t, l.Observe(context.Background(), rec, "", ""))
	}

	fp := patterns.Fingerprint("===>===")
	_, exists := backing.patterns[fp]
	assert.True(t, exists, "repeated literal rewrite across 3 distinct files should promote a new pattern")
}

func TestCalibrateReportsNotOkWithoutTrials(t *testing.T) {
	reg, err := patterns.New(context.Background(), newMemStore())
	require.NoError(t, err)
	l := New(reg)

	_, ok := l.Calibrate(model.MethodPattern, model.KindStyle, "go")
	assert.False(t, ok)
}
