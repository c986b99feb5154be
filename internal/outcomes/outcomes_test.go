package outcomes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
)

type memStore struct {
	outcomes []model.OutcomeRecord
}

func (m *memStore) UpsertFileRecord(context.Context, model.FileRecord) error { return nil }
func (m *memStore) GetFileRecord(context.Context, string) (model.FileRecord, bool, error) {
	return model.FileRecord{}, false, nil
}
func (m *memStore) DeleteFileRecord(context.Context, string) error { return nil }
func (m *memStore) InsertIssue(context.Context, model.Issue) error { return nil }
func (m *memStore) SelectIssues(context.Context, adapters.IssueFilter) ([]model.Issue, error) {
	return nil, nil
}
func (m *memStore) InsertOutcome(_ context.Context, rec model.OutcomeRecord) error {
	m.outcomes = append(m.outcomes, rec)
	return nil
}
func (m *memStore) SelectOutcomes(_ context.Context, filter adapters.OutcomeFilter) ([]model.OutcomeRecord, error) {
	var out []model.OutcomeRecord
	for _, rec := range m.outcomes {
		if filter.Kind != "" && rec.IssueKind != filter.Kind {
			continue
		}
		if filter.Severity != "" && rec.IssueSeverity != filter.Severity {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
func (m *memStore) UpsertPattern(context.Context, model.Pattern) error { return nil }
func (m *memStore) SelectPatterns(context.Context, int) ([]model.Pattern, error) { return nil, nil }
func (m *memStore) SelectFileHealth(context.Context, string) (int, bool, error) { return 0, false, nil }
func (m *memStore) SelectFileHealthBelow(context.Context, int, int) ([]string, error) {
	return nil, nil
}

func TestFindReusableExactMatchAppliesLiterally(t *testing.T) {
	backing := &memStore{}
	log := New(backing)

	require.NoError(t, log.Append(context.Background(), model.OutcomeRecord{
		ID:            "o1",
		IssueKind:     model.KindStyle,
		IssueSeverity: model.SeverityLow,
		IssueMessage:  "expected === and instead saw ==",
		Applied:       true,
		BeforeContent: "if (v == null) return;\n",
		AfterContent:  "if (v === null) return;\n",
		Timestamp:     time.Now(),
	}))

	issue := model.Issue{
		Kind:     model.KindStyle,
		Severity: model.SeverityLow,
		Message:  "expected === and instead saw ==",
	}
	reused, ok, err := log.FindReusable(context.Background(), issue, "if (v == null) return;\n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "if (v === null) return;\n", reused.Content)
	assert.GreaterOrEqual(t, reused.Confidence, 0.85)
}

func TestFindReusableNoMatchBelowThreshold(t *testing.T) {
	backing := &memStore{}
	log := New(backing)

	require.NoError(t, log.Append(context.Background(), model.OutcomeRecord{
		ID:            "o1",
		IssueKind:     model.KindPerformance,
		IssueSeverity: model.SeverityHigh,
		IssueMessage:  "completely unrelated n+1 query issue",
		Applied:       true,
		BeforeContent: "for _, x := range all { db.Get(x) }",
		AfterContent:  "db.GetBatch(all)",
		Timestamp:     time.Now(),
	}))

	issue := model.Issue{
		Kind:     model.KindStyle,
		Severity: model.SeverityLow,
		Message:  "trailing whitespace",
	}
	_, ok, err := log.FindReusable(context.Background(), issue, "let y = 2;   \n")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLiteralDiff(t *testing.T) {
	before, after, ok := literalDiff("if (v == null) return;\n", "if (v === null) return;\n")
	require.True(t, ok)
	assert.Equal(t, "==", before)
	assert.Equal(t, "===", after)
}

func TestLiteralDiffIdentical(t *testing.T) {
	_, _, ok := literalDiff("same", "same")
	assert.False(t, ok)
}
