package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/outcomes"
	"github.com/codekeeper/crawler/internal/patterns"
)

type memStore struct {
	outcomes []model.OutcomeRecord
	patterns map[string]model.Pattern
}

func newMemStore() *memStore {
	return &memStore{patterns: map[string]model.Pattern{}}
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

type stubGenerator struct {
	name   string
	result adapters.GenResult
	ok     bool
	err    error
}

func (s stubGenerator) Name() string { return s.name }
func (s stubGenerator) Generate(context.Context, model.Issue, string, string, adapters.GenHints) (adapters.GenResult, bool, error) {
	return s.result, s.ok, s.err
}

func newPipeline(t *testing.T, store *memStore, generators []adapters.Generator, specialists map[model.IssueKind]Specialist) *Pipeline {
	t.Helper()
	log := outcomes.New(store)
	reg, err := patterns.New(context.Background(), store)
	require.NoError(t, err)
	return New(log, reg, generators, specialists)
}

func TestRunUsesReuseStageFirst(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.InsertOutcome(context.Background(), model.OutcomeRecord{
		IssueKind: model.KindStyle, IssueSeverity: model.SeverityLow,
		IssueMessage: "expected === and instead saw ==",
		Applied:      true,
		BeforeContent: "if (v == null) return;\n", AfterContent: "if (v === null) return;\n",
	}))
	p := newPipeline(t, store, nil, nil)

	issue := model.Issue{Kind: model.KindStyle, Severity: model.SeverityLow, Message: "expected === and instead saw =="}
	out, err := p.Run(context.Background(), issue, "if (v == null) return;\n", "a.js", adapters.GenHints{})
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, model.MethodReused, out.Candidate.Method)
	assert.Equal(t, "if (v === null) return;\n", out.Candidate.Content)
}

func TestRunFallsThroughToGeneratorCascade(t *testing.T) {
	store := newMemStore()
	gens := []adapters.Generator{
		stubGenerator{name: "context", ok: false},
		stubGenerator{name: "codebase", ok: true, result: adapters.GenResult{Code: "fixed", Method: model.MethodGeneratorCodebase, Confidence: 0.8}},
	}
	p := newPipeline(t, store, gens, nil)

	issue := model.Issue{Kind: model.KindPerformance, Severity: model.SeverityMedium}
	out, err := p.Run(context.Background(), issue, "original content", "a.go", adapters.GenHints{})
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, model.MethodGeneratorCodebase, out.Candidate.Method)
	assert.Equal(t, "fixed", out.Candidate.Content)
}

func TestRunUsesSpecialistWhenGeneratorsRefuse(t *testing.T) {
	store := newMemStore()
	specialists := map[model.IssueKind]Specialist{
		model.KindSecurity: fakeSpecialist{result: adapters.GenResult{Code: "patched", Confidence: 0.9}},
	}
	p := newPipeline(t, store, nil, specialists)

	issue := model.Issue{Kind: model.KindSecurity, Severity: model.SeverityMedium}
	out, err := p.Run(context.Background(), issue, "vulnerable", "a.go", adapters.GenHints{})
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, model.MethodSpecialist, out.Candidate.Method)
}

func TestRunGivesUpWhenNoStageProducesACandidate(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, store, nil, nil)

	issue := model.Issue{Kind: model.KindComplexity, Severity: model.SeverityMedium}
	out, err := p.Run(context.Background(), issue, "some content here", "a.go", adapters.GenHints{})
	require.NoError(t, err)
	assert.True(t, out.GaveUp)
	assert.False(t, out.Found)
}

func TestTrySimpleLineRemovesConsoleCall(t *testing.T) {
	p := newPipeline(t, newMemStore(), nil, nil)
	issue := model.Issue{Kind: model.KindStyle}
	content := "function f() {\n  console.log('debug');\nreturn 1;\n}\n"
	cand, ok := p.trySimpleLine(issue, content)
	require.True(t, ok)
	assert.NotContains(t, cand.Content, "console.log")
	assert.Equal(t, model.MethodSimpleLine, cand.Method)
}

func TestTrySimpleLineTrimsTrailingWhitespace(t *testing.T) {
	p := newPipeline(t, newMemStore(), nil, nil)
	issue := model.Issue{Kind: model.KindStyle, Message: "trailing whitespace on line 1"}
	cand, ok := p.trySimpleLine(issue, "let y = 2;   \n")
	require.True(t, ok)
	assert.Equal(t, "let y = 2;\n", cand.Content)
}

func TestTrySimpleLineAppendsMissingTerminator(t *testing.T) {
	p := newPipeline(t, newMemStore(), nil, nil)
	issue := model.Issue{Kind: model.KindSyntax, Message: "missing semicolon on line 2"}
	cand, ok := p.trySimpleLine(issue, "function f() {\n  const x = 1\n  return x;\n}\n")
	require.True(t, ok)
	assert.Equal(t, "function f() {\n  const x = 1;\n  return x;\n}\n", cand.Content)
	assert.Equal(t, model.MethodSimpleLine, cand.Method)
}

type fakeSpecialist struct {
	result adapters.GenResult
}

func (f fakeSpecialist) Name() string { return "security-specialist" }
func (f fakeSpecialist) Handle(context.Context, model.Issue, string, string) (adapters.GenResult, bool, error) {
	return f.result, true, nil
}
