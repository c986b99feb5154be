// Package adapters defines the external interfaces the scan-fix-learn
// loop consumes: the code-review analyzer, fix-generator backends, the
// semantic-search service, the durable store, and the notification
// sink. These are the boundaries named "out of scope" in spec.md §1 —
// this package only declares the contracts; concrete adapters live in
// internal/store and the mcp-backed implementation below.
package adapters

import (
	"context"
	"time"

	"github.com/codekeeper/crawler/internal/model"
)

// ReviewResult is the outcome of a review() call per spec.md §6.
type ReviewResult struct {
	Success bool
	Issues  []model.Issue
	Message string
}

// ReviewClient extracts issues from source text. Implementations never
// panic or throw across this boundary; failures are surfaced via
// Success=false.
type ReviewClient interface {
	Review(ctx context.Context, sourceText, path string) (ReviewResult, error)
}

// GenHints is the enumerated hint bag passed to Generator backends.
type GenHints struct {
	Conventions     []string
	SimilarPatterns []string
	ExistingFixes   []string
	CodeStyle       string
	Domain          string
	RiskScore       float64
	IsHighRisk      bool
}

// GenResult is a generator's proposed code plus its own method tag and
// confidence, or no result at all (ok=false).
type GenResult struct {
	Code       string
	Method     model.Method
	Confidence float64
}

// Generator is the uniform contract for fix-generator backends (§6).
// A generator that has nothing to propose returns ok=false, not an
// error; an error return means the call itself failed (timeout, 5xx).
type Generator interface {
	Name() string
	Generate(ctx context.Context, issue model.Issue, sourceText, path string, hints GenHints) (result GenResult, ok bool, err error)
}

// SearchResult is one hit from the semantic-search service.
type SearchResult struct {
	Path  string
	Score float64
}

// SearchOptions bounds a semantic_search query.
type SearchOptions struct {
	Limit      int
	Threshold  float64
	FileFilter []string
}

// Search is the semantic-search/embedding service, used only as a hint
// source; failures are non-fatal (§4.1).
type Search interface {
	SemanticSearch(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}

// Store is the persistent, typed-collection backing described in §6:
// file_cache, issues, outcomes, patterns, file_health.
type Store interface {
	UpsertFileRecord(ctx context.Context, rec model.FileRecord) error
	GetFileRecord(ctx context.Context, path string) (model.FileRecord, bool, error)
	DeleteFileRecord(ctx context.Context, path string) error

	InsertIssue(ctx context.Context, issue model.Issue) error
	SelectIssues(ctx context.Context, filter IssueFilter) ([]model.Issue, error)

	InsertOutcome(ctx context.Context, rec model.OutcomeRecord) error
	SelectOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.OutcomeRecord, error)

	UpsertPattern(ctx context.Context, p model.Pattern) error
	SelectPatterns(ctx context.Context, minOccurrence int) ([]model.Pattern, error)

	SelectFileHealth(ctx context.Context, path string) (score int, ok bool, err error)
	SelectFileHealthBelow(ctx context.Context, threshold, limit int) ([]string, error)
}

// IssueFilter selects issues by path/status/severity/kind; zero values
// mean "don't filter on this field".
type IssueFilter struct {
	Path     string
	Status   model.IssueStatus
	Severity model.Severity
	Kind     model.IssueKind
}

// OutcomeFilter selects outcomes for reuse-similarity scoring.
type OutcomeFilter struct {
	Kind     model.IssueKind
	Severity model.Severity
	Since    time.Time
}

// Notifier is the notification/analytics sink, consumed only through
// this interface per spec.md §1.
type Notifier interface {
	Notify(ctx context.Context, event string, fields map[string]any) error
}
