package adapters

import (
	"context"

	"github.com/codekeeper/crawler/internal/model"
)

// FakeReviewClient is an in-process stand-in for an external Review
// Client, used by tests and by codecrawler when no MCP server is
// configured. It is never the default for a production run; the CLI
// logs a warning when falling back to it.
type FakeReviewClient struct {
	// Reviews maps a path to the issues that should be reported for it.
	Reviews map[string][]model.Issue
}

// Review returns the preconfigured issues for path, or an empty
// successful result if none were configured.
func (f *FakeReviewClient) Review(_ context.Context, _ string, path string) (ReviewResult, error) {
	issues := f.Reviews[path]
	return ReviewResult{Success: true, Issues: issues}, nil
}

// NoopSearch always returns no hits; used when no Search backend is
// configured (failures here are non-fatal per §4.1 regardless).
type NoopSearch struct{}

// SemanticSearch returns an empty result set.
func (NoopSearch) SemanticSearch(context.Context, string, SearchOptions) ([]SearchResult, error) {
	return nil, nil
}

// NoopNotifier discards all events.
type NoopNotifier struct{}

// Notify is a no-op.
func (NoopNotifier) Notify(context.Context, string, map[string]any) error { return nil }
