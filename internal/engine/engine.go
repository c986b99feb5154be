// Package engine wires the scan-fix-learn loop's components together:
// Scheduler drives the Work Selector's output through File Analyzer,
// Fix Pipeline, Validator, Applier, and Learner for each path, in the
// control-flow order of spec.md §2. This is the assembly the CLI's
// crawl command drives; watch runs its own loop without it.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/analyzer"
	"github.com/codekeeper/crawler/internal/applier"
	"github.com/codekeeper/crawler/internal/learner"
	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/outcomes"
	"github.com/codekeeper/crawler/internal/patterns"
	"github.com/codekeeper/crawler/internal/pipeline"
	"github.com/codekeeper/crawler/internal/scheduler"
	"github.com/codekeeper/crawler/internal/selector"
	"github.com/codekeeper/crawler/internal/validator"
)

// Engine owns one constructed instance of every core component and
// exposes the single FileTask the Scheduler dispatches per path.
type Engine struct {
	Store     adapters.Store
	Selector  *selector.Selector
	Analyzer  *analyzer.Analyzer
	Pipeline  *pipeline.Pipeline
	Validator *validator.Validator
	Applier   *applier.Applier
	Learner   *learner.Learner
	Outcomes  *outcomes.Log
	Registry  *patterns.Registry
	Scheduler *scheduler.Scheduler
	Logger    *logrus.Logger

	// AutoFix mirrors --auto-fix: when false, issues are analyzed and
	// recorded but never auto-applied (every eligible candidate is
	// routed to needs_review instead of being written).
	AutoFix bool
}

// Run selects a work list and drives it through the Scheduler,
// returning the aggregated Run Stats.
func (e *Engine) Run(ctx context.Context) model.RunStats {
	paths := e.Selector.Select(ctx)
	e.Logger.WithField("file_count", len(paths)).Info("engine: starting crawl")
	return e.Scheduler.Run(ctx, paths, e.processFile)
}

func (e *Engine) processFile(ctx context.Context, path string) scheduler.FileOutcome {
	unlock := e.Applier.Lock(path)
	defer unlock()

	result := e.Analyzer.Analyze(ctx, path)
	if result.Skipped {
		return scheduler.FileOutcome{Skipped: true}
	}
	if result.Errored {
		e.Logger.WithError(result.Err).WithField("path", path).Warn("engine: analysis failed")
		return scheduler.FileOutcome{Errored: true}
	}

	content := result.Content
	defer func() {
		finalHash := result.Hash
		if content != result.Content {
			finalHash = analyzer.HashBytes([]byte(content))
		}
		healthScore := healthScoreFor(len(result.Issues))
		if err := e.Analyzer.Commit(ctx, path, finalHash, time.Now(), len(result.Issues), healthScore); err != nil {
			e.Logger.WithError(err).WithField("path", path).Warn("engine: failed to commit cache record")
		}
	}()

	if len(result.Issues) == 0 {
		return scheduler.FileOutcome{}
	}

	outcome := scheduler.FileOutcome{HadIssues: true, IssuesFound: len(result.Issues)}

	for _, issue := range result.Issues {
		if err := e.Store.InsertIssue(ctx, issue); err != nil {
			e.Logger.WithError(err).WithField("issue_id", issue.ID).Warn("engine: failed to record issue")
		}

		if !e.AutoFix || !pipeline.Eligible(issue) {
			outcome.IssuesNeedingReview++
			continue
		}

		applied, newContent := e.attemptFix(ctx, issue, content, path)
		if applied {
			content = newContent
			outcome.IssuesAutoFixed++
		} else {
			outcome.IssuesNeedingReview++
		}
	}

	return outcome
}

// attemptFix runs one issue through the Fix Pipeline, Validator, and
// gate policy, applying and recording the outcome when the gate says
// yes. It returns the (possibly unchanged) working content for the
// next issue in this file.
func (e *Engine) attemptFix(ctx context.Context, issue model.Issue, content, path string) (applied bool, next string) {
	hints := adapters.GenHints{Domain: domainFor(path)}
	out, err := e.Pipeline.Run(ctx, issue, content, path, hints)
	if err != nil {
		e.Logger.WithError(err).WithField("issue_id", issue.ID).Warn("engine: fix pipeline failed")
		return false, content
	}
	if !out.Found {
		return false, content
	}

	candidate := out.Candidate
	validation := e.Validator.Validate(ctx, content, candidate.Content, path)

	ok, tier := pipeline.Decide(candidate, issue, validation)
	rec := model.OutcomeRecord{
		ID:                   candidate.ID,
		IssuePath:            path,
		IssueLine:            issue.LineStart,
		IssueKind:            issue.Kind,
		IssueSeverity:        issue.Severity,
		IssueMessage:         issue.Message,
		Method:               candidate.Method,
		RawConfidence:        candidate.RawConfidence,
		CalibratedConfidence: candidate.Confidence(),
		Verified:             validation.Verified,
		Timestamp:            time.Now(),
	}

	if ok {
		res := e.Applier.Apply(path, []byte(candidate.Content))
		rec.Applied = res.Applied
		if !res.Applied {
			rec.PostApplyError = fmt.Sprintf("applier: %v", res.Err)
		} else {
			rec.BeforeContent = content
			rec.AfterContent = candidate.Content
		}
	}

	e.Logger.WithFields(logrus.Fields{
		"issue_id": issue.ID, "method": candidate.Method, "tier": tier, "applied": rec.Applied,
	}).Debug("engine: gate decision")

	if err := e.Outcomes.Append(ctx, rec); err != nil {
		e.Logger.WithError(err).Warn("engine: failed to append outcome")
	}

	if err := e.Learner.Observe(ctx, rec, candidate.PatternFingerprint, domainFor(path)); err != nil {
		e.Logger.WithError(err).Warn("engine: learner observe failed")
	}

	if rec.Applied {
		return true, candidate.Content
	}
	return false, content
}

// healthScoreFor is a simple inverse mapping from issue count to the
// 0-100 health score the Work Selector orders by: no issues is
// perfect health, each issue costs 10 points down to a floor of 0.
func healthScoreFor(issueCount int) int {
	score := 100 - issueCount*10
	if score < 0 {
		return 0
	}
	return score
}

func domainFor(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
