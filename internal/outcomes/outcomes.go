// Package outcomes implements the Outcome Log (spec.md §2, §3, §4.3
// stage 1): the durable record of every fix attempt, plus the
// similarity scoring the Fix Pipeline's Reuse stage uses to find a
// prior resolved issue whose rewrite applies literally to a new one.
package outcomes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hbollon/go-edlib"
	"github.com/surgebase/porter2"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
)

// Named constants for the similarity formula in spec.md §4.3 stage 1
// and Design Note §9.
const (
	ReuseExactScore        = 50.0
	ReuseTypeSeverityScore = 30.0
	ReuseKeywordScoreCap   = 20.0
	ReuseKeywordTopN       = 3
	ReuseKeywordMinChars   = 4
	ReuseAcceptThreshold   = 85.0
	ReuseRawConfidence     = 0.85
)

// Log owns OutcomeRecords, backed by adapters.Store.
type Log struct {
	backing adapters.Store
}

// New builds an Outcome Log over backing.
func New(backing adapters.Store) *Log {
	return &Log{backing: backing}
}

// Append durably records one Outcome.
func (l *Log) Append(ctx context.Context, rec model.OutcomeRecord) error {
	if err := l.backing.InsertOutcome(ctx, rec); err != nil {
		return fmt.Errorf("appending outcome: %w", err)
	}
	return nil
}

// Reused is the candidate rewrite the Reuse stage found, if any.
type Reused struct {
	Before     string
	After      string
	Content    string
	Confidence float64
	Score      float64
}

// FindReusable implements spec.md §4.3 stage 1: query resolved,
// applied outcomes for the same kind/severity, score each by
// similarity of message, and if the best aggregate score reaches
// ReuseAcceptThreshold and its literal before->after rewrite applies
// to content, return it as a candidate.
func (l *Log) FindReusable(ctx context.Context, issue model.Issue, content string) (Reused, bool, error) {
	candidates, err := l.backing.SelectOutcomes(ctx, adapters.OutcomeFilter{
		Kind:     issue.Kind,
		Severity: issue.Severity,
	})
	if err != nil {
		return Reused{}, false, fmt.Errorf("selecting outcomes for reuse: %w", err)
	}

	var best Reused
	bestScore := 0.0
	for _, rec := range candidates {
		if !rec.Applied || rec.BeforeContent == "" {
			continue
		}
		score := similarityScore(issue, rec)
		if score <= bestScore {
			continue
		}
		before, after, ok := literalDiff(rec.BeforeContent, rec.AfterContent)
		if !ok {
			continue
		}
		if !strings.Contains(content, before) {
			continue
		}
		bestScore = score
		best = Reused{
			Before:     before,
			After:      after,
			Content:    strings.Replace(content, before, after, 1),
			Confidence: ReuseRawConfidence,
			Score:      score,
		}
	}
	if bestScore < ReuseAcceptThreshold {
		return Reused{}, false, nil
	}
	return best, true, nil
}

// similarityScore implements the 50/30/20 aggregate scoring rule.
func similarityScore(issue model.Issue, rec model.OutcomeRecord) float64 {
	score := 0.0
	if strings.EqualFold(issue.Message, rec.IssueMessage) {
		score += ReuseExactScore
	}
	if issue.Kind == rec.IssueKind && issue.Severity == rec.IssueSeverity {
		score += ReuseTypeSeverityScore
	}
	score += keywordOverlapScore(issue.Message, rec.IssueMessage)
	return score
}

// keywordOverlapScore tokenizes both messages, stems each token with
// porter2 (grounded on standardbeagle-lci's stemmer, so "missing" and
// "missed" normalize to the same root), keeps tokens of at least
// ReuseKeywordMinChars characters, and scores the best
// ReuseKeywordTopN pairwise Jaro-Winkler similarities (go-edlib,
// grounded on standardbeagle-lci's fuzzy matcher) up to
// ReuseKeywordScoreCap.
func keywordOverlapScore(a, b string) float64 {
	tokensA := stemTokens(a)
	tokensB := stemTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var sims []float64
	for _, ta := range tokensA {
		best := 0.0
		for _, tb := range tokensB {
			sim, err := edlib.StringsSimilarity(ta, tb, edlib.JaroWinkler)
			if err != nil {
				continue
			}
			if float64(sim) > best {
				best = float64(sim)
			}
		}
		sims = append(sims, best)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	if len(sims) > ReuseKeywordTopN {
		sims = sims[:ReuseKeywordTopN]
	}

	sum := 0.0
	for _, s := range sims {
		sum += s
	}
	avg := sum / float64(len(sims))
	score := avg * ReuseKeywordScoreCap
	if score > ReuseKeywordScoreCap {
		score = ReuseKeywordScoreCap
	}
	return score
}

func stemTokens(s string) []string {
	var out []string
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if len(word) < ReuseKeywordMinChars {
			continue
		}
		out = append(out, porter2.Stem(word))
	}
	return out
}

// literalDiff extracts the smallest literal substring that changed
// between before and after, by trimming the common prefix and suffix.
// It returns ok=false when the two strings are identical or share no
// stable anchor (the rewrite can't be expressed as a literal
// substring replace).
func literalDiff(before, after string) (string, string, bool) {
	if before == after {
		return "", "", false
	}
	prefix := commonPrefixLen(before, after)
	suffix := commonSuffixLen(before[prefix:], after[prefix:])

	beforeDiff := before[prefix : len(before)-suffix]
	afterDiff := after[prefix : len(after)-suffix]
	if beforeDiff == "" {
		// A pure insertion: widen the anchor leftwards to the start of the
		// surrounding token so the rewrite has a non-empty literal to match.
		start := prefix
		for start > 0 && before[start-1] != ' ' && before[start-1] != '\t' && before[start-1] != '\n' {
			start--
		}
		beforeDiff = before[start : len(before)-suffix]
		afterDiff = after[start : len(after)-suffix]
	}
	if beforeDiff == "" {
		return "", "", false
	}
	return beforeDiff, afterDiff, true
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

// RecentSince returns outcomes recorded since t, used by status
// reporting and the Learner's calibration window.
func (l *Log) RecentSince(ctx context.Context, t time.Time) ([]model.OutcomeRecord, error) {
	return l.backing.SelectOutcomes(ctx, adapters.OutcomeFilter{Since: t})
}
