// Package learner implements the Learner (spec.md §2, §4.7): after
// each Outcome Record is appended, it updates Pattern Registry
// statistics, a confidence-calibration bucket keyed by
// (method, kind, domain), and triggers pattern evolution.
package learner

import (
	"context"
	"fmt"
	"sync"

	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/patterns"
)

// Bucket accumulates the binary success signal for one
// (method, kind, domain) calibration key.
type Bucket struct {
	Successes int
	Trials    int
}

// Rate is the empirical success rate for this bucket, used to
// calibrate a FixCandidate's raw confidence.
func (b Bucket) Rate() float64 {
	if b.Trials == 0 {
		return 0
	}
	return float64(b.Successes) / float64(b.Trials)
}

// Learner owns the calibration buckets and drives Pattern Registry
// evolution from observed outcomes.
type Learner struct {
	registry *patterns.Registry

	mu      sync.Mutex
	buckets map[string]Bucket
}

// New builds a Learner over a Pattern Registry.
func New(registry *patterns.Registry) *Learner {
	return &Learner{registry: registry, buckets: make(map[string]Bucket)}
}

// Observe implements spec.md §4.7 (a)-(c) for one completed Outcome
// Record. fingerprint is the Pattern fingerprint the candidate used,
// if any (empty for non-pattern methods); domain groups buckets beyond
// (method, kind) — callers pass e.g. a file-extension or package name.
func (l *Learner) Observe(ctx context.Context, rec model.OutcomeRecord, fingerprint, domain string) error {
	if fingerprint != "" {
		if err := l.registry.RecordOutcome(ctx, fingerprint, rec.Applied); err != nil {
			return fmt.Errorf("recording pattern outcome: %w", err)
		}
	}

	l.updateCalibration(rec.Method, rec.IssueKind, domain, rec.Applied)

	if rec.Applied && rec.BeforeContent != "" && rec.AfterContent != "" {
		if before, after, ok := literalRewrite(rec.BeforeContent, rec.AfterContent); ok {
			if err := l.registry.Evolve(ctx, before, after, rec.IssuePath); err != nil {
				return fmt.Errorf("evolving pattern registry: %w", err)
			}
		}
	}
	return nil
}

func (l *Learner) updateCalibration(method model.Method, kind model.IssueKind, domain string, succeeded bool) {
	key := calibrationKey(method, kind, domain)
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	b.Trials++
	if succeeded {
		b.Successes++
	}
	l.buckets[key] = b
}

// Calibrate returns the calibration-bucket success rate for
// (method, kind, domain), used to derive a FixCandidate's
// CalibratedConfidence before the gate policy evaluates it. ok=false
// when no trials have been observed yet, in which case callers should
// fall back to the candidate's raw confidence.
func (l *Learner) Calibrate(method model.Method, kind model.IssueKind, domain string) (rate float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, found := l.buckets[calibrationKey(method, kind, domain)]
	if !found || b.Trials == 0 {
		return 0, false
	}
	return b.Rate(), true
}

func calibrationKey(method model.Method, kind model.IssueKind, domain string) string {
	return string(method) + "|" + string(kind) + "|" + domain
}

// literalRewrite re-derives the minimal literal before->after diff
// from an outcome's full before/after content, the same way the Reuse
// stage does, so the registry's evolution routine counts identical
// rewrites the same way regardless of which pipeline stage produced
// them.
func literalRewrite(before, after string) (string, string, bool) {
	if before == after {
		return "", "", false
	}
	prefix := commonPrefixLen(before, after)
	suffix := commonSuffixLen(before[prefix:], after[prefix:])
	b := before[prefix : len(before)-suffix]
	a := after[prefix : len(after)-suffix]
	if b == "" {
		start := prefix
		for start > 0 && before[start-1] != ' ' && before[start-1] != '\t' && before[start-1] != '\n' {
			start--
		}
		b = before[start : len(before)-suffix]
		a = after[start : len(after)-suffix]
	}
	if b == "" {
		return "", "", false
	}
	return b, a, true
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
