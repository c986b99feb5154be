// Package patterns implements the Pattern Registry (spec.md §2, §3,
// §4.7): compiled regex/transform patterns with success statistics,
// fingerprinted with cespare/xxhash/v2 (grounded on
// standardbeagle-lci's content-fingerprinting use of the same hash),
// and an evolution routine that promotes repeated literal rewrites
// into new patterns and retires unsuccessful ones.
package patterns

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
)

// EvolutionMinOccurrences is the number of distinct-file successes a
// literal "before -> after" rewrite needs before it is promoted to a
// standalone Pattern (spec.md §4.7 (ii)).
const EvolutionMinOccurrences = 3

// RetireMinTrials and RetireSuccessRateFloor implement spec.md §4.7
// (iii): retire a pattern whose success rate drops below 0.2 over at
// least 10 trials. The rate is cumulative over all recorded trials;
// there is no rolling window.
const (
	RetireMinTrials        = 10
	RetireSuccessRateFloor = 0.2
)

// MatchThreshold is the minimum pattern-confidence (§4.3 stage 2)
// required for a pattern match to be used: "If best >= 0.7, apply
// transform".
const MatchThreshold = 0.7

// Compiled pairs a Pattern with its compiled matcher, so the Fix
// Pipeline never re-compiles a regexp per issue.
type Compiled struct {
	model.Pattern
	Matcher *regexp.Regexp
}

// Fingerprint derives a stable identifier for a matcher from its
// source text, per the GLOSSARY's "stable identifier ... derived from
// its matcher text".
func Fingerprint(matcherSource string) string {
	return strconv.FormatUint(xxhash.Sum64String(matcherSource), 16)
}

// Registry owns Patterns and the compiled matchers behind them.
type Registry struct {
	backing adapters.Store

	mu       sync.RWMutex
	compiled map[string]*Compiled

	// rewriteOccurrences tracks how many distinct files a literal
	// before->after rewrite has succeeded in, keyed by "before=>after",
	// for the evolution routine's promotion rule.
	rewriteOccurrences map[string]map[string]bool
}

// New builds a Pattern Registry backed by backing, loading any patterns
// already persisted there.
func New(ctx context.Context, backing adapters.Store) (*Registry, error) {
	r := &Registry{
		backing:            backing,
		compiled:           make(map[string]*Compiled),
		rewriteOccurrences: make(map[string]map[string]bool),
	}
	stored, err := backing.SelectPatterns(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("loading patterns: %w", err)
	}
	for _, p := range stored {
		if err := r.compileAndStore(p); err != nil {
			// InternalInvariantViolation per spec.md §7: disable, keep going.
			continue
		}
	}
	return r, nil
}

// Register validates, compiles, and persists a new Pattern.
// Registration-time check per spec.md §3: a transform that would
// syntactically unbalance delimiters is rejected outright.
func (r *Registry) Register(ctx context.Context, p model.Pattern) error {
	if p.Fingerprint == "" {
		p.Fingerprint = Fingerprint(p.MatcherSource)
	}
	if WouldUnbalance(p.Template) {
		return fmt.Errorf("%w: pattern %s transform would unbalance delimiters", model.ErrInvariant, p.Fingerprint)
	}
	p.Active = true
	if err := r.compileAndStore(p); err != nil {
		return err
	}
	return r.backing.UpsertPattern(ctx, p)
}

func (r *Registry) compileAndStore(p model.Pattern) error {
	flags := p.MatcherFlags
	expr := p.MatcherSource
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compiling pattern %s: %w", p.Fingerprint, err)
	}
	r.mu.Lock()
	r.compiled[p.Fingerprint] = &Compiled{Pattern: p, Matcher: re}
	r.mu.Unlock()
	return nil
}

// Candidate is one pattern's proposed rewrite for a file.
type Candidate struct {
	Pattern    model.Pattern
	Content    string
	Confidence float64
}

// BestMatch evaluates all active patterns against content and returns
// the highest-confidence match that clears MatchThreshold, per spec.md
// §4.3 stage 2: patterns are ordered by confidence and the best one
// wins if it reaches >= 0.7.
func (r *Registry) BestMatch(content string) (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Candidate
	found := false
	for _, c := range r.compiled {
		if !c.Active {
			continue
		}
		if !c.Matcher.MatchString(content) {
			continue
		}
		confidence := c.Pattern.Confidence()
		if confidence < MatchThreshold {
			continue
		}
		if found && confidence <= best.Confidence {
			continue
		}
		rewritten := c.Matcher.ReplaceAllString(content, c.Pattern.Template)
		best = Candidate{Pattern: c.Pattern, Content: rewritten, Confidence: confidence}
		found = true
	}
	return best, found
}

// RecordOutcome updates a pattern's success/failure counters after the
// Learner observes an OutcomeRecord that used it (spec.md §4.7 (a)).
func (r *Registry) RecordOutcome(ctx context.Context, fingerprint string, succeeded bool) error {
	r.mu.Lock()
	c, ok := r.compiled[fingerprint]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if succeeded {
		c.SuccessCount++
	} else {
		c.FailureCount++
	}
	c.OccurrenceCount++
	trials := c.SuccessCount + c.FailureCount
	if trials >= RetireMinTrials && c.SuccessRate() < RetireSuccessRateFloor {
		c.Active = false
	}
	updated := c.Pattern
	r.mu.Unlock()
	return r.backing.UpsertPattern(ctx, updated)
}

// Snapshot returns a point-in-time copy of every known Pattern,
// regardless of Active status, for reporting surfaces such as the
// status command's metrics.
func (r *Registry) Snapshot() []model.Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Pattern, 0, len(r.compiled))
	for _, c := range r.compiled {
		out = append(out, c.Pattern)
	}
	return out
}

// Evolve implements spec.md §4.7 (ii): derive a new Pattern when the
// same literal "before -> after" rewrite has succeeded in >= 3 distinct
// files. Callers pass the literal strings observed in a successful
// outcome; path scopes the distinct-file count.
func (r *Registry) Evolve(ctx context.Context, before, after, path string) error {
	if before == "" || before == after {
		return nil
	}
	key := before + "=>" + after
	r.mu.Lock()
	files, ok := r.rewriteOccurrences[key]
	if !ok {
		files = make(map[string]bool)
		r.rewriteOccurrences[key] = files
	}
	files[path] = true
	count := len(files)
	r.mu.Unlock()

	if count < EvolutionMinOccurrences {
		return nil
	}
	fp := Fingerprint(key)
	r.mu.RLock()
	_, exists := r.compiled[fp]
	r.mu.RUnlock()
	if exists {
		return nil
	}
	newPattern := model.Pattern{
		Fingerprint:     fp,
		MatcherSource:   regexp.QuoteMeta(before),
		Template:        after,
		OccurrenceCount: count,
		Active:          true,
	}
	return r.Register(ctx, newPattern)
}

// WouldUnbalance reports whether a transform template itself contains
// unbalanced {}, (), [] — the registration-time safety check from
// spec.md §3's Pattern invariant.
func WouldUnbalance(template string) bool {
	pairs := map[rune]rune{'}': '{', ')': '(', ']': '['}
	openers := map[rune]bool{'{': true, '(': true, '[': true}
	var stack []rune
	for _, r := range template {
		switch {
		case openers[r]:
			stack = append(stack, r)
		case pairs[r] != 0:
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return true
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) != 0
}
