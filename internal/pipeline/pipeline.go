// Package pipeline implements the Fix Pipeline (spec.md §2, §4.3):
// the ordered cascade of repair strategies tried for each eligible
// Issue, plus the gate policy (gate.go) that decides auto-apply.
package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/outcomes"
	"github.com/codekeeper/crawler/internal/patterns"
)

// SimpleLineConfidence is the raw confidence for every simple-line
// rewrite rule in spec.md §4.3 stage 3.
const SimpleLineConfidence = 0.75

// LineLengthLimit is the column simple-line rewrites break before.
const LineLengthLimit = 100

// Specialist is the spec.md §4.3 stage 5 contract: a named handler for
// one issue kind, tried only after the generator cascade refuses.
type Specialist interface {
	Name() string
	Handle(ctx context.Context, issue model.Issue, sourceText, path string) (adapters.GenResult, bool, error)
}

// Pipeline runs the ordered stage cascade for one issue.
type Pipeline struct {
	outcomes    *outcomes.Log
	patterns    *patterns.Registry
	generators  []adapters.Generator
	specialists map[model.IssueKind]Specialist
}

// New builds a Fix Pipeline. generators are tried in slice order
// (context-aware, codebase-aware, advanced, multi-file, per spec.md
// §4.3 stage 4); specialists are looked up by issue kind.
func New(outcomeLog *outcomes.Log, registry *patterns.Registry, generators []adapters.Generator, specialists map[model.IssueKind]Specialist) *Pipeline {
	return &Pipeline{outcomes: outcomeLog, patterns: registry, generators: generators, specialists: specialists}
}

// Outcome is what a pipeline run yields for one issue: either a
// candidate ready for the Validator, or a give-up disposition.
type Outcome struct {
	Candidate model.FixCandidate
	Found     bool
	GaveUp    bool
}

// Run executes the ordered cascade from spec.md §4.3. content is the
// current working copy of the file (§5's "issue N sees issue N-1's
// write iff auto-applied" ordering is the caller's responsibility —
// Run only ever sees the content it is handed).
func (p *Pipeline) Run(ctx context.Context, issue model.Issue, content, path string, hints adapters.GenHints) (Outcome, error) {
	if cand, ok, err := p.tryReuse(ctx, issue, content); err != nil {
		return Outcome{}, err
	} else if ok {
		return Outcome{Candidate: cand, Found: true}, nil
	}

	if cand, ok := p.tryPattern(content); ok {
		return Outcome{Candidate: withIssue(cand, issue), Found: true}, nil
	}

	if cand, ok := p.trySimpleLine(issue, content); ok {
		return Outcome{Candidate: cand, Found: true}, nil
	}

	for _, gen := range p.generators {
		result, ok, err := gen.Generate(ctx, issue, content, path, hints)
		if err != nil {
			continue // TransientExternal/PermanentExternal: stage yields nothing, cascade advances (§7)
		}
		if ok {
			return Outcome{Candidate: newCandidate(issue, result.Code, result.Method, result.Confidence), Found: true}, nil
		}
	}

	if specialist, ok := p.specialists[issue.Kind]; ok {
		result, handled, err := specialist.Handle(ctx, issue, content, path)
		if err == nil && handled {
			return Outcome{Candidate: newCandidate(issue, result.Code, model.MethodSpecialist, result.Confidence), Found: true}, nil
		}
	}

	return Outcome{GaveUp: true}, nil
}

func (p *Pipeline) tryReuse(ctx context.Context, issue model.Issue, content string) (model.FixCandidate, bool, error) {
	reused, ok, err := p.outcomes.FindReusable(ctx, issue, content)
	if err != nil {
		return model.FixCandidate{}, false, err
	}
	if !ok {
		return model.FixCandidate{}, false, nil
	}
	return newCandidate(issue, reused.Content, model.MethodReused, reused.Confidence), true, nil
}

func (p *Pipeline) tryPattern(content string) (patterns.Candidate, bool) {
	if p.patterns == nil {
		return patterns.Candidate{}, false
	}
	return p.patterns.BestMatch(content)
}

func withIssue(c patterns.Candidate, issue model.Issue) model.FixCandidate {
	cand := newCandidate(issue, c.Content, model.MethodPattern, c.Confidence)
	cand.PatternFingerprint = c.Pattern.Fingerprint
	return cand
}

func newCandidate(issue model.Issue, content string, method model.Method, confidence float64) model.FixCandidate {
	return model.FixCandidate{
		ID:            uuid.NewString(),
		IssueID:       issue.ID,
		Content:       content,
		Method:        method,
		RawConfidence: confidence,
	}
}

var (
	consoleCallRe     = regexp.MustCompile(`(?m)^[ \t]*console\.\w+\([^)]*\);?[ \t]*\n`)
	trailingSpaceRe   = regexp.MustCompile(`(?m)[ \t]+$`)
	missingSemicolonRe = regexp.MustCompile(`(?m)^([^\n;{}]+[^\n;{} \t])\n`)
)

// trySimpleLine implements spec.md §4.3 stage 3's small rule set.
func (p *Pipeline) trySimpleLine(issue model.Issue, content string) (model.FixCandidate, bool) {
	switch {
	case strings.Contains(content, "console.") && (issue.Kind == model.KindStyle || issue.Kind == model.KindUnused):
		rewritten := consoleCallRe.ReplaceAllString(content, "")
		if rewritten != content {
			return newCandidate(issue, rewritten, model.MethodSimpleLine, SimpleLineConfidence), true
		}
	case issue.Kind == model.KindStyle && strings.Contains(issue.Message, "trailing whitespace"):
		rewritten := trailingSpaceRe.ReplaceAllString(content, "")
		if rewritten != content {
			return newCandidate(issue, rewritten, model.MethodSimpleLine, SimpleLineConfidence), true
		}
	case issue.Kind == model.KindUnused && issue.LineStart > 0:
		if rewritten, ok := commentOutLine(content, issue.LineStart); ok {
			return newCandidate(issue, rewritten, model.MethodSimpleLine, SimpleLineConfidence), true
		}
	case lineExceedsLimit(content, issue.LineStart):
		if rewritten, ok := breakLongLine(content, issue.LineStart); ok {
			return newCandidate(issue, rewritten, model.MethodSimpleLine, SimpleLineConfidence), true
		}
	case issue.Kind == model.KindSyntax && strings.Contains(issue.Message, "missing") &&
		(strings.Contains(issue.Message, "semicolon") || strings.Contains(issue.Message, "terminator")):
		rewritten := missingSemicolonRe.ReplaceAllString(content, "$1;\n")
		if rewritten != content {
			return newCandidate(issue, rewritten, model.MethodSimpleLine, SimpleLineConfidence), true
		}
	}
	return model.FixCandidate{}, false
}

func commentOutLine(content string, lineNo int) (string, bool) {
	lines := strings.Split(content, "\n")
	idx := lineNo - 1
	if idx < 0 || idx >= len(lines) {
		return "", false
	}
	trimmed := strings.TrimLeft(lines[idx], " \t")
	if trimmed == "" || strings.HasPrefix(trimmed, "//") {
		return "", false
	}
	indent := lines[idx][:len(lines[idx])-len(trimmed)]
	lines[idx] = indent + "// " + trimmed
	return strings.Join(lines, "\n"), true
}

func lineExceedsLimit(content string, lineNo int) bool {
	lines := strings.Split(content, "\n")
	idx := lineNo - 1
	return idx >= 0 && idx < len(lines) && len(lines[idx]) > LineLengthLimit
}

// breakLongLine splits a line at the last operator or comma before
// column 100, preserving the original indentation on the continuation.
func breakLongLine(content string, lineNo int) (string, bool) {
	lines := strings.Split(content, "\n")
	idx := lineNo - 1
	if idx < 0 || idx >= len(lines) {
		return "", false
	}
	line := lines[idx]
	if len(line) <= LineLengthLimit {
		return "", false
	}
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	breakAt := -1
	for i := LineLengthLimit - 1; i > 0; i-- {
		switch line[i] {
		case ',', '+', '&', '|':
			breakAt = i + 1
		}
		if breakAt != -1 {
			break
		}
	}
	if breakAt == -1 || breakAt >= len(line) {
		return "", false
	}
	lines[idx] = line[:breakAt] + "\n" + indent + "\t" + strings.TrimLeft(line[breakAt:], " \t")
	return strings.Join(lines, "\n"), true
}
