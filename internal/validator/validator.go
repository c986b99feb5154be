// Package validator implements the Validator (spec.md §2, §4.4):
// structural and dangerous-pattern checks over a candidate's raw text,
// an optional tree-sitter parse check, and an optional dagger-sandboxed
// lint/type-check/test invocation, each bounded by its own timeout.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger.io/dagger"
	sitter "github.com/tree-sitter/go-tree-sitter"
	tsgo "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tsjavascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tspython "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tstypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/codekeeper/crawler/internal/model"
)

// StructuralMismatchTolerance is spec.md §4.4's "mismatch greater than
// 2 in any class ⇒ invalid" tolerance for delimiters appearing inside
// strings/comments at this abstraction level.
const StructuralMismatchTolerance = 2

// Timeouts for the optional type-check/linter/test sub-checks.
const (
	TypeCheckTimeout = 5 * time.Second
	LintTimeout      = 5 * time.Second
	TestTimeout      = 10 * time.Second
)

// dangerousPatterns are the sinks spec.md §4.4 forbids introducing.
var dangerousPatterns = []string{"eval(", "new Function(", "Function(", "innerHTML =", "document.write("}

// ToolCommands holds one language's container image and lint,
// type-check and test commands (DefaultToolCommands keys them by file
// extension); a blank command means no tool is configured for that
// language, so that sub-check is skipped rather than failed.
type ToolCommands struct {
	Image        string
	LintCommand  []string
	TypeCommand  []string
	TestCommand  []string
}

// DefaultToolCommands mirrors the teacher's per-language framework
// table (test_engine.go's loadTestFrameworks), narrowed to one-file
// validation rather than whole-repository CI.
var DefaultToolCommands = map[string]ToolCommands{
	".go": {Image: "golang:1.23", LintCommand: []string{"gofmt", "-l", "."}, TypeCommand: []string{"go", "vet", "./..."}, TestCommand: []string{"go", "test", "./..."}},
	".py": {Image: "python:3.12-slim", LintCommand: []string{"python", "-m", "pyflakes", "."}},
	".js": {Image: "node:20-slim", LintCommand: []string{"node", "--check"}},
	".ts": {Image: "node:20-slim"},
}

// Validator evaluates FixCandidates. dag is the Dagger client used for
// the optional sandboxed sub-checks; a nil dag skips them entirely
// (matching the teacher's dag.go pattern of a runtime-injected,
// possibly-nil global).
type Validator struct {
	dag *dagger.Client
}

// New builds a Validator. dag may be nil when no dagger engine is
// available; structural, dangerous-pattern, and parse checks still run.
func New(dag *dagger.Client) *Validator {
	return &Validator{dag: dag}
}

// Validate implements spec.md §4.4's four checks in order, short-
// circuiting on the first fatal failure.
func (v *Validator) Validate(ctx context.Context, original, candidate string, path string) model.ValidationResult {
	var errs []string

	if mismatches := delimiterMismatches(candidate); len(mismatches) > 0 {
		for class, n := range mismatches {
			errs = append(errs, fmt.Sprintf("delimiter class %q mismatched by %d", class, n))
		}
		return model.ValidationResult{Verified: false, Errors: errs, StructuralOK: false}
	}

	if offender, introduced := introducesDangerousPattern(original, candidate); introduced {
		return model.ValidationResult{
			Verified:     false,
			Errors:       []string{fmt.Sprintf("candidate introduces dangerous pattern %q", offender)},
			StructuralOK: false,
		}
	}

	// Past this point the candidate is structurally sound and carries
	// no newly-introduced dangerous sink; the ultra-aggressive gate
	// tier only requires this much.
	structuralOK := true

	if fatal, perr := parseCheck(ctx, candidate, path); fatal {
		errs = append(errs, perr.Error())
		return model.ValidationResult{Verified: false, Errors: errs, StructuralOK: structuralOK}
	} else if perr != nil {
		errs = append(errs, perr.Error()) // non-fatal runtime-reference error
	}

	if v.dag != nil {
		if toolErrs := v.runToolChecks(ctx, candidate, path); len(toolErrs) > 0 {
			errs = append(errs, toolErrs...)
			return model.ValidationResult{Verified: false, Errors: errs, StructuralOK: structuralOK}
		}
	}

	return model.ValidationResult{Verified: true, Errors: errs, StructuralOK: structuralOK}
}

// delimiterMismatches counts, per bracket class, |opens - closes|
// across the whole candidate; spec.md's tolerance-of-2 is applied by
// the caller, not here, so this is reusable for diagnostics too.
func delimiterMismatches(content string) map[string]int {
	counts := map[string][2]int{"{}": {}, "()": {}, "[]": {}}
	pairs := map[rune]string{'{': "{}", '}': "{}", '(': "()", ')': "()", '[': "[]", ']': "[]"}
	opens := map[rune]bool{'{': true, '(': true, '[': true}
	for _, r := range content {
		class, ok := pairs[r]
		if !ok {
			continue
		}
		entry := counts[class]
		if opens[r] {
			entry[0]++
		} else {
			entry[1]++
		}
		counts[class] = entry
	}
	out := map[string]int{}
	for class, entry := range counts {
		diff := entry[0] - entry[1]
		if diff < 0 {
			diff = -diff
		}
		if diff > StructuralMismatchTolerance {
			out[class] = diff
		}
	}
	return out
}

// introducesDangerousPattern reports the first sink present in
// candidate but absent from original.
func introducesDangerousPattern(original, candidate string) (string, bool) {
	for _, pat := range dangerousPatterns {
		if strings.Contains(candidate, pat) && !strings.Contains(original, pat) {
			return pat, true
		}
	}
	return "", false
}

// languageForPath maps an extension to a tree-sitter grammar, or nil
// when no grammar is available — the parse check is then skipped.
func languageForPath(path string) *sitter.Language {
	switch {
	case strings.HasSuffix(path, ".go"):
		return sitter.NewLanguage(tsgo.Language())
	case strings.HasSuffix(path, ".py"):
		return sitter.NewLanguage(tspython.Language())
	case strings.HasSuffix(path, ".ts") || strings.HasSuffix(path, ".tsx"):
		return sitter.NewLanguage(tstypescript.LanguageTypescript())
	case strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".jsx"):
		return sitter.NewLanguage(tsjavascript.Language())
	default:
		return nil
	}
}

// parseCheck attempts to parse candidate with the language-appropriate
// tree-sitter grammar (when available), distinguishing a genuine parse
// error (fatal=true) from an unresolved-reference-shaped error node
// deeper in the tree (fatal=false, per spec.md's "runtime-reference
// errors (non-fatal)").
func parseCheck(ctx context.Context, candidate, path string) (fatal bool, err error) {
	lang := languageForPath(path)
	if lang == nil {
		return false, nil
	}
	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return false, nil
	}
	tree := parser.Parse([]byte(candidate), nil)
	if tree == nil {
		return false, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return false, nil
	}
	if rootIsSyntaxError(root) {
		return true, fmt.Errorf("parse error: %s", root.ToSexp())
	}
	return false, fmt.Errorf("candidate parses with an unresolved reference")
}

func rootIsSyntaxError(node *sitter.Node) bool {
	if node.IsError() || node.IsMissing() {
		return true
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && (child.IsError() || child.IsMissing()) {
			return true
		}
	}
	return false
}

// runToolChecks runs the optional type-check/linter/test invocation in
// an ephemeral dagger container, one per file, each under its own
// timeout, per spec.md §4.4's 5s/5s/10s defaults.
func (v *Validator) runToolChecks(ctx context.Context, candidate, path string) []string {
	ext := extOf(path)
	tools, ok := DefaultToolCommands[ext]
	if !ok || tools.Image == "" {
		return nil
	}

	base := v.dag.Container().From(tools.Image).
		WithNewFile("/workspace/"+baseName(path), candidate).
		WithWorkdir("/workspace")

	var errs []string
	if len(tools.LintCommand) > 0 {
		if err := runTimed(ctx, LintTimeout, func(c context.Context) error {
			_, err := base.WithExec(tools.LintCommand).Stdout(c)
			return err
		}); err != nil {
			errs = append(errs, fmt.Sprintf("lint check: %v", err))
		}
	}
	if len(tools.TypeCommand) > 0 {
		if err := runTimed(ctx, TypeCheckTimeout, func(c context.Context) error {
			_, err := base.WithExec(tools.TypeCommand).Stdout(c)
			return err
		}); err != nil {
			errs = append(errs, fmt.Sprintf("type check: %v", err))
		}
	}
	if len(tools.TestCommand) > 0 {
		if err := runTimed(ctx, TestTimeout, func(c context.Context) error {
			_, err := base.WithExec(tools.TestCommand).Stdout(c)
			return err
		}); err != nil {
			errs = append(errs, fmt.Sprintf("test run: %v", err))
		}
	}
	return errs
}

func runTimed(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	timedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(timedCtx)
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
