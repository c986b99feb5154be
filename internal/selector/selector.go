// Package selector implements the Work Selector (spec.md §2, §4.1): it
// produces a prioritized, de-duplicated list of absolute paths for the
// Scheduler to hand to the File Analyzer.
package selector

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/codekeeper/crawler/internal/adapters"
)

// DefaultHealthThreshold and DefaultHealthLimit implement spec.md §4.1
// source 3: stored health score below a configurable threshold
// (default 70), capped at 1,000. The cap keeps the lowest scores
// (ties broken by most recent scan); it does not keep the newest files.
const (
	DefaultHealthThreshold = 70
	DefaultHealthLimit     = 1000
)

// SeedQueries are the fixed seed phrases fed to the semantic-search
// source (§4.1 source 4), grounded on the issue-kind vocabulary in
// internal/model.
var SeedQueries = []string{
	"unhandled error",
	"unused variable",
	"missing null check",
	"SQL injection risk",
	"high cyclomatic complexity",
	"deprecated API usage",
}

// DefaultExcludedDirs mirrors spec.md §4.1's "configured set of
// directory names (build outputs, VCS metadata, dependency caches,
// logs, backups)".
var DefaultExcludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".cache":       true,
	"logs":         true,
	".backup":      true,
}

// Config configures a Selector's sources.
type Config struct {
	Root             string
	Extensions       []string
	HealthThreshold  int
	HealthLimit      int
	ExcludedDirs     map[string]bool
}

// Selector produces prioritized work lists from the four sources in
// spec.md §4.1, falling back to a full recursive walk.
type Selector struct {
	cfg     Config
	store   adapters.Store
	search  adapters.Search
	logger  *logrus.Logger
}

// New builds a Work Selector. store and search may be nil-backed
// no-ops (internal/adapters.NoopSearch); the selector tolerates either.
func New(cfg Config, store adapters.Store, search adapters.Search, logger *logrus.Logger) *Selector {
	if cfg.HealthThreshold == 0 {
		cfg.HealthThreshold = DefaultHealthThreshold
	}
	if cfg.HealthLimit == 0 {
		cfg.HealthLimit = DefaultHealthLimit
	}
	if cfg.ExcludedDirs == nil {
		cfg.ExcludedDirs = DefaultExcludedDirs
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Selector{cfg: cfg, store: store, search: search, logger: logger}
}

// pendingPaths fetches source 1: paths of issues currently flagged
// pending in the Outcome Log (backed by the Store's issues table).
func (s *Selector) pendingPaths(ctx context.Context) []string {
	issues, err := s.store.SelectIssues(ctx, adapters.IssueFilter{Status: "pending"})
	if err != nil {
		s.logger.WithError(err).Warn("work selector: pending-issue source failed, skipping")
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, issue := range issues {
		if seen[issue.Path] {
			continue
		}
		seen[issue.Path] = true
		out = append(out, issue.Path)
	}
	return out
}

// vcsChangedPaths implements source 2: paths changed since the
// previous VCS checkpoint, both tracked-modified and untracked,
// filtered by extension. Shells out to git, the same "wrap an
// external CLI behind a narrow Go type" shape the teacher used for
// its GitHub API client, generalized to the local git binary.
func (s *Selector) vcsChangedPaths(ctx context.Context) []string {
	var out []string
	diffOut, err := exec.CommandContext(ctx, "git", "-C", s.cfg.Root, "diff", "--name-only").Output()
	if err != nil {
		s.logger.WithError(err).Debug("work selector: git diff source unavailable, skipping")
		return nil
	}
	out = append(out, splitLines(diffOut)...)

	statusOut, err := exec.CommandContext(ctx, "git", "-C", s.cfg.Root, "status", "--porcelain").Output()
	if err != nil {
		s.logger.WithError(err).Debug("work selector: git status source unavailable, skipping")
		return s.filterByExtension(s.toAbs(out))
	}
	for _, line := range strings.Split(string(statusOut), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) < 4 {
			continue
		}
		out = append(out, strings.TrimSpace(line[3:]))
	}
	return s.filterByExtension(s.toAbs(out))
}

// healthScoredPaths implements source 3.
func (s *Selector) healthScoredPaths(ctx context.Context) []string {
	paths, err := s.store.SelectFileHealthBelow(ctx, s.cfg.HealthThreshold, s.cfg.HealthLimit)
	if err != nil {
		s.logger.WithError(err).Warn("work selector: health-score source failed, skipping")
		return nil
	}
	return paths
}

// semanticPaths implements source 4.
func (s *Selector) semanticPaths(ctx context.Context) []string {
	var out []string
	for _, q := range SeedQueries {
		hits, err := s.search.SemanticSearch(ctx, q, adapters.SearchOptions{Limit: 50, FileFilter: s.cfg.Extensions})
		if err != nil {
			s.logger.WithError(err).Debug("work selector: semantic-search source failed for a query, skipping")
			continue
		}
		for _, h := range hits {
			out = append(out, h.Path)
		}
	}
	return out
}

// fullWalk is the fallback when all four sources yield an empty union:
// a full recursive walk excluding configured directory names, matched
// by extension with doublestar (grounded on standardbeagle-lci's
// indexer, which walks source trees the same way).
func (s *Selector) fullWalk() []string {
	var out []string
	_ = filepath.WalkDir(s.cfg.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if s.cfg.ExcludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if s.matchesExtension(path) {
			abs, err := filepath.Abs(path)
			if err == nil {
				out = append(out, abs)
			}
		}
		return nil
	})
	return out
}

// Select runs all four sources, dedups by absolute path, and — if the
// union is empty — falls back to fullWalk. If store-backed health
// scores exist for the selected paths, the final list is ordered
// ascending by score (lowest = highest priority), per spec.md §4.1.
func (s *Selector) Select(ctx context.Context) []string {
	union := map[string]bool{}
	for _, p := range s.pendingPaths(ctx) {
		union[s.absPath(p)] = true
	}
	for _, p := range s.vcsChangedPaths(ctx) {
		union[s.absPath(p)] = true
	}
	for _, p := range s.healthScoredPaths(ctx) {
		union[s.absPath(p)] = true
	}
	for _, p := range s.semanticPaths(ctx) {
		union[s.absPath(p)] = true
	}

	var paths []string
	if len(union) == 0 {
		paths = s.fullWalk()
	} else {
		for p := range union {
			paths = append(paths, p)
		}
	}

	return s.orderByHealth(ctx, paths)
}

func (s *Selector) orderByHealth(ctx context.Context, paths []string) []string {
	type scored struct {
		path  string
		score int
		has   bool
	}
	rows := make([]scored, 0, len(paths))
	for _, p := range paths {
		score, ok, err := s.store.SelectFileHealth(ctx, p)
		if err != nil {
			s.logger.WithError(err).WithField("path", p).Debug("work selector: health lookup failed, treating as unscored")
			ok = false
		}
		rows = append(rows, scored{path: p, score: score, has: ok})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].has != rows[j].has {
			return rows[i].has
		}
		return rows[i].score < rows[j].score
	})
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.path
	}
	return out
}

func (s *Selector) matchesExtension(path string) bool {
	if len(s.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.cfg.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
		if matched, _ := doublestar.Match(e, filepath.Base(path)); matched {
			return true
		}
	}
	return false
}

func (s *Selector) filterByExtension(paths []string) []string {
	var out []string
	for _, p := range paths {
		if s.matchesExtension(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Selector) toAbs(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.absPath(p))
	}
	return out
}

func (s *Selector) absPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.cfg.Root, p)
}

func splitLines(b []byte) []string {
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
