// Package analyzer implements the File Analyzer (spec.md §2, §4.2): it
// reads a candidate path, consults the Cache Store, and calls out to
// the Review Client to obtain an Issue list. It never mutates content —
// only the Applier writes.
package analyzer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/cache"
	"github.com/codekeeper/crawler/internal/model"
)

// MinContentBytes is spec.md §4.2 step 4's short-circuit: content
// shorter than this (after trimming) is returned without scanning.
const MinContentBytes = 10

// SizeCeilings implements the per-extension limits in spec.md §6.
var SizeCeilings = map[string]int64{
	".go":   5 * 1024 * 1024,
	".py":   5 * 1024 * 1024,
	".js":   5 * 1024 * 1024,
	".ts":   5 * 1024 * 1024,
	".tsx":  5 * 1024 * 1024,
	".jsx":  5 * 1024 * 1024,
	".java": 5 * 1024 * 1024,
	".rb":   5 * 1024 * 1024,
	".md":   2 * 1024 * 1024,
	".sql":  2 * 1024 * 1024,
	".html": 1024 * 1024,
	".css":  1024 * 1024,
	".json": 500 * 1024,
}

// DefaultSizeCeiling applies to any extension not named in SizeCeilings.
const DefaultSizeCeiling = 5 * 1024 * 1024

// Result is the outcome of analyzing one file.
type Result struct {
	Path    string
	Skipped bool
	Reason  string
	Errored bool
	Err     error
	Issues  []model.Issue
	Content string
	Hash    string
}

// Analyzer is the File Analyzer component.
type Analyzer struct {
	cache  *cache.Store
	review adapters.ReviewClient
}

// New builds a File Analyzer over a Cache Store and Review Client.
func New(c *cache.Store, review adapters.ReviewClient) *Analyzer {
	return &Analyzer{cache: c, review: review}
}

// Analyze implements the six steps of spec.md §4.2.
func (a *Analyzer) Analyze(ctx context.Context, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Path: path, Errored: true, Reason: "stat failed", Err: fmt.Errorf("%w: stat: %v", model.ErrFileSystem, err)}
	}
	if info.Size() > ceilingFor(path) {
		return Result{Path: path, Skipped: true, Reason: "exceeds size ceiling"}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{Path: path, Errored: true, Reason: "read failed", Err: fmt.Errorf("%w: read: %v", model.ErrFileSystem, err)}
	}
	hash := hashContent(raw)

	now := time.Now()
	_, skip, err := a.cache.Consult(ctx, path, hash, now)
	if err != nil {
		return Result{Path: path, Errored: true, Reason: "cache consult failed", Err: err}
	}
	if skip {
		return Result{Path: path, Skipped: true, Reason: "unchanged within TTL"}
	}

	content := string(raw)
	if len(strings.TrimSpace(content)) < MinContentBytes {
		return Result{Path: path, Skipped: true, Reason: "content too short to scan"}
	}

	review, err := a.review.Review(ctx, content, path)
	if err != nil {
		return Result{Path: path, Errored: true, Reason: "review client call failed", Err: fmt.Errorf("%w: %v", model.ErrTransientExternal, err)}
	}
	if !review.Success {
		return Result{Path: path, Errored: true, Reason: review.Message}
	}

	return Result{Path: path, Issues: review.Issues, Content: content, Hash: hash}
}

// Commit updates the File Record after pipeline completion, per
// spec.md §4.2 step 6. Callers pass the (possibly re-hashed, if the
// Applier wrote a new version) final content hash and issue count.
func (a *Analyzer) Commit(ctx context.Context, path, finalHash string, now time.Time, issueCount, healthScore int) error {
	return a.cache.Update(ctx, path, finalHash, now, issueCount, healthScore)
}

func hashContent(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func ceilingFor(path string) int64 {
	ext := strings.ToLower(filepath.Ext(path))
	if ceiling, ok := SizeCeilings[ext]; ok {
		return ceiling
	}
	return DefaultSizeCeiling
}

// HashBytes is exported for callers (e.g. the Applier) that need the
// same content-identity hash after a rewrite.
func HashBytes(b []byte) string { return hashContent(b) }

// TrimmedLen reports the trimmed content length used by step 4, for
// callers that need to re-check it without re-reading the file.
func TrimmedLen(content string) int { return len(strings.TrimSpace(content)) }

// IsBinaryLike is a best-effort guard some Review Clients want before
// sending bytes over the wire; it is not part of the spec's required
// steps but is offered as a cheap pre-filter grounded on the common
// "look for a NUL byte in the first KB" heuristic.
func IsBinaryLike(raw []byte) bool {
	n := len(raw)
	if n > 1024 {
		n = 1024
	}
	return bytes.IndexByte(raw[:n], 0) >= 0
}
