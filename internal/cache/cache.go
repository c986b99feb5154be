// Package cache implements the Cache Store component (spec.md §2, §3):
// content-hash keyed File Records with TTL-based staleness and
// file-watcher invalidation, backed by the adapters.Store interface.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/model"
)

// DefaultTTL is the default cache TTL from spec.md §4.2: 24h.
const DefaultTTL = 24 * time.Hour

// Store is the Cache Store: it owns File Records and decides, per
// spec.md §4.2 step 3, whether a file should be skipped this run.
type Store struct {
	backing adapters.Store
	ttl     time.Duration
	skip    bool
	mu      sync.Mutex
	hot     map[string]model.FileRecord // small in-process mirror, invalidated eagerly by watcher events
}

// New builds a Cache Store over backing with the given TTL (0 means
// DefaultTTL). skipUnchanged mirrors --skip-unchanged: when false,
// Consult never reports a skip, so every selected file is re-reviewed
// regardless of TTL (still used for freshness bookkeeping via Update).
func New(backing adapters.Store, ttl time.Duration, skipUnchanged bool) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backing: backing, ttl: ttl, skip: skipUnchanged, hot: make(map[string]model.FileRecord)}
}

// Consult implements spec.md §4.2 step 3: if a File Record exists with
// matching hash AND now-last_scanned <= TTL, the file should be
// skipped. Returns (record, skip). Skipping is only ever reported when
// the store was built with skipUnchanged; otherwise every file runs
// through the Review Client again, and Consult's only role is fetching
// the existing record for Update's created_at bookkeeping.
func (s *Store) Consult(ctx context.Context, path, hash string, now time.Time) (model.FileRecord, bool, error) {
	s.mu.Lock()
	rec, ok := s.hot[path]
	s.mu.Unlock()
	if !ok {
		stored, found, err := s.backing.GetFileRecord(ctx, path)
		if err != nil {
			return model.FileRecord{}, false, err
		}
		if !found {
			return model.FileRecord{}, false, nil
		}
		rec = stored
		s.mu.Lock()
		s.hot[path] = rec
		s.mu.Unlock()
	}
	if !s.skip {
		return rec, false, nil
	}
	if rec.ContentHash != hash {
		return rec, false, nil
	}
	if now.Sub(rec.LastScanned) > s.ttl {
		return rec, false, nil
	}
	return rec, true, nil
}

// Update records the outcome of an analysis that actually ran,
// updating (hash, last_scanned) atomically with completion per the
// File Record invariant in spec.md §3.
func (s *Store) Update(ctx context.Context, path, hash string, now time.Time, issueCount, healthScore int) error {
	existing, found, err := s.backing.GetFileRecord(ctx, path)
	if err != nil {
		return err
	}
	created := now
	if found {
		created = existing.CreatedAt
	}
	rec := model.FileRecord{
		Path:        path,
		ContentHash: hash,
		ModifiedAt:  now,
		LastScanned: now,
		CreatedAt:   created,
		IssueCount:  issueCount,
		HealthScore: healthScore,
	}
	if err := s.backing.UpsertFileRecord(ctx, rec); err != nil {
		return fmt.Errorf("cache update: %w", err)
	}
	s.mu.Lock()
	s.hot[path] = rec
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cache entry for path immediately. Per spec.md
// §9 ambiguity (a), the file-watcher invalidation path always wins
// over TTL semantics: a watched external modification forces a rescan
// on the very next selection regardless of how recently the file was
// scanned.
func (s *Store) Invalidate(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.hot, path)
	s.mu.Unlock()
	return s.backing.DeleteFileRecord(ctx, path)
}

// HealthBelow exposes the backing store's health-score query for the
// Work Selector's third source (§4.1).
func (s *Store) HealthBelow(ctx context.Context, threshold, limit int) ([]string, error) {
	return s.backing.SelectFileHealthBelow(ctx, threshold, limit)
}
